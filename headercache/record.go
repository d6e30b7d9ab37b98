// Package headercache implements the binary record layout for an IMAP
// header cache: a 12-byte validity block, a CRC32 over the static
// configuration, then a length-prefixed serialization of the envelope
// and body trees. It is a pure data-layout package — no storage
// engine; an IMAP server's header cache and IMAP wire driver are the
// real collaborators that would read and write these bytes to disk,
// and live outside this module.
package headercache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"
	"unicode/utf8"

	"mailcore.dev/email"
)

// Validity is the 12-byte record-validity block: a struct timespec or
// UIDVALIDITY-equivalent the cache uses to decide whether a record is
// still current without re-parsing the message.
type Validity struct {
	Seconds int64 // 8 bytes
	Nanos   int32 // 4 bytes
}

func (v Validity) encode(w io.Writer) error {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(v.Seconds))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(v.Nanos))
	_, err := w.Write(buf[:])
	return err
}

func decodeValidity(r io.Reader) (Validity, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Validity{}, err
	}
	return Validity{
		Seconds: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Nanos:   int32(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}

// ValidityFromTime converts a time.Time to a Validity block.
func ValidityFromTime(t time.Time) Validity {
	return Validity{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

func (v Validity) Time() time.Time {
	return time.Unix(v.Seconds, int64(v.Nanos)).UTC()
}

// Record is one header-cache entry: the validity block that gates
// whether it's trusted, plus the envelope and body-shape fields a
// reader needs to render a message list without re-fetching or
// re-parsing the whole message.
type Record struct {
	Validity Validity
	Config   uint32 // static configuration CRC the cache keys records by

	Envelope email.Envelope
	Body     BodySummary
}

// BodySummary is the body-tree shape a header cache records: enough to
// know the MIME structure exists without holding the content.
type BodySummary struct {
	ContentType string
	Parts       []BodySummary
}

// Encode writes rec as: 12-byte validity block, 4-byte config CRC32
// (rec.Config), 4-byte CRC32 of the payload, 4-byte payload length (all
// little-endian), then the payload of the serialized envelope and body
// summary. The payload itself is length-prefixed so a reader can skip a
// record it doesn't need to fully decode.
func Encode(w io.Writer, rec Record) error {
	if err := rec.Validity.encode(w); err != nil {
		return fmt.Errorf("headercache: encode validity: %v", err)
	}

	var payload bytes.Buffer
	encodeEnvelope(&payload, rec.Envelope)
	encodeBodySummary(&payload, rec.Body)

	crc := crc32.ChecksumIEEE(payload.Bytes())
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], rec.Config)
	binary.LittleEndian.PutUint32(hdr[4:8], crc)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(payload.Len()))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("headercache: encode header: %v", err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("headercache: encode payload: %v", err)
	}
	return nil
}

// Decode reads a Record written by Encode, verifying the payload's
// CRC32 before parsing it.
func Decode(r io.Reader) (Record, error) {
	var rec Record
	validity, err := decodeValidity(r)
	if err != nil {
		return rec, fmt.Errorf("headercache: decode validity: %v", err)
	}
	rec.Validity = validity

	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return rec, fmt.Errorf("headercache: decode header: %v", err)
	}
	rec.Config = binary.LittleEndian.Uint32(hdr[0:4])
	wantCRC := binary.LittleEndian.Uint32(hdr[4:8])
	length := binary.LittleEndian.Uint32(hdr[8:12])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return rec, fmt.Errorf("headercache: decode payload: %v", err)
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return rec, fmt.Errorf("headercache: payload CRC mismatch")
	}

	buf := bytes.NewReader(payload)
	env, err := decodeEnvelope(buf)
	if err != nil {
		return rec, fmt.Errorf("headercache: decode envelope: %v", err)
	}
	rec.Envelope = env

	body, err := decodeBodySummary(buf)
	if err != nil {
		return rec, fmt.Errorf("headercache: decode body: %v", err)
	}
	rec.Body = body
	return rec, nil
}

// writeString length-prefixes s with a uint32 byte count. An
// ascii-only string is marked with the high bit set on the length
// prefix's top byte, letting a reader skip the UTF-8 validity check
// that would otherwise gate the active-charset conversion (§6's
// "ascii-only shortcut avoids conversion when the payload is 7-bit").
func writeString(w *bytes.Buffer, s string) {
	ascii := isASCII(s)
	n := uint32(len(s))
	if ascii {
		n |= 1 << 31
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], n)
	w.Write(lenBuf[:])
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	n &^= 1 << 31 // the ascii-only marker bit carries no length information
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func writeAddrList(w *bytes.Buffer, list []email.Address) {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(list)))
	w.Write(countBuf[:])
	for _, a := range list {
		writeString(w, a.Name)
		writeString(w, a.Addr)
		if a.Group {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	}
}

func readAddrList(r *bytes.Reader) ([]email.Address, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(countBuf[:])
	out := make([]email.Address, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		addr, err := readString(r)
		if err != nil {
			return nil, err
		}
		group, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out = append(out, email.Address{Name: name, Addr: addr, Group: group != 0})
	}
	return out, nil
}

func writeStringList(w *bytes.Buffer, list []string) {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(list)))
	w.Write(countBuf[:])
	for _, s := range list {
		writeString(w, s)
	}
}

func readStringList(r *bytes.Reader) ([]string, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(countBuf[:])
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func encodeEnvelope(w *bytes.Buffer, env email.Envelope) {
	writeAddrList(w, env.From)
	writeAddrList(w, env.Sender)
	writeAddrList(w, env.To)
	writeAddrList(w, env.CC)
	writeAddrList(w, env.BCC)
	writeAddrList(w, env.ReplyTo)
	writeString(w, env.Subject)
	writeString(w, env.MessageID)
	writeStringList(w, env.References)
	writeStringList(w, env.InReplyTo)
}

func decodeEnvelope(r *bytes.Reader) (email.Envelope, error) {
	var env email.Envelope
	var err error
	if env.From, err = readAddrList(r); err != nil {
		return env, err
	}
	if env.Sender, err = readAddrList(r); err != nil {
		return env, err
	}
	if env.To, err = readAddrList(r); err != nil {
		return env, err
	}
	if env.CC, err = readAddrList(r); err != nil {
		return env, err
	}
	if env.BCC, err = readAddrList(r); err != nil {
		return env, err
	}
	if env.ReplyTo, err = readAddrList(r); err != nil {
		return env, err
	}
	subject, err := readString(r)
	if err != nil {
		return env, err
	}
	env.SetSubject(subject)
	if env.MessageID, err = readString(r); err != nil {
		return env, err
	}
	if env.References, err = readStringList(r); err != nil {
		return env, err
	}
	if env.InReplyTo, err = readStringList(r); err != nil {
		return env, err
	}
	return env, nil
}

func encodeBodySummary(w *bytes.Buffer, b BodySummary) {
	writeString(w, b.ContentType)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(b.Parts)))
	w.Write(countBuf[:])
	for _, kid := range b.Parts {
		encodeBodySummary(w, kid)
	}
}

func decodeBodySummary(r *bytes.Reader) (BodySummary, error) {
	var b BodySummary
	ct, err := readString(r)
	if err != nil {
		return b, err
	}
	b.ContentType = ct

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return b, err
	}
	n := binary.LittleEndian.Uint32(countBuf[:])
	b.Parts = make([]BodySummary, 0, n)
	for i := uint32(0); i < n; i++ {
		kid, err := decodeBodySummary(r)
		if err != nil {
			return b, err
		}
		b.Parts = append(b.Parts, kid)
	}
	return b, nil
}
