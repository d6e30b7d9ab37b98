// Package msgcleaver parses a raw RFC 5322/MIME message into an
// email.Msg: an Envelope plus an Arena-backed Body tree that mirrors
// the wire MIME structure node for node. It is the inverse of
// mime/msgbuilder, used wherever a draft starts from existing bytes —
// reply, forward, resume-from-postponed, and parsing an Autocrypt
// gossip header's own carrier message.
package msgcleaver

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"crawshaw.io/iox"
	"mailcore.dev/email"
	"mailcore.dev/email/imf"
)

// Cleave parses src into a Msg. The returned Msg owns every Body in
// its Arena; callers must Close it.
func Cleave(filer *iox.Filer, src io.Reader) (*email.Msg, error) {
	msg, err := cleave(filer, src)
	if err != nil {
		return nil, fmt.Errorf("msgcleaver: %v", err)
	}
	return msg, nil
}

func cleave(filer *iox.Filer, src io.Reader) (msgPtr *email.Msg, err error) {
	msg := new(email.Msg)
	defer func() {
		if err != nil {
			msg.Close()
		}
	}()

	h := sha256.New()
	r := bufio.NewReader(io.TeeReader(src, h))

	imfr := imf.NewReader(r)
	hdr, err := imfr.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}

	msg.Envelope = parseEnvelope(hdr)

	msg.Root, err = cleaveNode(filer, &msg.Arena, hdr, r)
	if err != nil {
		return nil, err
	}

	hash := h.Sum(make([]byte, 0, sha256.Size))
	msg.Seed = int64(binary.LittleEndian.Uint64(hash))

	return msg, nil
}

// cleaveNode parses one MIME node into arena, recursing into children
// for multipart/* content types. The resulting tree shape is exactly
// the wire's nesting: no body/attachment/related reclassification
// happens here (that judgment needs compose-time context the raw
// bytes don't carry, and belongs to whatever builds a reply or
// forward draft out of this tree).
func cleaveNode(filer *iox.Filer, arena *email.Arena, hdr email.Header, r io.Reader) (email.BodyID, error) {
	mediaType, params, err := mime.ParseMediaType(string(hdr.Get("Content-Type")))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	id := arena.New()
	b := arena.Get(id)

	major, minor := "text", "plain"
	if i := strings.IndexByte(mediaType, '/'); i >= 0 {
		major, minor = mediaType[:i], mediaType[i+1:]
	}
	b.ContentType = email.ContentType{Major: major, Minor: minor}
	for k, v := range params {
		if k == "boundary" {
			continue
		}
		b.ContentType.Set(k, v)
	}
	b.ContentID = strings.TrimSuffix(strings.TrimPrefix(string(hdr.Get("Content-ID")), "<"), ">")

	if d, dparams, err := mime.ParseMediaType(string(hdr.Get("Content-Disposition"))); err == nil {
		b.Disposition.Attachment = strings.EqualFold(d, "attachment")
		b.Disposition.Filename = dparams["filename"]
	}
	if b.Disposition.Filename == "" {
		b.Disposition.Filename = params["name"]
	}
	b.Encoding = email.TransferEncoding(strings.ToLower(string(hdr.Get("Content-Transfer-Encoding"))))

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := imf.NewMultipartReader(r, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return email.NoBody, fmt.Errorf("cleaveNode: corrupt mime part: %v", err)
			}
			kid, err := cleaveNode(filer, arena, part.Header, part)
			if err != nil {
				return email.NoBody, err
			}
			b.Parts = append(b.Parts, kid)
		}
		return id, nil
	}

	var dr io.Reader = r
	switch b.Encoding {
	case email.EncBase64:
		dr = base64.NewDecoder(base64.StdEncoding, r)
	case email.EncQuotedPrintable:
		dr = quotedprintable.NewReader(r)
	}

	buf := filer.BufferFile(0)
	if _, err := io.Copy(buf, dr); err != nil {
		buf.Close()
		return email.NoBody, err
	}
	if _, err := buf.Seek(0, 0); err != nil {
		buf.Close()
		return email.NoBody, err
	}
	b.Content = email.Backing{Buf: buf, Unlink: true}

	return id, nil
}

// envelopeKeys names every header CanonicalKey folded into a
// dedicated Envelope field, so the rest end up in UserHeaders
// verbatim instead of being dropped.
var envelopeKeys = map[email.Key]bool{
	"From": true, "Sender": true, "To": true, "CC": true, "BCC": true,
	"Reply-To": true, "Mail-Followup-To": true,
	"Subject": true, "Message-ID": true, "References": true, "In-Reply-To": true,
	"Date": true, "Content-Type": true, "Content-Transfer-Encoding": true,
	"Content-Disposition": true, "Content-ID": true, "MIME-Version": true,
}

func parseEnvelope(hdr email.Header) email.Envelope {
	var env email.Envelope

	addrs := func(key email.Key) []email.Address {
		v := string(hdr.Get(key))
		if v == "" {
			return nil
		}
		list, err := imf.ParseAddressList(v)
		if err != nil {
			return nil
		}
		return list
	}

	env.From = addrs("From")
	env.Sender = addrs("Sender")
	env.To = addrs("To")
	env.CC = addrs("CC")
	env.BCC = addrs("BCC")
	env.ReplyTo = addrs("Reply-To")
	env.MailFollowupTo = addrs("Mail-Followup-To")
	env.SetSubject(string(hdr.Get("Subject")))
	env.MessageID = string(hdr.Get("Message-ID"))

	if v := string(hdr.Get("References")); v != "" {
		if refs, err := imf.ParseReferences(v); err == nil {
			env.References = refs
		}
	}
	if v := string(hdr.Get("In-Reply-To")); v != "" {
		if refs, err := imf.ParseReferences(v); err == nil {
			env.InReplyTo = refs
		}
	}
	if v := string(hdr.Get("Date")); v != "" {
		if t, err := mail.ParseDate(v); err == nil {
			env.Date = t
		}
	}

	for _, e := range hdr.Entries {
		if envelopeKeys[e.Key] {
			continue
		}
		env.UserHeaders.Add(e.Key, e.Value)
	}

	return env
}
