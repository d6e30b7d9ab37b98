// Package msgbuilder serializes a composed email.Msg (an Envelope plus
// an Arena-backed Body tree) into RFC 5322/MIME wire bytes, optionally
// DKIM-signing the result.
package msgbuilder

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"crawshaw.io/iox"
	"mailcore.dev/crypto/dkimsrc"
	"mailcore.dev/email"
	"mailcore.dev/email/imf"
)

// Builder turns a Msg into its wire form. Filer backs the intermediate
// body buffer so a large multipart tree is never held fully in memory;
// DKIM, when set, signs every outgoing message that doesn't already
// carry a signature.
type Builder struct {
	DKIM  *dkim.Signer
	Filer *iox.Filer

	// IncludeBCC controls whether the Bcc header itself is written to
	// the output. The MTA-bound copy must omit it (RFC 5322 Bcc is a
	// submission-time instruction, not a wire header); the Fcc archive
	// copy sets this so the sender can later see who else got a copy.
	IncludeBCC bool
}

// Build writes msg's MIME-encoded wire form to w.
func (b *Builder) Build(w io.Writer, msg *email.Msg) error {
	if err := b.write(w, msg); err != nil {
		return fmt.Errorf("msgbuilder.Build: %v", err)
	}
	return nil
}

func (b *Builder) write(w io.Writer, msg *email.Msg) error {
	root, err := BuildTree(msg)
	if err != nil {
		return err
	}

	body := b.Filer.BufferFile(0)
	defer body.Close()
	if err := b.WriteNode(body, root); err != nil {
		return err
	}

	hdr := b.envelopeHeader(&msg.Envelope)
	hdr.Del("MIME-Version")
	hdr.Add("MIME-Version", []byte("1.0"))
	root.Header.ForEach(func(key email.Key, val string) {
		hdr.Del(key)
		if val != "" {
			hdr.Add(key, []byte(val))
		}
	})

	if _, err := body.Seek(0, 0); err != nil {
		return err
	}

	if b.DKIM != nil && len(hdr.Get("DKIM-Signature")) == 0 {
		sig, err := b.DKIM.Sign(stringHeaders{&hdr}, bufio.NewReader(body))
		if err != nil {
			return err
		}
		hdr.Add("DKIM-Signature", sig)
		if _, err := body.Seek(0, 0); err != nil {
			return err
		}
	}

	if _, err := hdr.Encode(w); err != nil {
		return err
	}
	if _, err := io.Copy(w, body); err != nil {
		return err
	}

	return nil
}

// envelopeHeader renders msg's Envelope into wire header entries, in
// the order a reader expects them: originator fields, then
// destination fields, then the subject/threading fields, then
// whatever the user (or a prior parse) attached verbatim.
func (b *Builder) envelopeHeader(env *email.Envelope) email.Header {
	var hdr email.Header
	add := func(key email.Key, val string) {
		if val == "" {
			return
		}
		hdr.Add(key, []byte(val))
	}
	addAddrs := func(key email.Key, list []email.Address) {
		if len(list) == 0 {
			return
		}
		add(key, imf.FormatAddressList(list))
	}

	addAddrs("From", env.From)
	addAddrs("Sender", env.Sender)
	addAddrs("Reply-To", env.ReplyTo)
	addAddrs("To", env.To)
	addAddrs("CC", env.CC)
	if b.IncludeBCC {
		addAddrs("BCC", env.BCC)
	}
	addAddrs("Mail-Followup-To", env.MailFollowupTo)

	if !env.Date.IsZero() {
		add("Date", env.Date.Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	}
	add("Message-ID", env.MessageID)
	if len(env.InReplyTo) > 0 {
		add("In-Reply-To", strings.Join(env.InReplyTo, " "))
	}
	if len(env.References) > 0 {
		add("References", strings.Join(env.References, " "))
	}
	add("Subject", env.Subject)

	for _, e := range env.UserHeaders.Entries {
		hdr.Add(e.Key, e.Value)
	}
	return hdr
}

// WriteNode writes node's wire form (recursively for multipart
// containers) to w.
func (b *Builder) WriteNode(w io.Writer, node *TreeNode) error {
	if node.Body != nil {
		return EncodeContent(w, node.Header, node.Body)
	}

	_, params, err := mime.ParseMediaType(node.Header.ContentType)
	if err != nil {
		return err
	}
	boundary := params["boundary"]

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		panic(err)
	}

	for i := range node.Kids {
		kid := &node.Kids[i]
		tphdr := make(textproto.MIMEHeader)
		kid.Header.ForEach(func(key email.Key, val string) {
			if val != "" {
				tphdr.Add(string(key), val)
			}
		})
		pw, err := mw.CreatePart(tphdr)
		if err != nil {
			return err
		}
		if err := b.WriteNode(pw, kid); err != nil {
			return err
		}
	}

	return mw.Close()
}

// EncodeContent writes body's content to w, applying the transfer
// encoding named in hdr.
func EncodeContent(w io.Writer, hdr PartHeader, body *email.Body) error {
	r, err := body.Content.Open()
	if err != nil {
		// An empty leaf (no content ever attached) writes zero bytes;
		// that's a valid, if useless, MIME part.
		return nil
	}

	switch email.TransferEncoding(hdr.ContentTransferEncoding) {
	case "", email.Enc7Bit, email.Enc8Bit, email.EncBinary:
		if _, err := io.Copy(w, r); err != nil {
			return err
		}
	case email.EncQuotedPrintable:
		qpw := quotedprintable.NewWriter(w)
		if _, err := io.Copy(qpw, r); err != nil {
			return err
		}
		if err := qpw.Close(); err != nil {
			return err
		}
	case email.EncBase64:
		lw := &lineBreakWriter{w: w, breakAt: 68}
		b64w := base64.NewEncoder(base64.StdEncoding, lw)
		if _, err := io.Copy(b64w, r); err != nil {
			return err
		}
		if err := b64w.Close(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("msgbuilder: unknown content-transfer-encoding: %q", hdr.ContentTransferEncoding)
	}
	return nil
}

func randBoundary(rnd interface{ Read([]byte) (int, error) }) string {
	var buf [12]byte
	if _, err := io.ReadFull(rnd, buf[:]); err != nil {
		panic(err)
	}
	// '.' is a valid boundary byte but not a valid base64 byte, so
	// wrapping with it trivially separates the boundary from all
	// base64-encoded content.
	return "." + base64.StdEncoding.EncodeToString(buf[:]) + "."
}

type stringHeaders struct {
	hdr *email.Header
}

func (s stringHeaders) Get(name string) string {
	return string(s.hdr.Get(email.CanonicalKey([]byte(name))))
}

type lineBreakWriter struct {
	w       io.Writer
	breakAt int
	seen    int
}

func (w *lineBreakWriter) Write(p []byte) (n int, err error) {
	for len(p) > 0 {
		if w.seen == w.breakAt {
			n2, err := w.w.Write(crlf)
			n += n2
			if err != nil {
				return n, err
			}
			w.seen = 0
		}

		toWrite := len(p)
		if toWrite-w.seen > w.breakAt {
			toWrite = w.breakAt - w.seen
		}
		n2, err := w.w.Write(p[:toWrite])
		n += n2
		w.seen += n2
		p = p[n2:]
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

var crlf = []byte{'\r', '\n'}
