package email

import (
	"bufio"
	"io"
	"unicode/utf8"
)

// MakeMultipartMixed wraps id in a new multipart/mixed parent and
// returns the parent's BodyID. Used when an attachment is added to a
// previously single-part draft (§4.2's make_multipart_mixed).
func MakeMultipartMixed(arena *Arena, id BodyID) BodyID {
	parent := arena.New()
	b := arena.Get(parent)
	b.ContentType = ContentType{Major: "multipart", Minor: "mixed"}
	b.Parts = []BodyID{id}
	return parent
}

// MakeMultipartAlternative wraps main and alt in a new
// multipart/alternative parent, main first (the richer or preferred
// rendering goes last per RFC 2046 §5.1.4, so callers that want HTML
// preferred over plain text should pass the plain part as main).
func MakeMultipartAlternative(arena *Arena, main, alt BodyID) BodyID {
	parent := arena.New()
	b := arena.Get(parent)
	b.ContentType = ContentType{Major: "multipart", Minor: "alternative"}
	b.Parts = []BodyID{main, alt}
	return parent
}

// RemoveMultipart unwraps a multipart parent, returning its first
// child. The caller owns any remaining siblings (they are left
// allocated in the Arena, unreferenced by Parts, until explicitly
// freed or re-attached elsewhere) — mirroring §4.2's
// remove_multipart, which hands the first part back to the caller and
// leaves the rest for the caller to decide about.
func RemoveMultipart(arena *Arena, id BodyID) BodyID {
	b := arena.Get(id)
	if b == nil || len(b.Parts) == 0 {
		return id
	}
	first := b.Parts[0]
	arena.freed[id] = true
	arena.bodies[id] = nil
	return first
}

// UpdateEncoding re-scans b's content for 8-bit and binary characters
// and sets an RFC 2045 Content-Transfer-Encoding that can carry it:
// base64 when the content has any NUL byte or any line longer than 998
// bytes; otherwise quoted-printable when it has any byte >= 0x80;
// otherwise 7bit. Line endings are not examined.
func UpdateEncoding(b *Body) error {
	r, err := b.Content.Open()
	if err != nil {
		b.Encoding = Enc7Bit
		return nil
	}

	var lineLen int
	var hasHigh, hasBinary, hasLongLine bool
	br := bufio.NewReader(r)
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch {
		case c == '\n':
			lineLen = 0
		case c == 0:
			hasBinary = true
		case c >= 0x80:
			hasHigh = true
			lineLen++
		default:
			lineLen++
		}
		if lineLen > 998 {
			hasLongLine = true
		}
	}

	switch {
	case hasBinary || hasLongLine:
		b.Encoding = EncBase64
	case hasHigh:
		b.Encoding = EncQuotedPrintable
	default:
		b.Encoding = Enc7Bit
	}
	return nil
}

// MessageTo7Bit converts a message/rfc822 body to 7bit by recursively
// re-encoding any nested part whose current encoding is 8bit or binary,
// matching §4.2's message_to_7bit. The body's content type is not
// checked: any body passed in is walked the same way, so callers invoke
// this only on the inner message part of a forwarded/attached message.
func MessageTo7Bit(arena *Arena, id BodyID) error {
	b := arena.Get(id)
	if b == nil {
		return nil
	}
	for _, kid := range b.Parts {
		if err := MessageTo7Bit(arena, kid); err != nil {
			return err
		}
	}
	if len(b.Parts) == 0 && (b.Encoding == Enc8Bit || b.Encoding == EncBinary) {
		if err := UpdateEncoding(b); err != nil {
			return err
		}
		if b.Encoding == Enc8Bit || b.Encoding == EncBinary {
			b.Encoding = EncQuotedPrintable
		}
	}
	return nil
}

// validUTF8Text reports whether content is legible as UTF-8 text (no
// stray continuation bytes).
func validUTF8Text(p []byte) bool {
	return utf8.Valid(p)
}
