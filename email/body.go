package email

import (
	"fmt"
	"io"
	"time"
)

// Buffer is a MIME part's content store.
//
// It is usually a temp-file-backed buffer (cmd/muttsend uses
// crawshaw.io/iox.BufferFile) but tests may use an in-memory
// implementation.
type Buffer interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Size() int64
}

// BodyID indexes a Body inside an Arena. The zero value is a valid ID
// (the first Body an Arena allocates); NoBody is the explicit "no node"
// sentinel so callers never confuse index 0 with "absent".
type BodyID int32

// NoBody is the sentinel for "no such body".
const NoBody BodyID = -1

// ContentType is a MIME content-type: a major/subtype pair plus
// attribute/value parameters. Parameter matching is case-insensitive on
// the attribute; insertion order is preserved for wire output (Params
// is a slice, not a map, for exactly this reason).
type ContentType struct {
	Major, Minor string
	Params       []Parameter
}

func (ct ContentType) String() string {
	if ct.Major == "" {
		return ""
	}
	s := ct.Major + "/" + ct.Minor
	for _, p := range ct.Params {
		s += "; " + p.Attribute + "=" + p.Value
	}
	return s
}

// Get returns the value of the named parameter, matched
// case-insensitively, and whether it was present.
func (ct ContentType) Get(attr string) (string, bool) {
	for _, p := range ct.Params {
		if EqualFold(p.Attribute, attr) {
			return p.Value, true
		}
	}
	return "", false
}

// Set adds or replaces the named parameter, preserving the position of
// an existing entry and appending new ones, matching the insertion-order
// invariant of Parameter.
func (ct *ContentType) Set(attr, value string) {
	for i := range ct.Params {
		if EqualFold(ct.Params[i].Attribute, attr) {
			ct.Params[i].Value = value
			return
		}
	}
	ct.Params = append(ct.Params, Parameter{Attribute: attr, Value: value})
}

// IsMultipart reports whether ct's major type is "multipart".
func (ct ContentType) IsMultipart() bool { return EqualFold(ct.Major, "multipart") }

// IsMessage reports whether ct is "message/rfc822" or a sibling
// message/* type that carries an inner header.
func (ct ContentType) IsMessage() bool { return EqualFold(ct.Major, "message") }

// Parameter is an attribute/value pair on a MIME header.
type Parameter struct {
	Attribute string
	Value     string
}

// Disposition is a MIME Content-Disposition: inline or attachment, plus
// an optional display filename.
type Disposition struct {
	Attachment bool // false == inline
	Filename   string
}

// TransferEncoding is a MIME Content-Transfer-Encoding.
type TransferEncoding string

const (
	Enc7Bit            TransferEncoding = "7bit"
	Enc8Bit            TransferEncoding = "8bit"
	EncBinary          TransferEncoding = "binary"
	EncQuotedPrintable TransferEncoding = "quoted-printable"
	EncBase64          TransferEncoding = "base64"
)

// Backing is the authoritative content of a leaf Body: exactly one of a
// temp file (Buf non-nil) or a byte range into a parent stream
// (Len >= 0) holds real bytes; a Body with neither is an empty part.
type Backing struct {
	Buf    Buffer // backing temp file
	Unlink bool   // marks the backing file as owned by this Body; Close does not consult it

	// Range selects a span of a parent stream instead of owning a file.
	// Used for bodies materialized lazily out of a larger raw message
	// (e.g. quoting an original message without copying it part by part).
	Parent Buffer
	Offset int64
	Len    int64 // -1 when Buf is authoritative instead
}

func (b *Backing) hasRange() bool { return b.Buf == nil && b.Parent != nil && b.Len >= 0 }

// Open returns a Reader positioned at the start of the backing content,
// whichever form is authoritative.
func (b *Backing) Open() (io.Reader, error) {
	if b.Buf != nil {
		if _, err := b.Buf.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return b.Buf, nil
	}
	if b.hasRange() {
		return io.NewSectionReader(asReaderAt{b.Parent}, b.Offset, b.Len), nil
	}
	return nil, fmt.Errorf("email: body has no content")
}

type asReaderAt struct{ s Buffer }

func (a asReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := a.s.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(a.s, p)
}

// Close closes Buf, whatever Unlink says, and clears it so a second
// Close is a no-op. It removes no file itself and does not consult
// Unlink: whether the bytes are gone afterwards depends only on the
// Buffer's own Close.
func (b *Backing) Close() error {
	if b.Buf == nil {
		return nil
	}
	err := b.Buf.Close()
	b.Buf = nil
	return err
}

// Body is a node in the MIME tree.
//
// Bodies live in an Arena and reference each other by BodyID rather
// than pointer, so freeing a shared subtree (the historic
// `parts = hdr->content` double-free hazard) cannot happen: an Arena
// owns every node exactly once and Free walks indices, never aliased
// pointers.
type Body struct {
	ContentType ContentType
	Encoding    TransferEncoding
	Disposition Disposition
	ContentID   string

	Content Backing

	// Parts holds ordered child BodyIDs; non-empty only when
	// ContentType.IsMultipart() or IsMessage(). There is no separate
	// "next sibling" pointer: order within Parts is the sibling order,
	// eliminating the historic parts/next duplication (see DESIGN.md,
	// "move_attachment_up/down" note).
	Parts []BodyID

	// InnerHeader is the parsed header of a message/rfc822 body's
	// embedded message, when parsed rather than opaque bytes.
	InnerHeader *Envelope

	// ProtectedHeaders, when non-nil, is the protected-header envelope
	// snapshot attached to the topmost part that carries crypto
	// protection (§4.4).
	ProtectedHeaders *Envelope

	NoConv bool      // disable charset conversion
	Stamp  time.Time // detects external edits
	Tagged bool      // drives bulk operations in the compose controller

	// Unowned marks content the user attached from their own
	// filesystem (attach-file): abort must not unlink it even though
	// Content.Unlink may be true for internal bookkeeping.
	Unowned bool

	// verification results, set by the crypto gateway on parse/verify.
	GoodSig  bool
	BadSig   bool
	PartSign bool // multipart aggregate has both signed and unsigned children
}

// Arena owns every Body referenced by a single SCTX. Indices are never
// reused once allocated within the Arena's lifetime, so a stale BodyID
// is detectable (Get returns nil) instead of aliasing a freed node.
type Arena struct {
	bodies []*Body
	freed  []bool
}

// New allocates a zero-value Body with new_body's defaults (inline
// disposition, 7bit encoding) and returns its ID.
func (a *Arena) New() BodyID {
	b := &Body{
		Encoding: Enc7Bit,
	}
	id := BodyID(len(a.bodies))
	a.bodies = append(a.bodies, b)
	a.freed = append(a.freed, false)
	return id
}

// Get returns the Body for id, or nil if id is invalid or freed.
func (a *Arena) Get(id BodyID) *Body {
	if id < 0 || int(id) >= len(a.bodies) || a.freed[id] {
		return nil
	}
	return a.bodies[id]
}

// Free recursively frees id's children, then id itself, closing each
// Body's backing content with Backing.Close (which does not consult the
// Unlink flag). Freeing NoBody is a no-op.
// Freeing an already-freed id is a no-op (idempotent, unlike the
// pointer-based original which required the "unhook shared parts"
// discipline to avoid a double free).
func (a *Arena) Free(id BodyID) {
	if id == NoBody {
		return
	}
	b := a.Get(id)
	if b == nil {
		return
	}
	for _, kid := range b.Parts {
		a.Free(kid)
	}
	_ = b.Content.Close()
	a.freed[id] = true
	a.bodies[id] = nil
}

// CloneTree duplicates the subtree rooted at id into dst (possibly the
// same Arena), materializing each leaf's content into a fresh backing
// buffer via newBuf. This implements the copy_body: the clone always
// owns its own temp file (Unlink=true) regardless of the source's
// ownership, and any inner-message back-pointer is dropped because the
// clone is being prepared for a send-mode draft, not a received message.
func CloneTree(src *Arena, id BodyID, dst *Arena, newBuf func() Buffer) (BodyID, error) {
	if id == NoBody {
		return NoBody, nil
	}
	srcBody := src.Get(id)
	if srcBody == nil {
		return NoBody, fmt.Errorf("email: CloneTree: invalid source body")
	}

	dstID := dst.New()
	dstBody := dst.Get(dstID)
	dstBody.ContentType = srcBody.ContentType
	dstBody.Encoding = srcBody.Encoding
	dstBody.Disposition = srcBody.Disposition
	dstBody.ContentID = srcBody.ContentID
	dstBody.NoConv = srcBody.NoConv
	dstBody.Stamp = srcBody.Stamp
	// InnerHeader is intentionally dropped: copy_body nulls the
	// back-pointer to the received message's header.

	if len(srcBody.Parts) == 0 {
		r, err := srcBody.Content.Open()
		if err == nil {
			buf := newBuf()
			if _, err := io.Copy(buf, r); err != nil {
				buf.Close()
				dst.Free(dstID)
				return NoBody, err
			}
			buf.Seek(0, io.SeekStart)
			dstBody.Content = Backing{Buf: buf, Unlink: true}
		}
		return dstID, nil
	}

	for _, kid := range srcBody.Parts {
		kidID, err := CloneTree(src, kid, dst, newBuf)
		if err != nil {
			dst.Free(dstID)
			return NoBody, err
		}
		dstBody.Parts = append(dstBody.Parts, kidID)
	}
	return dstID, nil
}
