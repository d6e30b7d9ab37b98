package imf

import (
	"io"
	"mime/multipart"

	"mailcore.dev/email"
)

// MultipartReader reads successive parts of a MIME multipart message.
// It wraps the standard library's boundary-scanning (mime/multipart)
// but exposes each part's header as an email.Header, so downstream
// code (msgcleaver, crypto verification) gets the same
// canonical-Key-indexed lookups as every other header in this module
// instead of textproto.MIMEHeader's raw map.
type MultipartReader struct {
	mr *multipart.Reader
}

// NewMultipartReader returns a MultipartReader that reads parts from r,
// each separated by the given boundary (the "boundary" parameter off
// of a multipart/* Content-Type).
func NewMultipartReader(r io.Reader, boundary string) *MultipartReader {
	return &MultipartReader{mr: multipart.NewReader(r, boundary)}
}

// Part is a single part of a multipart message.
type Part struct {
	Header email.Header
	io.Reader
}

// NextPart returns the next part in the multipart message, or io.EOF
// when there are no more parts.
func (mr *MultipartReader) NextPart() (*Part, error) {
	p, err := mr.mr.NextPart()
	if err != nil {
		return nil, err
	}
	var hdr email.Header
	for key, vals := range p.Header {
		ck := email.CanonicalKey([]byte(key))
		for _, v := range vals {
			hdr.Add(ck, []byte(v))
		}
	}
	return &Part{Header: hdr, Reader: p}, nil
}
