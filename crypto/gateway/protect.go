package gateway

import (
	"bytes"
	"context"
	"io"

	"crawshaw.io/iox"

	"mailcore.dev/email"
)

// Protect wraps root in multipart/signed and/or multipart/encrypted
// per sec, signing before encrypting when both are requested — a
// PGP/MIME combined operation always signs the plaintext first, so a
// recipient who decrypts still has a signature to check. render
// serializes the subtree being protected to wire bytes; it takes the
// same seam as VerifySigned's render parameter, so this package never
// needs to import mime/msgbuilder directly.
func Protect(ctx context.Context, filer *iox.Filer, arena *email.Arena, root email.BodyID, sec email.Security, backend *Backend, signKeyID string, recipientKeyIDs []string, render func(*email.Arena, email.BodyID) ([]byte, error)) (email.BodyID, error) {
	if !sec.Has(email.SecSign) && !sec.Has(email.SecEncrypt) {
		return root, nil
	}
	if backend == nil {
		return root, &ErrUnavailable{Backend: "crypto", Op: "protect"}
	}

	newRoot := root
	if sec.Has(email.SecSign) {
		signed, err := signRoot(ctx, filer, arena, newRoot, backend, signKeyID, render)
		if err != nil {
			return root, err
		}
		newRoot = signed
	}
	if sec.Has(email.SecEncrypt) {
		encrypted, err := encryptRoot(ctx, filer, arena, newRoot, backend, recipientKeyIDs, render)
		if err != nil {
			return root, err
		}
		newRoot = encrypted
	}
	return newRoot, nil
}

// signRoot wraps content in a canonical two-child multipart/signed
// node: the content itself, then a detached signature part in the
// backend's declared protocol — the layout VerifySigned checks for on
// the receiving end.
func signRoot(ctx context.Context, filer *iox.Filer, arena *email.Arena, content email.BodyID, backend *Backend, keyID string, render func(*email.Arena, email.BodyID) ([]byte, error)) (email.BodyID, error) {
	if backend.Signer == nil {
		return content, &ErrUnavailable{Backend: backend.Protocol, Op: "sign"}
	}
	plain, err := render(arena, content)
	if err != nil {
		return content, err
	}
	result, err := backend.Sign(ctx, keyID, bytes.NewReader(plain))
	if err != nil {
		return content, err
	}

	sigID := arena.New()
	sigBody := arena.Get(sigID)
	sigBody.ContentType = splitProtocol(result.Protocol)
	sigBody.Content = newBacking(filer, result.Signature)

	parent := arena.New()
	parentBody := arena.Get(parent)
	parentBody.ContentType = email.ContentType{
		Major: "multipart", Minor: "signed",
		Params: []email.Parameter{
			{Attribute: "protocol", Value: result.Protocol},
			{Attribute: "micalg", Value: result.MicAlg},
		},
	}
	parentBody.Parts = []email.BodyID{content, sigID}
	return parent, nil
}

// encryptRoot wraps content in a multipart/encrypted node: an
// application/pgp-encrypted control part announcing the version,
// followed by the opaque ciphertext.
func encryptRoot(ctx context.Context, filer *iox.Filer, arena *email.Arena, content email.BodyID, backend *Backend, recipientKeyIDs []string, render func(*email.Arena, email.BodyID) ([]byte, error)) (email.BodyID, error) {
	if backend.Encryptor == nil {
		return content, &ErrUnavailable{Backend: backend.Protocol, Op: "encrypt"}
	}
	plain, err := render(arena, content)
	if err != nil {
		return content, err
	}
	ciphertext, err := backend.Encrypt(ctx, recipientKeyIDs, bytes.NewReader(plain))
	if err != nil {
		return content, err
	}
	cbytes, err := io.ReadAll(ciphertext)
	if err != nil {
		return content, err
	}

	controlID := arena.New()
	controlBody := arena.Get(controlID)
	controlBody.ContentType = email.ContentType{Major: "application", Minor: "pgp-encrypted"}
	controlBody.Content = newBacking(filer, []byte("Version: 1\r\n"))

	cipherID := arena.New()
	cipherBody := arena.Get(cipherID)
	cipherBody.ContentType = email.ContentType{Major: "application", Minor: "octet-stream"}
	cipherBody.Content = newBacking(filer, cbytes)

	parent := arena.New()
	parentBody := arena.Get(parent)
	parentBody.ContentType = email.ContentType{
		Major: "multipart", Minor: "encrypted",
		Params: []email.Parameter{{Attribute: "protocol", Value: "application/pgp-encrypted"}},
	}
	parentBody.Parts = []email.BodyID{controlID, cipherID}
	return parent, nil
}

func splitProtocol(protocol string) email.ContentType {
	for i := 0; i < len(protocol); i++ {
		if protocol[i] == '/' {
			return email.ContentType{Major: protocol[:i], Minor: protocol[i+1:]}
		}
	}
	return email.ContentType{Major: "application", Minor: "octet-stream"}
}

func newBacking(filer *iox.Filer, content []byte) email.Backing {
	buf := filer.BufferFile(0)
	buf.Write(content)
	buf.Seek(0, io.SeekStart)
	return email.Backing{Buf: buf, Unlink: true}
}
