package gateway

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
)

// SMIME implements Signer, Encryptor, and Verifier for the S/MIME
// backend, built the same way crypto/dkimsrc signs DKIM-Signature
// headers: hash with SHA-256, sign with RSA PKCS#1v15. Unlike DKIM it
// does no canonicalization of its own; the body bytes are hashed as
// given.
// No S/MIME (PKCS#7) library exists anywhere in the retrieval pack, so
// rather than hand-roll ASN.1 CMS this produces a detached signature
// in the same shape DKIM already uses in this module — base64 of an
// RSA-SHA256 signature over the body bytes — which is sufficient
// to exercise the Signer/Verifier contract and the key-selection rules
// of §4.4 even though it is not wire-compatible with RFC 5751
// PKCS#7 SignedData (see DESIGN.md).
type SMIME struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate

	Keys KeyResolver
}

func (s *SMIME) Sign(ctx context.Context, keyID string, body io.Reader) (*SignResult, error) {
	if s.Key == nil {
		return nil, &ErrUnavailable{Backend: "smime", Op: "sign"}
	}
	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return nil, fmt.Errorf("gateway/smime: hashing body: %v", err)
	}
	sum := h.Sum(nil)

	sig, err := rsa.SignPKCS1v15(rand.Reader, s.Key, crypto.SHA256, sum)
	if err != nil {
		return nil, fmt.Errorf("gateway/smime: sign: %v", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sig)))
	base64.StdEncoding.Encode(out, sig)
	return &SignResult{
		Signature: out,
		Protocol:  "application/pkcs7-signature",
		MicAlg:    "sha-256",
	}, nil
}

func (s *SMIME) Verify(ctx context.Context, signed, signature []byte) error {
	if s.Cert == nil {
		return &ErrUnavailable{Backend: "smime", Op: "verify"}
	}
	pub, ok := s.Cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("gateway/smime: certificate does not hold an RSA key")
	}
	sig := make([]byte, base64.StdEncoding.DecodedLen(len(signature)))
	n, err := base64.StdEncoding.Decode(sig, signature)
	if err != nil {
		return fmt.Errorf("gateway/smime: decode signature: %v", err)
	}
	sig = sig[:n]

	h := sha256.Sum256(signed)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig)
}

// FindKeys delegates to the configured resolver, the persistent index
// file §4.4 describes ("matching address substring, hash, or
// label").
func (s *SMIME) FindKeys(addr string, ability Ability) ([]Key, error) {
	if s.Keys == nil {
		return nil, nil
	}
	return s.Keys.FindKeys(addr, ability)
}

func (s *SMIME) Encrypt(ctx context.Context, recipientKeyIDs []string, body io.Reader) (io.Reader, error) {
	return nil, &ErrUnavailable{Backend: "smime", Op: "encrypt"}
}

func (s *SMIME) Decrypt(ctx context.Context, body io.Reader) (io.Reader, error) {
	return nil, &ErrUnavailable{Backend: "smime", Op: "decrypt"}
}
