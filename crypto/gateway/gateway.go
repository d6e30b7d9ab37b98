// Package gateway abstracts the two message-cryptography backends
// (PGP, S/MIME) and the Autocrypt overlay behind capability
// interfaces (Signer, Encryptor, KeyResolver) rather than per-call
// bitmask branching. Its canonicalize-then-hash-then-sign shape and
// RSA/X.509 plumbing carry over directly from crypto/dkimsrc.
package gateway

import (
	"context"
	"io"

	"mailcore.dev/email"
)

// Ability is a requested key capability: sign or encrypt (§4.4's
// key-selection "filter by requested ability").
type Ability int

const (
	AbilitySign Ability = iota
	AbilityEncrypt
)

// Key is a candidate key or certificate, as returned by a KeyResolver.
type Key struct {
	ID      string // key fingerprint / cert serial, backend-specific
	Addr    string // the email address this key is associated with
	Label   string // user-facing label shown in the key-selection menu
	Trusted bool
}

// SignResult is the output of a Signer: the detached signature bytes
// and the protocol name that goes in the multipart/signed
// Content-Type's protocol= parameter (e.g. "application/pgp-signature",
// "application/pkcs7-signature").
type SignResult struct {
	Signature []byte
	Protocol  string
	MicAlg    string // micalg= parameter, e.g. "pgp-sha256"
}

// Signer signs a canonicalized message body with a chosen key.
type Signer interface {
	Sign(ctx context.Context, keyID string, body io.Reader) (*SignResult, error)
}

// Encryptor encrypts a message body to a set of recipient keys, and
// decrypts one previously encrypted to a key this backend holds.
type Encryptor interface {
	Encrypt(ctx context.Context, recipientKeyIDs []string, body io.Reader) (io.Reader, error)
	Decrypt(ctx context.Context, body io.Reader) (io.Reader, error)
}

// KeyResolver finds candidate keys for an address, filtered by the
// ability the caller needs (§4.4's S/MIME key-selection example,
// generalized to either backend).
type KeyResolver interface {
	FindKeys(addr string, ability Ability) ([]Key, error)
}

// Backend bundles the three capabilities a single crypto backend
// (PGP or S/MIME) must provide. A Gateway holds at most one of each
// kind; Verifier additionally supports `multipart/signed` checking.
type Backend struct {
	Signer
	Encryptor
	KeyResolver
	Verifier
	Protocol string // "pgp" or "smime", used for error messages
}

// Gateway dispatches to whichever backend is selected in a draft's
// email.Security bitmask. The With* bitmask in §4.4 only selects
// which interface implementation handles a message; runtime dispatch
// here is a plain field lookup rather than a branch tree.
type Gateway struct {
	PGP   *Backend
	SMIME *Backend
}

// For returns the backend selected by sec, or nil if sec selects none
// or a backend this Gateway wasn't configured with.
func (g *Gateway) For(sec email.Security) *Backend {
	switch {
	case sec.Has(email.SecPGP), sec.Has(email.SecAutocrypt):
		return g.PGP
	case sec.Has(email.SecSMIME):
		return g.SMIME
	default:
		return nil
	}
}

// ErrUnavailable reports a requested crypto operation whose backend
// isn't compiled in or configured — §7's Unavailable error kind.
type ErrUnavailable struct {
	Backend string
	Op      string
}

func (e *ErrUnavailable) Error() string {
	return e.Backend + ": " + e.Op + " unavailable"
}
