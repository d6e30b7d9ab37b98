package gateway

import (
	"context"
	"fmt"
	"io/ioutil"

	"mailcore.dev/email"
)

// Verifier checks a detached signature against the content it covers.
type Verifier interface {
	Verify(ctx context.Context, signed, signature []byte) error
}

// VerifySigned checks a multipart/signed node: its first child must be
// the signed content, its second child the detached signature in the
// content-type's declared protocol. Any structural deviation reports
// ErrBadFormat rather than attempting to verify — the canonical-layout
// check §4.4 requires before trusting a signature at all.
func VerifySigned(ctx context.Context, arena *email.Arena, node email.BodyID, v Verifier, render func(*email.Arena, email.BodyID) ([]byte, error)) error {
	b := arena.Get(node)
	if b == nil {
		return fmt.Errorf("gateway: invalid node")
	}
	if !b.ContentType.IsMultipart() || !email.EqualFold(b.ContentType.Minor, "signed") {
		return ErrBadFormat
	}
	if len(b.Parts) != 2 {
		return ErrBadFormat
	}
	protocol, ok := b.ContentType.Get("protocol")
	if !ok {
		return ErrBadFormat
	}

	content := arena.Get(b.Parts[0])
	sigPart := arena.Get(b.Parts[1])
	if content == nil || sigPart == nil {
		return ErrBadFormat
	}
	if sigPart.ContentType.String() != "" && sigPart.ContentType.Major+"/"+sigPart.ContentType.Minor != protocol {
		return ErrBadFormat
	}

	signedBytes, err := render(arena, b.Parts[0])
	if err != nil {
		return err
	}
	sigReader, err := sigPart.Content.Open()
	if err != nil {
		return ErrBadFormat
	}
	sigBytes, err := ioutil.ReadAll(sigReader)
	if err != nil {
		return err
	}

	verr := v.Verify(ctx, signedBytes, sigBytes)
	content.GoodSig = verr == nil
	content.BadSig = verr != nil
	return verr
}

// ErrBadFormat is reported when a multipart/signed node doesn't match
// the canonical two-child layout §4.4 requires before a signature
// is even attempted.
var ErrBadFormat = fmt.Errorf("bad-format multipart/signed")

// PartSign scans a multipart aggregate's immediate children and
// reports whether some are signed (GoodSig or BadSig set) and some are
// not — §4.4's PARTSIGN partial-verification state — setting the
// parent's PartSign flag accordingly.
func PartSign(arena *email.Arena, node email.BodyID) bool {
	b := arena.Get(node)
	if b == nil {
		return false
	}
	var signed, unsigned int
	for _, kid := range b.Parts {
		k := arena.Get(kid)
		if k == nil {
			continue
		}
		if k.GoodSig || k.BadSig {
			signed++
		} else {
			unsigned++
		}
	}
	b.PartSign = signed > 0 && unsigned > 0
	return b.PartSign
}
