package gateway

import "mailcore.dev/email"

// ApplyProtectedHeaders attaches env as the protected-headers snapshot
// of the inner part (innerID) and marks the outer part (outerID, the
// signed/encrypted multipart node) with the protected-headers=v1
// content-type parameter, per §4.4's draft-protected-headers
// support.
func ApplyProtectedHeaders(arena *email.Arena, outerID, innerID email.BodyID, env email.Envelope) {
	inner := arena.Get(innerID)
	if inner != nil {
		snapshot := env
		inner.ProtectedHeaders = &snapshot
	}
	outer := arena.Get(outerID)
	if outer != nil {
		outer.ContentType.Set("protected-headers", "v1")
	}
}

// ResolveProtectedHeaders surfaces the protected-header snapshot a
// verified message carries. For multipart/signed, the signed inner
// part's own headers take precedence over whatever the (possibly
// spoofed) outer envelope claims — the EFAIL safeguard §4.4
// describes — so callers pass the inner signed node, not the outer
// multipart/signed node.
func ResolveProtectedHeaders(arena *email.Arena, signedInnerID email.BodyID) *email.Envelope {
	b := arena.Get(signedInnerID)
	if b == nil {
		return nil
	}
	return b.ProtectedHeaders
}
