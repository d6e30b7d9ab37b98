package email

import "strings"

// Address is an email address.
//
// Two Addresses are equal for deduplication purposes iff their Addr
// fields match case-insensitively; Name does not participate in
// equality, matching the convention the wire format itself uses for
// "same mailbox, different display name" entries.
type Address struct {
	Name string // proper name, may be empty
	Addr string // user@domain

	// Intl records that Addr has passed through an internationalization
	// round-trip (ToIntl followed by ToLocal, or vice versa) and is
	// therefore in its non-native form. It does not affect equality.
	Intl bool

	// Group marks this Address as the null terminator of an RFC 5322
	// group ("undisclosed-recipients:;"). A group terminator has an
	// empty Addr and is never a real mailbox.
	Group bool
}

// Equal reports whether a and b name the same mailbox.
// Name and Intl are ignored, matching the address-list round-trip
// invariant described in the envelope model: after an Intl encode/decode
// round trip an address must still compare equal to its original form.
func (a Address) Equal(b Address) bool {
	if a.Group || b.Group {
		return a.Group == b.Group
	}
	return strings.EqualFold(a.Addr, b.Addr)
}

// IsGroupTerminator reports whether a is the null mailbox that closes an
// RFC 5322 group (e.g. the ";" in "undisclosed-recipients:;").
func (a Address) IsGroupTerminator() bool {
	return a.Group
}

// Domain returns the portion of Addr after the last '@', or "" if Addr
// has no '@'.
func (a Address) Domain() string {
	i := strings.LastIndexByte(a.Addr, '@')
	if i < 0 {
		return ""
	}
	return a.Addr[i+1:]
}
