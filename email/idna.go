package email

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// idnaEncode and idnaDecode mirror the lookup/display split email/imf's
// charset handling uses for decoding: idnaEncode is a strict profile
// used when encoding outgoing addresses, idnaDecode a lenient one used
// when decoding addresses that arrived over the wire from less careful
// senders.
var idnaEncode = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.ValidateLabels(true),
)

var idnaDecode = idna.New()

// ToIntl rewrites a's domain from its Unicode (local) form to its ACE
// ("xn--") form for wire transmission, setting Intl. Addresses whose
// domain is already ASCII are returned unchanged (Intl still set, since
// the round-trip invariant only cares about reversibility, not whether
// any bytes actually moved).
func ToIntl(a Address) (Address, error) {
	domain := a.Domain()
	if domain == "" {
		return a, fmt.Errorf("email: ToIntl: address %q has no domain", a.Addr)
	}
	ace, err := idnaEncode.ToASCII(domain)
	if err != nil {
		return Address{}, fmt.Errorf("email: ToIntl: bad IDN %q: %v", domain, err)
	}
	local := a.Addr[:len(a.Addr)-len(domain)]
	return Address{Name: a.Name, Addr: local + ace, Intl: true}, nil
}

// ToLocal is the inverse of ToIntl: it decodes a's ACE-form domain back
// to Unicode.
func ToLocal(a Address) (Address, error) {
	domain := a.Domain()
	if domain == "" {
		return a, fmt.Errorf("email: ToLocal: address %q has no domain", a.Addr)
	}
	uni, err := idnaDecode.ToUnicode(domain)
	if err != nil {
		return Address{}, fmt.Errorf("email: ToLocal: bad IDN %q: %v", domain, err)
	}
	local := a.Addr[:len(a.Addr)-len(domain)]
	return Address{Name: a.Name, Addr: local + uni, Intl: a.Intl}, nil
}

// ToIntlList applies ToIntl to every address, stopping at the first
// failure with a diagnostic naming the offending address.
func ToIntlList(list []Address) ([]Address, error) {
	out := make([]Address, len(list))
	for i, a := range list {
		if a.IsGroupTerminator() {
			out[i] = a
			continue
		}
		enc, err := ToIntl(a)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

// IsASCII reports whether s contains only ASCII bytes and no NUL, the
// fast path used to skip IDNA processing entirely for ordinary
// addresses.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return !strings.ContainsRune(s, 0)
}
