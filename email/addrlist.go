package email

// AddressList operations. These implement §4.1: parsing is done by
// email/imf; this file implements the list-level transforms that sit
// on top of a parsed []Address (dedup, cross-reference removal, list
// classification, self-address pruning).

// Dedup returns a new slice containing the first occurrence of each
// address in list, in original order. It is idempotent:
// Dedup(Dedup(x)) == Dedup(x).
func Dedup(list []Address) []Address {
	out := make([]Address, 0, len(list))
	for _, a := range list {
		dup := false
		for _, seen := range out {
			if a.Equal(seen) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, a)
		}
	}
	return out
}

// RemoveXrefs returns b with every address also present in a removed.
// The result never shares an address with a:
// RemoveXrefs(a, b) ∩ a == ∅.
func RemoveXrefs(a, b []Address) []Address {
	out := make([]Address, 0, len(b))
	for _, addr := range b {
		found := false
		for _, other := range a {
			if addr.Equal(other) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, addr)
		}
	}
	return out
}

// RemoveUser strips every address in list matching any of self.
// If leaveOnly is set and the result would be empty, one address from
// self is retained (the first present in list, or self[0]) so that a
// reply never has zero recipients solely because the user replied to
// themselves.
func RemoveUser(list []Address, self []Address, leaveOnly bool) []Address {
	out := make([]Address, 0, len(list))
	for _, a := range list {
		isSelf := false
		for _, s := range self {
			if a.Equal(s) {
				isSelf = true
				break
			}
		}
		if !isSelf {
			out = append(out, a)
		}
	}
	if leaveOnly && len(out) == 0 && len(self) > 0 {
		if len(list) > 0 {
			out = append(out, list[0])
		} else {
			out = append(out, self[0])
		}
	}
	return out
}

// Contains reports whether list contains an address equal to a.
func Contains(list []Address, a Address) bool {
	for _, other := range list {
		if a.Equal(other) {
			return true
		}
	}
	return false
}

// ListPattern matches a recipient address against a configured mailing
// list pattern. Patterns are glob-style against the full address,
// matching mutt's $lists/$subscribe semantics closely enough for
// send-side classification: exact match, or "*" as a full wildcard.
type ListPattern string

func (p ListPattern) Match(addr string) bool {
	pattern := string(p)
	if pattern == "*" {
		return true
	}
	return EqualFold(pattern, addr)
}

// EqualFold is case-insensitive string equality, broken out as a named
// helper so call sites read like the RFC they are implementing.
func EqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// IsMailList reports whether addr matches any configured list pattern.
func IsMailList(addr Address, patterns []ListPattern) bool {
	for _, p := range patterns {
		if p.Match(addr.Addr) {
			return true
		}
	}
	return false
}

// IsSubscribedList reports whether addr matches any configured
// subscribed-list pattern (a subset of mailing lists the user is
// actually subscribed to, used to prefer list-reply by default).
func IsSubscribedList(addr Address, subscribed []ListPattern) bool {
	return IsMailList(addr, subscribed)
}

// FindMailingLists returns the subset of to ∪ cc that is flagged as a
// mailing list and is not a group terminator.
func FindMailingLists(to, cc []Address, patterns []ListPattern) []Address {
	var out []Address
	for _, a := range append(append([]Address{}, to...), cc...) {
		if a.IsGroupTerminator() {
			continue
		}
		if IsMailList(a, patterns) {
			out = append(out, a)
		}
	}
	return out
}
