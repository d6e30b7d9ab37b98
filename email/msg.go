package email

// Security is the per-draft crypto bitmask (§4.4).
type Security uint32

const (
	SecEncrypt Security = 1 << iota
	SecSign
	SecInline
	SecPGP
	SecSMIME
	SecAutocrypt
	SecAutocryptOverride
	SecOppEnc
	SecKeyAttach
)

func (s Security) Has(flag Security) bool { return s&flag != 0 }
func (s Security) Set(flag Security) Security { return s | flag }
func (s Security) Clear(flag Security) Security { return s &^ flag }

// Valid reports whether s satisfies the mutual-exclusion invariants of
// §4.4: exactly one of {PGP, SMIME} when encrypt|sign is set
// (unless Autocrypt is set, which implies PGP), and Autocrypt is
// mutually exclusive with SMIME and with Inline.
func (s Security) Valid() bool {
	if s.Has(SecAutocrypt) {
		if s.Has(SecSMIME) || s.Has(SecInline) {
			return false
		}
		return true
	}
	if s.Has(SecEncrypt) || s.Has(SecSign) {
		pgp, smime := s.Has(SecPGP), s.Has(SecSMIME)
		if pgp == smime { // neither or both set
			return false
		}
	}
	return true
}

// Msg is a complete email message being composed: an Envelope, a MIME
// Body tree rooted at Root inside Arena, and the crypto state selected
// for it so far.
type Msg struct {
	Envelope Envelope
	Arena    Arena
	Root     BodyID
	Seed     int64 // seeds multipart boundary generation
	Security Security
	Flags    []string // IMAP-style flags, set on the delivered copy
}

// Close frees every Body owned by Msg's Arena.
func (m *Msg) Close() {
	m.Arena.Free(m.Root)
}
