package email

import (
	"strings"
	"time"
)

// Envelope holds the RFC 5322 header fields relevant to composition and
// threading. Real-subject is computed on demand (RealSubject) rather
// than stored as a pointer into Subject, since Go slicing a string
// already gives the "pointer into subject, bounded by its lifetime"
// property §3 asks for without the aliasing hazard.
type Envelope struct {
	From, Sender []Address
	To, CC, BCC  []Address
	ReplyTo      []Address
	MailFollowupTo []Address

	Subject           string
	realSubjectOffset int // bytes of Re:/Fwd: prefix stripped

	MessageID  string // bracketed <...@...>, when present
	References []string
	InReplyTo  []string

	Date time.Time

	UserHeaders Header
	Autocrypt   []AutocryptHeader
	SpamTag     []byte
}

var subjectPrefixes = []string{"re:", "fwd:", "fw:", "aw:", "antwort:"}

// RealSubject returns Subject with any recognized reply/forward prefix
// stripped (the "Real subject").
func (e *Envelope) RealSubject() string {
	return e.Subject[e.realSubjectOffset:]
}

// SetSubject stores subject and recomputes the real-subject offset by
// scanning leading "Re:"/"Fwd:"-style prefixes (possibly repeated, as
// real mail often doubles them up).
func (e *Envelope) SetSubject(subject string) {
	e.Subject = subject
	off := 0
	for {
		trimmed := strings.TrimLeft(subject[off:], " \t")
		skipped := len(subject[off:]) - len(trimmed)
		matched := false
		lower := strings.ToLower(trimmed)
		for _, p := range subjectPrefixes {
			if strings.HasPrefix(lower, p) {
				off += skipped + len(p)
				matched = true
				break
			}
		}
		if !matched {
			if off > 0 {
				off += skipped
			}
			break
		}
	}
	e.realSubjectOffset = off
}

// ReplySubject computes the subject for a reply to e: "Re: " + e's real
// subject, always — even when e's real subject already came from a
// prefix-stripped original, so prefixes collapse rather than stack
// ("Re: Re: hello" replies as "Re: hello", not as itself).
func (e *Envelope) ReplySubject() string {
	return "Re: " + e.RealSubject()
}

// AutocryptHeader is one parsed Autocrypt: header.
type AutocryptHeader struct {
	Addr           string
	PreferEncrypt  string // "", "mutual"
	KeyData        []byte // base64-decoded
}
