package send

// Scope is one environment-scope snapshot (§4.8): the subset of
// configuration a backgrounded edit must preserve independent of
// whatever the index loop does to the "outside" configuration while
// the edit is in flight.
type Scope struct {
	Booleans   map[string]bool
	Quadoptions map[string]int

	Folder    string
	Outbox    string
	Postponed string

	EnvelopeFrom string
	SendmailPath string
	SMTPURL      string

	SignAsIdentity string
	SignAlgorithm  string
}

// snapshot returns a deep-enough copy of s for stashing as a
// LocalScope or GlobalScope; a nil receiver snapshots to an empty,
// non-nil Scope rather than panicking, since a fresh SCTX has no
// GlobalScope yet when it first backgrounds.
func (s *Scope) snapshot() *Scope {
	cp := &Scope{
		Booleans:       make(map[string]bool),
		Quadoptions:    make(map[string]int),
		Folder:         "",
		Outbox:         "",
		Postponed:      "",
		EnvelopeFrom:   "",
		SendmailPath:   "",
		SMTPURL:        "",
		SignAsIdentity: "",
		SignAlgorithm:  "",
	}
	if s == nil {
		return cp
	}
	for k, v := range s.Booleans {
		cp.Booleans[k] = v
	}
	for k, v := range s.Quadoptions {
		cp.Quadoptions[k] = v
	}
	cp.Folder = s.Folder
	cp.Outbox = s.Outbox
	cp.Postponed = s.Postponed
	cp.EnvelopeFrom = s.EnvelopeFrom
	cp.SendmailPath = s.SendmailPath
	cp.SMTPURL = s.SMTPURL
	cp.SignAsIdentity = s.SignAsIdentity
	cp.SignAlgorithm = s.SignAlgorithm
	return cp
}

// EnterResume swaps LocalScope in as the active scope and returns a
// restore function that swaps GlobalScope back out, so changes made
// inside the resumed compose session don't leak to the index loop
// until they're explicitly committed on send (§4.8).
func (s *SCTX) EnterResume(active *Scope) (restore func()) {
	s.GlobalScope = active.snapshot()
	if s.LocalScope != nil && active != nil {
		*active = *s.LocalScope.snapshot()
	}
	return func() {
		if active != nil {
			*active = *s.GlobalScope.snapshot()
		}
	}
}
