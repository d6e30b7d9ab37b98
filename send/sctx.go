// Package send implements the outgoing-mail send pipeline: the send
// context (SCTX) that carries one compose session end to end, the
// reply/forward recipient derivation, environment scopes for
// backgrounding, and the finalize step that hands a finished message
// to the Fcc writer and the MTA. It is grounded on spilldb/processor
// and spilldb/deliverer's ticker/context/cancelFn shutdown idiom for
// its background-facing pieces, and on spilldb/localsender's
// staging-to-delivery flow for finalize.
package send

import (
	"time"

	"mailcore.dev/email"
	"mailcore.dev/mailbox"
)

// Flags is the send-mode bitset SCTX carries: what kind of compose
// session this is, independent of the security bitmask on the draft
// itself.
type Flags uint32

const (
	FlagReply Flags = 1 << iota
	FlagGroupReply
	FlagListReply
	FlagForward
	FlagResend
	FlagPostponed
	FlagDraftFile
	FlagKey
	FlagMailx
	FlagBatch
	FlagNoFreeHeader
	FlagBackgroundEdit
	FlagCheckPostponed
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// State is the compose-session state machine position (§4.5.2, §4.6).
type State int

const (
	StateNew State = iota
	StateFirstEdit
	StateFirstEditHeaders
	StateComposeEdit
	StateComposeEditHeaders
)

// CurMessage is the immutable snapshot of one message being replied
// to or forwarded, captured by message-id so a background suspend
// can't leave a stale array-index pointer (§3, §5).
type CurMessage struct {
	Ref      mailbox.MessageRef
	Security email.Security
}

// CryptoOverrides holds the per-session crypto choices the user has
// made explicitly in this compose session, which take precedence over
// the post-edit crypto defaults (§4.5 step 3).
type CryptoOverrides struct {
	SignAs    string // key id/fingerprint, empty if unset
	Algorithm string // symmetric cipher override, empty if unset
}

// SCTX is the state-bearing object of one send session (§3).
type SCTX struct {
	Msg *email.Msg

	Fcc      []string // target path list; multiple entries are written independently
	TempFile string
	Mtime    time.Time // recorded before an edit, compared after to detect "unmodified"

	DateHeader time.Time // frozen once written, reused for signature coverage (§5)

	Cur              []CurMessage // the message(s) being replied to/forwarded
	TaggedMessageIDs []string     // message-ids when replying to multiple tagged messages

	CtxRealpath string // originating mailbox absolute path, for replied-flags

	State State
	Flags Flags

	Crypto CryptoOverrides

	GlobalScope *Scope // captured on resume; restored after resume finishes
	LocalScope  *Scope // captured on background; swapped in on resume

	IsBackgrounded  bool
	BackgroundPID   int
	BackgroundStage string // "editor", "pgp", "smime" — which subprocess is outstanding
}

// New allocates an SCTX for a fresh compose session.
func New(msg *email.Msg) *SCTX {
	return &SCTX{
		Msg:   msg,
		State: StateNew,
	}
}

// Background records that this SCTX has been handed to the background
// registry and nulls out Cur so a later resume re-resolves by
// message-id instead of trusting a potentially-stale snapshot (§3).
func (s *SCTX) Background(pid int, stage string) {
	s.IsBackgrounded = true
	s.BackgroundPID = pid
	s.BackgroundStage = stage
	s.LocalScope = s.GlobalScope.snapshot()
	s.Cur = nil
}

// Resumed clears the backgrounded marker once the index has reaped
// the child process and is re-dispatching this SCTX.
func (s *SCTX) Resumed() {
	s.IsBackgrounded = false
	s.BackgroundPID = 0
	s.BackgroundStage = ""
}
