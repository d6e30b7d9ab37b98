// Package mailbox specifies, at the interface only, the originating
// mailbox collaborator §1 and §6 name as out of scope: mbox,
// maildir, IMAP, and POP backends. The send pipeline needs exactly two
// things from a mailbox — resolve a snapshot of the message(s) a
// reply/forward is replying to, and mark them replied after a
// successful send, by message-id rather than by array index so a
// re-sort during a backgrounded edit can't corrupt the flag (§5's
// ordering guarantee).
package mailbox

import "mailcore.dev/email"

// MessageRef identifies one message in the originating mailbox for the
// reply-flag phase. ID is the mailbox's own stable identifier, not an
// array index — required by §5's "flags are set by message-id,
// not by array index" guarantee.
type MessageRef struct {
	ID        string
	MessageID string // RFC 5322 Message-ID, bracketed
}

// Source is the read-only view of the originating mailbox a send
// session snapshots when it's replying to or forwarding a message.
type Source interface {
	// Resolve returns the envelope and security state of the messages
	// named by refs, skipping any that have been expunged since the
	// refs were captured (§9's open question: silently skip
	// missing ids rather than erroring).
	Resolve(refs []MessageRef) ([]ResolvedMessage, error)

	// MarkReplied sets the replied flag on every message named by refs
	// that still exists, reopening the mailbox read-only if needed.
	// It must succeed or fail atomically per ref: one missing message
	// never prevents flagging the others.
	MarkReplied(refs []MessageRef) error

	// Path returns the mailbox's absolute path, the ctx_realpath value
	// §3 records on the SCTX.
	Path() string
}

// ResolvedMessage is a mailbox message resolved for quoting/reply
// derivation: enough of the original to drive §4.3's reply/forward
// heuristics without needing the full parsed body.
type ResolvedMessage struct {
	Ref      MessageRef
	Envelope email.Envelope
	Security email.Security
}
