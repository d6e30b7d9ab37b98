package send

import (
	"context"
	"fmt"
	"io"
	"time"

	"crawshaw.io/iox"

	"mailcore.dev/crypto/gateway"
	"mailcore.dev/email"
	"mailcore.dev/mailbox"
	"mailcore.dev/mime/msgbuilder"
	"mailcore.dev/senderr"
	"mailcore.dev/transport/mta"
)

// Outcome is the terminal result of a send attempt, the basis for
// §6's batch exit codes via senderr.ExitCode.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeAborted
	OutcomePostponed
	OutcomeBackgrounded
)

// Pipeline wires the finalize step (§4.5 step 6) to its concrete
// collaborators: a builder to serialize the Arena tree to wire bytes,
// an MTA backend to submit it, an Fcc writer to archive a copy, and
// (optionally) a mailbox to mark the replied-to originals.
type Pipeline struct {
	Filer   *iox.Filer
	Builder msgbuilder.Builder
	MTA     mta.Backend
	Fcc     FccWriter

	// Gateway dispatches outgoing crypto protection by the draft's
	// Security bitmask (§4.4); nil when no crypto backend is
	// configured, in which case a draft with SecSign or SecEncrypt set
	// aborts rather than sending unprotected.
	Gateway *gateway.Gateway

	// FccBeforeSend mirrors $fcc_before_send: when true, Fcc is
	// written before MTA submission (so a draft is archived even if
	// submission later fails); the default is MTA first, Fcc after,
	// to avoid archiving unsent drafts (§5 ordering guarantees).
	FccBeforeSend bool

	Mailbox mailbox.Source // nil if there is no originating mailbox to flag
}

// Send runs the finalize step against a compose session that the
// controller has already driven to the "send" operation: it verifies
// recipients, serializes the message, writes any Fcc targets, submits
// to the MTA, and on success marks the replied-to originals. Failure
// mid-pipeline returns a *senderr.Error whose Kind determines the
// caller's exit code (§6, §7).
func (p *Pipeline) Send(ctx context.Context, sctx *SCTX) (Outcome, error) {
	env := sctx.Msg.Envelope
	if err := idnaEncodeEnvelope(&env); err != nil {
		return OutcomeAborted, senderr.Wrap(senderr.InputInvalid, "idna-encode addresses", err)
	}

	recipients := allRecipients(env)
	if len(recipients) == 0 {
		return OutcomeAborted, senderr.New(senderr.InputInvalid, "no recipients")
	}

	if sctx.DateHeader.IsZero() {
		sctx.DateHeader = time.Now()
	}
	env.Date = sctx.DateHeader
	sctx.Msg.Envelope = env

	// Snapshotted so an MTA failure can restore the unprotected tree
	// for a retry (§4.5.3) without re-signing/re-encrypting twice on
	// the next attempt — Arena is a slice-backed value type, so this
	// snapshot is cheap and the nodes Protect appends below simply
	// become unreachable garbage if discarded.
	preProtectArena, preProtectRoot := sctx.Msg.Arena, sctx.Msg.Root
	if err := p.applyProtection(ctx, sctx, recipients); err != nil {
		return OutcomeAborted, err
	}

	wire := p.Filer.BufferFile(0)
	defer wire.Close()
	if err := p.Builder.Build(wire, sctx.Msg); err != nil {
		sctx.Msg.Arena, sctx.Msg.Root = preProtectArena, preProtectRoot
		return OutcomeAborted, senderr.Wrap(senderr.Fatal, "build message", err)
	}
	if _, err := wire.Seek(0, io.SeekStart); err != nil {
		sctx.Msg.Arena, sctx.Msg.Root = preProtectArena, preProtectRoot
		return OutcomeAborted, senderr.Wrap(senderr.Fatal, "seek built message", err)
	}
	content, err := io.ReadAll(wire)
	if err != nil {
		sctx.Msg.Arena, sctx.Msg.Root = preProtectArena, preProtectRoot
		return OutcomeAborted, senderr.Wrap(senderr.Fatal, "read built message", err)
	}

	from := ""
	if len(env.From) > 0 {
		from = env.From[0].Addr
	}

	if p.FccBeforeSend {
		if err := p.writeFcc(sctx, content, from); err != nil {
			sctx.Msg.Arena, sctx.Msg.Root = preProtectArena, preProtectRoot
			return OutcomeAborted, err
		}
	}

	results, err := p.MTA.Send(ctx, from, recipients, bytesReaderAt(content), int64(len(content)))
	if err != nil {
		// MTA failure restores the pre-protection body so the user may
		// retry (§4.5.3); a successful Fcc-before-send write above is
		// not undone, mirroring mutt's own "archive first" contract.
		sctx.Msg.Arena, sctx.Msg.Root = preProtectArena, preProtectRoot
		return OutcomeAborted, senderr.Wrap(senderr.Transient, "mta submission", err)
	}
	for _, r := range results {
		if !r.Success {
			sctx.Msg.Arena, sctx.Msg.Root = preProtectArena, preProtectRoot
			return OutcomeAborted, senderr.New(senderr.Transient, fmt.Sprintf("delivery to %s failed: %s", r.Recipient, r.Details))
		}
	}

	if !p.FccBeforeSend {
		if err := p.writeFcc(sctx, content, from); err != nil {
			return OutcomeAborted, err
		}
	}

	if p.Mailbox != nil && len(sctx.Cur) > 0 {
		refs := make([]mailbox.MessageRef, len(sctx.Cur))
		for i, c := range sctx.Cur {
			refs[i] = c.Ref
		}
		if err := p.Mailbox.MarkReplied(refs); err != nil {
			// A failure here doesn't undo a successful send (§5): the
			// message is already away.
			return OutcomeSent, senderr.Wrap(senderr.Unavailable, "mark replied", err)
		}
	}

	return OutcomeSent, nil
}

// writeFcc writes content to every comma-delimited Fcc target
// independently: one target's failure doesn't cancel the others
// (§4.5.3), except that any failure is reported to the caller so a
// batch-mode invocation with $fcc_before_send can treat it as fatal.
func (p *Pipeline) writeFcc(sctx *SCTX, content []byte, from string) error {
	var firstErr error
	for _, target := range sctx.Fcc {
		if target == "" {
			continue
		}
		if err := p.Fcc.Write(target, content, from, sctx.DateHeader); err != nil {
			wrapped := senderr.WrapPath(senderr.FilesystemError, "write fcc", target, err)
			if firstErr == nil {
				firstErr = wrapped
			}
		}
	}
	return firstErr
}

// applyProtection wraps sctx.Msg's root in multipart/signed and/or
// multipart/encrypted per its Security bitmask (§4.5 step 6's "apply
// crypto protection"), resolving one encryption key per recipient
// address through the selected backend's KeyResolver. A no-op when
// neither SecSign nor SecEncrypt is set.
func (p *Pipeline) applyProtection(ctx context.Context, sctx *SCTX, recipients []string) error {
	sec := sctx.Msg.Security
	if !sec.Has(email.SecSign) && !sec.Has(email.SecEncrypt) {
		return nil
	}
	if p.Gateway == nil {
		return senderr.New(senderr.Unavailable, "crypto protection requested but no gateway is configured")
	}
	backend := p.Gateway.For(sec)
	if backend == nil {
		return senderr.New(senderr.Unavailable, "no crypto backend selected by the draft's security bitmask")
	}

	var recipientKeyIDs []string
	if sec.Has(email.SecEncrypt) {
		if backend.KeyResolver == nil {
			return senderr.New(senderr.Unavailable, "crypto backend has no key resolver")
		}
		for _, addr := range recipients {
			keys, err := backend.FindKeys(addr, gateway.AbilityEncrypt)
			if err != nil {
				return senderr.Wrap(senderr.Unavailable, "resolve encryption key for "+addr, err)
			}
			if len(keys) == 0 {
				return senderr.New(senderr.Unavailable, "no encryption key found for "+addr)
			}
			recipientKeyIDs = append(recipientKeyIDs, keys[0].ID)
		}
	}

	render := func(arena *email.Arena, id email.BodyID) ([]byte, error) {
		return msgbuilder.RenderNode(p.Filer, sctx.Msg.Seed, arena, id)
	}
	newRoot, err := gateway.Protect(ctx, p.Filer, &sctx.Msg.Arena, sctx.Msg.Root, sec, backend, sctx.Crypto.SignAs, recipientKeyIDs, render)
	if err != nil {
		return senderr.Wrap(senderr.Unavailable, "apply crypto protection", err)
	}
	sctx.Msg.Root = newRoot
	return nil
}

// idnaEncodeEnvelope rewrites every address-bearing header field to
// its wire (ACE) form in place (§4.5 step 6's "IDNA-encode"), so both
// the built message and the recipient list handed to the MTA agree on
// an ASCII-only domain.
func idnaEncodeEnvelope(env *email.Envelope) error {
	for _, f := range []*[]email.Address{
		&env.From, &env.Sender, &env.ReplyTo,
		&env.To, &env.CC, &env.BCC, &env.MailFollowupTo,
	} {
		enc, err := idnaEncodeAddrs(*f)
		if err != nil {
			return err
		}
		*f = enc
	}
	return nil
}

// idnaEncodeAddrs applies email.ToIntl to each address whose domain
// isn't already ASCII, using email.IsASCII's documented fast path to
// skip the common case outright rather than calling email.ToIntlList
// (which has no such skip and would reject a malformed-but-ASCII
// address with no domain at all).
func idnaEncodeAddrs(list []email.Address) ([]email.Address, error) {
	out := make([]email.Address, len(list))
	for i, a := range list {
		if a.IsGroupTerminator() || email.IsASCII(a.Addr) {
			out[i] = a
			continue
		}
		enc, err := email.ToIntl(a)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

func allRecipients(env email.Envelope) []string {
	var out []string
	for _, a := range env.To {
		out = append(out, a.Addr)
	}
	for _, a := range env.CC {
		out = append(out, a.Addr)
	}
	for _, a := range env.BCC {
		out = append(out, a.Addr)
	}
	return out
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
