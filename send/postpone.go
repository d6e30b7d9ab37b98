package send

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"

	"mailcore.dev/crypto/gateway"
	"mailcore.dev/email"
	"mailcore.dev/mime/msgbuilder"
	"mailcore.dev/mime/msgcleaver"
	db "mailcore.dev/send/sendstate"
	"mailcore.dev/senderr"
)

// securityHeader carries the draft's security bitmask across a
// postpone/resume round trip, since a plain MIME parse of the
// serialized draft has no other place to recover it from (§4.7:
// "the previous security bitmask is recovered from user-headers").
const securityHeader email.Key = "X-Mailcore-Security"

// PostponeOptions mirrors the $postpone_encrypt/$postpone_encrypt_as
// configuration pair (§4.7).
type PostponeOptions struct {
	Encrypt   bool   // $postpone_encrypt
	EncryptAs string // $postpone_encrypt_as; falls back to Crypto.SignAs when empty; no Autocrypt key is consulted
}

// Postpone serializes sctx's draft to the postponed-message store,
// applying the three provisions §4.7 requires: suppress signing,
// optionally re-encrypt to a stable recipient, and wrap attachments in
// multipart/mixed if the tree isn't already. encryptor may be nil when
// the draft isn't marked for encryption or $postpone_encrypt is unset.
func Postpone(ctx context.Context, filer *iox.Filer, conn *sqlite.Conn, sctx *SCTX, opts PostponeOptions, encryptor gateway.Encryptor) (stagingID int64, err error) {
	msg := sctx.Msg
	originalSecurity := msg.Security

	ensureMultipartForAttachments(msg)

	if opts.Encrypt && encryptor != nil && msg.Security.Has(email.SecEncrypt) {
		keyID := opts.EncryptAs
		if keyID == "" {
			keyID = sctx.Crypto.SignAs
		}
		if err := reencryptRoot(ctx, filer, msg, encryptor, keyID); err != nil {
			return 0, senderr.Wrap(senderr.Unavailable, "postpone re-encrypt", err)
		}
	}

	// Signing is suppressed on disk: the signature a user picked
	// can't be honored across a round trip, so the serialized draft
	// carries no DKIM wrap and no signed-mail bit. The original bitmask,
	// including SecSign, is preserved separately in securityHeader for
	// resume to restore.
	msg.Security = msg.Security.Clear(email.SecSign)
	msg.Envelope.UserHeaders.Del(securityHeader)
	msg.Envelope.UserHeaders.Add(securityHeader, []byte(strconv.FormatUint(uint64(originalSecurity), 10)))

	builder := msgbuilder.Builder{Filer: filer, IncludeBCC: true}
	wire := filer.BufferFile(0)
	defer wire.Close()
	if err := builder.Build(wire, msg); err != nil {
		return 0, senderr.Wrap(senderr.Fatal, "postpone build", err)
	}
	if _, err := wire.Seek(0, io.SeekStart); err != nil {
		return 0, senderr.Wrap(senderr.Fatal, "postpone seek", err)
	}
	content, err := io.ReadAll(wire)
	if err != nil {
		return 0, senderr.Wrap(senderr.Fatal, "postpone read", err)
	}

	var fccMailbox string
	if len(sctx.Fcc) > 0 {
		fccMailbox = sctx.Fcc[0]
	}

	rec := db.PostponedRecord{
		MessageID:  msg.Envelope.MessageID,
		Subject:    msg.Envelope.Subject,
		DateSaved:  time.Now(),
		Security:   originalSecurity,
		FccMailbox: fccMailbox,
	}
	stagingID, err = db.PostponeMsg(conn, rec, content)
	if err != nil {
		return 0, senderr.Wrap(senderr.FilesystemError, "postpone store", err)
	}
	return stagingID, nil
}

// Resume loads a postponed draft back into a fresh SCTX, stripping the
// security-bitmask carrier header, reversing any postpone-time
// re-encryption, and re-entering the compose pipeline at first-edit
// (§4.7).
func Resume(ctx context.Context, filer *iox.Filer, conn *sqlite.Conn, stagingID int64, decryptor gateway.Encryptor) (*SCTX, error) {
	rec, buf, err := db.LoadPostponed(conn, filer, stagingID)
	if err != nil {
		return nil, senderr.Wrap(senderr.FilesystemError, "resume load", err)
	}
	msg, err := msgcleaver.Cleave(filer, buf)
	buf.Close()
	if err != nil {
		return nil, senderr.Wrap(senderr.Fatal, "resume parse", err)
	}

	if raw := msg.Envelope.UserHeaders.Get(securityHeader); raw != nil {
		if n, perr := strconv.ParseUint(string(raw), 10, 32); perr == nil {
			msg.Security = email.Security(n)
		}
		msg.Envelope.UserHeaders.Del(securityHeader)
	} else {
		msg.Security = rec.Security
	}

	if decryptor != nil && msg.Security.Has(email.SecEncrypt) {
		if err := undoReencryptRoot(ctx, filer, msg, decryptor); err != nil {
			return nil, senderr.Wrap(senderr.Unavailable, "resume decrypt", err)
		}
	}

	if err := db.DeletePostponed(conn, stagingID); err != nil {
		return nil, senderr.Wrap(senderr.FilesystemError, "resume delete", err)
	}

	sctx := New(msg)
	sctx.State = StateFirstEdit
	sctx.Flags |= FlagPostponed
	if rec.FccMailbox != "" {
		sctx.Fcc = []string{rec.FccMailbox}
	}
	return sctx, nil
}

// ensureMultipartForAttachments wraps msg.Root in multipart/mixed when
// it carries children but isn't itself a multipart container — the
// case of a standalone message/rfc822 forward postponed at the top
// level — so a resumed parse can't conflate the forwarded message's
// own body structure with the draft's own top-level structure.
func ensureMultipartForAttachments(msg *email.Msg) {
	b := msg.Arena.Get(msg.Root)
	if b == nil || len(b.Parts) == 0 || b.ContentType.IsMultipart() {
		return
	}
	msg.Root = email.MakeMultipartMixed(&msg.Arena, msg.Root)
}

// reencryptRoot renders msg's current tree to plaintext wire bytes,
// encrypts it to keyID, and replaces the root with a minimal
// multipart/encrypted (RFC 3156 / RFC 8551 shaped) container holding
// the ciphertext, so the draft is readable on disk without the
// original session's keys.
func reencryptRoot(ctx context.Context, filer *iox.Filer, msg *email.Msg, encryptor gateway.Encryptor, keyID string) error {
	plain := filer.BufferFile(0)
	defer plain.Close()
	builder := msgbuilder.Builder{Filer: filer, IncludeBCC: true}
	if err := builder.Build(plain, msg); err != nil {
		return err
	}
	if _, err := plain.Seek(0, io.SeekStart); err != nil {
		return err
	}

	ciphertext, err := encryptor.Encrypt(ctx, []string{keyID}, plain)
	if err != nil {
		return err
	}
	cbytes, err := io.ReadAll(ciphertext)
	if err != nil {
		return err
	}

	newArena := email.Arena{}
	control := newArena.New()
	cb := newArena.Get(control)
	cb.ContentType = email.ContentType{Major: "application", Minor: "pgp-encrypted"}
	cb.Content = email.Backing{Buf: bytesBuffer(bytes.NewReader([]byte("Version: 1\r\n")))}

	cipherID := newArena.New()
	cipherBody := newArena.Get(cipherID)
	cipherBody.ContentType = email.ContentType{Major: "application", Minor: "octet-stream"}
	cipherBody.Content = email.Backing{Buf: bytesBuffer(bytes.NewReader(cbytes))}

	parent := newArena.New()
	parentBody := newArena.Get(parent)
	parentBody.ContentType = email.ContentType{
		Major: "multipart", Minor: "encrypted",
		Params: []email.Parameter{{Attribute: "protocol", Value: "application/pgp-encrypted"}},
	}
	parentBody.Parts = []email.BodyID{control, cipherID}

	oldArena, oldRoot := msg.Arena, msg.Root
	msg.Arena = newArena
	msg.Root = parent
	oldArena.Free(oldRoot)
	return nil
}

// undoReencryptRoot reverses reencryptRoot: decrypts the ciphertext
// part and replaces the draft's Arena with the parsed plaintext tree.
func undoReencryptRoot(ctx context.Context, filer *iox.Filer, msg *email.Msg, decryptor gateway.Encryptor) error {
	root := msg.Arena.Get(msg.Root)
	if root == nil || !root.ContentType.IsMultipart() || len(root.Parts) != 2 {
		return nil
	}
	cipherBody := msg.Arena.Get(root.Parts[1])
	if cipherBody == nil {
		return fmt.Errorf("send: resume: missing ciphertext part")
	}
	r, err := cipherBody.Content.Open()
	if err != nil {
		return err
	}
	plain, err := decryptor.Decrypt(ctx, r)
	if err != nil {
		return err
	}

	inner, err := msgcleaver.Cleave(filer, plain)
	if err != nil {
		return err
	}
	oldArena, oldRoot := msg.Arena, msg.Root
	msg.Arena = inner.Arena
	msg.Root = inner.Root
	oldArena.Free(oldRoot)
	return nil
}

// bytesBuffer adapts a bytes.Reader to email.Buffer for the
// synthetic control/ciphertext parts reencryptRoot builds; these
// parts are never written back to (the tree is rebuilt wholesale on
// decrypt), so Write is not reachable in practice.
type bytesBuf struct {
	*bytes.Reader
}

func (bytesBuf) Write([]byte) (int, error) { return 0, fmt.Errorf("email: read-only buffer") }
func (bytesBuf) Close() error              { return nil }
func (b bytesBuf) Size() int64             { return b.Reader.Size() }

func bytesBuffer(r *bytes.Reader) email.Buffer {
	return bytesBuf{r}
}
