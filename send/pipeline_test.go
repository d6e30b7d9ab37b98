package send

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crawshaw.io/iox"

	"mailcore.dev/crypto/gateway"
	"mailcore.dev/email"
	"mailcore.dev/mime/msgbuilder"
	"mailcore.dev/transport/mta"
)

// fakeCryptoBackend signs by prefixing the covered bytes with "SIG:"
// and "encrypts" by prefixing them with "ENC:", just enough to prove Protect
// wired a real Signer/Encryptor into the pipeline without needing a
// gpg subprocess in a test.
type fakeCryptoBackend struct{}

func (fakeCryptoBackend) Sign(ctx context.Context, keyID string, body io.Reader) (*gateway.SignResult, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return &gateway.SignResult{
		Signature: append([]byte("SIG:"), content...),
		Protocol:  "application/pgp-signature",
		MicAlg:    "pgp-sha256",
	}, nil
}

func (fakeCryptoBackend) Encrypt(ctx context.Context, recipientKeyIDs []string, body io.Reader) (io.Reader, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(append([]byte("ENC:"), content...)), nil
}

func (fakeCryptoBackend) Decrypt(ctx context.Context, body io.Reader) (io.Reader, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(bytes.TrimPrefix(content, []byte("ENC:"))), nil
}

func (fakeCryptoBackend) FindKeys(addr string, ability gateway.Ability) ([]gateway.Key, error) {
	return []gateway.Key{{ID: "key-" + addr, Addr: addr}}, nil
}

type stringBuffer struct {
	*strings.Reader
}

func (stringBuffer) Write([]byte) (int, error) { panic("not supported") }
func (stringBuffer) Close() error               { return nil }
func (b stringBuffer) Size() int64              { return int64(b.Len()) }

func strBuf(s string) email.Buffer {
	return stringBuffer{strings.NewReader(s)}
}

type fakeMTA struct {
	fail       bool
	calls      int
	recipients []string
}

func (f *fakeMTA) Send(ctx context.Context, from string, recipients []string, r io.ReaderAt, size int64) ([]mta.Result, error) {
	f.calls++
	f.recipients = recipients
	results := make([]mta.Result, len(recipients))
	for i, rcpt := range recipients {
		results[i] = mta.Result{Recipient: rcpt, Success: !f.fail}
	}
	return results, nil
}

func newTestMsg() *email.Msg {
	var arena email.Arena
	root := arena.New()
	b := arena.Get(root)
	b.ContentType = email.ContentType{Major: "text", Minor: "plain"}
	b.Content = email.Backing{Buf: strBuf("hello\r\n")}

	return &email.Msg{
		Envelope: email.Envelope{
			From: []email.Address{{Addr: "alice@example.com"}},
			To:   []email.Address{{Addr: "bob@example.com"}},
		},
		Arena: arena,
		Root:  root,
	}
}

func TestPipelineSendSuccessWritesFccAfterMTA(t *testing.T) {
	dir, err := ioutil.TempDir("", "pipeline-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	mailboxPath := filepath.Join(dir, "sent")
	fake := &fakeMTA{}
	p := &Pipeline{
		Filer:   filer,
		Builder: msgbuilder.Builder{Filer: filer},
		MTA:     fake,
	}

	sctx := New(newTestMsg())
	sctx.Fcc = []string{mailboxPath}

	outcome, err := p.Send(context.Background(), sctx)
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if outcome != OutcomeSent {
		t.Errorf("outcome = %v, want OutcomeSent", outcome)
	}
	if fake.calls != 1 || len(fake.recipients) != 1 || fake.recipients[0] != "bob@example.com" {
		t.Errorf("fake MTA calls=%d recipients=%v", fake.calls, fake.recipients)
	}

	if _, err := os.Stat(mailboxPath); err != nil {
		t.Errorf("fcc file not written: %v", err)
	}
}

func TestPipelineSendNoRecipientsAborts(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	p := &Pipeline{Filer: filer, Builder: msgbuilder.Builder{Filer: filer}, MTA: &fakeMTA{}}
	msg := newTestMsg()
	msg.Envelope.To = nil
	sctx := New(msg)

	outcome, err := p.Send(context.Background(), sctx)
	if err == nil {
		t.Fatal("Send() = nil error, want no-recipients error")
	}
	if outcome != OutcomeAborted {
		t.Errorf("outcome = %v, want OutcomeAborted", outcome)
	}
}

func TestPipelineSendMTAFailureAborts(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	p := &Pipeline{Filer: filer, Builder: msgbuilder.Builder{Filer: filer}, MTA: &fakeMTA{fail: true}}
	sctx := New(newTestMsg())

	outcome, err := p.Send(context.Background(), sctx)
	if err == nil {
		t.Fatal("Send() = nil error, want delivery failure error")
	}
	if outcome != OutcomeAborted {
		t.Errorf("outcome = %v, want OutcomeAborted", outcome)
	}
}

func TestPipelineSendAppliesSignAndEncryptProtection(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	backend := fakeCryptoBackend{}
	gw := &gateway.Gateway{PGP: &gateway.Backend{
		Signer: backend, Encryptor: backend, KeyResolver: backend, Protocol: "pgp",
	}}

	fake := &fakeMTA{}
	p := &Pipeline{
		Filer:   filer,
		Builder: msgbuilder.Builder{Filer: filer},
		MTA:     fake,
		Gateway: gw,
	}

	msg := newTestMsg()
	msg.Security = email.SecSign | email.SecPGP | email.SecEncrypt
	sctx := New(msg)

	outcome, err := p.Send(context.Background(), sctx)
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if outcome != OutcomeSent {
		t.Errorf("outcome = %v, want OutcomeSent", outcome)
	}

	root := msg.Arena.Get(msg.Root)
	if root == nil || !email.EqualFold(root.ContentType.Minor, "encrypted") {
		t.Fatalf("root ContentType = %v, want multipart/encrypted", root)
	}
}

func TestPipelineSendIDNAEncodesRecipientDomain(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	fake := &fakeMTA{}
	p := &Pipeline{Filer: filer, Builder: msgbuilder.Builder{Filer: filer}, MTA: fake}

	msg := newTestMsg()
	msg.Envelope.To = []email.Address{{Addr: "bob@münchen.example"}}
	sctx := New(msg)

	outcome, err := p.Send(context.Background(), sctx)
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if outcome != OutcomeSent {
		t.Errorf("outcome = %v, want OutcomeSent", outcome)
	}
	if len(fake.recipients) != 1 || !strings.HasPrefix(fake.recipients[0], "bob@xn--") {
		t.Errorf("fake MTA recipients = %v, want ACE-encoded domain", fake.recipients)
	}
	if len(sctx.Msg.Envelope.To) != 1 || !strings.HasPrefix(sctx.Msg.Envelope.To[0].Addr, "bob@xn--") {
		t.Errorf("sctx envelope To = %v, want ACE-encoded domain", sctx.Msg.Envelope.To)
	}
}

func TestPipelineSendMissingGatewayAbortsWhenProtectionRequested(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	p := &Pipeline{Filer: filer, Builder: msgbuilder.Builder{Filer: filer}, MTA: &fakeMTA{}}
	msg := newTestMsg()
	msg.Security = email.SecSign | email.SecPGP
	sctx := New(msg)

	outcome, err := p.Send(context.Background(), sctx)
	if err == nil {
		t.Fatal("Send() = nil error, want unavailable-gateway error")
	}
	if outcome != OutcomeAborted {
		t.Errorf("outcome = %v, want OutcomeAborted", outcome)
	}
}
