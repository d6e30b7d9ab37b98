package send

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite/sqlitex"

	"mailcore.dev/email"
	db "mailcore.dev/send/sendstate"
)

func openTestPool(t *testing.T) *sqlitex.Pool {
	dir, err := ioutil.TempDir("", "postpone-test-")
	if err != nil {
		t.Fatal(err)
	}
	pool, err := db.Open(filepath.Join(dir, "send.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPostponeThenResumeRestoresSecurityAndSubject(t *testing.T) {
	pool := openTestPool(t)
	conn := pool.Get(nil)
	defer pool.Put(conn)

	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	msg := newTestMsg()
	msg.Envelope.SetSubject("a postponed draft")
	msg.Security = email.SecSign | email.SecPGP

	sctx := New(msg)
	sctx.Fcc = []string{"/tmp/does-not-matter-sent"}

	stagingID, err := Postpone(context.Background(), filer, conn, sctx, PostponeOptions{}, nil)
	if err != nil {
		t.Fatalf("Postpone() = %v", err)
	}

	list, err := db.ListPostponed(conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].StagingID != stagingID {
		t.Fatalf("ListPostponed() = %v", list)
	}
	// The stored security bitmask still carries SecSign (§4.7 keeps the
	// record's own column intact); signing is suppressed only for the
	// copy written to the store, and Resume below recovers the full
	// bitmask from its carrier header.
	if list[0].Security != email.SecSign|email.SecPGP {
		t.Errorf("stored Security = %v, want SecSign|SecPGP", list[0].Security)
	}

	resumed, err := Resume(context.Background(), filer, conn, stagingID, nil)
	if err != nil {
		t.Fatalf("Resume() = %v", err)
	}
	if resumed.State != StateFirstEdit {
		t.Errorf("State = %v, want StateFirstEdit", resumed.State)
	}
	if !resumed.Flags.Has(FlagPostponed) {
		t.Errorf("Flags missing FlagPostponed")
	}
	if resumed.Msg.Security != email.SecSign|email.SecPGP {
		t.Errorf("resumed Security = %v, want SecSign|SecPGP", resumed.Msg.Security)
	}
	if resumed.Msg.Envelope.Subject != "a postponed draft" {
		t.Errorf("resumed Subject = %q", resumed.Msg.Envelope.Subject)
	}
	if got := resumed.Msg.Envelope.UserHeaders.Get(securityHeader); got != nil {
		t.Errorf("security carrier header leaked into resumed envelope: %q", got)
	}

	if list, err := db.ListPostponed(conn); err != nil || len(list) != 0 {
		t.Errorf("ListPostponed() after resume = %v, %v, want empty", list, err)
	}
}

func TestPostponeWrapsStandaloneForwardedMessage(t *testing.T) {
	var arena email.Arena
	inner := arena.New()
	innerBody := arena.Get(inner)
	innerBody.ContentType = email.ContentType{Major: "text", Minor: "plain"}
	innerBody.Content = email.Backing{Buf: strBuf("forwarded body\r\n")}

	root := arena.New()
	rootBody := arena.Get(root)
	rootBody.ContentType = email.ContentType{Major: "message", Minor: "rfc822"}
	rootBody.Parts = []email.BodyID{inner}

	msg := &email.Msg{
		Envelope: email.Envelope{From: []email.Address{{Addr: "alice@example.com"}}},
		Arena:    arena,
		Root:     root,
	}

	pool := openTestPool(t)
	conn := pool.Get(nil)
	defer pool.Put(conn)
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	sctx := New(msg)
	if _, err := Postpone(context.Background(), filer, conn, sctx, PostponeOptions{}, nil); err != nil {
		t.Fatalf("Postpone() = %v", err)
	}
	if got := msg.Arena.Get(msg.Root); got == nil || !got.ContentType.IsMultipart() {
		t.Errorf("Root ContentType = %v, want multipart/mixed wrapper", got)
	}
}
