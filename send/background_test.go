package send

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"crawshaw.io/iox"

	db "mailcore.dev/send/sendstate"
)

func TestEditorCommandFallbackChain(t *testing.T) {
	tests := []struct {
		env  []string
		want string
	}{
		{nil, "vi"},
		{[]string{"EDITOR=nano"}, "nano"},
		{[]string{"EDITOR=nano", "VISUAL=emacs"}, "nano"},
		{[]string{"VISUAL=emacs"}, "emacs"},
		{[]string{"EDITOR=nano", "MUTT_EDITOR=vim"}, "vim"},
	}
	for _, tc := range tests {
		if got := EditorCommand(tc.env); got != tc.want {
			t.Errorf("EditorCommand(%v) = %q, want %q", tc.env, got, tc.want)
		}
	}
}

func TestExpandEditorCommandQuotesFilename(t *testing.T) {
	got := ExpandEditorCommand("vim %s", "/tmp/it's a draft")
	want := `vim '/tmp/it'\''s a draft'`
	if got != want {
		t.Errorf("ExpandEditorCommand() = %q, want %q", got, want)
	}
	if got := ExpandEditorCommand("vim", "/tmp/draft"); got != "vim '/tmp/draft'" {
		t.Errorf("ExpandEditorCommand() without %%s = %q", got)
	}
}

func TestBackgroundThenReapResumes(t *testing.T) {
	dir, err := ioutil.TempDir("", "background-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	pool, err := db.Open(filepath.Join(dir, "send.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	conn := pool.Get(nil)
	msg := newTestMsg()
	msg.Envelope.SetSubject("edited in the background")
	sctx := New(msg)

	editFile := filepath.Join(dir, "edit-me")
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()

	stagingID, err := Background(context.Background(), filer, conn, sctx, "/bin/true", editFile, "editor", devnull, devnull, devnull)
	if err != nil {
		t.Fatalf("Background() = %v", err)
	}
	if !sctx.IsBackgrounded {
		t.Error("sctx.IsBackgrounded = false, want true")
	}
	if sctx.BackgroundStage != "editor" {
		t.Errorf("BackgroundStage = %q, want editor", sctx.BackgroundStage)
	}

	if _, err := os.Stat(editFile); err != nil {
		t.Errorf("edit file not written: %v", err)
	}

	pending, err := db.PendingBackgroundEdits(conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].StagingID != stagingID {
		t.Fatalf("PendingBackgroundEdits() = %v, want one edit for staging %d", pending, stagingID)
	}

	// ResumeBackgroundEdit doesn't itself check process liveness (that
	// is send/bgreap.Reaper's job, driven off PID rather than
	// StagingID); it only needs a valid staged draft to reconstruct.
	resumed, err := ResumeBackgroundEdit(context.Background(), filer, conn, pending[0], nil)
	if err != nil {
		t.Fatalf("ResumeBackgroundEdit() = %v", err)
	}
	if resumed.Msg.Envelope.Subject != "edited in the background" {
		t.Errorf("resumed Subject = %q", resumed.Msg.Envelope.Subject)
	}
	if resumed.IsBackgrounded {
		t.Error("resumed.IsBackgrounded = true, want false after Resumed()")
	}
	if _, err := os.Stat(editFile); !os.IsNotExist(err) {
		t.Errorf("edit file still present after resume: %v", err)
	}

	pool.Put(conn)
}
