package send

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"

	"mailcore.dev/crypto/gateway"
	db "mailcore.dev/send/sendstate"
	"mailcore.dev/senderr"
)

// EditorCommand resolves the editor to fork, following the
// $MUTT_EDITOR/$EDITOR/$VISUAL fallback chain (§6), falling back to vi
// when none are set — the same last-resort default mutt itself uses.
func EditorCommand(env []string) string {
	lookup := func(key string) (string, bool) {
		prefix := key + "="
		for i := len(env) - 1; i >= 0; i-- {
			if strings.HasPrefix(env[i], prefix) {
				return env[i][len(prefix):], true
			}
		}
		return "", false
	}
	for _, key := range []string{"MUTT_EDITOR", "EDITOR", "VISUAL"} {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
	}
	return "vi"
}

// ExpandEditorCommand substitutes %s with filename in cmd, the way
// mailcap.Expand substitutes %s with a content file, single-quoting
// the value so a filename with shell metacharacters can't break out
// of the constructed command line. Background calls it to build the
// command it forks.
func ExpandEditorCommand(cmd, filename string) string {
	quoted := "'" + strings.Replace(filename, "'", `'\''`, -1) + "'"
	if strings.Contains(cmd, "%s") {
		return strings.Replace(cmd, "%s", quoted, -1)
	}
	return fmt.Sprintf("%s %s", cmd, quoted)
}

// Background hands sctx to the background registry and forks editor,
// %-expanded against filename via ExpandEditorCommand, as a detached
// child (§4.9).
//
// A real fork+execle keeps the parent's in-memory SCTX alive and
// simply waits on the child; this process instead persists sctx to
// the Postponed table first (the same path a user-initiated postpone
// takes) so the registry survives this process restarting before the
// child exits, matching send/bgreap's poll-by-row reaper rather than
// an in-memory handle. The returned StagingID is what a later
// send/bgreap.Resume callback feeds back into Resume to reconstruct
// the SCTX.
func Background(ctx context.Context, filer *iox.Filer, conn *sqlite.Conn, sctx *SCTX, editor, filename, kind string, stdin, stdout, stderr *os.File) (stagingID int64, err error) {
	stagingID, err = Postpone(ctx, filer, conn, sctx, PostponeOptions{}, nil)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return 0, senderr.WrapPath(senderr.FilesystemError, "create background edit file", filename, err)
	}
	_, content, loadErr := db.LoadPostponed(conn, filer, stagingID)
	if loadErr != nil {
		f.Close()
		return 0, senderr.Wrap(senderr.Fatal, "background edit: reload staged draft", loadErr)
	}
	_, copyErr := io.Copy(f, content)
	content.Close()
	closeErr := f.Close()
	if copyErr != nil {
		return 0, senderr.WrapPath(senderr.FilesystemError, "write background edit file", filename, copyErr)
	}
	if closeErr != nil {
		return 0, senderr.WrapPath(senderr.FilesystemError, "write background edit file", filename, closeErr)
	}

	cmd := exec.Command("/bin/sh", "-c", ExpandEditorCommand(editor, filename))
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Go has no direct fork+execle; Setsid is this process's closest
	// equivalent of §4.9's "forks a detached child... resets signal
	// handlers" — the child gets its own session so a terminal hangup
	// on the parent doesn't reach it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, senderr.Wrap(senderr.SubprocessFailed, "fork background editor", err)
	}
	pid := cmd.Process.Pid

	be := db.BackgroundEdit{
		PID:       pid,
		StagingID: stagingID,
		TempFile:  filename,
		Kind:      kind,
		Started:   time.Now(),
	}
	if err := db.RegisterBackgroundEdit(conn, be); err != nil {
		_ = cmd.Process.Kill()
		return 0, senderr.Wrap(senderr.FilesystemError, "register background edit", err)
	}

	// The child is intentionally never waited on here: the reap side
	// (send/bgreap.Reaper) polls BackgroundEdits by PID liveness, so
	// this process can exit and restart before the editor does without
	// losing track of it.
	sctx.Background(pid, kind)
	return stagingID, nil
}

// ResumeBackgroundEdit reconstructs the SCTX a reaped background edit
// belongs to. decryptor reverses any postpone-time re-encryption, as
// in Resume; gateway.Encryptor is accepted directly so callers don't
// need a second import for the same type.
func ResumeBackgroundEdit(ctx context.Context, filer *iox.Filer, conn *sqlite.Conn, edit db.BackgroundEdit, decryptor gateway.Encryptor) (*SCTX, error) {
	sctx, err := Resume(ctx, filer, conn, edit.StagingID, decryptor)
	if err != nil {
		return nil, err
	}
	sctx.Resumed()
	os.Remove(edit.TempFile)
	return sctx, nil
}
