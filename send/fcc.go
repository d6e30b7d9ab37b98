// Package send's Fcc writer implements the concrete self-copy step of
// the send pipeline (§4.5.3): after the MTA accepts a message (or
// before, when $fcc_before_send reorders it), write a copy to the
// configured Fcc target and keep a durable record independent of
// whether that target is reachable.
package send

import (
	"fmt"
	"os"
	"time"

	"crawshaw.io/sqlite"

	db "mailcore.dev/send/sendstate"
)

// mboxDateLayout is the traditional mbox "From " envelope date format.
const mboxDateLayout = "Mon Jan _2 15:04:05 2006"

// FccWriter appends a message to a local mbox-format archive file and
// records a durable copy in the sendstate database, following the
// same staging-to-delivery insertion shape as a local mailbox
// delivery sink, with the per-user mailbox target it inserted into
// replaced by a single archive path: this module has no
// mailbox-backend implementation to insert into (mailbox.Source is
// interface-only), and no maildir/mbox library is available, so the
// mbox append format below is hand-written rather than pulled from an
// ecosystem package.
type FccWriter struct {
	// Conn, if non-nil, also records the write in the sendstate
	// FccArchive table so it survives even if mailbox is later
	// unreachable or its format can't be parsed back.
	Conn *sqlite.Conn
}

// Write appends content, the fully-built wire message, to mailbox as
// one more entry in an mbox-format file, creating it if necessary.
func (w FccWriter) Write(mailbox string, content []byte, sender string, date time.Time) error {
	f, err := os.OpenFile(mailbox, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("fcc: open %s: %v", mailbox, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "From %s %s\n", mboxFrom(sender), date.UTC().Format(mboxDateLayout)); err != nil {
		return fmt.Errorf("fcc: write from-line: %v", err)
	}
	if _, err := f.Write(escapeMboxFromLines(content)); err != nil {
		return fmt.Errorf("fcc: write content: %v", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("fcc: write trailer: %v", err)
	}

	if w.Conn != nil {
		if _, err := db.ArchiveFcc(w.Conn, mailbox, content); err != nil {
			return fmt.Errorf("fcc: archive: %v", err)
		}
	}
	return nil
}

func mboxFrom(sender string) string {
	if sender == "" {
		return "MAILER-DAEMON"
	}
	return sender
}

// escapeMboxFromLines applies mbox "From "-quoting: any content line
// starting with "From " is escaped with a leading '>' so a later
// mbox reader doesn't mistake it for the next message's envelope line.
func escapeMboxFromLines(content []byte) []byte {
	out := make([]byte, 0, len(content))
	lineStart := true
	for i := 0; i < len(content); i++ {
		if lineStart && hasFromPrefix(content[i:]) {
			out = append(out, '>')
		}
		out = append(out, content[i])
		lineStart = content[i] == '\n'
	}
	return out
}

func hasFromPrefix(b []byte) bool {
	return len(b) >= 5 && b[0] == 'F' && b[1] == 'r' && b[2] == 'o' && b[3] == 'm' && b[4] == ' '
}
