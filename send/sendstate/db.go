// Package db persists the state that must survive across a
// suspension point the application-level scheduler can't hold in
// memory: postponed drafts (§4.7), backgrounded editor/crypto child
// processes (§4.9), and the Fcc archive (§4.5.3). It keeps a
// sqlite-via-crawshaw.io/sqlite pool idiom — one process, one
// WAL-mode file, prepared statements per call — but drops a
// multi-user account schema entirely: a send session belongs to the
// single local user running the MUA, so there is no login surface
// here for Users/UserAddresses/Devices/bcrypt to protect.
package db

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"mailcore.dev/email"
)

// SendState is the terminal-outcome classification of an SCTX, used
// to report exit status and to decide whether a postponed entry or
// background-edit row should still be reaped.
type SendState int

const (
	StateUnknown SendState = iota
	StateComposing
	StatePostponed
	StateBackgrounded
	StateSending
	StateSent
	StateFailed
	StateAborted
)

func (s SendState) String() string {
	switch s {
	case StateComposing:
		return "Composing"
	case StatePostponed:
		return "Postponed"
	case StateBackgrounded:
		return "Backgrounded"
	case StateSending:
		return "Sending"
	case StateSent:
		return "Sent"
	case StateFailed:
		return "Failed"
	case StateAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("SendState(%d)", int(s))
	}
}

func Open(dbfile string) (*sqlitex.Pool, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("db.Open: main init open: %v", err)
	}
	if err := Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db.Open: main init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("db.Open: main init close: %v", err)
	}
	pool, err := sqlitex.Open(dbfile, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("db.Open: main pool: %v", err)
	}
	return pool, nil
}

func Init(conn *sqlite.Conn) (err error) {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(conn, "PRAGMA cache_size = -20000;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		return err
	}
	return nil
}

// PostponedRecord is a postponed-draft summary, the row shape §4.7's
// postpone folder index works from without decoding Content.
type PostponedRecord struct {
	StagingID  int64
	MessageID  string
	Subject    string
	DateSaved  time.Time
	Security   email.Security
	FccMailbox string
}

// PostponeMsg inserts a postponed draft and its fully-built MIME
// content, returning the StagingID a later ResumePostponed call needs.
func PostponeMsg(conn *sqlite.Conn, rec PostponedRecord, content []byte) (stagingID int64, err error) {
	stmt := conn.Prep(`INSERT INTO Postponed (
			StagingID, MessageID, Subject, DateSaved, Security, FccMailbox, Content
		) VALUES (
			$stagingID, $messageID, $subject, $dateSaved, $security, $fccMailbox, $content
		);`)
	stmt.SetText("$messageID", rec.MessageID)
	stmt.SetText("$subject", rec.Subject)
	stmt.SetInt64("$dateSaved", rec.DateSaved.Unix())
	stmt.SetInt64("$security", int64(rec.Security))
	if rec.FccMailbox != "" {
		stmt.SetText("$fccMailbox", rec.FccMailbox)
	} else {
		stmt.SetNull("$fccMailbox")
	}
	stmt.SetBytes("$content", content)
	stagingID, err = sqlitex.InsertRandID(stmt, "$stagingID", 1, 1<<31)
	if err != nil {
		return 0, fmt.Errorf("db.PostponeMsg: %v", err)
	}
	return stagingID, nil
}

// ListPostponed returns every postponed draft's summary row, in
// save order, for the compose menu's "postponed messages?" prompt
// (§4.5.1 setup).
func ListPostponed(conn *sqlite.Conn) ([]PostponedRecord, error) {
	var recs []PostponedRecord
	stmt := conn.Prep(`SELECT StagingID, MessageID, Subject, DateSaved, Security, FccMailbox
		FROM Postponed ORDER BY DateSaved;`)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		recs = append(recs, PostponedRecord{
			StagingID:  stmt.GetInt64("StagingID"),
			MessageID:  stmt.GetText("MessageID"),
			Subject:    stmt.GetText("Subject"),
			DateSaved:  time.Unix(stmt.GetInt64("DateSaved"), 0),
			Security:   email.Security(stmt.GetInt64("Security")),
			FccMailbox: stmt.GetText("FccMailbox"),
		})
	}
	return recs, nil
}

// LoadPostponed reads a postponed draft's record and raw content back
// out, for §4.7's resume path. The caller closes the returned buffer.
func LoadPostponed(conn *sqlite.Conn, filer *iox.Filer, stagingID int64) (PostponedRecord, *iox.BufferFile, error) {
	var rec PostponedRecord
	stmt := conn.Prep(`SELECT MessageID, Subject, DateSaved, Security, FccMailbox
		FROM Postponed WHERE StagingID = $stagingID;`)
	stmt.SetInt64("$stagingID", stagingID)
	hasRow, err := stmt.Step()
	if err != nil {
		return rec, nil, err
	}
	if !hasRow {
		return rec, nil, fmt.Errorf("db.LoadPostponed: no postponed message %d", stagingID)
	}
	rec = PostponedRecord{
		StagingID:  stagingID,
		MessageID:  stmt.GetText("MessageID"),
		Subject:    stmt.GetText("Subject"),
		DateSaved:  time.Unix(stmt.GetInt64("DateSaved"), 0),
		Security:   email.Security(stmt.GetInt64("Security")),
		FccMailbox: stmt.GetText("FccMailbox"),
	}

	content := filer.BufferFile(0)
	blob, err := conn.OpenBlob("", "Postponed", "Content", stagingID, false)
	if err != nil {
		content.Close()
		return rec, nil, err
	}
	_, err = io.Copy(content, blob)
	blob.Close()
	if err != nil {
		content.Close()
		return rec, nil, err
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		content.Close()
		return rec, nil, err
	}
	return rec, content, nil
}

// DeletePostponed removes a postponed draft, called once resume has
// successfully reconstructed its SCTX.
func DeletePostponed(conn *sqlite.Conn, stagingID int64) error {
	stmt := conn.Prep(`DELETE FROM Postponed WHERE StagingID = $stagingID;`)
	stmt.SetInt64("$stagingID", stagingID)
	_, err := stmt.Step()
	return err
}

// BackgroundEdit is a detached editor or crypto-tool child process
// the index has not yet reaped.
type BackgroundEdit struct {
	PID       int
	StagingID int64
	TempFile  string
	Kind      string
	Started   time.Time
}

// RegisterBackgroundEdit records a forked child so the index can poll
// for its exit (§4.9's non-blocking reap) instead of blocking the
// compose controller on it.
func RegisterBackgroundEdit(conn *sqlite.Conn, be BackgroundEdit) error {
	stmt := conn.Prep(`INSERT INTO BackgroundEdits (PID, StagingID, TempFile, Kind, Started)
		VALUES ($pid, $stagingID, $tempFile, $kind, $started);`)
	stmt.SetInt64("$pid", int64(be.PID))
	stmt.SetInt64("$stagingID", be.StagingID)
	stmt.SetText("$tempFile", be.TempFile)
	stmt.SetText("$kind", be.Kind)
	stmt.SetInt64("$started", be.Started.Unix())
	_, err := stmt.Step()
	return err
}

// PendingBackgroundEdits lists every background edit the index hasn't
// cleared yet, for the janitor's reap sweep.
func PendingBackgroundEdits(conn *sqlite.Conn) ([]BackgroundEdit, error) {
	var edits []BackgroundEdit
	stmt := conn.Prep(`SELECT PID, StagingID, TempFile, Kind, Started FROM BackgroundEdits ORDER BY Started;`)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		edits = append(edits, BackgroundEdit{
			PID:       int(stmt.GetInt64("PID")),
			StagingID: stmt.GetInt64("StagingID"),
			TempFile:  stmt.GetText("TempFile"),
			Kind:      stmt.GetText("Kind"),
			Started:   time.Unix(stmt.GetInt64("Started"), 0),
		})
	}
	return edits, nil
}

// ClearBackgroundEdit removes a background-edit row once the index
// has reaped its process, whether it exited normally or was killed
// out-of-band (§4.9's cancellation note).
func ClearBackgroundEdit(conn *sqlite.Conn, pid int) error {
	stmt := conn.Prep(`DELETE FROM BackgroundEdits WHERE PID = $pid;`)
	stmt.SetInt64("$pid", int64(pid))
	_, err := stmt.Step()
	return err
}

// ArchiveFcc records a copy of a sent message in the durable archive,
// independent of whether the mailbox $fcc names is reachable.
func ArchiveFcc(conn *sqlite.Conn, mailbox string, content []byte) (archiveID int64, err error) {
	stmt := conn.Prep(`INSERT INTO FccArchive (ArchiveID, Mailbox, DateSaved, Content)
		VALUES ($archiveID, $mailbox, $dateSaved, $content);`)
	stmt.SetText("$mailbox", mailbox)
	stmt.SetInt64("$dateSaved", time.Now().Unix())
	stmt.SetBytes("$content", content)
	archiveID, err = sqlitex.InsertRandID(stmt, "$archiveID", 1, 1<<31)
	if err != nil {
		return 0, fmt.Errorf("db.ArchiveFcc: %v", err)
	}
	return archiveID, nil
}

// Log is a structured progress/error record, written by the janitor
// and the send pipeline's outer loop in place of ad hoc fmt.Printf
// calls so a wrapping daemon can parse them.
type Log struct {
	Where    string
	What     string
	When     time.Time
	Duration time.Duration
	Err      error
	Data     map[string]interface{}
}

func (l Log) String() string {
	buf := new(strings.Builder)
	fmt.Fprintf(buf, `{"where": %q, "what": %q, `, l.Where, l.What)

	buf.WriteString(`"when": "`)
	buf.Write(l.When.AppendFormat(make([]byte, 0, 64), time.RFC3339Nano))
	buf.WriteString(`"`)

	fmt.Fprintf(buf, `, "duration": "%s"`, l.Duration)

	if l.Err != nil {
		fmt.Fprintf(buf, `, "err": %q`, l.Err.Error())
	}
	if len(l.Data) > 0 {
		b, err := json.Marshal(l.Data)
		if err != nil {
			fmt.Fprintf(buf, `, "data_marshal_err": %q`, err.Error())
		} else {
			fmt.Fprintf(buf, `, "data": %s`, b)
		}
	}
	buf.WriteByte('}')
	return buf.String()
}
