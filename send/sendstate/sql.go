package db

const createSQL = `
PRAGMA auto_vacuum = INCREMENTAL;

-- Postponed holds drafts saved out of the compose controller (§4.7
-- postpone/resume). Content is the fully-built MIME message as it
-- would be sent, with signing suppressed and encryption applied per
-- the postpone provisions; resume strips the wrapper and recovers the
-- security bitmask from the user-headers baked into Content.
CREATE TABLE IF NOT EXISTS Postponed (
	StagingID  INTEGER PRIMARY KEY,
	MessageID  TEXT NOT NULL,
	Subject    TEXT NOT NULL,
	DateSaved  INTEGER NOT NULL, -- time.Time.Unix()
	Security   INTEGER NOT NULL, -- email.Security bitmask, pre-suppression
	FccMailbox TEXT,
	Content    BLOB NOT NULL
);

-- BackgroundEdits tracks a detached editor or crypto-tool child
-- process forked by background_edit (§4.9). The index polls this
-- table with a non-blocking reap rather than a blocking waitpid, since
-- the reaping process is not necessarily the one that forked the
-- child across a restart.
CREATE TABLE IF NOT EXISTS BackgroundEdits (
	PID       INTEGER PRIMARY KEY,
	StagingID INTEGER NOT NULL,
	TempFile  TEXT NOT NULL,
	Kind      TEXT NOT NULL, -- "editor", "pgp", "smime"
	Started   INTEGER NOT NULL,

	FOREIGN KEY(StagingID) REFERENCES Postponed(StagingID)
);

-- FccArchive holds a copy of every message the send pipeline wrote to
-- a self-Fcc target (§4.5.3), independent of whatever mailbox backend
-- $fcc names: a durable record survives even if the named mailbox is
-- unreachable at send time.
CREATE TABLE IF NOT EXISTS FccArchive (
	ArchiveID INTEGER PRIMARY KEY,
	Mailbox   TEXT NOT NULL,
	DateSaved INTEGER NOT NULL,
	Content   BLOB NOT NULL
);
`
