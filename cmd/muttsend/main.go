// Command muttsend is the batch-mode entry point for the send
// pipeline (§7's SENDBATCH path): it builds one message from
// command-line recipients, a subject, attachments, and a body read
// from stdin, then drives it straight through send.Pipeline without
// the interactive compose controller (out of scope, §1 — there is no
// TUI/menu renderer in this module). Exit codes follow §6: 0 sent, 1
// failed, 2 aborted.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/iox"
	"github.com/google/uuid"

	"mailcore.dev/attach"
	"mailcore.dev/crypto/dkimsrc"
	"mailcore.dev/email"
	"mailcore.dev/email/imf"
	"mailcore.dev/mime/msgbuilder"
	db "mailcore.dev/send/sendstate"
	"mailcore.dev/senderr"
	"mailcore.dev/transport/mta"
	"mailcore.dev/transport/smtpclient"

	"mailcore.dev/send"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

// attachFlags collects repeated -a flags into an ordered list.
type attachFlags []string

func (a *attachFlags) String() string     { return strings.Join(*a, ",") }
func (a *attachFlags) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	log.SetFlags(0)
	os.Exit(run())
}

func run() int {
	var attachments attachFlags

	flagSubject := flag.String("s", "", "subject")
	flagFrom := flag.String("from", "", "envelope-from / From: address")
	flagCC := flag.String("c", "", "comma-separated Cc addresses")
	flagBCC := flag.String("b", "", "comma-separated Bcc addresses")
	flag.Var(&attachments, "a", "attach a file (repeatable)")
	flagFcc := flag.String("fcc", "", "comma-separated Fcc mailbox targets (mbox format)")
	flagFccBeforeSend := flag.Bool("fcc_before_send", false, "write Fcc before MTA submission instead of after")
	flagSendmail := flag.String("sendmail", "/usr/sbin/sendmail", "path to a sendmail-compatible binary")
	flagSMTP := flag.Bool("smtp", false, "submit by direct SMTP instead of piping to sendmail")
	flagDBDir := flag.String("dbdir", "", "sendstate database directory, for postponed drafts and Fcc archival")
	flagDKIMKey := flag.String("dkim_key", "", "path to a PEM-encoded DKIM signing key")
	flagVersion := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	if *flagVersion {
		fmt.Println(version)
		return 0
	}

	recipients := flag.Args()
	if len(recipients) == 0 {
		fmt.Fprintln(os.Stderr, "muttsend: no recipients given")
		return 2
	}

	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())
	tempdir, err := ioutil.TempDir("", "muttsend-")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tempdir)
	filer.SetTempdir(tempdir)

	msg, err := composeBatchMessage(filer, *flagSubject, *flagFrom, recipients, *flagCC, *flagBCC, attachments)
	if err != nil {
		fmt.Fprintf(os.Stderr, "muttsend: %v\n", err)
		return 2
	}
	defer msg.Close()

	sctx := send.New(msg)
	sctx.Flags |= send.FlagBatch
	if *flagFcc != "" {
		sctx.Fcc = strings.Split(*flagFcc, ",")
	}

	builder := msgbuilder.Builder{Filer: filer}
	if *flagDKIMKey != "" {
		key, err := ioutil.ReadFile(*flagDKIMKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "muttsend: dkim key: %v\n", err)
			return 2
		}
		signer, err := dkim.NewSigner(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "muttsend: dkim key: %v\n", err)
			return 2
		}
		builder.DKIM = signer
	}

	backend, err := chooseBackend(*flagSMTP, *flagSendmail)
	if err != nil {
		fmt.Fprintf(os.Stderr, "muttsend: %v\n", err)
		return 2
	}

	p := &send.Pipeline{
		Filer:         filer,
		Builder:       builder,
		MTA:           backend,
		FccBeforeSend: *flagFccBeforeSend,
	}

	if *flagDBDir != "" {
		pool, err := db.Open(filepath.Join(*flagDBDir, "sendstate.db"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "muttsend: sendstate: %v\n", err)
			return 2
		}
		defer pool.Close()
		conn := pool.Get(context.Background())
		defer pool.Put(conn)
		p.Fcc = send.FccWriter{Conn: conn}
	}

	outcome, sendErr := p.Send(context.Background(), sctx)
	if sendErr != nil {
		fmt.Fprintf(os.Stderr, "muttsend: %v\n", sendErr)
	}
	_ = outcome
	return senderr.ExitCode(sendErr)
}

// composeBatchMessage builds the envelope and a single text/plain
// root body (plus any -a attachments, wrapped in multipart/mixed) from
// the batch-mode flags, reading the message text from stdin exactly as
// `mutt -s subject -- to@example.com < body.txt` does.
func composeBatchMessage(filer *iox.Filer, subject, from string, to []string, cc, bcc string, attachments []string) (*email.Msg, error) {
	var arena email.Arena

	bodyFile := filer.BufferFile(0)
	if _, err := io.Copy(bodyFile, os.Stdin); err != nil {
		bodyFile.Close()
		return nil, fmt.Errorf("read stdin: %v", err)
	}
	if _, err := bodyFile.Seek(0, io.SeekStart); err != nil {
		bodyFile.Close()
		return nil, fmt.Errorf("seek stdin buffer: %v", err)
	}

	bodyID := arena.New()
	b := arena.Get(bodyID)
	b.ContentType = email.ContentType{Major: "text", Minor: "plain", Params: []email.Parameter{{Attribute: "charset", Value: "utf-8"}}}
	b.Content = email.Backing{Buf: bodyFile, Unlink: true}

	root := bodyID
	ctx := attach.New(&arena)
	if len(attachments) > 0 {
		for _, path := range attachments {
			id, err := attachFile(&arena, filer, ctx, path)
			if err != nil {
				ctx.Close()
				return nil, err
			}
			ctx.Attach(id)
		}
		mixed := email.MakeMultipartMixed(&arena, bodyID)
		mixedBody := arena.Get(mixed)
		mixedBody.Parts = append(mixedBody.Parts, ctx.IDs()...)
		root = mixed
	}

	env := email.Envelope{Subject: subject}
	if from != "" {
		addr, err := imf.ParseAddress(from)
		if err != nil {
			return nil, fmt.Errorf("parse from address: %v", err)
		}
		env.From = []email.Address{addr}
	}

	toAddrs, err := imf.ParseAddressList(strings.Join(to, ", "))
	if err != nil {
		return nil, fmt.Errorf("parse to addresses: %v", err)
	}
	env.To = toAddrs

	if cc != "" {
		ccAddrs, err := imf.ParseAddressList(cc)
		if err != nil {
			return nil, fmt.Errorf("parse cc addresses: %v", err)
		}
		env.CC = ccAddrs
	}
	if bcc != "" {
		bccAddrs, err := imf.ParseAddressList(bcc)
		if err != nil {
			return nil, fmt.Errorf("parse bcc addresses: %v", err)
		}
		env.BCC = bccAddrs
	}

	env.MessageID = newMessageID()

	return &email.Msg{
		Envelope: env,
		Arena:    arena,
		Root:     root,
		Seed:     time.Now().UnixNano(),
	}, nil
}

// newMessageID mints a fresh RFC 5322 Message-ID when the batch-mode
// compose path has no inherited one to carry forward (no parent
// message, no postponed draft), the way maddy's submission pipeline
// fills in a missing Message-ID before acceptance.
func newMessageID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return "<" + uuid.NewString() + "@" + hostname + ">"
}

// attachFile opens path and allocates an unowned leaf body over it: the
// user named it explicitly on the command line, so abort must not
// unlink their file (email.Body.Unowned, §3's attachment-ownership
// invariant).
func attachFile(arena *email.Arena, filer *iox.Filer, ctx *attach.Context, path string) (email.BodyID, error) {
	f, err := os.Open(path)
	if err != nil {
		return email.NoBody, fmt.Errorf("attach %s: %v", path, err)
	}
	ctx.TrackStream(f)

	ctype := mime.TypeByExtension(filepath.Ext(path))
	major, minor := "application", "octet-stream"
	if ctype != "" {
		if parsed, _, err := mime.ParseMediaType(ctype); err == nil {
			if parts := strings.SplitN(parsed, "/", 2); len(parts) == 2 {
				major, minor = parts[0], parts[1]
			}
		}
	}

	id := arena.New()
	b := arena.Get(id)
	b.ContentType = email.ContentType{Major: major, Minor: minor}
	b.Disposition = email.Disposition{Attachment: true, Filename: filepath.Base(path)}
	b.Encoding = email.EncBase64
	b.Unowned = true
	b.Content = email.Backing{Buf: fileBuffer{f}, Unlink: false}
	return id, nil
}

// chooseBackend picks the MTA submission backend (§6): direct SMTP
// when -smtp is given, otherwise the default sendmail pipe.
func chooseBackend(useSMTP bool, sendmailPath string) (mta.Backend, error) {
	if useSMTP {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		return mta.SMTPBackend{Client: smtpclient.NewClient(hostname, 4)}, nil
	}
	if _, err := os.Stat(sendmailPath); err != nil {
		return nil, fmt.Errorf("sendmail binary %s: %v", sendmailPath, err)
	}
	return mta.SendmailBackend{Path: sendmailPath, Args: []string{"-oi"}}, nil
}

// fileBuffer adapts an *os.File to email.Buffer (io.Reader, io.Writer,
// io.Seeker, io.Closer, Size); Write is never called on an attached
// file opened read-only, but the interface requires it.
type fileBuffer struct{ f *os.File }

func (b fileBuffer) Read(p []byte) (int, error)  { return b.f.Read(p) }
func (b fileBuffer) Write(p []byte) (int, error) { return b.f.Write(p) }
func (b fileBuffer) Close() error                { return b.f.Close() }
func (b fileBuffer) Seek(offset int64, whence int) (int64, error) {
	return b.f.Seek(offset, whence)
}
func (b fileBuffer) Size() int64 {
	fi, err := b.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}
