package msgcleaver

import (
	"bytes"
	"context"
	"io/ioutil"
	"strings"
	"testing"

	"crawshaw.io/iox"
	"mailcore.dev/email"
	"mailcore.dev/mime/msgbuilder"
)

// leaves returns every non-multipart Body in msg, in depth-first
// order — Cleave preserves the wire's nesting rather than flattening
// it, so tests that want a flat view of the leaves walk the tree once
// here instead of indexing a Parts slice.
func leaves(msg *email.Msg) []*email.Body {
	var out []*email.Body
	var walk func(id email.BodyID)
	walk = func(id email.BodyID) {
		b := msg.Arena.Get(id)
		if b == nil {
			return
		}
		if b.ContentType.IsMultipart() {
			for _, kid := range b.Parts {
				walk(kid)
			}
			return
		}
		out = append(out, b)
	}
	walk(msg.Root)
	return out
}

func readAll(t *testing.T, b *email.Body) string {
	t.Helper()
	r, err := b.Content.Open()
	if err != nil {
		t.Fatal(err)
	}
	data, err := ioutil.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestCleaveQuotedPrintable(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	r := strings.NewReader(strings.Replace(textQuotedPrintable, "\n", "\r\n", -1))
	msg, err := Cleave(filer, r)
	if err != nil {
		t.Fatal(err)
	}
	defer msg.Close()

	parts := leaves(msg)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d parts", len(parts))
	}
	part := parts[0]
	if part.ContentType.Major != "text" || part.ContentType.Minor != "plain" {
		t.Errorf("ContentType=%v, want text/plain", part.ContentType)
	}

	want := strings.Replace(`Hello,

You have received this message because you are a contact of the domain pkgfort.com with the username "foo".
`, "\n", "\r\n", -1)
	if got := readAll(t, part); got != want {
		t.Errorf("unexpected quoted-printable content: %q", got)
	}
}

const textQuotedPrintable = `To: david@zentus.com
Subject: [Gandi] pkgfort.com expired yesterday
From: "Gandi" <support-renew@gandi.net>
Date: Fri, 13 Jul 2018 16:39:01 -0000
MIME-Version: 1.0
Content-Type: text/plain; charset="utf-8"
Content-Transfer-Encoding: quoted-printable
Message-Id: <20180713163903.9B84B41ED4@mailer.gandi.net>

Hello,

You have received this message because you are a contact of the domain pkgf=
ort.com with the username "foo".
`

func TestUpperQuotedPrintable(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	r := strings.NewReader(strings.Replace(textUpperQuotedPrintable, "\n", "\r\n", -1))
	msg, err := Cleave(filer, r)
	if err != nil {
		t.Fatal(err)
	}
	defer msg.Close()

	parts := leaves(msg)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d parts", len(parts))
	}
	part := parts[0]
	if part.ContentType.Major != "text" || part.ContentType.Minor != "plain" {
		t.Errorf("ContentType=%v, want text/plain", part.ContentType)
	}

	want := strings.Replace(`Hello,

You have received this message because you are a contact of the domain pkgfort.com with the username "foo".
`, "\n", "\r\n", -1)
	if got := readAll(t, part); got != want {
		t.Errorf("unexpected quoted-printable content: %q", got)
	}
}

// mime/quotedprintable's reader is case-insensitive about the
// "quoted-printable" token but Content-Transfer-Encoding matching
// here is done on a lower-cased copy (see cleaveNode), so an
// upper-case wire value still decodes correctly.
const textUpperQuotedPrintable = `MIME-Version: 1.0
Content-Type: text/plain; charset="utf-8"
Content-Transfer-Encoding: QUOTED-PRINTABLE

Hello,

You have received this message because you are a contact of the domain pkgf=
ort.com with the username "foo".
`

func TestCleaveMultipartAlt(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	r := strings.NewReader(strings.Replace(textMultipartAlt, "\n", "\r\n", -1))
	msg, err := Cleave(filer, r)
	if err != nil {
		t.Fatal(err)
	}
	defer msg.Close()

	parts := leaves(msg)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d parts", len(parts))
	}

	plainText := parts[0]
	if plainText.ContentType.Major != "text" || plainText.ContentType.Minor != "plain" {
		t.Errorf("parts[0].ContentType=%v, want text/plain", plainText.ContentType)
	}

	htmlText := parts[1]
	if htmlText.ContentType.Major != "text" || htmlText.ContentType.Minor != "html" {
		t.Errorf("parts[1].ContentType=%v, want text/html", htmlText.ContentType)
	}
	if got, want := readAll(t, htmlText), "<b>Rich</b> text. Hello, 世界"; got != want {
		t.Errorf("parts[1].Content=%q, want %q", got, want)
	}

	richText := parts[2]
	if richText.ContentType.Major != "text" || richText.ContentType.Minor != "rich" {
		t.Errorf("parts[2].ContentType=%v, want text/rich", richText.ContentType)
	}
}

// This is busted, incorrect MIME input.
// Cleave tolerates it and hands back sensible leaf bodies regardless.
var textMultipartAlt = `MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b2"

--b2
Content-Type: text/plain; charset="utf-8"

Plain text.
--b2
Content-Type: text/html; charset="utf-8"

<b>Rich</b> text. Hello, 世界
--b2
Content-Type: text/rich; charset="utf-8"

*Rich* text. Will get compressed because there's a lot of it.
` + strings.Repeat("repeat\n", 1<<10) + `
--b2--
`

func TestCleaveRelatedAndAttached(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	r := strings.NewReader(strings.Replace(relatedAndAttached, "\n", "\r\n", -1))
	msg, err := Cleave(filer, r)
	if err != nil {
		t.Fatal(err)
	}
	defer msg.Close()

	parts := leaves(msg)
	if len(parts) != 6 {
		t.Fatalf("expected 6 parts, got %d parts", len(parts))
	}
	if msg.Seed == 0 {
		t.Error("Seed=0, want non-zero")
	}

	var buf1, buf2 bytes.Buffer
	builder := msgbuilder.Builder{Filer: filer}
	if err := builder.Build(&buf1, msg); err != nil {
		t.Errorf("cleaved message could not be rebuilt: %v", err)
	}
	if err := builder.Build(&buf2, msg); err != nil {
		t.Errorf("cleaved message could not be rebuilt: %v", err)
	}
	if buf1.String() != buf2.String() {
		t.Error("subsequent rebuilds result in different messages")
		t.Logf("rebuild1:\n%s", buf1.String())
		t.Logf("rebuild2:\n%s", buf2.String())
	}
}

const relatedAndAttached = `MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=.6Cq99EotC3X7GA2v.

--.6Cq99EotC3X7GA2v.
Content-Type: multipart/alternative; boundary=".AZT9wvov/MBB0/8S."

--.AZT9wvov/MBB0/8S.
Content-Disposition: inline
Content-Type: text/plain; charset="UTF-8"

Hello, World!
--.AZT9wvov/MBB0/8S.
Content-Type: multipart/related; boundary=".BFtzyG5P+V/2YqXu."

--.BFtzyG5P+V/2YqXu.
Content-Disposition: inline
Content-Type: text/html; charset="UTF-8"

<img src="cid:v1@mycid /> <img src="cid:v2@midcid" />
--.BFtzyG5P+V/2YqXu.
Content-Disposition: inline; filename="v1@mycid"
Content-Id: <v1@mycid>
Content-Type: image/svg+xml

<svg height="10" width="10"></svg>
--.BFtzyG5P+V/2YqXu.
Content-Disposition: inline; filename="v2@mycid"
Content-Id: <v2@mycid>
Content-Type: image/svg+xml

<svg height="20" width="20"></svg>
--.BFtzyG5P+V/2YqXu.--

--.AZT9wvov/MBB0/8S.
Content-Disposition: inline
Content-Type: text/watch-html

<b>Secret</b> apple watch message!
--.AZT9wvov/MBB0/8S.--

--.6Cq99EotC3X7GA2v.
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64
Content-Type: application/pdf; name="invoice.pdf"

UERGAA==
--.6Cq99EotC3X7GA2v.--
`

func TestLongHeaders(t *testing.T) {
	filer := iox.NewFiler(0)
	defer filer.Shutdown(context.Background())

	r := strings.NewReader(strings.Replace(longHeaders, "\n", "\r\n", -1))
	msg, err := Cleave(filer, r)
	if err != nil {
		t.Fatal(err)
	}
	defer msg.Close()

	if len(msg.Envelope.From) != 1 {
		t.Fatalf("expected 1 From address, got %d", len(msg.Envelope.From))
	}
	if want, got := longFromAddr, msg.Envelope.From[0].Addr; want != got {
		t.Errorf("first parse From=%s, want %s", got, want)
	}

	var buf bytes.Buffer
	builder := msgbuilder.Builder{Filer: filer}
	if err := builder.Build(&buf, msg); err != nil {
		t.Fatal(err)
	}

	msg2, err := Cleave(filer, &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer msg2.Close()

	if len(msg2.Envelope.From) != 1 {
		t.Fatalf("expected 1 From address after round-trip, got %d", len(msg2.Envelope.From))
	}
	if want, got := longFromAddr, msg2.Envelope.From[0].Addr; want != got {
		t.Errorf("second parse From=%s, want %s", got, want)
	}
}

const longFromAddr = `reply+ZXlKMGVYQWlPaUpLVjFRaUxDSmhiR2NpT2lKU1V6VXhNaUo5LmV5SmtZWFJoSWpwN0ltbGtJam8xTmpjeU15d2lkSGx3WlNJNkltWmxaV1JpWVdOcklpd2lkWE5sY2w5cFpDSTZPREkwTjMwc0ltVjRjQ0k2TVRnMk16VTNORFUxT1gwLmFfYVN0aC1aQW9Ud0x0M0w3OXphN3JQeXQ1M05wSXhwUnJCMWRWV1VCS0gzSGNMVkFtQXJsbUVUbjBSOGp3UGN4clF6UmNXbGFTWkxOaHdvRXpSbTZ1dWhUZW9XX0xPR3hjSGl0Xzc1NDQ3WWZFamt5c25FM3NBalBSMEVWbG9qNWFxQTJSR1BmbVFlY1EyRFBPUktncEFtYU13TjFsczRZOWpNekZKTWllSmVxVW5lbGE1d1FERnhVLVh4NG5aanJxSWZwM1VsUUJHWkFFcDY3bHJnRUtvTlM4ZmRmVk1yanlURFp0UHlXS1gwOHZIemV4NDFPaWZTbUZ1d3Q4Ukhsd016ZWpxOXJaRG5FSmtaSU1Cdi1KVFlYRnZsRVlGQVRIdldOU1Fqbk1aUW1MZVk2VVM2Mm1ySmlXWHhDeGJGU1dXVFZuMHNOYnRpa0xpT1QtLWdnQQ==@automatedsystem.com`

const longHeaders = `MIME-Version: 1.0
From: An Automated System <` + longFromAddr + `>
Content-Type: text/plain

Hello!
`
