// Package mailcap resolves a MIME content-type to the command line
// mutt would fork to compose, edit, view, or print it. It is a small
// token-table interpreter over an ordered rule list, in the same style
// as crypto/dkimsrc.Verifier: a handful of plain methods on a small
// struct rather than a registry framework.
package mailcap

import (
	"strings"
)

// Class names the compose-view operation a rule applies to.
type Class int

const (
	ClassCompose Class = iota
	ClassEdit
	ClassView
	ClassPrint
)

// Entry is one parsed mailcap rule: a content-type pattern
// ("text/html", "image/*") mapped to a shell command template.
// CopiousOutput marks a view command whose stdout should be paged
// rather than expected to take over the terminal (NeedsTerminal).
type Entry struct {
	Type          string
	Class         Class
	Command       string
	NeedsTerminal bool
	CopiousOutput bool
	TestCommand   string
}

func (e Entry) matches(contentType string) bool {
	pattern := strings.ToLower(e.Type)
	ct := strings.ToLower(contentType)
	if pattern == ct {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(ct, pattern[:len(pattern)-1])
	}
	return false
}

// Table is an ordered list of mailcap rules; earlier entries take
// priority, matching the real mailcap file semantics of "first match
// wins" across concatenated files.
type Table []Entry

// Lookup returns the Entry (and so the command template) of the first
// rule of the given class whose Type matches contentType, and whether
// one was found.
func (t Table) Lookup(class Class, contentType string) (Entry, bool) {
	for _, e := range t {
		if e.Class == class && e.matches(contentType) {
			return e, true
		}
	}
	return Entry{}, false
}

// Vars supplies the substitution values for Expand's template escapes.
type Vars struct {
	File        string // %s: the content's temp file
	ContentType string // %t: the content-type
}

// Expand renders cmd's %-escapes against vars, single-quoting every
// substituted value with the `'\''` idiom (§9) so a filename or
// content-type containing a shell metacharacter cannot break out of
// the command line. Recognized escapes: %s (file), %t (content-type),
// %% (literal percent).
func Expand(cmd string, vars Vars) string {
	var b strings.Builder
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		if c != '%' || i+1 >= len(cmd) {
			b.WriteByte(c)
			continue
		}
		i++
		switch cmd[i] {
		case 's':
			b.WriteString(shellQuote(vars.File))
		case 't':
			b.WriteString(shellQuote(vars.ContentType))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(cmd[i])
		}
	}
	return b.String()
}

// shellQuote wraps s in single quotes, escaping any embedded single
// quote as '\'' — close the quote, emit an escaped quote, reopen it.
func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}
