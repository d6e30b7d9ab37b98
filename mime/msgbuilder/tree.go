package msgbuilder

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"unicode/utf8"

	"crawshaw.io/iox"
	"mailcore.dev/email"
)

// TreeNode is the write-time MIME tree: one node per email.Body, with
// the headers that body will be written with already resolved (boundary
// picked, transfer-encoding decided). Body is nil for containers whose
// only content is their Kids (i.e. every multipart node).
type TreeNode struct {
	Header PartHeader
	Body   *email.Body
	Kids   []TreeNode
}

type PartHeader struct {
	ContentType             string // includes params like "; charset=..."
	ContentID               string // includes <...> quoting
	ContentDisposition      string // includes params like "; filename=...""
	ContentTransferEncoding string
}

func (hdr PartHeader) ForEach(fn func(key email.Key, val string)) {
	fn("Content-Disposition", hdr.ContentDisposition)
	fn("Content-ID", hdr.ContentID)
	if hdr.ContentTransferEncoding == "7bit" {
		fn("Content-Transfer-Encoding", "")
	} else {
		fn("Content-Transfer-Encoding", hdr.ContentTransferEncoding)
	}
	fn("Content-Type", hdr.ContentType)
}

// BuildTree walks msg's Arena from its Root and produces the write-time
// tree. Unlike the flat Parts-list classification this replaces, the
// multipart/mixed, multipart/alternative and multipart/related nesting
// is already decided by whoever built the Arena (the compose
// controller); BuildTree's job is only to pick boundaries and resolve
// each leaf's transfer encoding.
func BuildTree(msg *email.Msg) (*TreeNode, error) {
	rnd := rand.New(rand.NewSource(msg.Seed))
	return buildNode(rnd, &msg.Arena, msg.Root)
}

// RenderNode serializes the subtree rooted at id to standalone MIME
// entity bytes (its own Content-Type/Content-Transfer-Encoding header
// block, then its body), independent of any enclosing envelope. This
// is the render seam crypto/gateway.Protect and crypto/gateway.VerifySigned
// use to get the exact bytes a PGP/MIME or S/MIME operation covers,
// without msgbuilder importing crypto/gateway or vice versa.
func RenderNode(filer *iox.Filer, seed int64, arena *email.Arena, id email.BodyID) ([]byte, error) {
	node, err := buildNode(rand.New(rand.NewSource(seed)), arena, id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	node.Header.ForEach(func(key email.Key, val string) {
		if val != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", key, val)
		}
	})
	buf.WriteString("\r\n")

	b := &Builder{Filer: filer}
	if err := b.WriteNode(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildNode(rnd *rand.Rand, arena *email.Arena, id email.BodyID) (*TreeNode, error) {
	b := arena.Get(id)
	if b == nil {
		return nil, fmt.Errorf("msgbuilder.BuildTree: invalid body %d", id)
	}

	if !b.ContentType.IsMultipart() {
		hdr, err := buildPartHeader(b)
		if err != nil {
			return nil, err
		}
		return &TreeNode{Header: hdr, Body: b}, nil
	}

	boundary := randBoundary(rnd)
	ct := b.ContentType
	ct.Set("boundary", quoteSpecial(boundary))
	node := &TreeNode{Header: PartHeader{ContentType: ct.String()}}
	for _, kid := range b.Parts {
		kidNode, err := buildNode(rnd, arena, kid)
		if err != nil {
			return nil, err
		}
		node.Kids = append(node.Kids, *kidNode)
	}
	return node, nil
}

func quoteSpecial(v string) string {
	// RFC 2045 mentions that special characters must be
	// quoted in parameter values.
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '(', ')', '<', '>', '@',
			',', ';', ':', '\\', '"',
			'/', '[', ']', '?', '=':
			return strconv.Quote(v)
		}
	}
	return v
}

func buildPartHeader(b *email.Body) (PartHeader, error) {
	var hdr PartHeader

	ct := b.ContentType
	if ct.Major == "text" && (ct.Minor == "plain" || ct.Minor == "html") {
		if _, ok := ct.Get("charset"); !ok {
			ct.Set("charset", "UTF-8")
		}
	}
	hdr.ContentType = ct.String()

	if b.ContentID != "" {
		if strings.Contains(b.ContentID, `"`) {
			return PartHeader{}, fmt.Errorf("msgbuilder: Content-ID %q includes quotes", b.ContentID)
		}
		hdr.ContentID = "<" + b.ContentID + ">"
	}

	switch {
	case b.Disposition.Filename != "":
		if strings.Contains(b.Disposition.Filename, `"`) {
			return PartHeader{}, fmt.Errorf("msgbuilder: attachment name %q includes quotes", b.Disposition.Filename)
		}
		kind := "inline"
		if b.Disposition.Attachment {
			kind = "attachment"
		}
		hdr.ContentDisposition = kind + `; filename="` + b.Disposition.Filename + `"`
	case b.Disposition.Attachment:
		hdr.ContentDisposition = "attachment"
	default:
		hdr.ContentDisposition = "inline"
	}

	if b.Encoding != "" {
		hdr.ContentTransferEncoding = string(b.Encoding)
		return hdr, nil
	}

	enc, err := detectTransferEncoding(b)
	if err != nil {
		return PartHeader{}, err
	}
	hdr.ContentTransferEncoding = string(enc)
	return hdr, nil
}

// detectTransferEncoding scans a leaf body's content once to choose
// between 7bit, quoted-printable and base64, the same heuristic mutt's
// C implementation uses: text stays human-readable whenever its lines
// are short enough and it carries no NULs or 8-bit bytes.
func detectTransferEncoding(b *email.Body) (email.TransferEncoding, error) {
	r, err := b.Content.Open()
	if err != nil {
		return email.Enc7Bit, nil
	}

	isASCII := true
	is7Bit := true
	br := bufio.NewReader(r)
bufloop:
	for {
		line, isPrefix, err := br.ReadLine()
		if err != nil {
			break
		}
		if isPrefix || len(line) > 120 {
			is7Bit = false
		}
		for _, c := range line {
			if c == 0 || c >= utf8.RuneSelf {
				isASCII = false
				is7Bit = false
				break bufloop
			}
		}
	}

	if isASCII || b.ContentType.Major == "text" {
		if is7Bit {
			return email.Enc7Bit, nil
		}
		return email.EncQuotedPrintable, nil
	}
	return email.EncBase64, nil
}

func (node TreeNode) String() string {
	buf := new(bytes.Buffer)
	node.debugPrint(buf, 0)
	return buf.String()
}

func debugIndent(buf *bytes.Buffer, indent int) {
	for i := 0; i < indent; i++ {
		buf.WriteByte('\t')
	}
}

func (node *TreeNode) debugPrint(buf *bytes.Buffer, indent int) {
	buf.WriteString("TreeNode{\n")
	debugIndent(buf, indent+1)
	buf.WriteString("Header: {")
	wroteHeader := false
	node.Header.ForEach(func(key email.Key, val string) {
		if val == "" {
			return
		}
		wroteHeader = true
		buf.WriteByte('\n')
		debugIndent(buf, indent+2)
		fmt.Fprintf(buf, "%s: %q", key, val)
	})
	if wroteHeader {
		buf.WriteByte('\n')
		debugIndent(buf, indent+1)
	}
	buf.WriteString("}\n")

	if node.Body != nil {
		debugIndent(buf, indent+1)
		fmt.Fprintf(buf, "Body: %v\n", node.Body.ContentType)
	}

	if len(node.Kids) > 0 {
		debugIndent(buf, indent+1)
		buf.WriteString("Kids: {\n")
		for i := range node.Kids {
			kid := &node.Kids[i]
			debugIndent(buf, indent+2)
			fmt.Fprintf(buf, "%d: ", i)
			kid.debugPrint(buf, indent+2)
		}
		debugIndent(buf, indent+1)
		buf.WriteString("}\n")
	}

	debugIndent(buf, indent)
	buf.WriteString("}\n")
}
