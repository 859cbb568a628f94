package document

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const declaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;",
	)
)

// Serialize writes doc as XML. Element and attribute names are written with
// the prefixes they were parsed with.
func Serialize(w io.Writer, doc *Document, opts SerializeOptions) error {
	bw := bufio.NewWriter(w)
	if opts.Declaration {
		bw.WriteString(declaration)
	}
	if doc != nil && doc.Root != nil {
		writeNode(bw, doc.Root)
	}
	return bw.Flush()
}

// Bytes serializes doc without a declaration.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	_ = Serialize(&buf, d, SerializeOptions{})
	return buf.Bytes()
}

// String serializes doc without a declaration.
func (d *Document) String() string {
	return string(d.Bytes())
}

func writeNode(w *bufio.Writer, n *Node) {
	name := n.Name.String()

	w.WriteByte('<')
	w.WriteString(name)
	for _, a := range n.Attrs {
		w.WriteByte(' ')
		w.WriteString(a.Name)
		w.WriteString(`="`)
		attrEscaper.WriteString(w, a.Value)
		w.WriteByte('"')
	}

	if n.Text == "" && len(n.Children) == 0 {
		w.WriteString("/>")
	} else {
		w.WriteByte('>')
		textEscaper.WriteString(w, n.Text)
		for _, c := range n.Children {
			writeNode(w, c)
		}
		w.WriteString("</")
		w.WriteString(name)
		w.WriteByte('>')
	}

	textEscaper.WriteString(w, n.Tail)
}
