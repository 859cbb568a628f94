// Package document holds the attributed-tree model the sanitizer works on,
// plus the XML parser and serializer at its boundary.
//
// Comments, processing instructions and DOCTYPE directives are not part of
// the model and are dropped on parse.
package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raaihank/moltkeeper/internal/apperr"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

type frame struct {
	node  *Node
	scope map[string]string // prefix -> namespace URI
}

// Parse reads a single XML document from r.
func Parse(r io.Reader) (*Document, error) {
	return parse(r, "document")
}

// ParseBytes parses raw markup.
func ParseBytes(data []byte) (*Document, error) {
	return parse(bytes.NewReader(data), "document")
}

// ParseString parses raw markup.
func ParseString(s string) (*Document, error) {
	return parse(strings.NewReader(s), "document")
}

// ParseFile parses the XML file at path. A missing file is reported as
// apperr.NotFoundError.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("input", path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f, path)
}

func parse(r io.Reader, source string) (*Document, error) {
	dec := xml.NewDecoder(r)

	var (
		root  *Node
		stack []frame
	)
	rootScope := map[string]string{"xml": xmlNamespace}

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Parse(source, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && root != nil {
				return nil, apperr.Parse(source, fmt.Errorf("line %d: multiple root elements", line(dec)))
			}

			parentScope := rootScope
			if len(stack) > 0 {
				parentScope = stack[len(stack)-1].scope
			}
			scope := declareNamespaces(parentScope, t.Attr)

			space, ok := scope[t.Name.Space]
			if t.Name.Space != "" && !ok {
				return nil, apperr.Parse(source, fmt.Errorf("line %d: undeclared namespace prefix %q", line(dec), t.Name.Space))
			}

			node := &Node{Name: Name{Space: space, Prefix: t.Name.Space, Local: t.Name.Local}}
			for _, a := range t.Attr {
				node.Attrs = append(node.Attrs, Attr{Name: qualified(a.Name), Value: a.Value})
			}

			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1].node
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, frame{node: node, scope: scope})

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, apperr.Parse(source, fmt.Errorf("line %d: unexpected end element </%s>", line(dec), qualified(t.Name)))
			}
			top := stack[len(stack)-1].node
			if top.Name.Prefix != t.Name.Space || top.Name.Local != t.Name.Local {
				return nil, apperr.Parse(source, fmt.Errorf("line %d: element <%s> closed by </%s>", line(dec), top.Name, qualified(t.Name)))
			}
			stack = stack[:len(stack)-1]

		case xml.CharData:
			text := string(t)
			if len(stack) == 0 {
				if strings.TrimSpace(text) != "" {
					return nil, apperr.Parse(source, fmt.Errorf("line %d: character data outside the root element", line(dec)))
				}
				continue
			}
			top := stack[len(stack)-1].node
			if n := len(top.Children); n > 0 {
				top.Children[n-1].Tail += text
			} else {
				top.Text += text
			}
		}
	}

	if len(stack) > 0 {
		return nil, apperr.Parse(source, fmt.Errorf("unexpected end of input: <%s> is not closed", stack[len(stack)-1].node.Name))
	}
	if root == nil {
		return nil, apperr.Parse(source, errors.New("no root element"))
	}
	return &Document{Root: root}, nil
}

// declareNamespaces returns the scope for an element, copying the parent
// scope only when the element declares new prefixes.
func declareNamespaces(parent map[string]string, attrs []xml.Attr) map[string]string {
	var scope map[string]string
	for _, a := range attrs {
		var prefix string
		switch {
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			prefix = ""
		case a.Name.Space == "xmlns":
			prefix = a.Name.Local
		default:
			continue
		}
		if scope == nil {
			scope = make(map[string]string, len(parent)+1)
			for k, v := range parent {
				scope[k] = v
			}
		}
		scope[prefix] = a.Value
	}
	if scope == nil {
		return parent
	}
	return scope
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func line(dec *xml.Decoder) int {
	l, _ := dec.InputPos()
	return l
}
