package document

import (
	"errors"
	"fmt"

	"github.com/raaihank/moltkeeper/internal/apperr"
)

// Input is the set of shapes a caller may hand to the sanitizer: a parsed
// document, a bare root element, raw markup or a file path. Normalize turns
// any of them into a validated Document.
type Input interface {
	normalize() (*Document, error)
}

type documentInput struct{ doc *Document }
type rootInput struct{ root *Node }
type bytesInput struct{ data []byte }
type fileInput struct{ path string }

// FromDocument wraps an already parsed document.
func FromDocument(doc *Document) Input { return documentInput{doc: doc} }

// FromRoot wraps a bare root element.
func FromRoot(root *Node) Input { return rootInput{root: root} }

// FromBytes wraps raw markup.
func FromBytes(data []byte) Input { return bytesInput{data: data} }

// FromString wraps raw markup.
func FromString(s string) Input { return bytesInput{data: []byte(s)} }

// FromFile wraps a path to an XML file.
func FromFile(path string) Input { return fileInput{path: path} }

// Normalize resolves in to a Document and checks the tree invariants:
// a single root, named elements, and strict child ownership.
func Normalize(in Input) (*Document, error) {
	if in == nil {
		return nil, apperr.Parse("input", errors.New("no input"))
	}
	return in.normalize()
}

func (in documentInput) normalize() (*Document, error) {
	if in.doc == nil {
		return nil, apperr.Parse("document", errors.New("nil document"))
	}
	if err := validate(in.doc.Root); err != nil {
		return nil, err
	}
	return in.doc, nil
}

func (in rootInput) normalize() (*Document, error) {
	if err := validate(in.root); err != nil {
		return nil, err
	}
	return &Document{Root: in.root}, nil
}

func (in bytesInput) normalize() (*Document, error) {
	return ParseBytes(in.data)
}

func (in fileInput) normalize() (*Document, error) {
	return ParseFile(in.path)
}

// validate rejects nil roots, unnamed elements and nodes reachable from
// more than one parent (which also rules out cycles).
func validate(root *Node) error {
	if root == nil {
		return apperr.Parse("document", errors.New("no root element"))
	}
	seen := make(map[*Node]struct{})
	var visit func(n *Node) error
	visit = func(n *Node) error {
		if n == nil {
			return apperr.Parse("document", errors.New("nil child element"))
		}
		if _, dup := seen[n]; dup {
			return apperr.Parse("document", fmt.Errorf("element <%s> has more than one parent", n.Name))
		}
		seen[n] = struct{}{}
		if n.Name.Local == "" {
			return apperr.Parse("document", errors.New("element without a name"))
		}
		for _, c := range n.Children {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root)
}
