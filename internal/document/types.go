package document

// Name is an element's qualified name.
type Name struct {
	Space  string `json:"space,omitempty"`  // resolved namespace URI
	Prefix string `json:"prefix,omitempty"` // prefix used in the source markup
	Local  string `json:"local"`
}

// String returns the name as written in markup (prefix:local or local).
func (n Name) String() string {
	if n.Prefix == "" {
		return n.Local
	}
	return n.Prefix + ":" + n.Local
}

// Attr is a single attribute. Name is kept as written in markup.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Node is an element of the document tree. Children are owned exclusively
// by their parent.
type Node struct {
	Name     Name    `json:"name"`
	Text     string  `json:"text,omitempty"`
	Tail     string  `json:"tail,omitempty"` // text after the closing tag, inside the parent
	Attrs    []Attr  `json:"attrs,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Document is a tree with exactly one root element.
type Document struct {
	Root *Node `json:"root"`
}

// SerializeOptions controls Serialize output.
type SerializeOptions struct {
	Declaration bool // emit <?xml version="1.0" encoding="UTF-8"?>
}
