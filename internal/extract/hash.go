package extract

import (
	"crypto/sha256"
	"fmt"
	"io"

	sitter "github.com/smacker/go-tree-sitter"
)

// hashNode is the structural hash of a subtree: a preorder serialization of
// node types and leaf token text. Comments are skipped and positions never
// enter the hash, so whitespace and comment edits do not change it.
func hashNode(n *sitter.Node, src []byte) string {
	h := sha256.New()
	writeNode(h, n, src)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func writeNode(w io.Writer, n *sitter.Node, src []byte) {
	if n.Type() == "comment" {
		return
	}
	count := int(n.ChildCount())
	if count == 0 {
		fmt.Fprintf(w, "(%s:%q)", n.Type(), n.Content(src))
		return
	}
	fmt.Fprintf(w, "(%s", n.Type())
	for i := 0; i < count; i++ {
		writeNode(w, n.Child(i), src)
	}
	io.WriteString(w, ")")
}
