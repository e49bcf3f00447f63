package extract

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// ParseError reports source that tree-sitter could not parse cleanly.
// Line and Column are 1-based.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
}

// firstError returns the first ERROR or missing node in document order.
func firstError(root *sitter.Node) *ParseError {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.IsMissing() || n.IsError() {
			msg := "syntax error"
			if n.IsMissing() {
				msg = fmt.Sprintf("missing %q", n.Type())
			}
			pt := n.StartPoint()
			return &ParseError{Line: int(pt.Row) + 1, Column: int(pt.Column) + 1, Message: msg}
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	pt := root.StartPoint()
	return &ParseError{Line: int(pt.Row) + 1, Column: int(pt.Column) + 1, Message: "syntax error"}
}
