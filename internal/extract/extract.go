// Package extract parses Python source with tree-sitter and produces the
// canonical model of one file: its components (functions, classes and
// methods) with source segments, per-component scopes and symbols, raw call
// references, rebuild hints and comment directives.
package extract

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/jward/canon/internal/store"
)

// Result is everything extracted from one source file.
type Result struct {
	Path        string
	ContentHash string
	// ASTHash is the structural hash of the whole file.
	ASTHash string
	Size    int64

	// Components in preorder (order_index order).
	Components []*Component
	Imports    []Import
	// WildcardImport is set when the file contains "from m import *"; the
	// names reachable from components are then unknown.
	WildcardImport bool
	// Tail is the text following the last top-level component.
	Tail string
}

// Component is one extracted function, class or method.
type Component struct {
	QualifiedName string
	Name          string
	Kind          string
	Parent        string
	OrderIndex    int
	Depth         int
	StartLine     int
	EndLine       int

	Segment        string
	SourceHash     string
	StructuralHash string
	CommittedHash  string

	// Imports is the sorted set of module paths whose bound names are
	// referenced inside the component. Nil means unknown.
	Imports []string

	Hints      store.RebuildHints
	Directives []Directive
	Scopes     []Scope
	Symbols    []Symbol
	Calls      []Call
}

// Scope is a lexical scope owned by a component. Scopes[0] is always the
// component's own scope; Parent indexes into the same slice (-1 for none).
type Scope struct {
	Kind      string
	Parent    int
	StartLine int
	EndLine   int
}

// Symbol is a name bound or referenced by a component. Scope indexes the
// owning component's Scopes.
type Symbol struct {
	Name       string
	ScopeLevel string
	Access     string
	TypeHint   string
	DeclLine   int
	IsParam    bool
	Scope      int
}

// Call is an unresolved call expression.
type Call struct {
	Text        string
	Line        int
	IsDecorator bool
}

// Directive is a recognized comment directive.
type Directive struct {
	Name       string
	Confidence float64
	Payload    string
	Line       int
}

// Import is one name bound by an import statement. Target is the dotted
// name the bound name stands for ("os.path" for "import os.path as p",
// "m.x" for "from m import x").
type Import struct {
	Bound  string
	Module string
	Target string
	Line   int
}

// ImportTargets returns the bound name to target mapping used by call
// resolution.
func (r *Result) ImportTargets() map[string]string {
	m := make(map[string]string, len(r.Imports))
	for _, imp := range r.Imports {
		m[imp.Bound] = imp.Target
	}
	return m
}

// TopLevel returns the depth-0 components in order.
func (r *Result) TopLevel() []*Component {
	var out []*Component
	for _, c := range r.Components {
		if c.Depth == 0 {
			out = append(out, c)
		}
	}
	return out
}

// Parse parses src as Python and returns the tree. A tree containing
// syntax errors yields a *ParseError.
func Parse(ctx context.Context, path string, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("extract: parse %s: %w", path, err)
	}
	root := tree.RootNode()
	if root.HasError() {
		perr := firstError(root)
		perr.Path = path
		tree.Close()
		return nil, perr
	}
	return tree, nil
}

// StructuralHash parses src and returns its structural hash.
func StructuralHash(ctx context.Context, path string, src []byte) (string, error) {
	tree, err := Parse(ctx, path, src)
	if err != nil {
		return "", err
	}
	defer tree.Close()
	return hashNode(tree.RootNode(), src), nil
}

// Extract parses src and extracts its canonical model. It fails with a
// *ParseError when the source does not parse; no partial result is
// returned.
func Extract(ctx context.Context, path string, src []byte) (*Result, error) {
	tree, err := Parse(ctx, path, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	x := newExtractor(src)
	x.collectComments(root)
	x.collectModule(root)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.walk(root, nil)

	res := &Result{
		Path:           path,
		ContentHash:    store.HashBytes(src),
		ASTHash:        hashNode(root, src),
		Size:           int64(len(src)),
		Components:     x.comps,
		Imports:        x.imports,
		WildcardImport: x.wildcard,
	}
	x.layout(res)
	x.assignImports(res)
	return res, nil
}

// assignImports resolves each component's reachable imports from the
// identifiers referenced in its subtree.
func (x *extractor) assignImports(res *Result) {
	modules := make(map[string][]string)
	for _, imp := range res.Imports {
		modules[imp.Bound] = append(modules[imp.Bound], imp.Module)
	}
	for i, c := range res.Components {
		if res.WildcardImport {
			c.Imports = nil
			continue
		}
		seen := make(map[string]bool)
		imports := []string{}
		for name := range x.refs[i] {
			for _, m := range modules[name] {
				if !seen[m] {
					seen[m] = true
					imports = append(imports, m)
				}
			}
		}
		sort.Strings(imports)
		c.Imports = imports
	}
}
