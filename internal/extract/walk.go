package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/jward/canon/internal/store"
)

type comment struct {
	text     string
	fullLine bool
}

// extractor holds the state of one Extract call.
type extractor struct {
	src []byte

	comps []*Component
	outer []*sitter.Node
	refs  []map[string]bool

	comments   map[int]comment // by 0-based row
	imports    []Import
	wildcard   bool
	moduleVars map[string]bool

	// enclosing holds the bound names of each function being walked,
	// innermost last. Class bodies are not enclosing scopes.
	enclosing []map[string]bool
}

func newExtractor(src []byte) *extractor {
	return &extractor{
		src:        src,
		comments:   make(map[int]comment),
		moduleVars: make(map[string]bool),
	}
}

func (x *extractor) text(n *sitter.Node) string {
	return n.Content(x.src)
}

func (x *extractor) collectComments(root *sitter.Node) {
	q, err := sitter.NewQuery([]byte("(comment) @comment"), python.GetLanguage())
	if err != nil {
		return
	}
	defer q.Close()
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, root)

	for {
		m, ok := cursor.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			start := int(c.Node.StartByte())
			lineStart := start - int(c.Node.StartPoint().Column)
			x.comments[int(c.Node.StartPoint().Row)] = comment{
				text:     x.text(c.Node),
				fullLine: strings.TrimSpace(string(x.src[lineStart:start])) == "",
			}
		}
	}
}

// collectModule gathers module-level imports and variables. Imports are
// collected from the whole file so function-local imports count too.
func (x *extractor) collectModule(root *sitter.Node) {
	b := newBinder(x, nil)
	b.module = true
	b.visitBody(root)
	for name, info := range b.syms {
		if info.write && info.origin == originVar {
			x.moduleVars[name] = true
		}
	}
	x.collectImports(root)
}

func (x *extractor) collectImports(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		line := int(n.StartPoint().Row) + 1
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				module := x.text(child)
				root := strings.SplitN(module, ".", 2)[0]
				x.imports = append(x.imports, Import{Bound: root, Module: module, Target: root, Line: line})
			case "aliased_import":
				name, alias := child.ChildByFieldName("name"), child.ChildByFieldName("alias")
				if name == nil || alias == nil {
					continue
				}
				module := x.text(name)
				x.imports = append(x.imports, Import{Bound: x.text(alias), Module: module, Target: module, Line: line})
			}
		}
		return
	case "import_from_statement":
		line := int(n.StartPoint().Row) + 1
		modNode := n.ChildByFieldName("module_name")
		if modNode == nil {
			return
		}
		module := x.text(modNode)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if sameNode(child, modNode) {
				continue
			}
			switch child.Type() {
			case "wildcard_import":
				x.wildcard = true
			case "dotted_name":
				name := x.text(child)
				x.imports = append(x.imports, Import{Bound: name, Module: module, Target: joinDotted(module, name), Line: line})
			case "aliased_import":
				name, alias := child.ChildByFieldName("name"), child.ChildByFieldName("alias")
				if name == nil || alias == nil {
					continue
				}
				x.imports = append(x.imports, Import{Bound: x.text(alias), Module: module, Target: joinDotted(module, x.text(name)), Line: line})
			}
		}
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		x.collectImports(n.NamedChild(i))
	}
}

func joinDotted(module, name string) string {
	if strings.HasSuffix(module, ".") {
		return module + name
	}
	return module + "." + name
}

// walk visits the tree in preorder, registering components and attaching
// each call to the innermost enclosing component.
func (x *extractor) walk(n *sitter.Node, owner *Component) {
	switch n.Type() {
	case "decorated_definition":
		def := n.ChildByFieldName("definition")
		if def == nil || (def.Type() != "function_definition" && def.Type() != "class_definition") {
			break
		}
		c := x.register(def, n, owner)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if dec := n.NamedChild(i); dec.Type() == "decorator" {
				x.decoratorCall(dec, c)
			}
		}
		x.walkDefinition(def, c)
		return
	case "function_definition", "class_definition":
		c := x.register(n, n, owner)
		x.walkDefinition(n, c)
		return
	case "call":
		if owner != nil {
			if fn := n.ChildByFieldName("function"); fn != nil {
				owner.Calls = append(owner.Calls, Call{Text: compact(x.text(fn)), Line: int(n.StartPoint().Row) + 1})
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		x.walk(n.NamedChild(i), owner)
	}
}

func (x *extractor) walkDefinition(def *sitter.Node, c *Component) {
	pushed := false
	if def.Type() == "function_definition" {
		x.enclosing = append(x.enclosing, x.boundNames(c))
		pushed = true
	}
	for i := 0; i < int(def.NamedChildCount()); i++ {
		x.walk(def.NamedChild(i), c)
	}
	if pushed {
		x.enclosing = x.enclosing[:len(x.enclosing)-1]
	}
}

// decoratorCall records a decorator expression as a decorator call on the
// decorated component. Calls nested in decorator arguments are ordinary.
func (x *extractor) decoratorCall(dec *sitter.Node, c *Component) {
	if dec.NamedChildCount() == 0 {
		return
	}
	expr := dec.NamedChild(0)
	line := int(dec.StartPoint().Row) + 1
	target := expr
	if expr.Type() == "call" {
		if fn := expr.ChildByFieldName("function"); fn != nil {
			target = fn
		}
		if args := expr.ChildByFieldName("arguments"); args != nil {
			x.walk(args, c)
		}
	}
	c.Calls = append(c.Calls, Call{Text: compact(x.text(target)), Line: line, IsDecorator: true})
}

func (x *extractor) boundNames(c *Component) map[string]bool {
	names := make(map[string]bool)
	for _, s := range c.Symbols {
		if s.ScopeLevel == store.ScopeLocal || s.ScopeLevel == store.ScopeParameter {
			names[s.Name] = true
		}
	}
	return names
}

// register creates the component for def. outer is the decorated wrapper
// when there is one, otherwise def itself.
func (x *extractor) register(def, outer *sitter.Node, parent *Component) *Component {
	name := ""
	if nameNode := def.ChildByFieldName("name"); nameNode != nil {
		name = x.text(nameNode)
	}
	c := &Component{
		Name:       name,
		Kind:       store.KindFunction,
		OrderIndex: len(x.comps),
		StartLine:  int(def.StartPoint().Row) + 1,
		EndLine:    int(def.EndPoint().Row) + 1,
		Segment:    x.text(def),
	}
	switch {
	case def.Type() == "class_definition":
		c.Kind = store.KindClass
	case parent != nil && parent.Kind == store.KindClass:
		c.Kind = store.KindMethod
	}
	c.QualifiedName = name
	if parent != nil {
		c.Parent = parent.QualifiedName
		c.QualifiedName = parent.QualifiedName + "." + name
		c.Depth = parent.Depth + 1
	}
	c.SourceHash = store.HashBytes(x.src[outer.StartByte():outer.EndByte()])
	c.StructuralHash = hashNode(outer, x.src)
	c.CommittedHash = store.CommittedHash(c.Kind, c.QualifiedName, c.StructuralHash)
	c.Hints = x.hints(def, outer)
	c.Directives = parseDirectives(x.directiveComments(def, outer))

	b := newBinder(x, c)
	b.analyze(def)

	x.comps = append(x.comps, c)
	x.outer = append(x.outer, outer)
	x.refs = append(x.refs, identifiers(outer, x.src))
	return c
}

func (x *extractor) hints(def, outer *sitter.Node) store.RebuildHints {
	start := int(def.StartByte())
	h := store.RebuildHints{
		IndentText: string(x.src[start-int(def.StartPoint().Column) : start]),
	}
	if !sameNode(outer, def) {
		for i := 0; i < int(outer.NamedChildCount()); i++ {
			if dec := outer.NamedChild(i); dec.Type() == "decorator" {
				h.Decorators = append(h.Decorators, strings.TrimRight(x.text(dec), " \t\r\n"))
			}
		}
	}
	for i := 0; i < int(def.ChildCount()); i++ {
		if def.Child(i).Type() == "async" {
			h.Async = true
			break
		}
	}
	if body := def.ChildByFieldName("body"); body != nil {
		h.BodyLines = int(body.EndPoint().Row-body.StartPoint().Row) + 1
		h.Docstring = x.docstring(body)
	}
	h.LeadingComments = x.leadingComments(outer)
	if c, ok := x.comments[int(def.StartPoint().Row)]; ok && !c.fullLine {
		h.TrailingComment = c.text
	}
	return h
}

func (x *extractor) docstring(body *sitter.Node) *store.DocstringHint {
	if body.NamedChildCount() == 0 {
		return nil
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return nil
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return nil
	}
	raw := x.text(str)
	prefix := ""
	for len(raw) > 0 && strings.ContainsRune("rRbBuUfF", rune(raw[0])) {
		prefix += raw[:1]
		raw = raw[1:]
	}
	quote := `"`
	switch {
	case strings.HasPrefix(raw, `"""`):
		quote = `"""`
	case strings.HasPrefix(raw, `'''`):
		quote = `'''`
	case strings.HasPrefix(raw, `'`):
		quote = `'`
	}
	return &store.DocstringHint{
		Quote:  quote,
		Prefix: prefix,
		Lines:  int(str.EndPoint().Row-str.StartPoint().Row) + 1,
	}
}

// leadingComments returns the contiguous block of comment-only lines
// directly above outer, top to bottom.
func (x *extractor) leadingComments(outer *sitter.Node) []string {
	var block []string
	for row := int(outer.StartPoint().Row) - 1; row >= 0; row-- {
		c, ok := x.comments[row]
		if !ok || !c.fullLine {
			break
		}
		block = append([]string{c.text}, block...)
	}
	return block
}

func (x *extractor) directiveComments(def, outer *sitter.Node) []lineComment {
	var out []lineComment
	top := int(outer.StartPoint().Row)
	block := x.leadingComments(outer)
	for i, text := range block {
		out = append(out, lineComment{text: text, line: top - len(block) + i + 1})
	}
	row := int(def.StartPoint().Row)
	if c, ok := x.comments[row]; ok && !c.fullLine {
		out = append(out, lineComment{text: c.text, line: row + 1})
	}
	return out
}

// layout records the text between top-level components as rebuild gaps
// and the text after the last one as the file tail.
func (x *extractor) layout(res *Result) {
	prevEnd := 0
	for i, c := range x.comps {
		if c.Depth != 0 {
			continue
		}
		start := int(x.outer[i].StartByte())
		c.Hints.GapBefore = string(x.src[prevEnd:start])
		prevEnd = int(x.outer[i].EndByte())
	}
	res.Tail = string(x.src[prevEnd:])
}

// identifiers returns the names referenced anywhere in n, ignoring
// attribute names and keyword argument names.
func identifiers(n *sitter.Node, src []byte) map[string]bool {
	names := make(map[string]bool)
	stack := []*sitter.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch cur.Type() {
		case "identifier":
			names[cur.Content(src)] = true
			continue
		case "attribute":
			if obj := cur.ChildByFieldName("object"); obj != nil {
				stack = append(stack, obj)
			}
			continue
		case "keyword_argument":
			if v := cur.ChildByFieldName("value"); v != nil {
				stack = append(stack, v)
			}
			continue
		}
		for i := 0; i < int(cur.NamedChildCount()); i++ {
			stack = append(stack, cur.NamedChild(i))
		}
	}
	return names
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// compact removes all whitespace from callee text.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
