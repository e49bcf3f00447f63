package extract

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/canon/internal/store"
)

type origin int

const (
	originNone origin = iota
	originVar
	originDef
	originImport
	originParam
)

type symInfo struct {
	name     string
	read     bool
	write    bool
	origin   origin
	typeHint string
	line     int
	order    int
}

// binder collects the name events of one scope: writes bind a name,
// reads reference it. Classification happens once the whole body has been
// seen, because a name bound anywhere in a function is local throughout.
type binder struct {
	x      *extractor
	comp   *Component
	module bool

	syms      map[string]*symInfo
	globals   map[string]bool
	nonlocals map[string]bool

	// scope is the index in comp.Scopes of the scope being visited.
	scope int
	// hidden holds the lambdas and comprehensions enclosing the current
	// node, innermost last. Names they bind never reach syms.
	hidden []*childScope
	// children lists every lambda and comprehension in scope order.
	children []*childScope
}

// childScope holds the names bound by one lambda or comprehension.
type childScope struct {
	index int
	syms  map[string]*symInfo
}

func (cs *childScope) bind(name string, n *sitter.Node, o origin) {
	if _, ok := cs.syms[name]; ok {
		return
	}
	cs.syms[name] = &symInfo{
		name:   name,
		write:  true,
		origin: o,
		line:   int(n.StartPoint().Row) + 1,
		order:  len(cs.syms),
	}
}

func newBinder(x *extractor, c *Component) *binder {
	return &binder{
		x:         x,
		comp:      c,
		syms:      make(map[string]*symInfo),
		globals:   make(map[string]bool),
		nonlocals: make(map[string]bool),
	}
}

func (b *binder) info(name string, n *sitter.Node) *symInfo {
	s, ok := b.syms[name]
	if !ok {
		s = &symInfo{name: name, line: int(n.StartPoint().Row) + 1, order: len(b.syms)}
		b.syms[name] = s
	}
	return s
}

func (b *binder) bind(n *sitter.Node, o origin) *symInfo {
	s := b.info(b.x.text(n), n)
	s.write = true
	if s.origin == originNone {
		s.origin = o
	}
	return s
}

func (b *binder) read(n *sitter.Node) {
	name := b.x.text(n)
	for i := len(b.hidden) - 1; i >= 0; i-- {
		if s := b.hidden[i].syms[name]; s != nil {
			s.read = true
			return
		}
	}
	b.info(name, n).read = true
}

// analyze walks a function or class definition and stores the resulting
// scopes and symbols on the component.
func (b *binder) analyze(def *sitter.Node) {
	kind := "function"
	if def.Type() == "class_definition" {
		kind = "class"
	}
	b.comp.Scopes = []Scope{{
		Kind:      kind,
		Parent:    -1,
		StartLine: int(def.StartPoint().Row) + 1,
		EndLine:   int(def.EndPoint().Row) + 1,
	}}

	if kind == "function" {
		if params := def.ChildByFieldName("parameters"); params != nil {
			b.parameters(params)
		}
	} else if supers := def.ChildByFieldName("superclasses"); supers != nil {
		b.visit(supers)
	}
	if body := def.ChildByFieldName("body"); body != nil {
		b.visitBody(body)
	}
	b.comp.Symbols = b.finalize()
}

func (b *binder) parameters(params *sitter.Node) {
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		var nameNode, typeNode, valueNode *sitter.Node
		switch p.Type() {
		case "identifier":
			nameNode = p
		case "list_splat_pattern", "dictionary_splat_pattern":
			nameNode = firstIdentifier(p)
		case "typed_parameter":
			typeNode = p.ChildByFieldName("type")
			for j := 0; j < int(p.NamedChildCount()); j++ {
				if child := p.NamedChild(j); typeNode == nil || !sameNode(child, typeNode) {
					nameNode = firstIdentifier(child)
					break
				}
			}
		case "default_parameter", "typed_default_parameter":
			nameNode = p.ChildByFieldName("name")
			typeNode = p.ChildByFieldName("type")
			valueNode = p.ChildByFieldName("value")
		}
		if valueNode != nil {
			b.visit(valueNode)
		}
		if nameNode == nil {
			continue
		}
		s := b.bind(nameNode, originParam)
		s.origin = originParam
		if typeNode != nil {
			s.typeHint = strings.TrimSpace(b.x.text(typeNode))
		}
	}
}

func firstIdentifier(n *sitter.Node) *sitter.Node {
	if n.Type() == "identifier" {
		return n
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if id := firstIdentifier(n.NamedChild(i)); id != nil {
			return id
		}
	}
	return nil
}

func (b *binder) visitBody(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		b.visit(n.NamedChild(i))
	}
}

func (b *binder) visit(n *sitter.Node) {
	switch n.Type() {
	case "function_definition", "class_definition":
		if name := n.ChildByFieldName("name"); name != nil {
			b.bind(name, originDef)
		}
	case "decorated_definition":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if child := n.NamedChild(i); child.Type() == "decorator" {
				b.visitBody(child)
			}
		}
		if def := n.ChildByFieldName("definition"); def != nil {
			b.visit(def)
		}
	case "lambda":
		b.inChildScope("lambda", n, func(cs *childScope) {
			if params := n.ChildByFieldName("parameters"); params != nil {
				for i := 0; i < int(params.NamedChildCount()); i++ {
					if id := firstIdentifier(params.NamedChild(i)); id != nil {
						cs.bind(b.x.text(id), id, originParam)
					}
				}
			}
			if body := n.ChildByFieldName("body"); body != nil {
				b.visit(body)
			}
		})
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		b.inChildScope("comprehension", n, func(cs *childScope) {
			for i := 0; i < int(n.NamedChildCount()); i++ {
				clause := n.NamedChild(i)
				if clause.Type() != "for_in_clause" {
					continue
				}
				if left := clause.ChildByFieldName("left"); left != nil {
					for _, id := range targetIdentifiers(left) {
						cs.bind(b.x.text(id), id, originVar)
					}
				}
			}
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if child.Type() == "for_in_clause" {
					if right := child.ChildByFieldName("right"); right != nil {
						b.visit(right)
					}
					continue
				}
				b.visit(child)
			}
		})
	case "global_statement", "nonlocal_statement":
		target := b.globals
		if n.Type() == "nonlocal_statement" {
			target = b.nonlocals
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if id := n.NamedChild(i); id.Type() == "identifier" {
				target[b.x.text(id)] = true
			}
		}
	case "assignment":
		if right := n.ChildByFieldName("right"); right != nil {
			b.visit(right)
		}
		left := n.ChildByFieldName("left")
		if left == nil {
			return
		}
		b.bindTarget(left, false)
		if typ := n.ChildByFieldName("type"); typ != nil && left.Type() == "identifier" {
			if s := b.syms[b.x.text(left)]; s != nil && s.typeHint == "" {
				s.typeHint = strings.TrimSpace(b.x.text(typ))
			}
		}
	case "augmented_assignment":
		if right := n.ChildByFieldName("right"); right != nil {
			b.visit(right)
		}
		if left := n.ChildByFieldName("left"); left != nil {
			b.bindTarget(left, true)
		}
	case "for_statement":
		left := n.ChildByFieldName("left")
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if left != nil && sameNode(child, left) {
				b.bindTarget(left, false)
				continue
			}
			b.visit(child)
		}
	case "named_expression":
		if value := n.ChildByFieldName("value"); value != nil {
			b.visit(value)
		}
		if name := n.ChildByFieldName("name"); name != nil {
			b.bind(name, originVar)
		}
	case "as_pattern":
		alias := n.ChildByFieldName("alias")
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if alias != nil && sameNode(child, alias) {
				b.bindTarget(alias, false)
				continue
			}
			b.visit(child)
		}
	case "except_clause":
		afterAs := false
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "as" {
				afterAs = true
				continue
			}
			if !child.IsNamed() {
				continue
			}
			if afterAs && child.Type() == "identifier" {
				b.bind(child, originVar)
				afterAs = false
				continue
			}
			b.visit(child)
		}
	case "import_statement", "import_from_statement":
		b.bindImport(n)
	case "identifier":
		b.read(n)
	case "attribute":
		if obj := n.ChildByFieldName("object"); obj != nil {
			b.visit(obj)
		}
	case "keyword_argument":
		if value := n.ChildByFieldName("value"); value != nil {
			b.visit(value)
		}
	case "comment":
	default:
		b.visitBody(n)
	}
}

func (b *binder) bindTarget(n *sitter.Node, alsoRead bool) {
	switch n.Type() {
	case "identifier":
		s := b.bind(n, originVar)
		if alsoRead {
			s.read = true
		}
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list",
		"parenthesized_expression", "list_splat_pattern", "list_splat", "as_pattern_target":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			b.bindTarget(n.NamedChild(i), alsoRead)
		}
	default:
		b.visit(n)
	}
}

func (b *binder) bindImport(n *sitter.Node) {
	modNode := n.ChildByFieldName("module_name")
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if modNode != nil && sameNode(child, modNode) {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			if n.Type() == "import_statement" {
				b.bind(firstIdentifier(child), originImport)
			} else {
				b.bind(child, originImport)
			}
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				b.bind(alias, originImport)
			}
		}
	}
}

func (b *binder) inChildScope(kind string, n *sitter.Node, fn func(cs *childScope)) {
	parent := b.scope
	cs := &childScope{index: -1, syms: make(map[string]*symInfo)}
	if b.comp != nil {
		b.comp.Scopes = append(b.comp.Scopes, Scope{
			Kind:      kind,
			Parent:    parent,
			StartLine: int(n.StartPoint().Row) + 1,
			EndLine:   int(n.EndPoint().Row) + 1,
		})
		b.scope = len(b.comp.Scopes) - 1
		cs.index = b.scope
		b.children = append(b.children, cs)
	}
	b.hidden = append(b.hidden, cs)
	fn(cs)
	b.hidden = b.hidden[:len(b.hidden)-1]
	b.scope = parent
}

// targetIdentifiers returns the identifiers a for-clause target binds, in
// source order.
func targetIdentifiers(n *sitter.Node) []*sitter.Node {
	switch n.Type() {
	case "identifier":
		return []*sitter.Node{n}
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list",
		"parenthesized_expression", "list_splat_pattern", "list_splat":
		var out []*sitter.Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			out = append(out, targetIdentifiers(n.NamedChild(i))...)
		}
		return out
	}
	return nil
}

func (b *binder) inEnclosing(name string) bool {
	for i := len(b.x.enclosing) - 1; i >= 0; i-- {
		if b.x.enclosing[i][name] {
			return true
		}
	}
	return false
}

// finalize classifies every name event into a symbol. Reads of names that
// are neither bound here, in an enclosing function, nor at module level
// (builtins, imports, module functions) produce no symbol. Names bound by
// lambdas and comprehensions follow, owned by their child scope.
func (b *binder) finalize() []Symbol {
	infos := make([]*symInfo, 0, len(b.syms))
	for _, s := range b.syms {
		infos = append(infos, s)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].order < infos[j].order })

	var out []Symbol
	for _, s := range infos {
		var level string
		switch {
		case b.globals[s.name]:
			level = store.ScopeGlobal
		case b.nonlocals[s.name]:
			level = store.ScopeNonlocal
		case s.origin == originParam:
			level = store.ScopeParameter
		case s.write:
			level = store.ScopeLocal
		case b.inEnclosing(s.name):
			level = store.ScopeNonlocal
		case b.x.moduleVars[s.name]:
			level = store.ScopeGlobal
		default:
			continue
		}
		access := store.AccessRead
		switch {
		case s.read && s.write:
			access = store.AccessBoth
		case s.write:
			access = store.AccessWrite
		}
		out = append(out, Symbol{
			Name:       s.name,
			ScopeLevel: level,
			Access:     access,
			TypeHint:   s.typeHint,
			DeclLine:   s.line,
			IsParam:    s.origin == originParam,
		})
	}
	for _, cs := range b.children {
		out = append(out, cs.symbols()...)
	}
	return out
}

// symbols lists the child scope's bindings. Lambda parameters are
// parameters; comprehension targets are locals of the comprehension.
func (cs *childScope) symbols() []Symbol {
	infos := make([]*symInfo, 0, len(cs.syms))
	for _, s := range cs.syms {
		infos = append(infos, s)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].order < infos[j].order })

	out := make([]Symbol, 0, len(infos))
	for _, s := range infos {
		level := store.ScopeLocal
		if s.origin == originParam {
			level = store.ScopeParameter
		}
		access := store.AccessWrite
		if s.read {
			access = store.AccessBoth
		}
		out = append(out, Symbol{
			Name:       s.name,
			ScopeLevel: level,
			Access:     access,
			DeclLine:   s.line,
			IsParam:    s.origin == originParam,
			Scope:      cs.index,
		})
	}
	return out
}
