// Package callgraph turns raw call references into classified call edges,
// per-component fan-in and fan-out, orchestrator flags and internal call
// cycles. Normalization never fails: calls it cannot resolve are kept as
// unresolved edges and reported as warnings.
package callgraph

import (
	"sort"
	"strings"

	"github.com/jward/canon/internal/store"
)

// DefaultOrchestratorThreshold is the fan-out above which a component is
// flagged as an orchestrator.
const DefaultOrchestratorThreshold = 7

// Node is one component of the file being normalized.
type Node struct {
	ID            string
	QualifiedName string
	Kind          string
	Parent        string
	OrderIndex    int
}

// Options tunes normalization.
type Options struct {
	OrchestratorThreshold int
}

// UnresolvedCallWarning records a call no resolution step could classify.
type UnresolvedCallWarning struct {
	ComponentID string
	CalleeText  string
	Line        int
}

// Cycle is an internal call cycle. IDs and Names start at the member with
// the smallest order index and do not repeat it at the end.
type Cycle struct {
	IDs   []string
	Names []string
}

// Path renders the cycle as "a → b → c → a".
func (c Cycle) Path() string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.Join(append(append([]string{}, c.Names...), c.Names[0]), " → ")
}

// Contains reports whether the component is a cycle member.
func (c Cycle) Contains(id string) bool {
	for _, m := range c.IDs {
		if m == id {
			return true
		}
	}
	return false
}

// Graph is the normalized call graph of one file.
type Graph struct {
	// Edges keeps every call site. FileID is left for the caller to set.
	Edges         []store.CallEdge
	FanIn         map[string]int
	FanOut        map[string]int
	Orchestrators map[string]bool
	Cycles        []Cycle
	Unresolved    []UnresolvedCallWarning
}

// CyclesOf returns the cycles the component belongs to.
func (g *Graph) CyclesOf(id string) []Cycle {
	var out []Cycle
	for _, c := range g.Cycles {
		if c.Contains(id) {
			out = append(out, c)
		}
	}
	return out
}

// Normalize resolves each raw call in order: internal (a component of the
// file, found by walking outward from the caller's scope), builtin,
// external (rooted at an imported name, expanded through imports), then
// unresolved. Decorator calls become edges only when internal.
func Normalize(comps []Node, calls []store.RawCall, imports map[string]string, opts Options) *Graph {
	if opts.OrchestratorThreshold <= 0 {
		opts.OrchestratorThreshold = DefaultOrchestratorThreshold
	}
	r := newResolver(comps, imports)

	g := &Graph{
		FanIn:         make(map[string]int),
		FanOut:        make(map[string]int),
		Orchestrators: make(map[string]bool),
	}
	for _, call := range calls {
		caller, ok := r.byID[call.ComponentID]
		if !ok {
			continue
		}
		edge := r.resolve(caller, call.CalleeText)
		if call.IsDecorator && edge.Kind != store.EdgeInternal {
			continue
		}
		edge.CallerID = call.ComponentID
		edge.CalleeText = call.CalleeText
		edge.Line = call.Line
		g.Edges = append(g.Edges, edge)
		if edge.Kind == store.EdgeUnresolved {
			g.Unresolved = append(g.Unresolved, UnresolvedCallWarning{
				ComponentID: call.ComponentID, CalleeText: call.CalleeText, Line: call.Line,
			})
		}
	}

	// fan_out counts distinct resolved targets per caller, fan_in distinct
	// internal callers per callee.
	targets := make(map[string]map[string]bool)
	callers := make(map[string]map[string]bool)
	adj := make(map[string]map[string]bool)
	for _, e := range g.Edges {
		if e.Kind == store.EdgeUnresolved {
			continue
		}
		if targets[e.CallerID] == nil {
			targets[e.CallerID] = make(map[string]bool)
		}
		targets[e.CallerID][e.Kind+":"+e.ResolvedName] = true
		if e.Kind == store.EdgeInternal && e.CalleeID != nil {
			callee := *e.CalleeID
			if callers[callee] == nil {
				callers[callee] = make(map[string]bool)
			}
			callers[callee][e.CallerID] = true
			if adj[e.CallerID] == nil {
				adj[e.CallerID] = make(map[string]bool)
			}
			adj[e.CallerID][callee] = true
		}
	}
	for _, n := range comps {
		g.FanOut[n.ID] = len(targets[n.ID])
		g.FanIn[n.ID] = len(callers[n.ID])
		if g.FanOut[n.ID] > opts.OrchestratorThreshold {
			g.Orchestrators[n.ID] = true
		}
	}

	g.Cycles = findCycles(comps, adj)
	return g
}

type resolver struct {
	byID    map[string]*Node
	byName  map[string]*Node
	imports map[string]string
}

func newResolver(comps []Node, imports map[string]string) *resolver {
	r := &resolver{
		byID:    make(map[string]*Node, len(comps)),
		byName:  make(map[string]*Node, len(comps)),
		imports: imports,
	}
	for i := range comps {
		r.byID[comps[i].ID] = &comps[i]
		r.byName[comps[i].QualifiedName] = &comps[i]
	}
	return r
}

func (r *resolver) internal(n *Node, resolved string) store.CallEdge {
	id := n.ID
	return store.CallEdge{CalleeID: &id, Kind: store.EdgeInternal, ResolvedName: resolved}
}

func (r *resolver) resolve(caller *Node, text string) store.CallEdge {
	// self.x() and cls.x() resolve against the enclosing class.
	for _, recv := range []string{"self.", "cls."} {
		if !strings.HasPrefix(text, recv) {
			continue
		}
		if class := r.enclosingClass(caller); class != nil {
			if n, ok := r.byName[class.QualifiedName+"."+strings.TrimPrefix(text, recv)]; ok {
				return r.internal(n, n.QualifiedName)
			}
		}
	}

	// Scope walk: names nested in the caller, then in each enclosing
	// function. Class bodies are not visible from their methods.
	for scope := caller; scope != nil; scope = r.byName[scope.Parent] {
		if scope.Kind == store.KindClass {
			continue
		}
		if n, ok := r.byName[scope.QualifiedName+"."+text]; ok {
			return r.internal(n, n.QualifiedName)
		}
	}
	if n, ok := r.byName[text]; ok {
		return r.internal(n, n.QualifiedName)
	}

	if builtins[text] {
		return store.CallEdge{Kind: store.EdgeBuiltin, ResolvedName: text}
	}

	root, rest := text, ""
	if i := strings.IndexByte(text, '.'); i >= 0 {
		root, rest = text[:i], text[i:]
	}
	if target, ok := r.imports[root]; ok {
		return store.CallEdge{Kind: store.EdgeExternal, ResolvedName: target + rest}
	}

	return store.CallEdge{Kind: store.EdgeUnresolved, ResolvedName: text}
}

func (r *resolver) enclosingClass(n *Node) *Node {
	for p := r.byName[n.Parent]; p != nil; p = r.byName[p.Parent] {
		if p.Kind == store.KindClass {
			return p
		}
	}
	return nil
}

// Cycles finds the internal call cycles among stored edges.
func Cycles(comps []Node, edges []*store.CallEdge) []Cycle {
	adj := make(map[string]map[string]bool)
	for _, e := range edges {
		if e.Kind != store.EdgeInternal || e.CalleeID == nil {
			continue
		}
		if adj[e.CallerID] == nil {
			adj[e.CallerID] = make(map[string]bool)
		}
		adj[e.CallerID][*e.CalleeID] = true
	}
	return findCycles(comps, adj)
}

type frame struct {
	id   string
	next int
}

// findCycles runs an iterative depth-first search over internal edges
// with an explicit on-stack set. Every back edge yields the cycle on the
// stack; each distinct cycle is reported once.
func findCycles(comps []Node, adj map[string]map[string]bool) []Cycle {
	order := make(map[string]int, len(comps))
	names := make(map[string]string, len(comps))
	for _, n := range comps {
		order[n.ID] = n.OrderIndex
		names[n.ID] = n.QualifiedName
	}
	sorted := make(map[string][]string, len(adj))
	for from, tos := range adj {
		list := make([]string, 0, len(tos))
		for to := range tos {
			list = append(list, to)
		}
		sort.Slice(list, func(i, j int) bool { return order[list[i]] < order[list[j]] })
		sorted[from] = list
	}
	roots := make([]Node, len(comps))
	copy(roots, comps)
	sort.Slice(roots, func(i, j int) bool { return roots[i].OrderIndex < roots[j].OrderIndex })

	visited := make(map[string]bool)
	onStack := make(map[string]int) // id -> position in path
	seen := make(map[string]bool)
	var cycles []Cycle

	for _, root := range roots {
		if visited[root.ID] {
			continue
		}
		visited[root.ID] = true
		stack := []frame{{id: root.ID}}
		path := []string{root.ID}
		onStack[root.ID] = 0

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := sorted[top.id]
			if top.next >= len(succ) {
				delete(onStack, top.id)
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}
			w := succ[top.next]
			top.next++

			if pos, ok := onStack[w]; ok {
				members := canonicalRotation(path[pos:], order)
				key := strings.Join(members, "\x00")
				if !seen[key] {
					seen[key] = true
					c := Cycle{IDs: members}
					for _, id := range members {
						c.Names = append(c.Names, names[id])
					}
					cycles = append(cycles, c)
				}
				continue
			}
			if visited[w] {
				continue
			}
			visited[w] = true
			onStack[w] = len(path)
			path = append(path, w)
			stack = append(stack, frame{id: w})
		}
	}
	return cycles
}

// canonicalRotation rotates a cycle so its smallest order index comes
// first.
func canonicalRotation(members []string, order map[string]int) []string {
	start := 0
	for i, id := range members {
		if order[id] < order[members[start]] {
			start = i
		}
	}
	out := make([]string, 0, len(members))
	out = append(out, members[start:]...)
	out = append(out, members[:start]...)
	return out
}
