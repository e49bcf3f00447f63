// Package governance evaluates directive annotations and structural
// metrics into violations, a per-file gate and a cut-analysis score.
package governance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/canon/internal/callgraph"
	"github.com/jward/canon/internal/extract"
	"github.com/jward/canon/internal/store"
)

// Rule names.
const (
	RuleComputeIsolation   = "compute_isolation"
	RuleGlobalPurity       = "global_purity"
	RuleExtractionCoupling = "extraction_coupling"
	RuleCircularDependency = "circular_dependency"
	RuleDirectiveConflict  = "directive_conflict"
	RuleOrchestratorHub    = "orchestrator_hub"
)

// DefaultCouplingThreshold is the fan_out at which an @extract component
// stops being a clean extraction boundary.
const DefaultCouplingThreshold = 5

var ioBuiltins = []string{"open", "print", "input"}

var ioPrefixes = []string{
	"os.", "sys.", "io.", "subprocess.", "socket.", "shutil.", "pathlib.",
	"requests.", "urllib.", "http.", "sqlite3.", "logging.",
}

var conflicts = [][2]string{
	{extract.DirectivePure, extract.DirectiveIOBoundary},
	{extract.DirectiveExtract, extract.DirectiveDoNotExtract},
	{extract.DirectiveServiceCandidate, extract.DirectiveDoNotExtract},
}

// Component is everything the rules need about one component.
type Component struct {
	ID            string
	QualifiedName string
	Directives    []string
	Calls         []store.CallEdge
	// Globals names the global-scope symbols the component reads or writes.
	Globals      []string
	FanIn        int
	FanOut       int
	Orchestrator bool
	OnCycle      bool
}

// Has reports whether the component carries the directive.
func (c *Component) Has(directive string) bool {
	for _, d := range c.Directives {
		if d == directive {
			return true
		}
	}
	return false
}

// Options tunes rule thresholds.
type Options struct {
	CouplingThreshold int
	// IOVocabulary extends the IO classification. Entries ending in "."
	// match as resolved-name prefixes, others as exact names.
	IOVocabulary []string
}

// Result is the outcome of evaluating one file.
type Result struct {
	Violations []store.Violation
	Gate       string
}

// Errors counts ERROR-severity violations.
func (r *Result) Errors() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == store.SeverityError {
			n++
		}
	}
	return n
}

// Blocked reports whether the component has an ERROR violation.
func (r *Result) Blocked(componentID string) bool {
	for _, v := range r.Violations {
		if v.Severity == store.SeverityError && v.ComponentID != nil && *v.ComponentID == componentID {
			return true
		}
	}
	return false
}

// Engine evaluates the rule set.
type Engine struct {
	couplingThreshold int
	ioExact           map[string]bool
	ioPrefixes        []string
}

// New creates an Engine with the default IO vocabulary plus any extras.
func New(opts Options) *Engine {
	e := &Engine{
		couplingThreshold: opts.CouplingThreshold,
		ioExact:           make(map[string]bool),
		ioPrefixes:        append([]string{}, ioPrefixes...),
	}
	if e.couplingThreshold <= 0 {
		e.couplingThreshold = DefaultCouplingThreshold
	}
	for _, b := range ioBuiltins {
		e.ioExact[b] = true
	}
	for _, v := range opts.IOVocabulary {
		if strings.HasSuffix(v, ".") {
			e.ioPrefixes = append(e.ioPrefixes, v)
		} else if v != "" {
			e.ioExact[v] = true
		}
	}
	return e
}

// IsIO reports whether a classified call performs IO. Internal calls
// never do, whatever their name.
func (e *Engine) IsIO(edge store.CallEdge) bool {
	if edge.Kind == store.EdgeInternal || edge.Kind == store.EdgeUnresolved {
		return false
	}
	if e.ioExact[edge.ResolvedName] {
		return true
	}
	for _, p := range e.ioPrefixes {
		if strings.HasPrefix(edge.ResolvedName, p) {
			return true
		}
	}
	return false
}

// Evaluate runs every rule against every component. The gate is PASS iff
// no ERROR violation exists anywhere in the file.
func (e *Engine) Evaluate(comps []Component, cycles []callgraph.Cycle) *Result {
	r := &Result{}
	for i := range comps {
		c := &comps[i]
		r.Violations = append(r.Violations, e.computeIsolation(c)...)
		r.Violations = append(r.Violations, globalPurity(c)...)
		r.Violations = append(r.Violations, e.extractionCoupling(c)...)
		r.Violations = append(r.Violations, directiveConflicts(c)...)
		r.Violations = append(r.Violations, orchestratorHub(c)...)
	}
	r.Violations = append(r.Violations, circularDependencies(comps, cycles)...)

	r.Gate = store.GatePass
	if r.Errors() > 0 {
		r.Gate = store.GateBlocked
	}
	return r
}

func violation(c *Component, rule, severity, desc, remediation string) store.Violation {
	id := c.ID
	return store.Violation{
		ComponentID:   &id,
		QualifiedName: c.QualifiedName,
		Rule:          rule,
		Severity:      severity,
		Description:   desc,
		Remediation:   remediation,
	}
}

func (e *Engine) computeIsolation(c *Component) []store.Violation {
	if !c.Has(extract.DirectiveExtract) && !c.Has(extract.DirectivePure) {
		return nil
	}
	var io []string
	seen := make(map[string]bool)
	for _, edge := range c.Calls {
		if e.IsIO(edge) && !seen[edge.ResolvedName] {
			seen[edge.ResolvedName] = true
			io = append(io, fmt.Sprintf("%s (line %d)", edge.ResolvedName, edge.Line))
		}
	}
	if len(io) == 0 {
		return nil
	}
	return []store.Violation{violation(c, RuleComputeIsolation, store.SeverityError,
		fmt.Sprintf("%s is marked %s but performs IO: %s", c.QualifiedName, markers(c), strings.Join(io, ", ")),
		"move the IO behind an @io_boundary component and pass its results in")}
}

func markers(c *Component) string {
	var m []string
	for _, d := range []string{extract.DirectiveExtract, extract.DirectivePure} {
		if c.Has(d) {
			m = append(m, "@"+d)
		}
	}
	return strings.Join(m, " and ")
}

func globalPurity(c *Component) []store.Violation {
	if !c.Has(extract.DirectivePure) || len(c.Globals) == 0 {
		return nil
	}
	names := uniqueSorted(c.Globals)
	return []store.Violation{violation(c, RuleGlobalPurity, store.SeverityWarning,
		fmt.Sprintf("@pure %s touches module-level state: %s", c.QualifiedName, strings.Join(names, ", ")),
		"pass the values in as parameters instead of reading or writing globals")}
}

func (e *Engine) extractionCoupling(c *Component) []store.Violation {
	if !c.Has(extract.DirectiveExtract) || c.FanOut < e.couplingThreshold {
		return nil
	}
	return []store.Violation{violation(c, RuleExtractionCoupling, store.SeverityWarning,
		fmt.Sprintf("@extract %s calls %d distinct targets (threshold %d)", c.QualifiedName, c.FanOut, e.couplingThreshold),
		"narrow the component's dependencies before extracting it")}
}

func directiveConflicts(c *Component) []store.Violation {
	var out []store.Violation
	for _, pair := range conflicts {
		if c.Has(pair[0]) && c.Has(pair[1]) {
			out = append(out, violation(c, RuleDirectiveConflict, store.SeverityWarning,
				fmt.Sprintf("%s carries mutually exclusive directives @%s and @%s", c.QualifiedName, pair[0], pair[1]),
				"remove one of the conflicting directives"))
		}
	}
	return out
}

func orchestratorHub(c *Component) []store.Violation {
	if !c.Orchestrator || c.Has(extract.DirectiveOrchestrator) {
		return nil
	}
	return []store.Violation{violation(c, RuleOrchestratorHub, store.SeverityInfo,
		fmt.Sprintf("%s fans out to %d targets and acts as an orchestrator", c.QualifiedName, c.FanOut),
		"annotate it with @orchestrator or split the coordination logic")}
}

// circularDependencies reports each cycle that touches a directived
// component once, against the first directived member.
func circularDependencies(comps []Component, cycles []callgraph.Cycle) []store.Violation {
	byID := make(map[string]*Component, len(comps))
	for i := range comps {
		byID[comps[i].ID] = &comps[i]
	}
	var out []store.Violation
	for _, cyc := range cycles {
		for _, id := range cyc.IDs {
			c := byID[id]
			if c == nil || len(c.Directives) == 0 {
				continue
			}
			out = append(out, violation(c, RuleCircularDependency, store.SeverityWarning,
				"call cycle: "+cyc.Path(),
				"break the cycle before extracting any of its members"))
			break
		}
	}
	return out
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
