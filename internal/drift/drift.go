// Package drift classifies each component of a new file version against
// its predecessor and emits typed drift events for the modified ones.
package drift

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jward/canon/internal/store"
)

// Snapshot is the per-component data drift detection compares.
type Snapshot struct {
	ID            string
	QualifiedName string
	Kind          string
	SourceHash    string
	CommittedHash string
	StartLine     int
	EndLine       int
	// Callees holds resolved callee names of classified edges.
	Callees []string
	// Symbols holds "name@scope_level" keys.
	Symbols []string
	// Imports is nil when the reachable imports are unknown.
	Imports []string
}

// LineCount is end_line - start_line.
func (s *Snapshot) LineCount() int {
	return s.EndLine - s.StartLine
}

// SymbolKey is the identity of a symbol for symbol_change comparison.
func SymbolKey(name, level string) string {
	return name + "@" + level
}

// Report is the outcome of one version transition. FileID, VersionID and
// VersionNumber on its rows are filled by Stamp.
type Report struct {
	History   []store.HistoryEntry
	Events    []store.DriftEvent
	Added     int
	Removed   int
	Modified  int
	Unchanged int
}

// Summary renders the change counts as "+A −R ~M".
func (r *Report) Summary() string {
	return fmt.Sprintf("+%d −%d ~%d", r.Added, r.Removed, r.Modified)
}

// Stamp attaches the version transition to every row.
func (r *Report) Stamp(fileID, versionID string, number int) {
	for i := range r.History {
		r.History[i].FileID = fileID
		r.History[i].VersionID = versionID
		r.History[i].VersionNumber = number
	}
	for i := range r.Events {
		r.Events[i].FileID = fileID
		r.Events[i].VersionID = versionID
		r.Events[i].VersionNumber = number
	}
}

// Classification returns the history classification recorded for a
// qualified name, or "" when the name is not part of the transition.
func (r *Report) Classification(qualifiedName string) string {
	for _, h := range r.History {
		if h.QualifiedName == qualifiedName {
			return h.Classification
		}
	}
	return ""
}

// Detect classifies every qualified name in the union of prev and cur
// exactly once. Without a predecessor every current component is ADDED
// and no events are produced.
func Detect(prev, cur []Snapshot, hasPredecessor bool, now time.Time) *Report {
	r := &Report{}
	if !hasPredecessor {
		prev = nil
	}
	before := make(map[string]*Snapshot, len(prev))
	for i := range prev {
		before[prev[i].QualifiedName] = &prev[i]
	}
	present := make(map[string]bool, len(cur))

	for i := range cur {
		c := &cur[i]
		present[c.QualifiedName] = true
		p, ok := before[c.QualifiedName]
		var class string
		switch {
		case !ok:
			class = store.Added
			r.Added++
		case p.SourceHash != c.SourceHash:
			class = store.Modified
			r.Modified++
			r.Events = append(r.Events, compare(p, c, now)...)
		default:
			class = store.Unchanged
			r.Unchanged++
		}
		r.History = append(r.History, historyEntry(c, class))
	}

	for i := range prev {
		p := &prev[i]
		if present[p.QualifiedName] {
			continue
		}
		r.Removed++
		r.History = append(r.History, historyEntry(p, store.Removed))
	}
	return r
}

func historyEntry(s *Snapshot, class string) store.HistoryEntry {
	var id *string
	if s.ID != "" {
		v := s.ID
		id = &v
	}
	return store.HistoryEntry{
		ComponentID:    id,
		QualifiedName:  s.QualifiedName,
		Kind:           s.Kind,
		Classification: class,
		SourceHash:     s.SourceHash,
		CommittedHash:  s.CommittedHash,
		StartLine:      s.StartLine,
		EndLine:        s.EndLine,
	}
}

// compare runs the four independent checks for a modified component.
func compare(p, c *Snapshot, now time.Time) []store.DriftEvent {
	var events []store.DriftEvent
	event := func(category, severity, desc, oldValue, newValue string) {
		id := c.ID
		events = append(events, store.DriftEvent{
			ComponentID:   &id,
			QualifiedName: c.QualifiedName,
			Category:      category,
			Severity:      severity,
			Description:   desc,
			OldValue:      oldValue,
			NewValue:      newValue,
			DetectedAt:    now,
		})
	}

	if oldV, newV := set(p.Callees), set(c.Callees); oldV != newV {
		event(store.CategoryCallGraph, store.SeverityMedium,
			fmt.Sprintf("call graph of %s changed%s", c.QualifiedName, delta(p.Callees, c.Callees)), oldV, newV)
	}
	if oldV, newV := set(p.Symbols), set(c.Symbols); oldV != newV {
		event(store.CategorySymbol, store.SeverityLow,
			fmt.Sprintf("symbols of %s changed%s", c.QualifiedName, delta(p.Symbols, c.Symbols)), oldV, newV)
	}
	if p.Imports != nil && c.Imports != nil {
		if oldV, newV := set(p.Imports), set(c.Imports); oldV != newV {
			event(store.CategoryImport, store.SeverityHigh,
				fmt.Sprintf("reachable imports of %s changed%s", c.QualifiedName, delta(p.Imports, c.Imports)), oldV, newV)
		}
	}
	if before, after := p.LineCount(), c.LineCount(); complexityChanged(before, after) {
		event(store.CategoryComplexity, store.SeverityMedium,
			fmt.Sprintf("line count of %s changed from %d to %d", c.QualifiedName, before, after),
			fmt.Sprint(before), fmt.Sprint(after))
	}
	return events
}

// complexityChanged reports a line-count change of more than 3 lines or
// more than 20% of the previous count.
func complexityChanged(before, after int) bool {
	d := math.Abs(float64(after - before))
	return d > 3 || d > 0.2*float64(before)
}

// set renders a deduplicated, sorted, comma-joined value set.
func set(items []string) string {
	return strings.Join(sorted(items), ",")
}

func sorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// delta renders ": +a +b -c" for the items gained and lost.
func delta(old, cur []string) string {
	was := make(map[string]bool, len(old))
	for _, s := range old {
		was[s] = true
	}
	is := make(map[string]bool, len(cur))
	for _, s := range cur {
		is[s] = true
	}
	var parts []string
	for _, s := range sorted(cur) {
		if !was[s] {
			parts = append(parts, "+"+s)
		}
	}
	for _, s := range sorted(old) {
		if !is[s] {
			parts = append(parts, "-"+s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return ": " + strings.Join(parts, " ")
}
