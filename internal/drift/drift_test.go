package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/canon/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snap(qn, hash string, start, end int) Snapshot {
	return Snapshot{ID: "id-" + qn + "-" + hash, QualifiedName: qn, Kind: store.KindFunction, SourceHash: hash, StartLine: start, EndLine: end, Imports: []string{}}
}

func TestDetect_InitialSnapshot(t *testing.T) {
	r := Detect(nil, []Snapshot{snap("f", "h1", 1, 3), snap("g", "h2", 5, 7)}, false, now)

	assert.Equal(t, 2, r.Added)
	assert.Empty(t, r.Events)
	assert.Equal(t, "+2 −0 ~0", r.Summary())
	for _, h := range r.History {
		assert.Equal(t, store.Added, h.Classification)
	}
}

func TestDetect_NoPredecessorIgnoresPrev(t *testing.T) {
	r := Detect([]Snapshot{snap("f", "h0", 1, 3)}, []Snapshot{snap("f", "h1", 1, 3)}, false, now)
	assert.Equal(t, store.Added, r.Classification("f"))
	assert.Equal(t, 0, r.Removed)
}

func TestDetect_Classifications(t *testing.T) {
	prev := []Snapshot{snap("keep", "a", 1, 2), snap("edit", "b", 4, 6), snap("gone", "c", 8, 9)}
	cur := []Snapshot{snap("keep", "a", 1, 2), snap("edit", "b2", 4, 6), snap("fresh", "d", 8, 9)}
	r := Detect(prev, cur, true, now)

	assert.Equal(t, store.Unchanged, r.Classification("keep"))
	assert.Equal(t, store.Modified, r.Classification("edit"))
	assert.Equal(t, store.Added, r.Classification("fresh"))
	assert.Equal(t, store.Removed, r.Classification("gone"))
	assert.Len(t, r.History, 4, "one row per qualified name in the union")
	assert.Equal(t, "+1 −1 ~1", r.Summary())

	require.NotNil(t, r.History[3].ComponentID)
	assert.Equal(t, "id-gone-c", *r.History[3].ComponentID)
}

func TestDetect_UnchangedRerun(t *testing.T) {
	s := []Snapshot{snap("f", "h", 1, 3)}
	r := Detect(s, s, true, now)
	assert.Equal(t, "+0 −0 ~0", r.Summary())
	assert.Empty(t, r.Events)
}

// =============================================================================
// Event categories
// =============================================================================

func TestDetect_CallGraphChange(t *testing.T) {
	p := snap("f", "h1", 1, 2)
	c := snap("f", "h2", 1, 2)
	c.Callees = []string{"g"}
	r := Detect([]Snapshot{p}, []Snapshot{c}, true, now)

	require.Len(t, r.Events, 1)
	e := r.Events[0]
	assert.Equal(t, store.CategoryCallGraph, e.Category)
	assert.Equal(t, store.SeverityMedium, e.Severity)
	assert.Equal(t, "", e.OldValue)
	assert.Equal(t, "g", e.NewValue)
	assert.Contains(t, e.Description, "+g")
	assert.Equal(t, now, e.DetectedAt)
}

func TestDetect_CallGraphIgnoresRepeats(t *testing.T) {
	p := snap("f", "h1", 1, 2)
	p.Callees = []string{"g"}
	c := snap("f", "h2", 1, 2)
	c.Callees = []string{"g", "g"}
	r := Detect([]Snapshot{p}, []Snapshot{c}, true, now)
	assert.Empty(t, r.Events)
}

func TestDetect_SymbolChange(t *testing.T) {
	p := snap("f", "h1", 1, 2)
	p.Symbols = []string{SymbolKey("x", store.ScopeLocal)}
	c := snap("f", "h2", 1, 2)
	c.Symbols = []string{SymbolKey("x", store.ScopeGlobal)}
	r := Detect([]Snapshot{p}, []Snapshot{c}, true, now)

	require.Len(t, r.Events, 1)
	assert.Equal(t, store.CategorySymbol, r.Events[0].Category)
	assert.Equal(t, store.SeverityLow, r.Events[0].Severity)
}

func TestDetect_ImportChange(t *testing.T) {
	p := snap("f", "h1", 1, 2)
	p.Imports = []string{"os"}
	c := snap("f", "h2", 1, 2)
	c.Imports = []string{"os", "requests"}
	r := Detect([]Snapshot{p}, []Snapshot{c}, true, now)

	require.Len(t, r.Events, 1)
	assert.Equal(t, store.CategoryImport, r.Events[0].Category)
	assert.Equal(t, store.SeverityHigh, r.Events[0].Severity)
	assert.Equal(t, "os,requests", r.Events[0].NewValue)
}

func TestDetect_ImportUnknownSkipsCheck(t *testing.T) {
	p := snap("f", "h1", 1, 2)
	p.Imports = nil
	c := snap("f", "h2", 1, 2)
	c.Imports = []string{"os"}
	c.Callees = []string{"os.getcwd"}
	r := Detect([]Snapshot{p}, []Snapshot{c}, true, now)

	require.Len(t, r.Events, 1, "other categories still run")
	assert.Equal(t, store.CategoryCallGraph, r.Events[0].Category)
}

func TestComplexityThresholds(t *testing.T) {
	tests := []struct {
		before, after int
		want          bool
	}{
		{10, 13, true},   // 30%
		{20, 23, false},  // 15%, 3 lines
		{20, 24, true},   // 4 lines
		{100, 104, true}, // 4 lines
		{100, 103, false},
		{0, 1, true},
		{5, 5, false},
		{10, 7, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, complexityChanged(tt.before, tt.after), "%d -> %d", tt.before, tt.after)
	}
}

func TestDetect_Stamp(t *testing.T) {
	p := snap("f", "h1", 1, 2)
	c := snap("f", "h2", 1, 20)
	r := Detect([]Snapshot{p}, []Snapshot{c}, true, now)
	r.Stamp("file-1", "ver-2", 2)

	require.Len(t, r.Events, 1)
	assert.Equal(t, store.CategoryComplexity, r.Events[0].Category)
	assert.Equal(t, "1", r.Events[0].OldValue)
	assert.Equal(t, "19", r.Events[0].NewValue)
	assert.Equal(t, 2, r.Events[0].VersionNumber)
	assert.Equal(t, "ver-2", r.History[0].VersionID)
	assert.Equal(t, "file-1", r.History[0].FileID)
}
