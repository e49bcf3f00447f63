package canon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/canon/internal/config"
	"github.com/jward/canon/internal/metrics"
	"github.com/jward/canon/internal/store"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := New(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func ingest(t *testing.T, e *Engine, path, src string) *IngestResult {
	t.Helper()
	res, err := e.Ingest(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return res
}

func liveByName(t *testing.T, e *Engine, path string) map[string]*Component {
	t.Helper()
	comps, err := e.Query().Components(path, 0)
	require.NoError(t, err)
	out := make(map[string]*Component, len(comps))
	for _, c := range comps {
		out[c.QualifiedName] = c
	}
	return out
}

func classifications(t *testing.T, e *Engine, path string, version int) map[string]string {
	t.Helper()
	history, err := e.Query().History(path)
	require.NoError(t, err)
	out := make(map[string]string)
	for _, h := range history {
		if h.VersionNumber == version {
			out[h.QualifiedName] = h.Classification
		}
	}
	return out
}

const singleFunction = "def f():\n    pass\n"

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/dir/db.sqlite")
	require.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Readiness.Threshold = 2
	_, err := New(filepath.Join(t.TempDir(), "test.db"), WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readiness.threshold")
}

func TestClose(t *testing.T) {
	e, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

// =============================================================================
// Ingestion scenarios
// =============================================================================

func TestIngest_FirstVersion(t *testing.T) {
	e := newTestEngine(t)
	res := ingest(t, e, "mod.py", singleFunction)

	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 1, res.ComponentCount)
	assert.Empty(t, res.DriftEvents)
	assert.Equal(t, store.GatePass, res.Gate)
	assert.Equal(t, store.ProofPass, res.ProofStatus)
	assert.Nil(t, res.ProofFailure)
	assert.Equal(t, "+1 −0 ~0", res.ChangeSummary)
	assert.NotEmpty(t, res.FileID)

	assert.Equal(t, map[string]string{"f": store.Added}, classifications(t, e, "mod.py", 1))
}

func TestIngest_UnchangedReingest(t *testing.T) {
	e := newTestEngine(t)
	ingest(t, e, "mod.py", singleFunction)
	first := liveByName(t, e, "mod.py")["f"]
	require.NotNil(t, first)

	res := ingest(t, e, "mod.py", singleFunction)
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, "+0 −0 ~0", res.ChangeSummary)
	assert.Empty(t, res.DriftEvents)

	second := liveByName(t, e, "mod.py")["f"]
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, map[string]string{"f": store.Unchanged}, classifications(t, e, "mod.py", 2))

	versions, err := e.Query().Versions("mod.py")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.NotNil(t, versions[1].PreviousVersionID)
	assert.Equal(t, versions[0].ID, *versions[1].PreviousVersionID)
}

func TestIngest_ModifiedWithNewCallee(t *testing.T) {
	e := newTestEngine(t)
	ingest(t, e, "mod.py", singleFunction)

	res := ingest(t, e, "mod.py", "def f():\n    g()\n\n\ndef g():\n    pass\n")
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, "+1 −0 ~1", res.ChangeSummary)
	assert.Equal(t, map[string]string{"f": store.Modified, "g": store.Added}, classifications(t, e, "mod.py", 2))

	require.Len(t, res.DriftEvents, 1)
	ev := res.DriftEvents[0]
	assert.Equal(t, store.CategoryCallGraph, ev.Category)
	assert.Equal(t, store.SeverityMedium, ev.Severity)
	assert.Equal(t, "f", ev.QualifiedName)

	live := liveByName(t, e, "mod.py")
	edges, err := e.Query().CallEdges(live["f"].ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, store.EdgeInternal, edges[0].Kind)
	require.NotNil(t, edges[0].CalleeID)
	assert.Equal(t, live["g"].ID, *edges[0].CalleeID)

	events, err := e.Query().DriftEvents("mod.py", 1, 2)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestIngest_PureComponentPerformingIO(t *testing.T) {
	e := newTestEngine(t)
	src := "# @pure\ndef f():\n    return open(\"data.txt\")\n\n\ndef g(x):\n    return x + 1\n"
	res := ingest(t, e, "mod.py", src)

	var errs []GovernanceViolation
	for _, v := range res.Violations {
		if v.Severity == store.SeverityError {
			errs = append(errs, v)
		}
	}
	require.Len(t, errs, 1)
	assert.Equal(t, "compute_isolation", errs[0].Rule)
	assert.Equal(t, "f", errs[0].QualifiedName)
	assert.Equal(t, store.GateBlocked, res.Gate)

	gate, err := e.Query().Gate("mod.py")
	require.NoError(t, err)
	require.NotNil(t, gate)
	assert.Equal(t, store.GateBlocked, gate.Status)
	assert.Equal(t, 1, gate.Errors)

	ready, err := e.Readiness(context.Background(), "mod.py")
	require.NoError(t, err)
	require.NotNil(t, ready)
	assert.Equal(t, store.GateBlocked, ready.Gate)
	assert.Empty(t, ready.Components)
}

func TestIngest_CallCycle(t *testing.T) {
	e := newTestEngine(t)
	src := "# @extract\ndef a():\n    b()\n\n\ndef b():\n    c()\n\n\ndef c():\n    a()\n"
	res := ingest(t, e, "mod.py", src)

	cycles, err := e.Query().Cycles("mod.py")
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "a → b → c → a", cycles[0].Path())

	var circular []GovernanceViolation
	for _, v := range res.Violations {
		if v.Rule == "circular_dependency" {
			circular = append(circular, v)
		}
	}
	require.Len(t, circular, 1)
	assert.Equal(t, store.SeverityWarning, circular[0].Severity)
	assert.Contains(t, circular[0].Description, "a → b → c → a")
	assert.Equal(t, store.GatePass, res.Gate)
}

func TestIngest_CallCycleWithoutDirectivesIsSilent(t *testing.T) {
	e := newTestEngine(t)
	res := ingest(t, e, "mod.py", "def a():\n    b()\n\n\ndef b():\n    a()\n")
	for _, v := range res.Violations {
		assert.NotEqual(t, "circular_dependency", v.Rule)
	}
	cycles, err := e.Query().Cycles("mod.py")
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}

func TestIngest_RemovedComponent(t *testing.T) {
	e := newTestEngine(t)
	ingest(t, e, "mod.py", "def f():\n    pass\n\n\ndef g():\n    pass\n")
	removedID := liveByName(t, e, "mod.py")["f"].ID

	res := ingest(t, e, "mod.py", "def g():\n    pass\n")
	assert.Equal(t, 1, res.ComponentCount)
	assert.Equal(t, "+0 −1 ~0", res.ChangeSummary)
	assert.Equal(t, map[string]string{"g": store.Unchanged, "f": store.Removed}, classifications(t, e, "mod.py", 2))

	live := liveByName(t, e, "mod.py")
	assert.NotContains(t, live, "f")
	assert.Contains(t, live, "g")

	// A later version does not erase the REMOVED row.
	ingest(t, e, "mod.py", "def g():\n    return 1\n")
	history, err := e.Query().History("mod.py")
	require.NoError(t, err)
	var found bool
	for _, h := range history {
		if h.Classification == store.Removed && h.QualifiedName == "f" {
			found = true
			require.NotNil(t, h.ComponentID)
			assert.Equal(t, removedID, *h.ComponentID)
		}
	}
	assert.True(t, found, "REMOVED history row retained")
}

// =============================================================================
// Failures roll back
// =============================================================================

func TestIngest_ParseErrorRollsBack(t *testing.T) {
	e := newTestEngine(t)
	ingest(t, e, "mod.py", singleFunction)

	_, err := e.Ingest(context.Background(), "mod.py", []byte("def f(:\n    pass\n"))
	require.Error(t, err)

	var ierr *IngestError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "mod.py", ierr.Path)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, perr.Line)

	versions, err := e.Query().Versions("mod.py")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Contains(t, liveByName(t, e, "mod.py"), "f")
}

func TestIngest_DuplicateComponentRollsBack(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Ingest(context.Background(), "dup.py", []byte("def f():\n    pass\n\n\ndef f():\n    return 1\n"))
	require.Error(t, err)

	var derr *DuplicateComponentError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "f", derr.QualifiedName)
	assert.Equal(t, 1, derr.FirstLine)
	assert.Equal(t, 5, derr.SecondLine)

	f, err := e.Store().FileByPath("dup.py")
	require.NoError(t, err)
	assert.Nil(t, f, "no file row survives a rolled-back first ingestion")
}

func TestIngest_CancelledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Ingest(ctx, "mod.py", []byte(singleFunction))
	require.Error(t, err)

	f, err := e.Store().FileByPath("mod.py")
	require.NoError(t, err)
	assert.Nil(t, f)
}

// =============================================================================
// Properties
// =============================================================================

func TestIngest_ConcurrentReingestsNeverShareAVersion(t *testing.T) {
	e := newTestEngine(t)
	const n = 8

	var wg sync.WaitGroup
	numbers := make([]int, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Ingest(context.Background(), "mod.py", []byte(singleFunction))
			errs[i] = err
			if err == nil {
				numbers[i] = res.Version
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Ints(numbers)
	for i, v := range numbers {
		assert.Equal(t, i+1, v)
	}
}

func TestIngest_IdentityStableAcrossReorder(t *testing.T) {
	e := newTestEngine(t)
	ingest(t, e, "mod.py", "def a():\n    pass\n\n\ndef b():\n    return 2\n")
	before := liveByName(t, e, "mod.py")

	ingest(t, e, "mod.py", "def b():\n    return 2\n\n\ndef a():\n    pass\n")
	after := liveByName(t, e, "mod.py")

	assert.Equal(t, before["a"].ID, after["a"].ID)
	assert.Equal(t, before["b"].ID, after["b"].ID)
	assert.Equal(t, 0, after["b"].OrderIndex)
}

func TestIngest_LiveRowsReplacedNotDuplicated(t *testing.T) {
	e := newTestEngine(t)
	for range 3 {
		ingest(t, e, "mod.py", "def f(x):\n    return len(x)\n")
	}
	comps, err := e.Query().Components("mod.py", 0)
	require.NoError(t, err)
	require.Len(t, comps, 1)

	edges, err := e.Query().CallEdges(comps[0].ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
	syms, err := e.Query().Symbols(comps[0].ID)
	require.NoError(t, err)
	assert.Len(t, syms, 1)
}

func TestIngest_UnresolvedCallsAreData(t *testing.T) {
	e := newTestEngine(t)
	res := ingest(t, e, "mod.py", "def f():\n    mystery()\n")
	assert.Equal(t, 1, res.UnresolvedCalls)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "mystery", res.Warnings[0].CalleeText)
	assert.Equal(t, store.GatePass, res.Gate)
}

func TestReverify_StoredVersionRebuilds(t *testing.T) {
	e := newTestEngine(t)
	src := "import os\n\n\n@cache\ndef load(path):\n    return os.path.join(path, \"x\")\n\n\nclass Box:\n    def get(self):\n        return 1\n\nprint(\"done\")\n"
	res := ingest(t, e, "mod.py", src)
	require.Equal(t, store.ProofPass, res.ProofStatus)

	p, err := e.Reverify(context.Background(), "mod.py")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, store.ProofPass, p.Status)
	assert.Equal(t, 1, p.VersionNumber)

	again, err := e.Reverify(context.Background(), "mod.py")
	require.NoError(t, err)
	assert.Equal(t, p.RebuiltRawHash, again.RebuiltRawHash)

	missing, err := e.Reverify(context.Background(), "nope.py")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIngest_StoredProofMatchesReverify(t *testing.T) {
	e := newTestEngine(t)
	src := "import os\n\n\n@cache\ndef load(path):\n    return os.path.join(path, \"x\")\n\n\nclass Box:\n    def get(self):\n        return 1\n\nprint(\"done\")\n"
	res := ingest(t, e, "mod.py", src)

	stored, err := e.Query().Proof("mod.py", 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	again, err := e.Reverify(context.Background(), "mod.py")
	require.NoError(t, err)
	require.NotNil(t, again)

	assert.Equal(t, res.ProofStatus, stored.Status)
	assert.Equal(t, again.Status, stored.Status)
	assert.Equal(t, again.RebuiltRawHash, stored.RebuiltRawHash)
	assert.Equal(t, again.RebuiltASTHash, stored.RebuiltASTHash)
	assert.Equal(t, again.StructuralMatch, stored.StructuralMatch)
	assert.Equal(t, res.VersionID, stored.VersionID)
}

func TestProveStored_UsesRowsVisibleInTx(t *testing.T) {
	e := newTestEngine(t)
	res := ingest(t, e, "mod.py", "def f():\n    return 1\n")

	err := e.store.InTx(context.Background(), func(tx *store.Tx) error {
		ver, err := tx.LatestVersion(res.FileID)
		require.NoError(t, err)
		require.NotNil(t, ver)
		p, err := proveStored(context.Background(), tx, "mod.py", res.FileID, ver)
		require.NoError(t, err)
		assert.Equal(t, store.ProofPass, p.Status)
		assert.Equal(t, ver.ContentHash, p.RebuiltRawHash)

		// A version whose recorded hash disagrees with the stored rows fails.
		tampered := *ver
		tampered.ContentHash = "not-the-hash"
		p, err = proveStored(context.Background(), tx, "mod.py", res.FileID, &tampered)
		require.NoError(t, err)
		assert.False(t, p.RawMatch)
		return nil
	})
	require.NoError(t, err)
}

func TestIngest_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := newTestEngine(t, WithMetrics(m))

	ingest(t, e, "mod.py", singleFunction)
	_, err := e.Ingest(context.Background(), "bad.py", []byte("def (:\n"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingestions.WithLabelValues(metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingestions.WithLabelValues(metrics.StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Proofs.WithLabelValues(store.ProofPass)))
}

// =============================================================================
// Batch ingestion
// =============================================================================

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestIngestDirectory_FiltersAndSkips(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py":               singleFunction,
		"pkg/b.py":           "def g():\n    return 1\n",
		"pkg/test_b.py":      "def test_g():\n    pass\n",
		".hidden/c.py":       singleFunction,
		"venv/lib/d.py":      singleFunction,
		"__pycache__/e.py":   singleFunction,
		"notes.txt":          "not python",
		"pkg/data/readme.md": "# docs",
	})
	cfg := config.DefaultConfig()
	cfg.Ingest.Exclude = []string{"**/test_*.py"}
	cfg.Ingest.Workers = 2
	e := newTestEngine(t, WithConfig(cfg))

	results, err := e.IngestDirectory(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"a.py", "pkg/b.py"}, paths)

	f, err := e.Store().FileByPath("pkg/b.py")
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestIngestFiles_CollectsErrors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"ok.py":  singleFunction,
		"bad.py": "def (:\n",
	})
	e := newTestEngine(t)

	results, err := e.IngestFiles(context.Background(), []string{
		filepath.Join(root, "ok.py"),
		filepath.Join(root, "bad.py"),
		filepath.Join(root, "missing.py"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 error(s)")
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Version)
}

func TestIngestFile_ReadsFromDisk(t *testing.T) {
	root := writeTree(t, map[string]string{"mod.py": singleFunction})
	e := newTestEngine(t)

	path := filepath.Join(root, "mod.py")
	res, err := e.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(path), res.Path)

	_, err = e.IngestFile(context.Background(), filepath.Join(root, "nope.py"))
	var ierr *IngestError
	require.True(t, errors.As(err, &ierr))
}
