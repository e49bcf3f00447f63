package score_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/canon/internal/runtime"
)

// scoreSegment runs io_penalty.risor from this directory over one
// component.
func scoreSegment(t *testing.T, segment string, directives ...string) float64 {
	t.Helper()
	rt := runtime.NewRuntime(".")
	got, err := rt.Score(context.Background(), "io_penalty.risor", runtime.ScoreInput{
		QualifiedName: "f",
		Kind:          "function",
		Directives:    directives,
		Segment:       segment,
		BaseScore:     0.8,
	})
	require.NoError(t, err)
	return got
}

func TestIOPenalty_PureFunctionKeepsBaseScore(t *testing.T) {
	got := scoreSegment(t, "def f(x):\n    return len(x)")
	assert.InDelta(t, 0.8, got, 1e-9)
}

func TestIOPenalty_EachIOCallCosts(t *testing.T) {
	got := scoreSegment(t, "def f(path):\n    data = open(path).read()\n    print(data)\n    return data")
	assert.InDelta(t, 0.4, got, 1e-9)
}

func TestIOPenalty_ExtractDirectiveBonus(t *testing.T) {
	got := scoreSegment(t, "def f(x):\n    print(x)", "extract")
	assert.InDelta(t, 0.7, got, 1e-9)
}

func TestIOPenalty_ClampedAtZero(t *testing.T) {
	got := scoreSegment(t, "def f():\n    print(1)\n    print(2)\n    print(3)\n    print(4)\n    print(5)")
	assert.Equal(t, 0.0, got)
}
