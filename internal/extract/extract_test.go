package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/canon/internal/store"
)

func extractSource(t *testing.T, src string) *Result {
	t.Helper()
	res, err := Extract(context.Background(), "test.py", []byte(src))
	require.NoError(t, err)
	return res
}

func componentByName(t *testing.T, res *Result, qn string) *Component {
	t.Helper()
	for _, c := range res.Components {
		if c.QualifiedName == qn {
			return c
		}
	}
	t.Fatalf("component %q not found", qn)
	return nil
}

func symbolByName(syms []Symbol, name string) *Symbol {
	for i := range syms {
		if syms[i].Name == name {
			return &syms[i]
		}
	}
	return nil
}

// =============================================================================
// Components
// =============================================================================

func TestExtract_NestedComponents(t *testing.T) {
	src := `class Outer:
    def method(self):
        def helper():
            pass
        return helper

    class Inner:
        async def run(self):
            pass

def top():
    pass
`
	res := extractSource(t, src)

	type want struct {
		qn, kind, parent string
		order, depth     int
	}
	expected := []want{
		{"Outer", store.KindClass, "", 0, 0},
		{"Outer.method", store.KindMethod, "Outer", 1, 1},
		{"Outer.method.helper", store.KindFunction, "Outer.method", 2, 2},
		{"Outer.Inner", store.KindClass, "Outer", 3, 1},
		{"Outer.Inner.run", store.KindMethod, "Outer.Inner", 4, 2},
		{"top", store.KindFunction, "", 5, 0},
	}
	require.Len(t, res.Components, len(expected))
	for i, w := range expected {
		c := res.Components[i]
		assert.Equal(t, w.qn, c.QualifiedName)
		assert.Equal(t, w.kind, c.Kind, w.qn)
		assert.Equal(t, w.parent, c.Parent, w.qn)
		assert.Equal(t, w.order, c.OrderIndex, w.qn)
		assert.Equal(t, w.depth, c.Depth, w.qn)
	}

	run := componentByName(t, res, "Outer.Inner.run")
	assert.True(t, run.Hints.Async)
	assert.Equal(t, "        ", run.Hints.IndentText)
	assert.True(t, strings.HasPrefix(run.Segment, "async def run"))

	top := componentByName(t, res, "top")
	assert.Equal(t, 11, top.StartLine)
	assert.Equal(t, 12, top.EndLine)
	assert.Equal(t, "def top():\n    pass", top.Segment)
	assert.Len(t, res.TopLevel(), 2)
}

func TestExtract_HashesAreStableUnderFormatting(t *testing.T) {
	a := extractSource(t, "def f(x):\n    return x + 1\n")
	b := extractSource(t, "def f( x ):  # note\n    return   x+1\n")

	assert.Equal(t, a.ASTHash, b.ASTHash)
	assert.NotEqual(t, a.ContentHash, b.ContentHash)

	fa, fb := a.Components[0], b.Components[0]
	assert.Equal(t, fa.CommittedHash, fb.CommittedHash)
	assert.Equal(t, fa.StructuralHash, fb.StructuralHash)
	assert.NotEqual(t, fa.SourceHash, fb.SourceHash)

	c := extractSource(t, "def f(x):\n    return x + 2\n")
	assert.NotEqual(t, a.ASTHash, c.ASTHash)
	assert.NotEqual(t, fa.CommittedHash, c.Components[0].CommittedHash)
}

func TestExtract_LayoutReconstructsSource(t *testing.T) {
	src := "import os\n\n\n@cache\n@other(1)\ndef f():\n    return 1\n\n# trailing module comment\nX = 2\n\nclass A:\n    def m(self):\n        pass\n"
	res := extractSource(t, src)

	var sb strings.Builder
	for _, c := range res.TopLevel() {
		sb.WriteString(c.Hints.GapBefore)
		for _, d := range c.Hints.Decorators {
			sb.WriteString(d + "\n" + c.Hints.IndentText)
		}
		sb.WriteString(c.Segment)
	}
	sb.WriteString(res.Tail)
	assert.Equal(t, src, sb.String())

	f := componentByName(t, res, "f")
	assert.Equal(t, []string{"@cache", "@other(1)"}, f.Hints.Decorators)
	assert.Equal(t, "import os\n\n\n", f.Hints.GapBefore)
	assert.Equal(t, "\n", res.Tail)
}

func TestExtract_Docstring(t *testing.T) {
	res := extractSource(t, "def f():\n    r'''Doc\n    more.'''\n    return 1\n")
	d := res.Components[0].Hints.Docstring
	require.NotNil(t, d)
	assert.Equal(t, "'''", d.Quote)
	assert.Equal(t, "r", d.Prefix)
	assert.Equal(t, 2, d.Lines)
}

func TestExtract_ParseError(t *testing.T) {
	_, err := Extract(context.Background(), "bad.py", []byte("def f(:\n    pass\n"))
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "bad.py", perr.Path)
	assert.Equal(t, 1, perr.Line)
	assert.Contains(t, perr.Error(), "bad.py")
}

func TestExtract_EmptyFile(t *testing.T) {
	res := extractSource(t, "# only a comment\n")
	assert.Empty(t, res.Components)
	assert.Equal(t, "# only a comment\n", res.Tail)
}

// =============================================================================
// Symbols
// =============================================================================

func TestExtract_Symbols(t *testing.T) {
	src := `COUNT = 0

def f(a, b: int = 2, *args, **kw):
    global COUNT
    COUNT += 1
    x = a + b
    ys = [y * x for y in args]
    def inner():
        return x
    return inner
`
	res := extractSource(t, src)
	f := componentByName(t, res, "f")

	cases := []struct {
		name, level, access string
		param               bool
	}{
		{"a", store.ScopeParameter, store.AccessBoth, true},
		{"b", store.ScopeParameter, store.AccessBoth, true},
		{"args", store.ScopeParameter, store.AccessBoth, true},
		{"kw", store.ScopeParameter, store.AccessWrite, true},
		{"COUNT", store.ScopeGlobal, store.AccessBoth, false},
		{"x", store.ScopeLocal, store.AccessBoth, false},
		{"ys", store.ScopeLocal, store.AccessWrite, false},
		{"inner", store.ScopeLocal, store.AccessBoth, false},
	}
	for _, tc := range cases {
		s := symbolByName(f.Symbols, tc.name)
		require.NotNil(t, s, tc.name)
		assert.Equal(t, tc.level, s.ScopeLevel, tc.name)
		assert.Equal(t, tc.access, s.Access, tc.name)
		assert.Equal(t, tc.param, s.IsParam, tc.name)
	}
	assert.Equal(t, "int", symbolByName(f.Symbols, "b").TypeHint)
	for _, tc := range cases {
		assert.Equal(t, 0, symbolByName(f.Symbols, tc.name).Scope, tc.name)
	}
	y := symbolByName(f.Symbols, "y")
	require.NotNil(t, y, "comprehension targets are symbols of the comprehension")
	assert.Equal(t, 1, y.Scope)
	assert.Equal(t, store.ScopeLocal, y.ScopeLevel)
	assert.Equal(t, store.AccessBoth, y.Access)
	assert.Len(t, f.Symbols, len(cases)+1)

	require.Len(t, f.Scopes, 2)
	assert.Equal(t, "function", f.Scopes[0].Kind)
	assert.Equal(t, "comprehension", f.Scopes[1].Kind)
	assert.Equal(t, 0, f.Scopes[1].Parent)

	inner := componentByName(t, res, "f.inner")
	x := symbolByName(inner.Symbols, "x")
	require.NotNil(t, x)
	assert.Equal(t, store.ScopeNonlocal, x.ScopeLevel)
	assert.Equal(t, store.AccessRead, x.Access)
}

func TestExtract_ComprehensionTargetOwnedByChildScope(t *testing.T) {
	res := extractSource(t, "def f(xs):\n    y = [x * 2 for x in xs]\n    return y\n")
	f := componentByName(t, res, "f")

	require.Len(t, f.Scopes, 2)
	assert.Equal(t, "comprehension", f.Scopes[1].Kind)

	x := symbolByName(f.Symbols, "x")
	require.NotNil(t, x)
	assert.Equal(t, 1, x.Scope)
	assert.Equal(t, store.ScopeLocal, x.ScopeLevel)
	assert.Equal(t, store.AccessBoth, x.Access)
	assert.Equal(t, 0, symbolByName(f.Symbols, "xs").Scope)
	assert.Equal(t, 0, symbolByName(f.Symbols, "y").Scope)
}

func TestExtract_LambdaParametersOwnedByChildScope(t *testing.T) {
	res := extractSource(t, "def f(items):\n    key = lambda item, n: item[n]\n    return sorted(items, key=key)\n")
	f := componentByName(t, res, "f")

	require.Len(t, f.Scopes, 2)
	assert.Equal(t, "lambda", f.Scopes[1].Kind)
	assert.Equal(t, 0, f.Scopes[1].Parent)

	for _, name := range []string{"item", "n"} {
		s := symbolByName(f.Symbols, name)
		require.NotNil(t, s, name)
		assert.Equal(t, 1, s.Scope, name)
		assert.Equal(t, store.ScopeParameter, s.ScopeLevel, name)
		assert.True(t, s.IsParam, name)
		assert.Equal(t, store.AccessBoth, s.Access, name)
	}
	key := symbolByName(f.Symbols, "key")
	require.NotNil(t, key)
	assert.Equal(t, 0, key.Scope)
}

func TestExtract_NestedComprehensionShadowing(t *testing.T) {
	res := extractSource(t, "def f(rows):\n    return [[v for v in row] for row in rows]\n")
	f := componentByName(t, res, "f")

	require.Len(t, f.Scopes, 3)
	assert.Equal(t, 0, f.Scopes[1].Parent)
	assert.Equal(t, 1, f.Scopes[2].Parent)

	assert.Equal(t, 1, symbolByName(f.Symbols, "row").Scope)
	assert.Equal(t, 2, symbolByName(f.Symbols, "v").Scope)
	assert.Equal(t, 0, symbolByName(f.Symbols, "rows").Scope)
}

func TestExtract_GlobalReadWithoutDeclaration(t *testing.T) {
	src := "LIMIT = 10\n\ndef check(n):\n    print(n)\n    return n < LIMIT\n"
	res := extractSource(t, src)
	s := symbolByName(res.Components[0].Symbols, "LIMIT")
	require.NotNil(t, s)
	assert.Equal(t, store.ScopeGlobal, s.ScopeLevel)
	assert.Equal(t, store.AccessRead, s.Access)
	assert.Nil(t, symbolByName(res.Components[0].Symbols, "print"), "builtins are not symbols")
}

// =============================================================================
// Calls and imports
// =============================================================================

func TestExtract_Calls(t *testing.T) {
	src := `import os
from app import views as v

setup()

@app.route("/x")
def handler(req):
    data = load(req)
    obj . method()
    return os.path.join(data, "y")
`
	res := extractSource(t, src)
	require.Len(t, res.Components, 1)
	h := res.Components[0]

	require.Len(t, h.Calls, 4)
	assert.Equal(t, Call{Text: "app.route", Line: 6, IsDecorator: true}, h.Calls[0])
	assert.Equal(t, Call{Text: "load", Line: 8}, h.Calls[1])
	assert.Equal(t, Call{Text: "obj.method", Line: 9}, h.Calls[2])
	assert.Equal(t, Call{Text: "os.path.join", Line: 10}, h.Calls[3])

	assert.Equal(t, []string{"os"}, h.Imports)
	targets := res.ImportTargets()
	assert.Equal(t, "os", targets["os"])
	assert.Equal(t, "app.views", targets["v"])
}

func TestExtract_WildcardImportMakesImportsUnknown(t *testing.T) {
	res := extractSource(t, "from m import *\n\ndef f():\n    return g()\n")
	assert.True(t, res.WildcardImport)
	assert.Nil(t, res.Components[0].Imports)
}

func TestExtract_CallsOwnedByInnermostComponent(t *testing.T) {
	src := "def outer():\n    a()\n    def inner():\n        b()\n    c()\n"
	res := extractSource(t, src)
	outer := componentByName(t, res, "outer")
	inner := componentByName(t, res, "outer.inner")

	var outerCalls []string
	for _, c := range outer.Calls {
		outerCalls = append(outerCalls, c.Text)
	}
	assert.Equal(t, []string{"a", "c"}, outerCalls)
	require.Len(t, inner.Calls, 1)
	assert.Equal(t, "b", inner.Calls[0].Text)
}

// =============================================================================
// Directives
// =============================================================================

func TestExtract_Directives(t *testing.T) {
	src := `# helper comment
# @pure(confidence=0.7) @unknown
def f():  # @extract
    pass

# @do-not-extract

def g():
    pass

# @io-boundary
@decorated
def h():
    pass
`
	res := extractSource(t, src)

	f := componentByName(t, res, "f")
	require.Len(t, f.Directives, 2)
	assert.Equal(t, DirectivePure, f.Directives[0].Name)
	assert.InDelta(t, 0.7, f.Directives[0].Confidence, 1e-9)
	assert.Equal(t, "confidence=0.7", f.Directives[0].Payload)
	assert.Equal(t, 2, f.Directives[0].Line)
	assert.Equal(t, DirectiveExtract, f.Directives[1].Name)
	assert.InDelta(t, 1.0, f.Directives[1].Confidence, 1e-9)
	assert.Equal(t, 3, f.Directives[1].Line)
	assert.Equal(t, "# @extract", f.Hints.TrailingComment)
	assert.Equal(t, []string{"# helper comment", "# @pure(confidence=0.7) @unknown"}, f.Hints.LeadingComments)

	g := componentByName(t, res, "g")
	assert.Empty(t, g.Directives, "a blank line detaches the comment block")

	h := componentByName(t, res, "h")
	require.Len(t, h.Directives, 1)
	assert.Equal(t, DirectiveIOBoundary, h.Directives[0].Name)
}

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "# @pure", []string{DirectivePure}},
		{"multiple", "# @extract @service_candidate", []string{DirectiveExtract, DirectiveServiceCandidate}},
		{"hyphenated", "# @do-not-extract", []string{DirectiveDoNotExtract}},
		{"unknown ignored", "# @frobnicate", nil},
		{"duplicate kept once", "# @pure @pure", []string{DirectivePure}},
		{"no directive", "# just words", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, d := range parseDirectives([]lineComment{{text: tt.text, line: 1}}) {
				got = append(got, d.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
