package main_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles the canon CLI into a temp directory.
func buildBinary(t *testing.T) string {
	t.Helper()
	binName := "canon"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	bin := filepath.Join(t.TempDir(), binName)
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = filepath.Join(projectRoot(t), "cmd", "canon")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(out))
	return bin
}

// projectRoot walks up from the test file's directory to find go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "could not find project root")
		dir = parent
	}
}

const fixtureSource = `import os


def load(path):
    return os.path.exists(path)


def main():
    return load("config.ini")
`

// createFixture writes a one-file Python workspace.
func createFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte(fixtureSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# fixture\n"), 0o644))
	return dir
}

// run executes the CLI in dir and decodes the CLIResult envelope.
func run(t *testing.T, bin, dir string, args ...string) map[string]any {
	t.Helper()
	fullArgs := append([]string{"--root", dir, "--db", filepath.Join(dir, ".canon", "canon.db")}, args...)
	cmd := exec.Command(bin, fullArgs...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "HOME="+t.TempDir())
	stdout, err := cmd.Output()
	if err != nil && len(stdout) == 0 {
		t.Fatalf("%v failed with no output: %v", args, err)
	}

	var result map[string]any
	require.NoError(t, json.Unmarshal(stdout, &result), "invalid JSON output: %s", string(stdout))
	return result
}

// ingestFixture builds the binary and ingests a fixture workspace.
func ingestFixture(t *testing.T) (bin, dir string) {
	t.Helper()
	bin = buildBinary(t)
	dir = createFixture(t)

	result := run(t, bin, dir, "ingest")
	require.Empty(t, result["error"])
	require.FileExists(t, filepath.Join(dir, ".canon", "canon.db"))
	return bin, dir
}

func componentIDs(t *testing.T, result map[string]any) map[string]string {
	t.Helper()
	comps, ok := result["results"].([]any)
	require.True(t, ok, "results should be an array")
	ids := make(map[string]string)
	for _, c := range comps {
		m := c.(map[string]any)
		ids[m["qualified_name"].(string)] = m["id"].(string)
	}
	return ids
}

func TestCLI_Ingest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	result := run(t, bin, dir, "ingest")
	assert.Equal(t, "ingest", result["command"])
	assert.Empty(t, result["error"])

	results, ok := result["results"].([]any)
	require.True(t, ok, "results should be an array")
	require.Len(t, results, 1, "only the Python file is ingested")
	first := results[0].(map[string]any)
	assert.Equal(t, "app.py", first["path"])
	assert.EqualValues(t, 1, first["version"])
	assert.EqualValues(t, 2, first["component_count"])
	assert.Equal(t, "PASS", first["proof_status"])

	// Re-ingesting unchanged content is the next version.
	result = run(t, bin, dir, "ingest", filepath.Join(dir, "app.py"))
	results = result["results"].([]any)
	require.Len(t, results, 1)
	assert.EqualValues(t, 2, results[0].(map[string]any)["version"])
}

func TestCLI_QueryComponentsAndCalls(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := ingestFixture(t)

	result := run(t, bin, dir, "query", "components", "app.py")
	assert.Equal(t, "query components", result["command"])
	ids := componentIDs(t, result)
	require.Contains(t, ids, "load")
	require.Contains(t, ids, "main")

	result = run(t, bin, dir, "query", "calls", ids["main"])
	edges, ok := result["results"].([]any)
	require.True(t, ok)
	require.Len(t, edges, 1)
	edge := edges[0].(map[string]any)
	assert.Equal(t, "internal", edge["kind"])
	assert.Equal(t, ids["load"], edge["callee_id"])

	result = run(t, bin, dir, "query", "calls", "--callers", ids["load"])
	callers := result["results"].([]any)
	require.Len(t, callers, 1)
	assert.Equal(t, ids["main"], callers[0].(map[string]any)["caller_id"])

	result = run(t, bin, dir, "query", "segment", ids["load"])
	seg := result["results"].(map[string]any)
	assert.Equal(t, "def load(path):\n    return os.path.exists(path)", seg["text"])
}

func TestCLI_QueryUnknownFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := ingestFixture(t)

	result := run(t, bin, dir, "query", "components", "missing.py")
	assert.Nil(t, result["results"])
	assert.Empty(t, result["error"])
}

func TestCLI_QueryWithoutDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	result := run(t, bin, dir, "query", "versions", "app.py")
	assert.Contains(t, result["error"], "database not found")
}

func TestCLI_VerifyAndProof(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := ingestFixture(t)

	result := run(t, bin, dir, "verify", "app.py")
	assert.Equal(t, "verify", result["command"])
	proof := result["results"].(map[string]any)
	assert.Equal(t, "PASS", proof["status"])
	assert.Equal(t, true, proof["structural_match"])

	result = run(t, bin, dir, "query", "proof", "app.py", "--version", "1")
	stored := result["results"].(map[string]any)
	assert.Equal(t, "PASS", stored["status"])
	assert.Equal(t, proof["original_ast_hash"], stored["original_ast_hash"])
}

func TestCLI_Readiness(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := ingestFixture(t)

	result := run(t, bin, dir, "readiness", "app.py")
	assert.Equal(t, "readiness", result["command"])
	r := result["results"].(map[string]any)
	assert.Equal(t, "app.py", r["path"])
	assert.EqualValues(t, 1, r["version"])
	assert.NotNil(t, r["components"], "components is always an array")
}

func TestCLI_VersionsAndDrift(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := ingestFixture(t)

	changed := fixtureSource + "\n\ndef extra():\n    return main()\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte(changed), 0o644))
	result := run(t, bin, dir, "ingest", "app.py")
	require.Empty(t, result["error"])

	result = run(t, bin, dir, "query", "versions", "app.py")
	versions := result["results"].([]any)
	require.Len(t, versions, 2)
	assert.EqualValues(t, 3, versions[1].(map[string]any)["component_count"])

	result = run(t, bin, dir, "query", "history", "app.py")
	history := result["results"].([]any)
	var added []string
	for _, h := range history {
		m := h.(map[string]any)
		if m["version"] == float64(2) && m["classification"] == "ADDED" {
			added = append(added, m["qualified_name"].(string))
		}
	}
	assert.Equal(t, []string{"extra"}, added)
}

func TestCLI_InvalidFormat(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	cmd := exec.Command(bin, "--format", "yaml", "--root", dir, "ingest")
	out, err := cmd.CombinedOutput()
	require.Error(t, err)
	assert.Contains(t, string(out), `invalid format "yaml"`)
}
