package canon

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/jward/canon/internal/config"
	"github.com/jward/canon/internal/rebuild"
	"github.com/jward/canon/internal/store"
)

// fileRef pairs a file on disk with the path it is stored under.
type fileRef struct {
	fsPath string
	key    string
}

// IngestFile reads path from disk and ingests it under the same path.
func (e *Engine) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &IngestError{Path: filepath.ToSlash(path), Err: err}
	}
	return e.Ingest(ctx, path, src)
}

// IngestFiles ingests paths concurrently with a bounded worker pool.
// Results for successful files are returned in input order; failures are
// collected and the first is returned with the error count.
func (e *Engine) IngestFiles(ctx context.Context, paths []string) ([]*IngestResult, error) {
	refs := make([]fileRef, len(paths))
	for i, p := range paths {
		refs[i] = fileRef{fsPath: p, key: p}
	}
	return e.ingestRefs(ctx, refs)
}

// IngestDirectory ingests every file under root selected by the ingest
// include and exclude globs. Files are stored under slash-separated paths
// relative to root. Inside a git work tree the file list comes from git,
// so ignored files are skipped; otherwise the tree is walked.
func (e *Engine) IngestDirectory(ctx context.Context, root string) ([]*IngestResult, error) {
	rels, err := gitListFiles(root)
	if err != nil {
		rels, err = walkListFiles(root)
		if err != nil {
			return nil, err
		}
	}

	var selected []string
	for _, rel := range rels {
		if e.config.Ingest.Match(rel) && !skippedByDir(rel) {
			selected = append(selected, rel)
		}
	}
	sort.Strings(selected)
	e.logger.Debug("Discovered files", "root", root, "files", len(selected))
	return e.IngestPaths(ctx, root, selected)
}

// IngestPaths ingests files under root, each stored under its
// slash-separated path relative to root.
func (e *Engine) IngestPaths(ctx context.Context, root string, rels []string) ([]*IngestResult, error) {
	refs := make([]fileRef, len(rels))
	for i, rel := range rels {
		rel = filepath.ToSlash(rel)
		refs[i] = fileRef{fsPath: filepath.Join(root, filepath.FromSlash(rel)), key: rel}
	}
	return e.ingestRefs(ctx, refs)
}

func (e *Engine) ingestRefs(ctx context.Context, refs []fileRef) ([]*IngestResult, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	numWorkers := e.config.Ingest.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = min(numWorkers, len(refs))

	type job struct {
		index int
		ref   fileRef
	}
	workCh := make(chan job, len(refs))
	for i, ref := range refs {
		workCh <- job{index: i, ref: ref}
	}
	close(workCh)

	type result struct {
		index int
		res   *IngestResult
		err   error
	}
	resultCh := make(chan result, len(refs))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range workCh {
				if err := ctx.Err(); err != nil {
					resultCh <- result{index: j.index, err: &IngestError{Path: j.ref.key, Err: err}}
					continue
				}
				src, err := os.ReadFile(j.ref.fsPath)
				if err != nil {
					resultCh <- result{index: j.index, err: &IngestError{Path: j.ref.key, Err: err}}
					continue
				}
				res, err := e.Ingest(ctx, j.ref.key, src)
				resultCh <- result{index: j.index, res: res, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	ordered := make([]*IngestResult, len(refs))
	var errs []error
	for r := range resultCh {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		ordered[r.index] = r.res
	}

	var out []*IngestResult
	for _, r := range ordered {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return out, fmt.Errorf("ingestion had %d error(s): %w", len(errs), errs[0])
	}
	return out, nil
}

// gitListFiles lists tracked and untracked, non-ignored files under root
// as slash-separated relative paths.
func gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var rels []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			rels = append(rels, line)
		}
	}
	return rels, nil
}

// walkListFiles walks root when git is not available.
func walkListFiles(root string) ([]string, error) {
	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && config.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return rels, nil
}

// skippedByDir reports whether any directory of rel is skipped. git lists
// untracked virtualenvs and caches unless they are ignored.
func skippedByDir(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if config.SkipDir(dir) {
			return true
		}
	}
	return false
}

// Reverify rebuilds the latest version of path from its stored segments
// and formatting hints and proves it against the stored hashes. The proof
// is returned, not persisted. It returns (nil, nil) for an unknown path.
func (e *Engine) Reverify(ctx context.Context, path string) (*Proof, error) {
	path = filepath.ToSlash(path)
	f, err := e.store.FileByPath(path)
	if err != nil {
		return nil, fmt.Errorf("reverify: lookup file: %w", err)
	}
	if f == nil {
		return nil, nil
	}
	ver, err := e.store.LatestVersion(f.ID)
	if err != nil {
		return nil, fmt.Errorf("reverify: latest version: %w", err)
	}
	if ver == nil {
		return nil, nil
	}
	p, err := proveStored(ctx, e.store, path, f.ID, ver)
	if err != nil {
		return nil, fmt.Errorf("reverify: %w", err)
	}
	if p.Status == store.ProofFail {
		e.logger.Warn("Stored version does not rebuild", "path", path, "version", ver.Number)
	}
	return p, nil
}

// rebuildSource reads the persisted rows a rebuild is made from. Both the
// Store and an open Tx satisfy it.
type rebuildSource interface {
	ComponentsByFile(fileID string) ([]*store.Component, error)
	SegmentsByFile(fileID string) (map[string]string, error)
	RebuildMetadataByFile(fileID string) (map[string]store.RebuildHints, error)
}

// proveStored rebuilds ver of a file from its stored segments and formatting
// hints and compares the result against the hashes recorded on ver.
func proveStored(ctx context.Context, r rebuildSource, path, fileID string, ver *store.Version) (*Proof, error) {
	comps, err := r.ComponentsByFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("components: %w", err)
	}
	segments, err := r.SegmentsByFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("segments: %w", err)
	}
	hints, err := r.RebuildMetadataByFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("rebuild metadata: %w", err)
	}

	p := rebuild.Verify(ctx, path, rebuild.PartsFromStore(comps, segments, hints), ver.TailText, ver.ASTHash, ver.ContentHash)
	p.FileID = fileID
	p.VersionID = ver.ID
	p.VersionNumber = ver.Number
	return &p, nil
}
