// Package walker builds the file manifest of a package directory. It walks
// the tree concurrently, applies the ignore rules found along the way and
// follows directory symlinks once per real target.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/ignore"
)

// DefaultConcurrency bounds the number of in-flight filesystem calls when
// Options.Concurrency is not set.
const DefaultConcurrency = 16

// Options configures a walk.
type Options struct {
	ignore.Options

	// Concurrency is the maximum number of filesystem calls in flight.
	Concurrency int
}

// DefaultOptions returns the ignore defaults with DefaultConcurrency.
func DefaultOptions() Options {
	return Options{
		Options:     ignore.DefaultOptions(),
		Concurrency: DefaultConcurrency,
	}
}

// Walker produces manifests for one root directory. A Walker may be reused;
// every call to Walk starts from fresh statistics and a fresh visited set.
type Walker struct {
	root string
	opts Options
}

// New returns a Walker for root.
func New(root string, opts Options) *Walker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Walker{root: root, opts: opts}
}

// Root returns the directory the walker was created for.
func (w *Walker) Root() string {
	return w.root
}

// Walk traverses the tree and returns the manifest and statistics. Any
// filesystem error other than a dangling symlink aborts the walk; no partial
// result is returned in that case.
func (w *Walker) Walk(ctx context.Context) (*Result, error) {
	absRoot, err := filepath.Abs(w.root)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, &PathError{Op: "stat", Path: "", Err: err}
	}
	if !info.IsDir() {
		return nil, &PathError{Op: "stat", Path: "", Err: errors.New("not a directory")}
	}

	compiler := ignore.NewCompiler(w.opts.Options)
	s := &walk{
		root:     absRoot,
		compiler: compiler,
		loader:   ignore.NewLoader(absRoot, compiler),
		sem:      semaphore.NewWeighted(int64(w.opts.Concurrency)),
		visited:  make(map[string]struct{}),
	}

	tflog.Debug(ctx, "walking package", map[string]interface{}{
		"root":                  absRoot,
		"respect_distignore":    w.opts.RespectDistignore,
		"respect_nested_ignore": w.opts.RespectNestedIgnore,
		"include_dependencies":  w.opts.IncludeDependencies,
		"concurrency":           w.opts.Concurrency,
	})

	rules := ignore.NewRuleSet()
	if err := s.loadRules(ctx, rules, ""); err != nil {
		return nil, err
	}
	m, err := s.walkDir(ctx, rules, "")
	if err != nil {
		return nil, err
	}

	stats := s.stats.snapshot(compiler)
	tflog.Debug(ctx, "walk complete", map[string]interface{}{
		"entries":       len(m),
		"total_files":   stats.TotalFiles,
		"ignored_files": stats.IgnoredFiles,
		"rules":         stats.IgnoreRulesCount,
	})
	return &Result{Manifest: m, Stats: stats}, nil
}

// walk is the state of a single Walk call.
type walk struct {
	root     string
	compiler *ignore.Compiler
	loader   *ignore.Loader
	sem      *semaphore.Weighted
	stats    counters

	mu      sync.Mutex
	visited map[string]struct{}
}

// withSlot runs fn while holding one semaphore slot. Slots are held only
// around filesystem calls, never while waiting on child directories.
func withSlot[T any](ctx context.Context, sem *semaphore.Weighted, fn func() (T, error)) (T, error) {
	var zero T
	if err := sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer sem.Release(1)
	return fn()
}

func (s *walk) loadRules(ctx context.Context, rules *ignore.RuleSet, subPath string) error {
	_, err := withSlot(ctx, s.sem, func() (struct{}, error) {
		return struct{}{}, s.loader.Load(ctx, rules, subPath)
	})
	if err != nil {
		return &PathError{Op: "load ignore rules", Path: subPath, Err: err}
	}
	return nil
}

func (s *walk) abs(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

// markVisited records realPath and reports whether it was new.
func (s *walk) markVisited(realPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[realPath]; ok {
		return false
	}
	s.visited[realPath] = struct{}{}
	return true
}

// walkDir lists the directory subPath, whose rules are already loaded, and
// visits every entry concurrently. The first error cancels the siblings.
func (s *walk) walkDir(ctx context.Context, rules *ignore.RuleSet, subPath string) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := withSlot(ctx, s.sem, func() ([]os.DirEntry, error) {
		return os.ReadDir(s.abs(subPath))
	})
	if err != nil {
		return nil, &PathError{Op: "readdir", Path: subPath, Err: err}
	}

	tflog.Trace(ctx, "listing directory", map[string]interface{}{
		"dir":     displayPath(subPath),
		"entries": len(entries),
		"rules":   rules.Filename,
	})

	var (
		mu     sync.Mutex
		result = make(Manifest)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, de := range entries {
		if gctx.Err() != nil {
			break
		}
		name := de.Name()
		g.Go(func() error {
			sub, err := s.visit(gctx, rules, subPath, name)
			if err != nil {
				return err
			}
			mu.Lock()
			result.merge(sub)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// visit classifies one directory entry and dispatches on its type.
func (s *walk) visit(ctx context.Context, rules *ignore.RuleSet, subPath, name string) (Manifest, error) {
	relPath := subPath + "/" + name
	info, err := withSlot(ctx, s.sem, func() (fs.FileInfo, error) {
		return os.Lstat(s.abs(relPath))
	})
	if err != nil {
		return nil, &PathError{Op: "lstat", Path: relPath, Err: err}
	}

	switch mode := info.Mode(); {
	case mode&fs.ModeSymlink != 0:
		return s.visitSymlink(ctx, rules, subPath, name, info)
	case mode.IsDir():
		return s.visitDir(ctx, rules, subPath, name, info)
	case mode.IsRegular():
		return s.visitFile(rules, subPath, name, info), nil
	default:
		// Sockets, devices and pipes are not part of a package.
		return nil, nil
	}
}

func (s *walk) visitFile(rules *ignore.RuleSet, subPath, name string, info fs.FileInfo) Manifest {
	s.stats.totalFiles.Add(1)
	if rules.Ignored(subPath, name, false) {
		s.stats.ignoredFiles.Add(1)
		return nil
	}

	mtime := info.ModTime().UnixMilli()
	s.stats.totalSize.Add(mtime)
	s.stats.totalBytes.Add(info.Size())
	return Manifest{
		subPath + "/" + name: {Mtime: mtime, Size: info.Size()},
	}
}

func (s *walk) visitDir(ctx context.Context, rules *ignore.RuleSet, subPath, name string, info fs.FileInfo) (Manifest, error) {
	relPath := subPath + "/" + name

	var result Manifest
	if !rules.Ignored(subPath, name, true) {
		result = Manifest{relPath: {Dir: true, Mtime: info.ModTime().UnixMilli()}}
	} else if !rules.IncludesUnder(relPath) {
		tflog.Debug(ctx, "pruning ignored directory", map[string]interface{}{
			"path": relPath,
		})
		return nil, nil
	}

	sub, err := s.descend(ctx, rules, relPath)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return sub, nil
	}
	result.merge(sub)
	return result, nil
}

// descend clones the inherited rules, loads the ignore file of relPath and
// walks it.
func (s *walk) descend(ctx context.Context, parent *ignore.RuleSet, relPath string) (Manifest, error) {
	rules := parent.Clone()
	if err := s.loadRules(ctx, rules, relPath); err != nil {
		return nil, err
	}
	return s.walkDir(ctx, rules, relPath)
}

// symlinkTarget is what a link resolves to.
type symlinkTarget struct {
	raw  string
	real string
	info fs.FileInfo
}

// resolveSymlink reads the link at relPath and resolves it against the real
// path of its directory. ok is false when the target does not exist.
func (s *walk) resolveSymlink(relPath string) (t symlinkTarget, ok bool, err error) {
	linkPath := s.abs(relPath)

	t.raw, err = os.Readlink(linkPath)
	if err != nil {
		return t, false, &PathError{Op: "readlink", Path: relPath, Err: err}
	}

	dirReal, err := filepath.EvalSymlinks(filepath.Dir(linkPath))
	if err != nil {
		return t, false, &PathError{Op: "realpath", Path: relPath, Err: err}
	}
	target := t.raw
	if !filepath.IsAbs(target) {
		target = filepath.Join(dirReal, target)
	}
	t.real, err = filepath.EvalSymlinks(target)
	if errors.Is(err, fs.ErrNotExist) {
		return t, false, nil
	}
	if err != nil {
		return t, false, &PathError{Op: "realpath", Path: relPath, Err: err}
	}

	t.info, err = os.Stat(t.real)
	if errors.Is(err, fs.ErrNotExist) {
		return t, false, nil
	}
	if err != nil {
		return t, false, &PathError{Op: "stat", Path: relPath, Err: err}
	}
	return t, true, nil
}

func (s *walk) visitSymlink(ctx context.Context, rules *ignore.RuleSet, subPath, name string, link fs.FileInfo) (Manifest, error) {
	relPath := subPath + "/" + name

	type resolved struct {
		target symlinkTarget
		ok     bool
	}
	r, err := withSlot(ctx, s.sem, func() (resolved, error) {
		t, ok, err := s.resolveSymlink(relPath)
		return resolved{target: t, ok: ok}, err
	})
	if err != nil {
		return nil, err
	}
	if !r.ok {
		tflog.Debug(ctx, "skipping dangling symlink", map[string]interface{}{
			"path":   relPath,
			"target": r.target.raw,
		})
		return nil, nil
	}

	isDir := r.target.info.IsDir()
	s.stats.totalFiles.Add(1)
	if rules.Ignored(subPath, name, isDir) {
		s.stats.ignoredFiles.Add(1)
		return nil, nil
	}

	result := Manifest{relPath: {
		Dir:         isDir,
		Mtime:       link.ModTime().UnixMilli(),
		Symlink:     r.target.raw,
		SymlinkReal: r.target.real,
	}}
	if !isDir {
		return result, nil
	}
	if !s.markVisited(r.target.real) {
		tflog.Trace(ctx, "symlink target already traversed", map[string]interface{}{
			"path": relPath,
			"real": r.target.real,
		})
		return result, nil
	}

	// The subtree is walked through the link, so its keys live under relPath.
	sub, err := s.descend(ctx, rules, relPath)
	if err != nil {
		return nil, err
	}
	result.merge(sub)
	return result, nil
}

func displayPath(subPath string) string {
	if subPath == "" {
		return "/"
	}
	return subPath
}
