package walker

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/ignore"
)

// Entry is the manifest record for one path. Files carry Size, directories
// set Dir, and directory symlinks also carry the raw link target and its
// canonical real path. Fields a kind does not use are left out when encoded.
// Entries are never modified once recorded.
type Entry struct {
	Dir         bool   `json:"dir,omitempty" yaml:"dir,omitempty"`
	Mtime       int64  `json:"mtime" yaml:"mtime"` // milliseconds since the Unix epoch
	Size        int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Symlink     string `json:"symlink,omitempty" yaml:"symlink,omitempty"`
	SymlinkReal string `json:"symlinkReal,omitempty" yaml:"symlinkReal,omitempty"`
}

// IsSymlink reports whether the entry was reached through a symbolic link.
func (e Entry) IsSymlink() bool {
	return e.Symlink != ""
}

// Manifest maps root-relative paths, always starting with "/", to entries.
type Manifest map[string]Entry

// Paths returns the manifest keys in lexicographic order.
func (m Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m))
}

// merge copies every entry of other into m.
func (m Manifest) merge(other Manifest) {
	for k, v := range other {
		m[k] = v
	}
}

// Stats are the aggregate counters of a walk.
//
// TotalSize sums the mtimes of recorded files rather than their sizes; it is
// kept for parity with existing consumers. TotalBytes holds the byte count.
type Stats struct {
	IgnoreRulesCount int64 `json:"ignoreRulesCount" yaml:"ignoreRulesCount"`
	TotalFiles       int64 `json:"totalFiles" yaml:"totalFiles"`
	IgnoredFiles     int64 `json:"ignoredFiles" yaml:"ignoredFiles"`
	TotalSize        int64 `json:"totalSize" yaml:"totalSize"`
	TotalBytes       int64 `json:"totalBytes" yaml:"totalBytes"`
}

// counters accumulate Stats from concurrent visits.
type counters struct {
	totalFiles   atomic.Int64
	ignoredFiles atomic.Int64
	totalSize    atomic.Int64
	totalBytes   atomic.Int64
}

func (c *counters) snapshot(compiler *ignore.Compiler) Stats {
	return Stats{
		IgnoreRulesCount: compiler.Count(),
		TotalFiles:       c.totalFiles.Load(),
		IgnoredFiles:     c.ignoredFiles.Load(),
		TotalSize:        c.totalSize.Load(),
		TotalBytes:       c.totalBytes.Load(),
	}
}

// Result is the output of a successful walk.
type Result struct {
	Manifest Manifest
	Stats    Stats
}

// PathError records the filesystem operation and root-relative path that
// aborted a walk.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	p := e.Path
	if p == "" {
		p = "/"
	}
	return fmt.Sprintf("walker: %s %s: %v", e.Op, p, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }
