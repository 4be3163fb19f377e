package ignore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Ignore file names, in priority order.
const (
	DistignoreFile = ".distignore"
	NpmignoreFile  = ".npmignore"
	GitignoreFile  = ".gitignore"
)

// implicitRules are appended after the lines of every ignore file found.
var implicitRules = []string{
	"*~backup-*/",
	".sm/",
}

// defaultRules are installed when no ignore file exists at the root.
var defaultRules = []string{
	".*",
	"*~backup-*",
	"/dist/",
	"program.dev.json",
}

// Loader reads the ignore file that applies to a directory and appends its
// rules to a RuleSet.
type Loader struct {
	root     string
	compiler *Compiler
}

// NewLoader returns a Loader for the tree rooted at root. Rules are compiled
// with c, whose options also select the candidate files.
func NewLoader(root string, c *Compiler) *Loader {
	return &Loader{root: root, compiler: c}
}

// Candidates returns the ignore file names consulted for the directory
// subPath, in priority order.
func (l *Loader) Candidates(subPath string) []string {
	opts := l.compiler.Options()

	var names []string
	if opts.RespectDistignore {
		names = append(names, DistignoreFile)
	}
	if subPath == "" || opts.RespectNestedIgnore {
		names = append(names, NpmignoreFile, GitignoreFile)
	}
	return names
}

// Load appends to rs the rules of the first candidate ignore file present in
// the directory subPath. Only one file is used per directory. When no file
// has been found anywhere so far, the default rules are installed.
func (l *Loader) Load(ctx context.Context, rs *RuleSet, subPath string) error {
	dir := filepath.Join(l.root, filepath.FromSlash(subPath))

	for _, name := range l.Candidates(subPath) {
		found, err := l.loadFile(rs, dir, name, subPath)
		if err != nil {
			return err
		}
		if found {
			tflog.Debug(ctx, "loaded ignore file", map[string]interface{}{
				"dir":  displayPath(subPath),
				"file": name,
			})
			rs.Filename = name
			break
		}
	}

	if rs.Filename == "" {
		rs.Filename = DefaultFilename
		for _, line := range defaultRules {
			rs.Insert(l.compiler, line, subPath)
		}
	}
	return nil
}

// loadFile reads dir/name and inserts its rules plus the implicit ones. It
// reports false without error when the file does not exist.
func (l *Loader) loadFile(rs *RuleSet, dir, name, subPath string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ignore: read %s: %w", name, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		rs.Insert(l.compiler, line, subPath)
	}

	for _, vcs := range []string{".git", ".svn"} {
		ok, err := exists(filepath.Join(dir, vcs))
		if err != nil {
			return false, err
		}
		if ok {
			rs.Insert(l.compiler, vcs+"/", subPath)
		}
	}
	for _, line := range implicitRules {
		rs.Insert(l.compiler, line, subPath)
	}
	return true, nil
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("ignore: stat %s: %w", filepath.Base(path), err)
}

func displayPath(subPath string) string {
	if subPath == "" {
		return "/"
	}
	return subPath
}
