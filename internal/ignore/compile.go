// Package ignore implements the rule engine behind the package walker:
// compiling ignore-file lines into matchers, scoping them into rule sets with
// prefix lookup, and discovering the ignore file that applies to each
// directory.
package ignore

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Scope selects which group of a RuleSet a compiled rule belongs to.
type Scope int

const (
	// ScopeTop holds rules anchored to the walk root or to the subtree that
	// declared them (lines beginning with "/").
	ScopeTop Scope = iota
	// ScopeEvery holds rules applied to basenames at every depth.
	ScopeEvery
	// ScopeInclude holds negated rules ("!pattern") that force inclusion.
	ScopeInclude
)

func (s Scope) String() string {
	switch s {
	case ScopeTop:
		return "top"
	case ScopeEvery:
		return "every"
	case ScopeInclude:
		return "include"
	default:
		return "unknown"
	}
}

// Options controls which ignore files are consulted and which rules are kept.
type Options struct {
	// RespectDistignore consults .distignore before .npmignore and .gitignore.
	RespectDistignore bool
	// RespectNestedIgnore honors ignore files below the walk root.
	RespectNestedIgnore bool
	// IncludeDependencies drops rules that would exclude the dependency
	// directory, so dependencies end up in the manifest.
	IncludeDependencies bool
}

// DefaultOptions returns the options used when the caller sets nothing:
// nested ignore files are honored, everything else is off.
func DefaultOptions() Options {
	return Options{RespectNestedIgnore: true}
}

// dependencyRule matches the lines that IncludeDependencies suppresses.
var dependencyRule = regexp.MustCompile(`^/?node_modules/?$`)

// Rule is a compiled ignore pattern. Rules are immutable and may be shared
// between rule sets.
type Rule struct {
	pattern string
	re      *regexp.Regexp
}

// Pattern returns the pattern the rule was compiled from, without any
// leading "!".
func (r *Rule) Pattern() string {
	return r.pattern
}

// Match reports whether the rule applies to path. The compiled expression is
// unanchored: anchoring is done by the key the rule is filed under.
func (r *Rule) Match(path string) bool {
	return path == r.pattern || r.re.MatchString(path)
}

// Compiler turns ignore-file lines into rules and counts how many it has
// produced. A Compiler is safe for concurrent use.
type Compiler struct {
	opts  Options
	count atomic.Int64
}

// NewCompiler returns a Compiler applying opts.
func NewCompiler(opts Options) *Compiler {
	return &Compiler{opts: opts}
}

// Options returns the options the compiler was created with.
func (c *Compiler) Options() Options {
	return c.opts
}

// Count returns the number of rules compiled so far.
func (c *Compiler) Count() int64 {
	return c.count.Load()
}

// Compile converts a single ignore-file line into a rule. subPath is the
// root-relative path ("" or "/a/b") of the directory whose ignore file holds
// the line; keys of anchored rules are prefixed with it.
//
// ok is false when the line produces no rule: empty lines, and dependency
// rules when IncludeDependencies is set. Lines starting with "#" are ordinary
// patterns.
func (c *Compiler) Compile(line, subPath string) (scope Scope, key string, rule *Rule, ok bool) {
	if line == "" {
		return 0, "", nil, false
	}
	if c.opts.IncludeDependencies && dependencyRule.MatchString(line) {
		return 0, "", nil, false
	}

	pattern := line
	key, _, _ = strings.Cut(line, "*")
	scope = ScopeEvery
	switch {
	case strings.HasPrefix(line, "!"):
		scope = ScopeInclude
		key = key[1:]
		pattern = pattern[1:]
	case strings.HasPrefix(line, "/"):
		scope = ScopeTop
	}
	if subPath != "" && strings.HasPrefix(key, "/") {
		key = subPath + key
	}

	// QuoteMeta escapes "*" to `\*`, which is the only wildcard.
	expr := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, `[^/]*?`)
	rule = &Rule{
		pattern: pattern,
		re:      regexp.MustCompile(expr),
	}

	c.count.Add(1)
	return scope, key, rule, true
}
