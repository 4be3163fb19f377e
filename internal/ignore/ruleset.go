package ignore

import (
	"maps"
	"slices"
	"strings"
)

// DefaultFilename is recorded in RuleSet.Filename when no ignore file was
// found and the built-in rules were installed instead.
const DefaultFilename = "default"

// ruleGroup maps a key prefix to the rules filed under it, in insertion
// order.
type ruleGroup map[string][]*Rule

// lookup selects the rules that apply to path: an exact key wins, then the
// longest non-empty key that prefixes path, then the "" fallback.
func (g ruleGroup) lookup(path string) []*Rule {
	if rules, ok := g[path]; ok {
		return rules
	}
	best, found := "", false
	for key := range g {
		if key == "" || !strings.HasPrefix(path, key) {
			continue
		}
		if !found || len(key) > len(best) {
			best, found = key, true
		}
	}
	if found {
		return g[best]
	}
	return g[""]
}

// matches reports whether any rule selected for path matches it.
func (g ruleGroup) matches(path string) bool {
	for _, r := range g.lookup(path) {
		if r.Match(path) {
			return true
		}
	}
	return false
}

func (g ruleGroup) clone() ruleGroup {
	out := make(ruleGroup, len(g))
	for key, rules := range g {
		out[key] = slices.Clone(rules)
	}
	return out
}

// RuleSet is the collection of rules active at one directory level. A
// RuleSet is mutated only while its directory's ignore file is loaded;
// children always start from a Clone.
type RuleSet struct {
	top     ruleGroup
	every   ruleGroup
	include ruleGroup

	// Filename names the ignore file that last contributed rules, or
	// DefaultFilename. Empty until the root has been loaded.
	Filename string
}

// NewRuleSet returns an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		top:     make(ruleGroup),
		every:   make(ruleGroup),
		include: make(ruleGroup),
	}
}

// Clone returns a deep copy of rs. Appending to the copy never affects rs.
func (rs *RuleSet) Clone() *RuleSet {
	return &RuleSet{
		top:      rs.top.clone(),
		every:    rs.every.clone(),
		include:  rs.include.clone(),
		Filename: rs.Filename,
	}
}

// Add files rule under key in the group for scope.
func (rs *RuleSet) Add(scope Scope, key string, rule *Rule) {
	g := rs.group(scope)
	g[key] = append(g[key], rule)
}

// Insert compiles line with c and adds the result. It reports whether a rule
// was added.
func (rs *RuleSet) Insert(c *Compiler, line, subPath string) bool {
	scope, key, rule, ok := c.Compile(line, subPath)
	if !ok {
		return false
	}
	rs.Add(scope, key, rule)
	return true
}

// Ignored reports whether the entry name inside the directory subPath is
// excluded. Include rules are consulted first and win unconditionally, then
// anchored rules against the full path, then every-level rules against the
// basename. Directories are tested with a trailing "/".
func (rs *RuleSet) Ignored(subPath, name string, isDir bool) bool {
	suffix := ""
	if isDir {
		suffix = "/"
	}
	full := subPath + "/" + name + suffix

	if rs.include.matches(full) {
		return false
	}
	if rs.top.matches(full) {
		return true
	}
	return rs.every.matches(name + suffix)
}

// IncludesUnder reports whether any include rule is keyed inside dirPath, in
// which case an ignored directory must still be descended into.
func (rs *RuleSet) IncludesUnder(dirPath string) bool {
	for key := range rs.include {
		if strings.HasPrefix(key, dirPath) {
			return true
		}
	}
	return false
}

// Len returns the number of rules in the set across all scopes.
func (rs *RuleSet) Len() int {
	n := 0
	for _, g := range []ruleGroup{rs.top, rs.every, rs.include} {
		for _, rules := range g {
			n += len(rules)
		}
	}
	return n
}

// Keys returns the sorted keys filed under scope.
func (rs *RuleSet) Keys(scope Scope) []string {
	return slices.Sorted(maps.Keys(rs.group(scope)))
}

func (rs *RuleSet) group(scope Scope) ruleGroup {
	switch scope {
	case ScopeTop:
		return rs.top
	case ScopeInclude:
		return rs.include
	default:
		return rs.every
	}
}
