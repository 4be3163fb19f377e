// Package planformat renders the difference between two manifests in the
// style of "terraform plan": entries to add, change and remove, followed by
// what happens on each target.
package planformat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

// Action describes the type of change for an entry or a target.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
	ActionNoop    Action = "no-op"
)

// EntryChange describes one manifest path that differs between two walks.
type EntryChange struct {
	Path    string
	Action  Action
	Dir     bool
	OldSize int64 // 0 on create
	NewSize int64 // 0 on destroy
}

// TargetAction describes what will happen to a snapshot on one target.
type TargetAction struct {
	TargetName string
	Action     Action
	Added      int
	Changed    int
	Removed    int
}

// Plan is the top-level container for a rendered diff.
type Plan struct {
	Name           string // snapshot name or manifest label
	RootPath       string
	OldFingerprint string
	NewFingerprint string
	Changes        []EntryChange
	Targets        []TargetAction
}

// Diff compares two manifests and returns the changed entries sorted by
// path. An entry counts as updated when any of its recorded fields differ.
// A nil manifest is treated as empty.
func Diff(old, updated walker.Manifest) []EntryChange {
	var changes []EntryChange
	for p, n := range updated {
		o, ok := old[p]
		switch {
		case !ok:
			changes = append(changes, EntryChange{Path: p, Action: ActionCreate, Dir: n.Dir, NewSize: n.Size})
		case o != n:
			changes = append(changes, EntryChange{Path: p, Action: ActionUpdate, Dir: n.Dir, OldSize: o.Size, NewSize: n.Size})
		}
	}
	for p, o := range old {
		if _, ok := updated[p]; !ok {
			changes = append(changes, EntryChange{Path: p, Action: ActionDestroy, Dir: o.Dir, OldSize: o.Size})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// Count tallies changes by action.
func Count(changes []EntryChange) (added, changed, removed int) {
	for _, c := range changes {
		switch c.Action {
		case ActionCreate:
			added++
		case ActionUpdate:
			changed++
		case ActionDestroy:
			removed++
		}
	}
	return added, changed, removed
}

// Format renders a Plan as a human-readable string suitable for display in a
// terminal or in provider logs.
func Format(p *Plan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "  # %s\n", p.Name)
	if p.RootPath != "" {
		fmt.Fprintf(&b, "  # root_path:   %s\n", p.RootPath)
	}
	if p.OldFingerprint != "" {
		fmt.Fprintf(&b, "  # fingerprint: %s -> %s\n", truncateHash(p.OldFingerprint), truncateHash(p.NewFingerprint))
	} else {
		fmt.Fprintf(&b, "  # fingerprint: %s\n", truncateHash(p.NewFingerprint))
	}
	b.WriteString("\n")

	if len(p.Changes) > 0 {
		b.WriteString("  Entry changes:\n")
		for _, c := range p.Changes {
			writeChange(&b, c)
		}
		added, changed, removed := Count(p.Changes)
		fmt.Fprintf(&b, "\n  %d to add, %d to change, %d to destroy.\n\n", added, changed, removed)
	} else {
		b.WriteString("  No entry changes.\n\n")
	}

	if len(p.Targets) > 0 {
		b.WriteString("  Target actions:\n")
		for _, t := range p.Targets {
			fmt.Fprintf(&b, "    %s %s", actionSymbol(t.Action), t.TargetName)
			if t.Action != ActionDestroy {
				fmt.Fprintf(&b, " (+%d ~%d -%d entries)", t.Added, t.Changed, t.Removed)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// FormatSummary returns a single-line summary of the plan.
func FormatSummary(p *Plan) string {
	added, changed, removed := Count(p.Changes)
	return fmt.Sprintf("%s: %d entries to add, %d to change, %d to destroy across %d target(s)",
		p.Name, added, changed, removed, len(p.Targets))
}

func writeChange(b *strings.Builder, c EntryChange) {
	fmt.Fprintf(b, "    %s %s", actionSymbol(c.Action), c.Path)
	switch {
	case c.Dir:
		b.WriteString("/")
	case c.Action == ActionUpdate && c.OldSize != c.NewSize:
		fmt.Fprintf(b, "  (%d -> %d bytes)", c.OldSize, c.NewSize)
	case c.Action == ActionCreate:
		fmt.Fprintf(b, "  (%d bytes)", c.NewSize)
	}
	b.WriteString("\n")
}

func actionSymbol(a Action) string {
	switch a {
	case ActionCreate:
		return "+"
	case ActionUpdate:
		return "~"
	case ActionDestroy:
		return "-"
	case ActionNoop:
		return " "
	default:
		return "?"
	}
}

// truncateHash shortens "sha256:<hex>" to the prefix and 8 hex characters.
func truncateHash(h string) string {
	const prefix = "sha256:"
	if strings.HasPrefix(h, prefix) {
		hex := h[len(prefix):]
		if len(hex) > 8 {
			hex = hex[:8]
		}
		return prefix + hex
	}
	if len(h) > 15 {
		return h[:15]
	}
	return h
}
