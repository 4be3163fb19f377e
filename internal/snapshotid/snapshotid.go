// Package snapshotid generates and parses the identifiers of published
// manifest snapshots.
//
// Format: snap_<timestamp>_<random>
//   - timestamp: UTC YYYYMMDD'T'HHmmss'Z'
//   - random:    8 lowercase hex characters from crypto/rand
//
// Example: snap_20260213T200102Z_6f2c9a1b
//
// IDs sort lexicographically in creation order down to the second.
package snapshotid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	prefix       = "snap_"
	timestampFmt = "20060102T150405Z"
	randomBytes  = 4
)

// ErrInvalid is wrapped by every Parse error.
var ErrInvalid = errors.New("snapshotid: invalid id")

// New generates an ID for the current UTC time.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates an ID for t.
func NewAt(t time.Time) string {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("snapshotid: crypto/rand failed: %v", err))
	}
	return prefix + t.UTC().Format(timestampFmt) + "_" + hex.EncodeToString(b)
}

// Parse extracts the timestamp from an ID.
func Parse(id string) (time.Time, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: bad prefix in %q", ErrInvalid, id)
	}

	ts, random, ok := strings.Cut(rest, "_")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing random segment in %q", ErrInvalid, id)
	}

	t, err := time.Parse(timestampFmt, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp in %q: %v", ErrInvalid, id, err)
	}

	if len(random) != randomBytes*2 {
		return time.Time{}, fmt.Errorf("%w: random segment wrong length in %q", ErrInvalid, id)
	}
	if _, err := hex.DecodeString(random); err != nil || strings.ToLower(random) != random {
		return time.Time{}, fmt.Errorf("%w: random segment not lowercase hex in %q", ErrInvalid, id)
	}

	return t, nil
}

// IsValid reports whether id is well formed.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// SortNewestFirst orders valid IDs from newest to oldest and drops invalid
// ones. Ties on the timestamp fall back to descending lexical order.
func SortNewestFirst(ids []string) []string {
	type stamped struct {
		id string
		t  time.Time
	}
	var valid []stamped
	for _, id := range ids {
		if t, err := Parse(id); err == nil {
			valid = append(valid, stamped{id: id, t: t})
		}
	}
	slices.SortFunc(valid, func(a, b stamped) int {
		if c := b.t.Compare(a.t); c != 0 {
			return c
		}
		return strings.Compare(b.id, a.id)
	})

	out := make([]string, len(valid))
	for i, s := range valid {
		out[i] = s.id
	}
	return out
}
