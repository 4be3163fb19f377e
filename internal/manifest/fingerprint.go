package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

const hashPrefix = "sha256:"

// Fingerprint returns a SHA-256 digest over the entries, formatted as
// "sha256:<hex>". Entries are hashed in path order as
// "<path>\0<dir>:<mtime>:<size>:<symlink>\n", so two manifests that are
// equal as sets always share a fingerprint.
func Fingerprint(entries walker.Manifest) string {
	h := sha256.New()
	for _, p := range entries.Paths() {
		e := entries[p]
		var b strings.Builder
		b.WriteString(p)
		b.WriteByte(0)
		b.WriteString(strconv.FormatBool(e.Dir))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(e.Mtime, 10))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(e.Size, 10))
		b.WriteByte(':')
		b.WriteString(e.Symlink)
		b.WriteByte('\n')
		h.Write([]byte(b.String()))
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// Select returns the entries whose path, without its leading "/", matches
// at least one doublestar pattern. An empty pattern list selects everything.
func Select(entries walker.Manifest, patterns []string) (walker.Manifest, error) {
	if len(patterns) == 0 {
		return entries, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("manifest: invalid select pattern %q", p)
		}
	}

	out := make(walker.Manifest)
	for path, e := range entries {
		rel := strings.TrimPrefix(path, "/")
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, rel); ok {
				out[path] = e
				break
			}
		}
	}
	return out, nil
}
