package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func TestBuild(t *testing.T) {
	root := writePackage(t, map[string]string{
		".npmignore":      "*.log\n",
		"package.json":    "{}",
		"lib/index.js":    "module.exports = 1",
		"lib/debug.log":   "noise",
		"docs/README.md":  "# docs",
		"lib/util/str.js": "",
	})

	doc, err := Build(context.Background(), root, walker.DefaultOptions(), []string{"lib/**"}, time.Time{})
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	want := []string{"/lib", "/lib/index.js", "/lib/util", "/lib/util/str.js"}
	if got := strings.Join(doc.Entries.Paths(), ","); got != strings.Join(want, ",") {
		t.Errorf("selected paths = %s, want %s", got, strings.Join(want, ","))
	}
	if doc.Stats.IgnoredFiles != 1 {
		t.Errorf("IgnoredFiles = %d, want 1", doc.Stats.IgnoredFiles)
	}
	if doc.Stats.TotalFiles != 6 {
		t.Errorf("TotalFiles = %d, want 6", doc.Stats.TotalFiles)
	}
	if doc.RootPath != root {
		t.Errorf("RootPath = %q, want %q", doc.RootPath, root)
	}
	if doc.Fingerprint != Fingerprint(doc.Entries) {
		t.Error("fingerprint does not cover the selected entries")
	}

	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() returned error: %v", err)
	}
	if strings.Contains(string(data), "created_at") {
		t.Errorf("zero time should omit created_at:\n%s", data)
	}
}

func TestBuildInvalidRoot(t *testing.T) {
	_, err := Build(context.Background(), filepath.Join(t.TempDir(), "missing"), walker.DefaultOptions(), nil, time.Now())
	if err == nil {
		t.Fatal("Build() expected error for missing root, got nil")
	}
}

func TestBuildInvalidSelect(t *testing.T) {
	root := writePackage(t, map[string]string{"index.js": ""})
	if _, err := Build(context.Background(), root, walker.DefaultOptions(), []string{"[bad"}, time.Now()); err == nil {
		t.Fatal("Build() expected error for invalid pattern, got nil")
	}
}
