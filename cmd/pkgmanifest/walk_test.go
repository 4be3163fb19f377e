package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

func writePackage(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		".npmignore":    "*.log\n",
		"package.json":  `{"name":"cli-fixture"}`,
		"lib/index.js":  "module.exports = {};\n",
		"lib/debug.log": "noise\n",
		"docs/guide.md": "# guide\n",
	} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWalkJSON(t *testing.T) {
	root := writePackage(t)

	out, err := run(t, "walk", root)
	require.NoError(t, err)

	doc, err := manifest.Unmarshal([]byte(out))
	require.NoError(t, err)
	assert.Contains(t, doc.Entries, "/lib/index.js")
	assert.Contains(t, doc.Entries, "/docs/guide.md")
	assert.NotContains(t, doc.Entries, "/lib/debug.log")
	assert.NotEmpty(t, doc.CreatedAt)
	assert.Equal(t, manifest.Fingerprint(doc.Entries), doc.Fingerprint)
	assert.EqualValues(t, 1, doc.Stats.IgnoredFiles)
}

func TestWalkYAML(t *testing.T) {
	root := writePackage(t)

	out, err := run(t, "walk", root, "--format", "yaml")
	require.NoError(t, err)

	doc, err := manifest.UnmarshalYAML([]byte(out))
	require.NoError(t, err)
	assert.Contains(t, doc.Entries, "/package.json")
	assert.NotContains(t, doc.Entries, "/lib/debug.log")
}

func TestWalkSelect(t *testing.T) {
	root := writePackage(t)

	out, err := run(t, "walk", root, "--select", "lib/**", "--select", "package.json")
	require.NoError(t, err)

	doc, err := manifest.Unmarshal([]byte(out))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/lib", "/lib/index.js", "/package.json"}, doc.Entries.Paths())
}

func TestWalkStats(t *testing.T) {
	root := writePackage(t)

	out, err := run(t, "walk", root, "--stats")
	require.NoError(t, err)

	var stats walker.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 1, stats.IgnoredFiles)
	assert.EqualValues(t, 3, stats.IgnoreRulesCount)
	assert.NotContains(t, out, "entries")
}

func TestWalkIncludeDependencies(t *testing.T) {
	root := writePackage(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".npmignore"), []byte("*.log\nnode_modules/\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "index.js"), []byte("1"), 0o644))

	out, err := run(t, "walk", root)
	require.NoError(t, err)
	doc, err := manifest.Unmarshal([]byte(out))
	require.NoError(t, err)
	assert.NotContains(t, doc.Entries, "/node_modules/dep/index.js")

	out, err = run(t, "walk", root, "--include-dependencies")
	require.NoError(t, err)
	doc, err = manifest.Unmarshal([]byte(out))
	require.NoError(t, err)
	assert.Contains(t, doc.Entries, "/node_modules/dep/index.js")
}

func TestWalkErrors(t *testing.T) {
	root := writePackage(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown format", []string{"walk", root, "--format", "toml"}},
		{"missing root", []string{"walk", filepath.Join(root, "does-not-exist")}},
		{"invalid select", []string{"walk", root, "--select", "lib/[oops"}},
		{"too many args", []string{"walk", root, root}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}
