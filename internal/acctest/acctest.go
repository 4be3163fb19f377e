package acctest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/hashicorp/terraform-plugin-go/tfprotov6"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/provider"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
)

// TestProtoV6ProviderFactories is a map of provider factory functions
// suitable for use with the terraform-plugin-testing framework.
var TestProtoV6ProviderFactories = map[string]func() (tfprotov6.ProviderServer, error){
	"pkgmanifest": providerserver.NewProtocol6WithError(provider.New("test")()),
}

// SetupTest resets the global MemoryTarget registry so each test starts
// with a clean slate.
func SetupTest(t *testing.T) {
	t.Helper()
	target.ResetMemoryTargets()
	t.Cleanup(func() {
		target.ResetMemoryTargets()
	})
}

// MemoryTarget returns the shared memory target the provider uses for name.
func MemoryTarget(name string) *target.MemoryTarget {
	return target.GetOrCreateMemoryTarget(name)
}

// CreateTempPackageDir creates a temporary package directory with the given
// files and returns its absolute path. Keys are slash-separated relative
// paths and values are file contents.
func CreateTempPackageDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for relPath, content := range files {
		fullPath := filepath.Join(dir, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			t.Fatalf("failed to create parent dir for %s: %s", relPath, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write file %s: %s", relPath, err)
		}
	}
	return dir
}

// ProviderConfigEmpty returns an HCL snippet that configures the provider
// without targets, which is enough for the pkgmanifest_files data source.
func ProviderConfigEmpty() string {
	return `
provider "pkgmanifest" {
}
`
}

// ProviderConfigMemory returns an HCL snippet that configures the provider
// with a single memory target.
func ProviderConfigMemory(targetName string) string {
	return fmt.Sprintf(`
provider "pkgmanifest" {
  target {
    name = %q
    type = "memory"
  }
}
`, targetName)
}

// ProviderConfigMemoryMulti returns an HCL snippet that configures the
// provider with multiple memory targets and optional default_targets.
func ProviderConfigMemoryMulti(names []string, defaults []string) string {
	var b strings.Builder
	b.WriteString("\nprovider \"pkgmanifest\" {\n")
	if len(defaults) > 0 {
		quoted := make([]string, len(defaults))
		for i, d := range defaults {
			quoted[i] = fmt.Sprintf("%q", d)
		}
		fmt.Fprintf(&b, "  default_targets = [%s]\n", strings.Join(quoted, ", "))
	}
	for _, n := range names {
		fmt.Fprintf(&b, `
  target {
    name = %q
    type = "memory"
  }
`, n)
	}
	b.WriteString("}\n")
	return b.String()
}
