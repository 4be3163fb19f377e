package provider_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/hashicorp/terraform-plugin-testing/terraform"
	"golang.org/x/sync/semaphore"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/acctest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/publish"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

func snapshotConfig(providerHCL, rootPath, extra string) string {
	return providerHCL + fmt.Sprintf(`
resource "pkgmanifest_snapshot" "test" {
  name      = "demo"
  root_path = %q
%s}
`, rootPath, extra)
}

// testCheckLatest verifies that the memory target holds a LATEST pointer
// naming the snapshot recorded in state.
func testCheckLatest(targetName string) resource.TestCheckFunc {
	return func(s *terraform.State) error {
		rs, ok := s.RootModule().Resources["pkgmanifest_snapshot.test"]
		if !ok {
			return fmt.Errorf("pkgmanifest_snapshot.test not found in state")
		}
		want := rs.Primary.Attributes["target_states."+targetName+".snapshot_id"]

		rc, _, err := acctest.MemoryTarget(targetName).Get(context.Background(), publish.LatestKey("demo"))
		if err != nil {
			return fmt.Errorf("reading LATEST on %s: %w", targetName, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		if got := string(data); got != want {
			return fmt.Errorf("LATEST on %s = %q, state has %q", targetName, got, want)
		}
		return nil
	}
}

func testCheckSnapshotCount(targetName string, want int) resource.TestCheckFunc {
	return func(*terraform.State) error {
		ids, err := publish.ListSnapshots(context.Background(), acctest.MemoryTarget(targetName), "demo")
		if err != nil {
			return err
		}
		if len(ids) != want {
			return fmt.Errorf("%s holds %d snapshots, want %d: %v", targetName, len(ids), want, ids)
		}
		return nil
	}
}

func testCheckDestroyed(targetNames ...string) resource.TestCheckFunc {
	return func(*terraform.State) error {
		for _, n := range targetNames {
			objs, err := acctest.MemoryTarget(n).List(context.Background(), "demo/")
			if err != nil {
				return err
			}
			if len(objs) != 0 {
				return fmt.Errorf("%d objects left on %s after destroy", len(objs), n)
			}
		}
		return nil
	}
}

func TestAccSnapshot_BasicLifecycle(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"package.json": `{"name": "demo"}`,
		"index.js":     "module.exports = 1;\n",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		CheckDestroy:             testCheckDestroyed("primary"),
		Steps: []resource.TestStep{
			{
				Config: snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, ""),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "id", "demo"),
					resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "entry_count", "2"),
					resource.TestMatchResourceAttr("pkgmanifest_snapshot.test", "fingerprint", regexp.MustCompile(`^sha256:`)),
					resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "target_states.%", "1"),
					resource.TestMatchResourceAttr("pkgmanifest_snapshot.test", "target_states.primary.snapshot_id", regexp.MustCompile(`^snap_\d{8}T\d{6}Z_[0-9a-f]{8}$`)),
					resource.TestCheckResourceAttrPair("pkgmanifest_snapshot.test", "fingerprint", "pkgmanifest_snapshot.test", "target_states.primary.fingerprint"),
					testCheckLatest("primary"),
					testCheckSnapshotCount("primary", 1),
				),
			},
		},
	})
}

func TestAccSnapshot_UpdateOnTreeChange(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"package.json": "{}",
		"index.js":     "v1",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, ""),
				Check:  resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "entry_count", "2"),
			},
			{
				PreConfig: func() {
					if err := os.WriteFile(filepath.Join(rootPath, "README.md"), []byte("# demo"), 0o644); err != nil {
						t.Fatalf("failed to add file: %s", err)
					}
				},
				Config: snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, ""),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "entry_count", "3"),
					resource.TestCheckResourceAttrPair("pkgmanifest_snapshot.test", "fingerprint", "pkgmanifest_snapshot.test", "target_states.primary.fingerprint"),
					testCheckLatest("primary"),
					testCheckSnapshotCount("primary", 2),
				),
			},
		},
	})
}

func TestAccSnapshot_RetainSnapshots(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"index.js": "",
	})
	addFile := func(name string) func() {
		return func() {
			if err := os.WriteFile(filepath.Join(rootPath, name), nil, 0o644); err != nil {
				t.Fatalf("failed to add %s: %s", name, err)
			}
		}
	}
	config := snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, "  retain_snapshots = 2\n")

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{Config: config},
			{PreConfig: addFile("a.js"), Config: config},
			{
				PreConfig: addFile("b.js"),
				Config:    config,
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "entry_count", "3"),
					testCheckSnapshotCount("primary", 2),
					testCheckLatest("primary"),
				),
			},
		},
	})
}

func TestAccSnapshot_MultiTarget(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"index.js": "multi-target",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		CheckDestroy:             testCheckDestroyed("alpha", "beta"),
		Steps: []resource.TestStep{
			{
				Config: snapshotConfig(
					acctest.ProviderConfigMemoryMulti([]string{"alpha", "beta"}, []string{"alpha", "beta"}),
					rootPath, "  publish_yaml = true\n",
				),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "target_states.%", "2"),
					testCheckLatest("alpha"),
					testCheckLatest("beta"),
				),
			},
		},
	})
}

func TestAccSnapshot_ExplicitTargets(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"index.js": "",
	})
	providerHCL := acctest.ProviderConfigMemoryMulti([]string{"alpha", "beta"}, nil)

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config:      snapshotConfig(providerHCL, rootPath, ""),
				ExpectError: regexp.MustCompile("Ambiguous Target Configuration"),
			},
			{
				Config: snapshotConfig(providerHCL, rootPath, "  targets = [\"alpha\", \"beta\"]\n"),
				Check:  resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "target_states.%", "2"),
			},
			{
				// Dropping a target removes its snapshots.
				Config: snapshotConfig(providerHCL, rootPath, "  targets = [\"alpha\"]\n"),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("pkgmanifest_snapshot.test", "target_states.%", "1"),
					testCheckDestroyed("beta"),
				),
			},
		},
	})
}

func TestAccSnapshot_UnknownTargetReference(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"index.js": "",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config:      snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, "  targets = [\"nope\"]\n"),
				ExpectError: regexp.MustCompile("Invalid Target Reference"),
			},
		},
	})
}

func TestAccSnapshot_MissingTargets(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"index.js": "",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config:      snapshotConfig(acctest.ProviderConfigEmpty(), rootPath, ""),
				ExpectError: regexp.MustCompile("Missing Target Configuration"),
			},
		},
	})
}

func TestAccSnapshot_InvalidName(t *testing.T) {
	acctest.SetupTest(t)

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: acctest.ProviderConfigMemory("primary") + `
resource "pkgmanifest_snapshot" "test" {
  name      = "Not/Valid"
  root_path = "/tmp"
}
`,
				ExpectError: regexp.MustCompile("Invalid Attribute Value Match"),
			},
		},
	})
}

func TestAccSnapshot_DriftIsRepublished(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"index.js": "drift",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, ""),
			},
			{
				PreConfig: func() {
					foreign := manifest.New("/elsewhere", walker.Manifest{
						"/other.js": {Mtime: 1, Size: 1},
					}, walker.Stats{}, time.Now())
					pub := publish.New(semaphore.NewWeighted(4))
					if _, err := pub.Publish(context.Background(), acctest.MemoryTarget("primary"), publish.Input{
						Name:     "demo",
						Document: foreign,
					}); err != nil {
						t.Fatalf("publishing foreign snapshot: %s", err)
					}
				},
				Config: snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, ""),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttrPair("pkgmanifest_snapshot.test", "fingerprint", "pkgmanifest_snapshot.test", "target_states.primary.fingerprint"),
					testCheckLatest("primary"),
				),
			},
		},
	})
}

func TestAccSnapshot_RemovedExternally(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"index.js": "",
	})
	config := snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, "")

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{Config: config},
			{
				// Deleting LATEST makes the resource disappear; the apply
				// recreates it.
				PreConfig: func() {
					if err := acctest.MemoryTarget("primary").Delete(context.Background(), publish.LatestKey("demo")); err != nil {
						t.Fatalf("deleting LATEST: %s", err)
					}
				},
				Config: config,
				Check:  testCheckLatest("primary"),
			},
		},
	})
}

func TestAccSnapshot_Import(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"package.json": "{}",
		"lib/a.js":     "",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: snapshotConfig(acctest.ProviderConfigMemory("primary"), rootPath, ""),
			},
			{
				ResourceName:      "pkgmanifest_snapshot.test",
				ImportState:       true,
				ImportStateId:     "demo",
				ImportStateVerify: true,
				ImportStateVerifyIgnore: []string{
					"respect_distignore",
					"respect_nested_ignore",
					"include_dependencies",
					"select",
					"targets",
					"retain_snapshots",
					"publish_yaml",
					"target_states",
				},
			},
		},
	})
}
