package provider_test

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/hashicorp/terraform-plugin-testing/helper/resource"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/acctest"
)

func TestAccFilesDataSource_Basic(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		".npmignore":   "*.log\n",
		"package.json": `{"name": "demo"}`,
		"index.js":     "module.exports = 1;\n",
		"debug.log":    "noise",
		"lib/a.js":     "exports.a = 1;\n",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: acctest.ProviderConfigEmpty() + fmt.Sprintf(`
data "pkgmanifest_files" "test" {
  root_path = %q
}
`, rootPath),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "entry_count", "5"),
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "entries.%", "5"),
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "entries./lib.dir", "true"),
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "stats.total_files", "5"),
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "stats.ignored_files", "1"),
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "stats.ignore_rules_count", "3"),
					resource.TestMatchResourceAttr("data.pkgmanifest_files.test", "fingerprint", regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)),
					resource.TestCheckResourceAttrPair("data.pkgmanifest_files.test", "id", "data.pkgmanifest_files.test", "fingerprint"),
					resource.TestMatchResourceAttr("data.pkgmanifest_files.test", "manifest_json", regexp.MustCompile(`"/index.js"`)),
					resource.TestMatchResourceAttr("data.pkgmanifest_files.test", "manifest_yaml", regexp.MustCompile(`(?m)^schema_version: 1$`)),
				),
			},
		},
	})
}

func TestAccFilesDataSource_Select(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		"package.json": "{}",
		"lib/a.js":     "",
		"lib/b/c.js":   "",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: acctest.ProviderConfigEmpty() + fmt.Sprintf(`
data "pkgmanifest_files" "test" {
  root_path = %q
  select    = ["lib/**/*.js"]
}
`, rootPath),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "entry_count", "2"),
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "stats.total_files", "3"),
				),
			},
		},
	})
}

func TestAccFilesDataSource_Distignore(t *testing.T) {
	acctest.SetupTest(t)

	rootPath := acctest.CreateTempPackageDir(t, map[string]string{
		".distignore":  "lib/\n",
		"package.json": "{}",
		"lib/a.js":     "",
	})

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				// Without respect_distignore the default rules hide dotfiles.
				Config: acctest.ProviderConfigEmpty() + fmt.Sprintf(`
data "pkgmanifest_files" "test" {
  root_path = %q
}
`, rootPath),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "entry_count", "3"),
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "stats.ignore_rules_count", "4"),
					resource.TestCheckNoResourceAttr("data.pkgmanifest_files.test", "entries./.distignore.size"),
				),
			},
			{
				Config: acctest.ProviderConfigEmpty() + fmt.Sprintf(`
data "pkgmanifest_files" "test" {
  root_path          = %q
  respect_distignore = true
}
`, rootPath),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("data.pkgmanifest_files.test", "entry_count", "2"),
					resource.TestCheckNoResourceAttr("data.pkgmanifest_files.test", "entries./lib.dir"),
				),
			},
		},
	})
}

func TestAccFilesDataSource_MissingRoot(t *testing.T) {
	acctest.SetupTest(t)

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: acctest.TestProtoV6ProviderFactories,
		Steps: []resource.TestStep{
			{
				Config: acctest.ProviderConfigEmpty() + `
data "pkgmanifest_files" "test" {
  root_path = "/nonexistent/pkgmanifest/root"
}
`,
				ExpectError: regexp.MustCompile("Package Walk Failed"),
			},
		},
	})
}
