package files

import "github.com/hashicorp/terraform-plugin-framework/types"

// FilesDataSourceModel maps the pkgmanifest_files data source schema to a Go
// struct.
type FilesDataSourceModel struct {
	// Config
	RootPath            types.String `tfsdk:"root_path"`
	RespectDistignore   types.Bool   `tfsdk:"respect_distignore"`    // default false
	RespectNestedIgnore types.Bool   `tfsdk:"respect_nested_ignore"` // default true
	IncludeDependencies types.Bool   `tfsdk:"include_dependencies"`  // default false
	Select              types.List   `tfsdk:"select"`                // optional list of strings

	// Computed
	ID           types.String `tfsdk:"id"`
	Fingerprint  types.String `tfsdk:"fingerprint"`
	EntryCount   types.Int64  `tfsdk:"entry_count"`
	Entries      types.Map    `tfsdk:"entries"`
	Stats        types.Object `tfsdk:"stats"`
	ManifestJSON types.String `tfsdk:"manifest_json"`
	ManifestYAML types.String `tfsdk:"manifest_yaml"`
}

// EntryValue is one element of the computed entries map, keyed by path.
type EntryValue struct {
	Dir         types.Bool   `tfsdk:"dir"`
	Mtime       types.Int64  `tfsdk:"mtime"`
	Size        types.Int64  `tfsdk:"size"`
	Symlink     types.String `tfsdk:"symlink"`
	SymlinkReal types.String `tfsdk:"symlink_real"`
}

// StatsValue is the computed stats object.
type StatsValue struct {
	IgnoreRulesCount types.Int64 `tfsdk:"ignore_rules_count"`
	TotalFiles       types.Int64 `tfsdk:"total_files"`
	IgnoredFiles     types.Int64 `tfsdk:"ignored_files"`
	TotalSize        types.Int64 `tfsdk:"total_size"`
	TotalBytes       types.Int64 `tfsdk:"total_bytes"`
}
