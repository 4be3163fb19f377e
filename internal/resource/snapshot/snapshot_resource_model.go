package snapshot

import "github.com/hashicorp/terraform-plugin-framework/types"

// SnapshotResourceModel maps the pkgmanifest_snapshot resource schema to a
// Go struct.
type SnapshotResourceModel struct {
	// Config
	Name                types.String `tfsdk:"name"`
	RootPath            types.String `tfsdk:"root_path"`
	RespectDistignore   types.Bool   `tfsdk:"respect_distignore"`    // default false
	RespectNestedIgnore types.Bool   `tfsdk:"respect_nested_ignore"` // default true
	IncludeDependencies types.Bool   `tfsdk:"include_dependencies"`  // default false
	Select              types.List   `tfsdk:"select"`                // optional list of strings
	Targets             types.List   `tfsdk:"targets"`               // optional list of strings
	RetainSnapshots     types.Int64  `tfsdk:"retain_snapshots"`      // default 5
	PublishYAML         types.Bool   `tfsdk:"publish_yaml"`          // default false

	// Computed
	ID           types.String `tfsdk:"id"`
	Fingerprint  types.String `tfsdk:"fingerprint"`
	EntryCount   types.Int64  `tfsdk:"entry_count"`
	TargetStates types.Map    `tfsdk:"target_states"`
}

// TargetStateValue is a single entry in the computed target_states map,
// keyed by target name.
type TargetStateValue struct {
	SnapshotID   types.String `tfsdk:"snapshot_id"`
	Fingerprint  types.String `tfsdk:"fingerprint"`
	LastSyncedAt types.String `tfsdk:"last_synced_at"`
}
