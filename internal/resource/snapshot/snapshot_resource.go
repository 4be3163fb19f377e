// Package snapshot implements the pkgmanifest_snapshot resource, which
// publishes the manifest of a package directory to storage targets.
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/booldefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/int64default"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/listdefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/providerdata"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/publish"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

// Compile-time interface checks.
var (
	_ resource.Resource                = &SnapshotResource{}
	_ resource.ResourceWithConfigure   = &SnapshotResource{}
	_ resource.ResourceWithModifyPlan  = &SnapshotResource{}
	_ resource.ResourceWithImportState = &SnapshotResource{}
)

// namePattern restricts snapshot names to a single key segment.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NewSnapshotResource returns a new resource.Resource for the
// pkgmanifest_snapshot type.
func NewSnapshotResource() resource.Resource {
	return &SnapshotResource{}
}

// SnapshotResource implements the pkgmanifest_snapshot Terraform resource.
type SnapshotResource struct {
	providerData *providerdata.ProviderData
}

// targetStateAttrTypes returns the attribute type map for each entry in the
// target_states map of objects.
func targetStateAttrTypes() map[string]attr.Type {
	return map[string]attr.Type{
		"snapshot_id":    types.StringType,
		"fingerprint":    types.StringType,
		"last_synced_at": types.StringType,
	}
}

func targetStatesType() types.ObjectType {
	return types.ObjectType{AttrTypes: targetStateAttrTypes()}
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func (r *SnapshotResource) Metadata(_ context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_snapshot"
}

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

func (r *SnapshotResource) Schema(_ context.Context, _ resource.SchemaRequest, resp *resource.SchemaResponse) {
	emptyListDefault, _ := types.ListValue(types.StringType, []attr.Value{})

	resp.Schema = schema.Schema{
		MarkdownDescription: "Publishes the file manifest of a package directory to one or more storage targets. Every change to the package produces a new snapshot; older snapshots are pruned.",

		Attributes: map[string]schema.Attribute{
			// ---- Required ----
			"name": schema.StringAttribute{
				MarkdownDescription: "Key prefix the snapshots are published under. Changing it forces a new resource.",
				Required:            true,
				Validators: []validator.String{
					stringvalidator.RegexMatches(
						namePattern,
						"must start with a lowercase letter or digit and contain only lowercase letters, digits, dots, underscores and hyphens",
					),
				},
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.RequiresReplace(),
				},
			},
			"root_path": schema.StringAttribute{
				MarkdownDescription: "Path to the package directory to walk.",
				Required:            true,
			},

			// ---- Optional ----
			"respect_distignore": schema.BoolAttribute{
				MarkdownDescription: "Consult `.distignore` before `.npmignore` and `.gitignore`. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},
			"respect_nested_ignore": schema.BoolAttribute{
				MarkdownDescription: "Consult `.gitignore` in subdirectories. Defaults to `true`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(true),
			},
			"include_dependencies": schema.BoolAttribute{
				MarkdownDescription: "Include `node_modules` instead of ignoring it. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},
			"select": schema.ListAttribute{
				MarkdownDescription: "Glob patterns (with `**` support) selecting which entries go into the manifest.",
				Optional:            true,
				Computed:            true,
				ElementType:         types.StringType,
				Default:             listdefault.StaticValue(emptyListDefault),
			},
			"targets": schema.ListAttribute{
				MarkdownDescription: "List of target names to publish to. When omitted the provider's `default_targets` are used; if those are also empty the single configured target is used.",
				Optional:            true,
				Computed:            true,
				ElementType:         types.StringType,
				Default:             listdefault.StaticValue(emptyListDefault),
			},
			"retain_snapshots": schema.Int64Attribute{
				MarkdownDescription: "Number of snapshots kept per target, the latest included. Defaults to `5`.",
				Optional:            true,
				Computed:            true,
				Default:             int64default.StaticInt64(5),
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"publish_yaml": schema.BoolAttribute{
				MarkdownDescription: "Also store a `manifest.yaml` next to `manifest.json`. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},

			// ---- Computed ----
			"id": schema.StringAttribute{
				MarkdownDescription: "Same as `name`.",
				Computed:            true,
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.UseStateForUnknown(),
				},
			},
			"fingerprint": schema.StringAttribute{
				MarkdownDescription: "SHA-256 digest over the published entries.",
				Computed:            true,
			},
			"entry_count": schema.Int64Attribute{
				MarkdownDescription: "Number of published entries.",
				Computed:            true,
			},
			"target_states": schema.MapNestedAttribute{
				MarkdownDescription: "Per-target publication state. Keys are target names.",
				Computed:            true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"snapshot_id": schema.StringAttribute{
							MarkdownDescription: "Snapshot ID the `LATEST` pointer names.",
							Computed:            true,
						},
						"fingerprint": schema.StringAttribute{
							MarkdownDescription: "Fingerprint stored in that snapshot.",
							Computed:            true,
						},
						"last_synced_at": schema.StringAttribute{
							MarkdownDescription: "RFC 3339 timestamp of the last publication.",
							Computed:            true,
						},
					},
				},
			},
		},
	}
}

// --------------------------------------------------------------------------
// Configure
// --------------------------------------------------------------------------

func (r *SnapshotResource) Configure(_ context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	if req.ProviderData == nil {
		return
	}

	pd, ok := req.ProviderData.(*providerdata.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Resource Configure Type",
			fmt.Sprintf("Expected *providerdata.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	r.providerData = pd
}

// --------------------------------------------------------------------------
// Create
// --------------------------------------------------------------------------

func (r *SnapshotResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var plan SnapshotResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(r.apply(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &plan)...)
}

// --------------------------------------------------------------------------
// Read (refresh)
// --------------------------------------------------------------------------

func (r *SnapshotResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var state SnapshotResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resolvedTargets, diags := r.resolveTargets(ctx, state)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	priorStates, diags := targetStatesFrom(ctx, state.TargetStates)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	pub := publish.New(r.providerData.Semaphore)
	name := state.Name.ValueString()
	expected := state.Fingerprint.ValueString()
	targetStates := make(map[string]attr.Value, len(resolvedTargets))
	var latestDoc *manifest.Document

	for _, tName := range resolvedTargets {
		t, ok := r.providerData.Targets[tName]
		if !ok {
			tflog.Warn(ctx, "target no longer configured, removing from state", map[string]interface{}{
				"target": tName,
			})
			continue
		}

		result, err := pub.Refresh(ctx, t, name, expected)
		if err != nil {
			resp.Diagnostics.AddError(
				"Refresh Failed",
				fmt.Sprintf("Failed to refresh snapshot %q from target %q: %s", name, tName, err),
			)
			return
		}

		if result.MissingPointer || result.MissingManifest {
			tflog.Info(ctx, "snapshot not found on target, it may have been deleted externally", map[string]interface{}{
				"target":           tName,
				"missing_pointer":  result.MissingPointer,
				"missing_manifest": result.MissingManifest,
			})
			continue
		}

		if result.Drifted {
			resp.Diagnostics.AddWarning(
				"Snapshot Drift Detected",
				fmt.Sprintf("The latest snapshot of %q on target %q has fingerprint %s, expected %s. It was published outside this resource; the next apply republishes.",
					name, tName, result.Document.Fingerprint, expected),
			)
		}
		if latestDoc == nil {
			latestDoc = result.Document
		}

		syncedAt := ""
		if prior, exists := priorStates[tName]; exists && prior.SnapshotID.ValueString() == result.LatestSnapshotID {
			syncedAt = prior.LastSyncedAt.ValueString()
		}
		tsVal, tsDiags := targetStateValue(ctx, result.LatestSnapshotID, result.Document.Fingerprint, syncedAt)
		resp.Diagnostics.Append(tsDiags...)
		if resp.Diagnostics.HasError() {
			return
		}
		targetStates[tName] = tsVal
	}

	if len(targetStates) == 0 {
		tflog.Info(ctx, "no target holds the snapshot, removing resource from state", map[string]interface{}{
			"name": name,
		})
		resp.State.RemoveResource(ctx)
		return
	}

	// Imported resources learn their content from the stored manifest.
	if expected == "" && latestDoc != nil {
		state.Fingerprint = types.StringValue(latestDoc.Fingerprint)
		state.EntryCount = types.Int64Value(int64(len(latestDoc.Entries)))
		if state.RootPath.IsNull() || state.RootPath.ValueString() == "" {
			state.RootPath = types.StringValue(latestDoc.RootPath)
		}
	}

	tsMap, tsDiags := types.MapValue(targetStatesType(), targetStates)
	resp.Diagnostics.Append(tsDiags...)
	if resp.Diagnostics.HasError() {
		return
	}
	state.TargetStates = tsMap

	resp.Diagnostics.Append(resp.State.Set(ctx, &state)...)
}

// --------------------------------------------------------------------------
// Update
// --------------------------------------------------------------------------

func (r *SnapshotResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var plan SnapshotResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	var priorState SnapshotResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &priorState)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(r.apply(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	// Targets dropped from the resource keep no snapshots behind.
	priorStates, diags := targetStatesFrom(ctx, priorState.TargetStates)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}
	current := plan.TargetStates.Elements()
	pub := publish.New(r.providerData.Semaphore)
	for _, tName := range sortedKeys(priorStates) {
		if _, kept := current[tName]; kept {
			continue
		}
		t, ok := r.providerData.Targets[tName]
		if !ok {
			continue
		}
		tflog.Info(ctx, "removing snapshots from dropped target", map[string]interface{}{
			"name":   plan.Name.ValueString(),
			"target": tName,
		})
		if err := pub.Destroy(ctx, t, plan.Name.ValueString()); err != nil {
			tflog.Warn(ctx, "cleanup of dropped target failed", map[string]interface{}{
				"target": tName,
				"error":  err.Error(),
			})
		}
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &plan)...)
}

// --------------------------------------------------------------------------
// Delete
// --------------------------------------------------------------------------

func (r *SnapshotResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var state SnapshotResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resolvedTargets, diags := r.resolveTargets(ctx, state)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	pub := publish.New(r.providerData.Semaphore)
	name := state.Name.ValueString()

	for _, tName := range resolvedTargets {
		t, ok := r.providerData.Targets[tName]
		if !ok {
			tflog.Warn(ctx, "target no longer configured, skipping destroy", map[string]interface{}{
				"target": tName,
			})
			continue
		}

		tflog.Info(ctx, "destroying snapshots on target", map[string]interface{}{
			"name":   name,
			"target": tName,
		})
		if err := pub.Destroy(ctx, t, name); err != nil {
			resp.Diagnostics.AddError(
				"Destroy Failed",
				fmt.Sprintf("Failed to destroy snapshots of %q on target %q: %s", name, tName, err),
			)
			return
		}
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// apply walks the package, publishes the manifest to every resolved target
// and prunes old snapshots. It fills the computed attributes of plan.
func (r *SnapshotResource) apply(ctx context.Context, plan *SnapshotResourceModel) diag.Diagnostics {
	var diags diag.Diagnostics

	resolvedTargets, d := r.resolveTargets(ctx, *plan)
	diags.Append(d...)
	if diags.HasError() {
		return diags
	}

	targets := make([]target.Target, 0, len(resolvedTargets))
	for _, tName := range resolvedTargets {
		t, ok := r.providerData.Targets[tName]
		if !ok {
			diags.AddError(
				"Target Not Found",
				fmt.Sprintf("Target %q referenced by the resource is not defined in the provider.", tName),
			)
			return diags
		}
		targets = append(targets, t)
	}

	opts, patterns, d := walkConfig(ctx, *plan, r.providerData)
	diags.Append(d...)
	if diags.HasError() {
		return diags
	}

	rootPath := plan.RootPath.ValueString()
	doc, err := manifest.Build(ctx, rootPath, opts, patterns, time.Now())
	if err != nil {
		diags.AddError("Package Walk Failed", fmt.Sprintf("Failed to walk %q: %s", rootPath, err))
		return diags
	}
	diags.Append(checkPlannedFingerprint(rootPath, plan.Fingerprint, doc)...)
	if diags.HasError() {
		return diags
	}

	name := plan.Name.ValueString()
	tflog.Info(ctx, "publishing snapshot", map[string]interface{}{
		"name":        name,
		"targets":     resolvedTargets,
		"entries":     len(doc.Entries),
		"fingerprint": doc.Fingerprint,
	})

	pub := publish.New(r.providerData.Semaphore)
	logChanges(ctx, changePlan(ctx, pub, name, targets, resolvedTargets, doc))

	results, err := pub.PublishAll(ctx, targets, publish.Input{
		Name:     name,
		Document: doc,
		WithYAML: plan.PublishYAML.ValueBool(),
	})
	if err != nil {
		diags.AddError("Publish Failed", fmt.Sprintf("Failed to publish snapshot %q: %s", name, err))
		return diags
	}

	syncedAt := time.Now().UTC().Format(time.RFC3339)
	targetStates := make(map[string]attr.Value, len(results))
	for i, res := range results {
		tsVal, d := targetStateValue(ctx, res.SnapshotID, res.Fingerprint, syncedAt)
		diags.Append(d...)
		if diags.HasError() {
			return diags
		}
		targetStates[resolvedTargets[i]] = tsVal
	}

	tsMap, d := types.MapValue(targetStatesType(), targetStates)
	diags.Append(d...)
	if diags.HasError() {
		return diags
	}

	plan.ID = types.StringValue(name)
	plan.Fingerprint = types.StringValue(doc.Fingerprint)
	plan.EntryCount = types.Int64Value(int64(len(doc.Entries)))
	plan.TargetStates = tsMap

	retain := int(plan.RetainSnapshots.ValueInt64())
	for i, t := range targets {
		if _, err := pub.Prune(ctx, t, name, retain); err != nil {
			tflog.Warn(ctx, "prune failed", map[string]interface{}{
				"target": resolvedTargets[i],
				"error":  err.Error(),
			})
		}
	}

	return diags
}

// checkPlannedFingerprint fails when the plan recorded a fingerprint that the
// apply-time walk no longer produces. An unknown plan value accepts any walk.
func checkPlannedFingerprint(rootPath string, planned types.String, doc *manifest.Document) diag.Diagnostics {
	var diags diag.Diagnostics
	if planned.IsNull() || planned.IsUnknown() || planned.ValueString() == doc.Fingerprint {
		return diags
	}
	diags.AddError(
		"Package Changed Since Plan",
		fmt.Sprintf("The package at %q has fingerprint %s, but the plan recorded %s. "+
			"Files were modified or touched after planning. Run terraform plan again.",
			rootPath, doc.Fingerprint, planned.ValueString()),
	)
	return diags
}

// walkConfig derives walker options and select patterns from the model.
func walkConfig(ctx context.Context, m SnapshotResourceModel, pd *providerdata.ProviderData) (walker.Options, []string, diag.Diagnostics) {
	var diags diag.Diagnostics

	opts := walker.DefaultOptions()
	if pd != nil {
		opts.Concurrency = pd.MaxConcurrency
	}
	if !m.RespectDistignore.IsNull() && !m.RespectDistignore.IsUnknown() {
		opts.RespectDistignore = m.RespectDistignore.ValueBool()
	}
	if !m.RespectNestedIgnore.IsNull() && !m.RespectNestedIgnore.IsUnknown() {
		opts.RespectNestedIgnore = m.RespectNestedIgnore.ValueBool()
	}
	if !m.IncludeDependencies.IsNull() && !m.IncludeDependencies.IsUnknown() {
		opts.IncludeDependencies = m.IncludeDependencies.ValueBool()
	}

	var patterns []string
	if !m.Select.IsNull() && !m.Select.IsUnknown() {
		diags.Append(m.Select.ElementsAs(ctx, &patterns, false)...)
	}
	return opts, patterns, diags
}

func targetStateValue(ctx context.Context, snapshotID, fingerprint, syncedAt string) (types.Object, diag.Diagnostics) {
	return types.ObjectValueFrom(ctx, targetStateAttrTypes(), TargetStateValue{
		SnapshotID:   types.StringValue(snapshotID),
		Fingerprint:  types.StringValue(fingerprint),
		LastSyncedAt: types.StringValue(syncedAt),
	})
}

// targetStatesFrom decodes the target_states map. Null and unknown maps
// decode to an empty result.
func targetStatesFrom(ctx context.Context, m types.Map) (map[string]TargetStateValue, diag.Diagnostics) {
	var diags diag.Diagnostics
	out := make(map[string]TargetStateValue)
	if m.IsNull() || m.IsUnknown() {
		return out, diags
	}

	objs := make(map[string]types.Object)
	diags.Append(m.ElementsAs(ctx, &objs, false)...)
	if diags.HasError() {
		return out, diags
	}
	for k, v := range objs {
		var tsv TargetStateValue
		diags.Append(v.As(ctx, &tsv, basetypes.ObjectAsOptions{})...)
		if diags.HasError() {
			return out, diags
		}
		out[k] = tsv
	}
	return out, diags
}

// resolveTargets determines the effective list of target names:
//  1. Explicit resource `targets` attribute
//  2. Provider `default_targets`
//  3. Implicit single target (only if exactly 1 target is configured)
func (r *SnapshotResource) resolveTargets(ctx context.Context, model SnapshotResourceModel) ([]string, diag.Diagnostics) {
	var diags diag.Diagnostics

	if !model.Targets.IsNull() && !model.Targets.IsUnknown() {
		var explicit []string
		diags.Append(model.Targets.ElementsAs(ctx, &explicit, false)...)
		if diags.HasError() {
			return nil, diags
		}
		// The schema default is an empty list, so empty means omitted.
		if len(explicit) > 0 {
			return explicit, diags
		}
	}

	if len(r.providerData.DefaultTargets) > 0 {
		return r.providerData.DefaultTargets, diags
	}

	switch len(r.providerData.Targets) {
	case 0:
		diags.AddError(
			"Missing Target Configuration",
			"pkgmanifest_snapshot needs at least one target block in the provider configuration.",
		)
		return nil, diags
	case 1:
		return sortedKeys(r.providerData.Targets), diags
	}

	diags.AddError(
		"Ambiguous Target Configuration",
		"Multiple targets are configured in the provider but neither `default_targets` on the provider nor `targets` on the resource is set. "+
			"Set `default_targets` on the provider or specify `targets` on the resource.",
	)
	return nil, diags
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
