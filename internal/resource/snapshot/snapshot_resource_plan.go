package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
)

// ModifyPlan implements resource.ResourceWithModifyPlan. It validates target
// references and walks the package at plan time so a changed tree shows up
// as a changed fingerprint.
func (r *SnapshotResource) ModifyPlan(ctx context.Context, req resource.ModifyPlanRequest, resp *resource.ModifyPlanResponse) {
	// Nothing to plan when the resource is being destroyed.
	if req.Plan.Raw.IsNull() {
		return
	}

	var plan SnapshotResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	// ---------------------------------------------------------------
	// 1. Validate target references exist in the provider config.
	// ---------------------------------------------------------------
	if r.providerData != nil && !plan.Targets.IsNull() && !plan.Targets.IsUnknown() {
		var targetNames []string
		resp.Diagnostics.Append(plan.Targets.ElementsAs(ctx, &targetNames, false)...)
		if resp.Diagnostics.HasError() {
			return
		}

		for _, tName := range targetNames {
			if _, exists := r.providerData.Targets[tName]; !exists {
				resp.Diagnostics.AddError(
					"Invalid Target Reference",
					fmt.Sprintf(
						"Target %q is referenced in the resource targets list but is not defined in the provider configuration.",
						tName,
					),
				)
			}
		}

		if resp.Diagnostics.HasError() {
			return
		}
	}

	// ---------------------------------------------------------------
	// 2. Compute the plan-time fingerprint if root_path is known.
	// ---------------------------------------------------------------
	if plan.RootPath.IsNull() || plan.RootPath.IsUnknown() || plan.Select.IsUnknown() {
		return
	}

	// The directory may not exist in plan-only CI runs.
	rootPath := plan.RootPath.ValueString()
	absDir, err := filepath.Abs(rootPath)
	if err != nil {
		return
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return
	}

	opts, patterns, diags := walkConfig(ctx, plan, r.providerData)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	doc, err := manifest.Build(ctx, rootPath, opts, patterns, time.Time{})
	if err != nil {
		tflog.Warn(ctx, "plan-time walk failed, fingerprint will be computed at apply", map[string]interface{}{
			"root_path": rootPath,
			"error":     err.Error(),
		})
		return
	}

	// On update, a new fingerprint or a target whose latest snapshot differs
	// from it means a new publication during apply.
	prior := types.StringNull()
	if !req.State.Raw.IsNull() {
		var state SnapshotResourceModel
		resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
		if resp.Diagnostics.HasError() {
			return
		}
		prior = state.Fingerprint

		stale := state.Fingerprint.ValueString() != doc.Fingerprint
		if !stale {
			priorStates, diags := targetStatesFrom(ctx, state.TargetStates)
			resp.Diagnostics.Append(diags...)
			if resp.Diagnostics.HasError() {
				return
			}
			for _, ts := range priorStates {
				if ts.Fingerprint.ValueString() != doc.Fingerprint {
					stale = true
					break
				}
			}
		}
		if stale {
			plan.TargetStates = types.MapUnknown(targetStatesType())
		}
	}

	plan.Fingerprint, plan.EntryCount = plannedFingerprint(prior, doc)

	resp.Diagnostics.Append(resp.Plan.Set(ctx, &plan)...)
}

// plannedFingerprint returns the fingerprint and entry_count to plan. They
// are known only when the tree still matches the prior state. Any other
// value is left to apply, whose walk sees later mtimes.
func plannedFingerprint(prior types.String, doc *manifest.Document) (types.String, types.Int64) {
	if prior.IsNull() || prior.IsUnknown() || prior.ValueString() != doc.Fingerprint {
		return types.StringUnknown(), types.Int64Unknown()
	}
	return types.StringValue(doc.Fingerprint), types.Int64Value(int64(len(doc.Entries)))
}
