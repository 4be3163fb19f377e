package snapshot

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/planformat"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/publish"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

// changePlan diffs doc against the snapshot currently published on each
// target. Targets whose LATEST pointer already carries doc's fingerprint are
// no-ops and are not downloaded. A target without a readable snapshot is
// planned as a create. Entry changes are reported against the first target
// that has a snapshot.
func changePlan(ctx context.Context, pub *publish.Publisher, name string, targets []target.Target, names []string, doc *manifest.Document) *planformat.Plan {
	p := &planformat.Plan{
		Name:           name,
		RootPath:       doc.RootPath,
		NewFingerprint: doc.Fingerprint,
	}

	var baseline walker.Manifest
	found := false
	for i, t := range targets {
		if fp, err := publish.LatestFingerprint(ctx, t, name); err == nil && fp == doc.Fingerprint {
			p.Targets = append(p.Targets, planformat.TargetAction{TargetName: names[i], Action: planformat.ActionNoop})
			if !found {
				baseline = doc.Entries
				p.OldFingerprint = fp
				found = true
			}
			continue
		}

		ta := planformat.TargetAction{TargetName: names[i], Action: planformat.ActionCreate}

		var prev walker.Manifest
		res, err := pub.Refresh(ctx, t, name, "")
		switch {
		case err != nil:
			tflog.Debug(ctx, "published snapshot unreadable, planning create", map[string]interface{}{
				"target": names[i],
				"error":  err.Error(),
			})
		case res.Document != nil:
			prev = res.Document.Entries
			ta.Action = planformat.ActionUpdate
			if !found {
				baseline = prev
				p.OldFingerprint = res.Document.Fingerprint
				found = true
			}
		}

		ta.Added, ta.Changed, ta.Removed = planformat.Count(planformat.Diff(prev, doc.Entries))
		if ta.Action == planformat.ActionUpdate && ta.Added+ta.Changed+ta.Removed == 0 {
			ta.Action = planformat.ActionNoop
		}
		p.Targets = append(p.Targets, ta)
	}

	p.Changes = planformat.Diff(baseline, doc.Entries)
	return p
}

func logChanges(ctx context.Context, p *planformat.Plan) {
	tflog.Info(ctx, planformat.FormatSummary(p), map[string]interface{}{
		"plan": planformat.Format(p),
	})
}
