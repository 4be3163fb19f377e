package publish

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
)

// Refresh reads what tgt currently holds for name. A missing pointer or
// manifest is reported in the result, not as an error. Drift means the
// stored fingerprint differs from expectedFingerprint; an empty
// expectedFingerprint disables the check.
func (p *Publisher) Refresh(ctx context.Context, tgt target.Target, name, expectedFingerprint string) (*RefreshResult, error) {
	res := &RefreshResult{TargetName: tgt.Name()}

	id, err := readLatest(ctx, tgt, name)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if id == "" {
		tflog.Debug(ctx, "LATEST pointer not found", map[string]interface{}{
			"target": tgt.Name(),
			"name":   name,
		})
		res.MissingPointer = true
		return res, nil
	}
	res.LatestSnapshotID = id

	doc, err := readManifest(ctx, tgt, name, id)
	if err != nil {
		if errors.Is(err, target.ErrNotFound) {
			res.MissingManifest = true
			return res, nil
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}
	res.Document = doc

	if expectedFingerprint != "" && doc.Fingerprint != expectedFingerprint {
		tflog.Warn(ctx, "snapshot fingerprint drift detected", map[string]interface{}{
			"target":   tgt.Name(),
			"name":     name,
			"expected": expectedFingerprint,
			"actual":   doc.Fingerprint,
		})
		res.Drifted = true
	}
	return res, nil
}

func readManifest(ctx context.Context, tgt target.Target, name, snapshotID string) (*manifest.Document, error) {
	key := ManifestKey(name, snapshotID)
	rc, _, err := tgt.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	doc, err := manifest.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", key, err)
	}
	return doc, nil
}
