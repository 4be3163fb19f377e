package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/snapshotid"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
)

// ListSnapshots returns the IDs of every snapshot stored for name, newest
// first. Keys that do not carry a valid snapshot ID are ignored.
func ListSnapshots(ctx context.Context, tgt target.Target, name string) ([]string, error) {
	prefix := snapshotsPrefix(name)
	objects, err := tgt.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj.Key, prefix)
		id, _, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return snapshotid.SortNewestFirst(ids), nil
}

// Prune deletes every snapshot of name except the newest keep. The snapshot
// LATEST points at is never deleted and counts toward keep. A keep below one
// is treated as one. It returns the pruned snapshot IDs.
func (p *Publisher) Prune(ctx context.Context, tgt target.Target, name string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}

	latest, err := readLatest(ctx, tgt, name)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	ids, err := ListSnapshots(ctx, tgt, name)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}

	retained := 0
	if latest != "" {
		retained = 1
	}
	var doomed []string
	for _, id := range ids {
		if id == latest {
			continue
		}
		if retained < keep {
			retained++
			continue
		}
		doomed = append(doomed, id)
	}
	if len(doomed) == 0 {
		return nil, nil
	}

	tflog.Debug(ctx, "pruning snapshots", map[string]interface{}{
		"target": tgt.Name(),
		"name":   name,
		"keep":   keep,
		"count":  len(doomed),
	})

	for _, id := range doomed {
		if err := p.deletePrefix(ctx, tgt, snapshotPrefix(name, id)); err != nil {
			return nil, fmt.Errorf("prune: snapshot %s: %w", id, err)
		}
	}
	return doomed, nil
}

// Destroy deletes every object stored under name, the pointer included.
func (p *Publisher) Destroy(ctx context.Context, tgt target.Target, name string) error {
	tflog.Debug(ctx, "destroying snapshots", map[string]interface{}{
		"target": tgt.Name(),
		"name":   name,
	})
	if err := p.deletePrefix(ctx, tgt, name+"/"); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	return nil
}

func (p *Publisher) deletePrefix(ctx context.Context, tgt target.Target, prefix string) error {
	objects, err := tgt.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %q: %w", prefix, err)
	}
	return p.deleteObjects(ctx, tgt, objects)
}

// deleteObjects deletes objects in parallel, bounded by the semaphore.
func (p *Publisher) deleteObjects(ctx context.Context, tgt target.Target, objects []target.ObjectInfo) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, obj := range objects {
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("acquire semaphore for %q: %w", obj.Key, err)
			}
			defer p.sem.Release(1)

			if err := tgt.Delete(gctx, obj.Key); err != nil {
				return fmt.Errorf("delete %q: %w", obj.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}
