// Package publish stores manifest snapshots on targets. Every snapshot lives
// under <name>/snapshots/<snapshot_id>/ and the <name>/LATEST pointer names
// the current one. The pointer is written last, so readers never see a
// snapshot that is only partially uploaded.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/snapshotid"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
)

// ContentTypePointer is the content type of the LATEST pointer.
const ContentTypePointer = "text/plain; charset=utf-8"

// Publisher runs publish, refresh, prune and destroy operations. Object
// transfers share one semaphore so concurrency is bounded provider-wide.
type Publisher struct {
	sem *semaphore.Weighted
	now func() time.Time
}

// New creates a Publisher bounded by sem.
func New(sem *semaphore.Weighted) *Publisher {
	return &Publisher{sem: sem, now: time.Now}
}

// Input describes one snapshot to publish.
type Input struct {
	// Name is the key prefix the snapshot is published under.
	Name string
	// Document is copied; its SnapshotID is assigned by Publish.
	Document *manifest.Document
	// WithYAML also stores manifest.yaml next to manifest.json.
	WithYAML bool
}

// Result holds the outcome of publishing to a single target.
type Result struct {
	TargetName   string
	SnapshotID   string
	Fingerprint  string
	ManifestJSON []byte
}

// RefreshResult describes what a target currently holds for a name.
type RefreshResult struct {
	TargetName       string
	LatestSnapshotID string
	Document         *manifest.Document
	MissingPointer   bool
	MissingManifest  bool
	Drifted          bool
}

// Healthy reports whether the target holds a readable, undrifted snapshot.
func (r *RefreshResult) Healthy() bool {
	return !r.MissingPointer && !r.MissingManifest && !r.Drifted
}

// LatestKey returns the object key of the pointer for name.
func LatestKey(name string) string {
	return name + "/LATEST"
}

// ManifestKey returns the object key of a snapshot's JSON manifest.
func ManifestKey(name, snapshotID string) string {
	return snapshotPrefix(name, snapshotID) + "manifest.json"
}

// YAMLKey returns the object key of a snapshot's YAML manifest.
func YAMLKey(name, snapshotID string) string {
	return snapshotPrefix(name, snapshotID) + "manifest.yaml"
}

func snapshotsPrefix(name string) string {
	return name + "/snapshots/"
}

func snapshotPrefix(name, snapshotID string) string {
	return snapshotsPrefix(name) + snapshotID + "/"
}

// object is a pending upload.
type object struct {
	key         string
	body        []byte
	contentType string
	metadata    map[string]string
}

// Publish uploads the manifest of in.Document as a new snapshot and then
// moves the LATEST pointer to it.
func (p *Publisher) Publish(ctx context.Context, tgt target.Target, in Input) (*Result, error) {
	if in.Name == "" {
		return nil, errors.New("publish: name is required")
	}
	if in.Document == nil {
		return nil, errors.New("publish: document is required")
	}

	id := snapshotid.NewAt(p.now())
	doc := *in.Document
	doc.SnapshotID = id

	md := map[string]string{
		target.MetaSnapshotID:  id,
		target.MetaFingerprint: doc.Fingerprint,
	}

	jsonBody, err := manifest.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	objects := []object{{key: ManifestKey(in.Name, id), body: jsonBody, contentType: manifest.ContentTypeJSON, metadata: md}}
	if in.WithYAML {
		yamlBody, err := manifest.MarshalYAML(&doc)
		if err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
		objects = append(objects, object{key: YAMLKey(in.Name, id), body: yamlBody, contentType: manifest.ContentTypeYAML, metadata: md})
	}

	tflog.Debug(ctx, "publishing snapshot", map[string]interface{}{
		"target":      tgt.Name(),
		"name":        in.Name,
		"snapshot_id": id,
		"entries":     len(doc.Entries),
	})

	if err := p.uploadObjects(ctx, tgt, objects); err != nil {
		return nil, fmt.Errorf("publish: upload snapshot: %w", err)
	}

	if err := tgt.Put(ctx, LatestKey(in.Name), strings.NewReader(id), target.PutOptions{
		ContentType: ContentTypePointer,
		Metadata:    md,
	}); err != nil {
		return nil, fmt.Errorf("publish: write LATEST: %w", err)
	}

	return &Result{
		TargetName:   tgt.Name(),
		SnapshotID:   id,
		Fingerprint:  doc.Fingerprint,
		ManifestJSON: jsonBody,
	}, nil
}

// PublishAll publishes in to every target concurrently. The first failure
// cancels the remaining targets. Results are in target order.
func (p *Publisher) PublishAll(ctx context.Context, targets []target.Target, in Input) ([]*Result, error) {
	results := make([]*Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, tgt := range targets {
		g.Go(func() error {
			res, err := p.Publish(gctx, tgt, in)
			if err != nil {
				return fmt.Errorf("target %q: %w", tgt.Name(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// uploadObjects uploads objects in parallel, bounded by the semaphore.
func (p *Publisher) uploadObjects(ctx context.Context, tgt target.Target, objects []object) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, obj := range objects {
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("acquire semaphore for %q: %w", obj.key, err)
			}
			defer p.sem.Release(1)

			if err := tgt.Put(gctx, obj.key, bytes.NewReader(obj.body), target.PutOptions{
				ContentType: obj.contentType,
				Metadata:    obj.metadata,
			}); err != nil {
				return fmt.Errorf("put %q: %w", obj.key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// readLatest returns the snapshot ID the pointer names, or "" when there is
// no pointer.
func readLatest(ctx context.Context, tgt target.Target, name string) (string, error) {
	rc, _, err := tgt.Get(ctx, LatestKey(name))
	if err != nil {
		if errors.Is(err, target.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read LATEST: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read LATEST body: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LatestFingerprint returns the fingerprint stamped on the LATEST pointer
// without downloading the manifest. It returns "" when there is no pointer
// or the backend keeps no object metadata.
func LatestFingerprint(ctx context.Context, tgt target.Target, name string) (string, error) {
	meta, err := tgt.Head(ctx, LatestKey(name))
	if err != nil {
		if errors.Is(err, target.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("head LATEST: %w", err)
	}
	return meta.Metadata[target.MetaFingerprint], nil
}
