package target

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcsstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// gcsTarget stores snapshots in a Google Cloud Storage bucket using
// Application Default Credentials.
type gcsTarget struct {
	keyspace
	bucket     *gcsstorage.BucketHandle
	kmsKeyName string
}

func newGCSTarget(ctx context.Context, cfg Config) (Target, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	client, err := gcsstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	return &gcsTarget{
		keyspace:   newKeyspace(cfg),
		bucket:     client.Bucket(cfg.Bucket),
		kmsKeyName: cfg.KMSKeyName,
	}, nil
}

func (t *gcsTarget) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	t.trace(ctx, "put", key)

	w := t.bucket.Object(t.object(key)).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = cloneMetadata(opts.Metadata)
	w.KMSKeyName = t.kmsKeyName

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: put %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: put %q: %w", key, err)
	}
	return nil
}

// Get reads the generation it looked up, so a concurrent overwrite of the
// LATEST pointer cannot pair new content with old metadata.
func (t *gcsTarget) Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	t.trace(ctx, "get", key)

	o := t.bucket.Object(t.object(key))
	attrs, err := o.Attrs(ctx)
	if err != nil {
		return nil, ObjectMeta{}, gcsError("get", key, err)
	}

	r, err := o.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, ObjectMeta{}, gcsError("get", key, err)
	}
	return r, gcsMeta(attrs), nil
}

func (t *gcsTarget) Head(ctx context.Context, key string) (ObjectMeta, error) {
	t.trace(ctx, "head", key)

	attrs, err := t.bucket.Object(t.object(key)).Attrs(ctx)
	if err != nil {
		return ObjectMeta{}, gcsError("head", key, err)
	}
	return gcsMeta(attrs), nil
}

func (t *gcsTarget) Delete(ctx context.Context, key string) error {
	t.trace(ctx, "delete", key)

	err := t.bucket.Object(t.object(key)).Delete(ctx)
	if err != nil && !errors.Is(err, gcsstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %q: %w", key, err)
	}
	return nil
}

func (t *gcsTarget) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	t.trace(ctx, "list", prefix)

	it := t.bucket.Objects(ctx, &gcsstorage.Query{Prefix: t.object(prefix)})

	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list %q: %w", prefix, err)
		}
		objects = append(objects, ObjectInfo{
			Key:  t.logical(attrs.Name),
			Size: attrs.Size,
			ETag: attrs.Etag,
		})
	}
}

func gcsMeta(attrs *gcsstorage.ObjectAttrs) ObjectMeta {
	return ObjectMeta{
		ETag:     attrs.Etag,
		Size:     attrs.Size,
		Metadata: cloneMetadata(attrs.Metadata),
	}
}

func gcsError(op, key string, err error) error {
	if errors.Is(err, gcsstorage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return fmt.Errorf("gcs: %s %q: %w", op, key, err)
}
