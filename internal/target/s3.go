package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3Target stores snapshots in an S3 bucket. Credentials come from the
// default AWS chain; Endpoint points it at S3-compatible stores.
type s3Target struct {
	keyspace
	client   *s3.Client
	bucket   string
	kmsKeyID string
}

func newS3Target(ctx context.Context, cfg Config) (Target, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Target{
		keyspace: newKeyspace(cfg),
		client:   client,
		bucket:   cfg.Bucket,
		kmsKeyID: cfg.KMSKeyID,
	}, nil
}

func (t *s3Target) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	t.trace(ctx, "put", key)

	in := &s3.PutObjectInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(t.object(key)),
		Body:     body,
		Metadata: cloneMetadata(opts.Metadata),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if t.kmsKeyID != "" {
		in.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(t.kmsKeyID)
	}

	if _, err := t.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3: put %q: %w", key, err)
	}
	return nil
}

func (t *s3Target) Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	t.trace(ctx, "get", key)

	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.object(key)),
	})
	if err != nil {
		return nil, ObjectMeta{}, s3Error("get", key, err)
	}
	return out.Body, s3Meta(out.ETag, out.ContentLength, out.Metadata), nil
}

func (t *s3Target) Head(ctx context.Context, key string) (ObjectMeta, error) {
	t.trace(ctx, "head", key)

	out, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.object(key)),
	})
	if err != nil {
		return ObjectMeta{}, s3Error("head", key, err)
	}
	return s3Meta(out.ETag, out.ContentLength, out.Metadata), nil
}

// Delete relies on S3 treating deletes of missing keys as successful.
func (t *s3Target) Delete(ctx context.Context, key string) error {
	t.trace(ctx, "delete", key)

	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.object(key)),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %q: %w", key, err)
	}
	return nil
}

// List pages through ListObjectsV2, which already returns keys in
// lexicographic order.
func (t *s3Target) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	t.trace(ctx, "list", prefix)

	pages := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(t.object(prefix)),
	})

	var objects []ObjectInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %q: %w", prefix, err)
		}
		for _, o := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:  t.logical(aws.ToString(o.Key)),
				Size: aws.ToInt64(o.Size),
				ETag: aws.ToString(o.ETag),
			})
		}
	}
	return objects, nil
}

func s3Meta(etag *string, size *int64, metadata map[string]string) ObjectMeta {
	return ObjectMeta{
		ETag:     aws.ToString(etag),
		Size:     aws.ToInt64(size),
		Metadata: cloneMetadata(metadata),
	}
}

// s3Error maps missing keys to ErrNotFound. HeadObject has no body, so a
// missing key only shows up as a bare 404.
func s3Error(op, key string, err error) error {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
		status    interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return ErrNotFound
	case errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound:
		return ErrNotFound
	}
	return fmt.Errorf("s3: %s %q: %w", op, key, err)
}
