// Package target abstracts the object stores that manifest snapshots are
// published to. Keys are slash-separated and relative to the target's
// configured prefix.
package target

import (
	"context"
	"errors"
	"io"
	"maps"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ErrNotFound is returned by Get and Head when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Supported target types.
const (
	TypeS3     = "s3"
	TypeAzure  = "azure"
	TypeGCS    = "gcs"
	TypeSFTP   = "sftp"
	TypeMemory = "memory"
)

// Types lists every supported target type, in documentation order.
var Types = []string{TypeS3, TypeAzure, TypeGCS, TypeSFTP, TypeMemory}

// Object metadata keys stamped on published snapshot objects. Keys are
// lower case with underscores so every backend accepts them unchanged.
const (
	MetaSnapshotID  = "snapshot_id"
	MetaFingerprint = "fingerprint"
)

// PutOptions controls optional behavior for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectMeta is returned from Get and Head. Metadata is nil on backends
// that cannot store it (sftp).
type ObjectMeta struct {
	ETag     string
	Size     int64
	Metadata map[string]string
}

// ObjectInfo is a single entry returned from List.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// Target is the storage abstraction snapshots are written to.
type Target interface {
	// Put writes an object unconditionally.
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error
	// Get retrieves an object. Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error)
	// Head retrieves object metadata without the body.
	Head(ctx context.Context, key string) (ObjectMeta, error)
	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all objects under the given prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Name returns the target name for logging.
	Name() string
}

// Config holds the configuration used by NewTarget to construct a Target.
type Config struct {
	Name   string
	Type   string // one of Types
	Prefix string

	// s3 and gcs
	Bucket string
	// s3
	Region   string
	KMSKeyID string
	Endpoint string // S3-compatible endpoint; enables path-style addressing
	// gcs
	KMSKeyName string
	// azure
	StorageAccount  string
	ContainerName   string
	EncryptionScope string
	// sftp
	Host     string
	Port     int
	User     string
	Password string

	MaxRetries   int
	RetryBackoff string // "exponential" | "linear"
}

// keyspace maps logical keys to the object names of a prefixed bucket or
// container. Remote backends embed it.
type keyspace struct {
	name   string
	prefix string
}

func newKeyspace(cfg Config) keyspace {
	return keyspace{name: cfg.Name, prefix: normalizePrefix(cfg.Prefix)}
}

func (k keyspace) Name() string {
	return k.name
}

// object returns the stored name of key.
func (k keyspace) object(key string) string {
	return k.prefix + key
}

// logical strips the configured prefix from a stored object name.
func (k keyspace) logical(object string) string {
	return strings.TrimPrefix(object, k.prefix)
}

func (k keyspace) trace(ctx context.Context, op, key string) {
	tflog.Trace(ctx, "target request", map[string]interface{}{
		"target": k.name,
		"op":     op,
		"key":    key,
	})
}

// normalizePrefix returns prefix with a trailing slash, or "".
func normalizePrefix(prefix string) string {
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return prefix
}

// cloneMetadata returns nil for empty metadata so callers can compare
// against a missing map.
func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}
