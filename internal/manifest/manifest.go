// Package manifest defines the serialized form of a walk: the manifest
// document stored with every published snapshot and returned by the data
// source. Encoding is deterministic so equal walks produce equal bytes.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

// SchemaVersion is written into every document.
const SchemaVersion = 1

// Content types used when a document is stored on a target.
const (
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "application/x-yaml"
)

// Document is the manifest of one package directory.
type Document struct {
	SchemaVersion int             `json:"schema_version" yaml:"schema_version"`
	RootPath      string          `json:"root_path" yaml:"root_path"`
	SnapshotID    string          `json:"snapshot_id,omitempty" yaml:"snapshot_id,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Fingerprint   string          `json:"fingerprint" yaml:"fingerprint"`
	Stats         walker.Stats    `json:"stats" yaml:"stats"`
	Entries       walker.Manifest `json:"entries" yaml:"entries"`
}

// New builds a document from a walk result. The fingerprint is computed
// over entries, which may be a selection of the walked manifest. A zero now
// leaves CreatedAt empty so the encoding depends on the tree alone.
func New(rootPath string, entries walker.Manifest, stats walker.Stats, now time.Time) *Document {
	if entries == nil {
		entries = walker.Manifest{}
	}
	d := &Document{
		SchemaVersion: SchemaVersion,
		RootPath:      rootPath,
		Fingerprint:   Fingerprint(entries),
		Stats:         stats,
		Entries:       entries,
	}
	if !now.IsZero() {
		d.CreatedAt = now.UTC().Format(time.RFC3339)
	}
	return d
}

// Build walks root with opts and returns the document of the entries
// selected by patterns. Stats always describe the whole walk.
func Build(ctx context.Context, root string, opts walker.Options, patterns []string, now time.Time) (*Document, error) {
	w := walker.New(root, opts)
	res, err := w.Walk(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := Select(res.Manifest, patterns)
	if err != nil {
		return nil, err
	}
	return New(w.Root(), entries, res.Stats, now), nil
}

// Marshal serializes a document to indented JSON. encoding/json writes map
// keys in sorted order, so entries come out sorted by path.
func Marshal(d *Document) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("manifest: cannot marshal nil document")
	}
	return json.MarshalIndent(d, "", "  ")
}

// MarshalYAML serializes a document to YAML with two-space indentation.
func MarshalYAML(d *Document) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("manifest: cannot marshal nil document")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("manifest: encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest: encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a JSON document.
func Unmarshal(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal failed: %w", err)
	}
	if err := checkSchemaVersion(d.SchemaVersion); err != nil {
		return nil, err
	}
	return &d, nil
}

// UnmarshalYAML parses a YAML document.
func UnmarshalYAML(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal yaml failed: %w", err)
	}
	if err := checkSchemaVersion(d.SchemaVersion); err != nil {
		return nil, err
	}
	return &d, nil
}

func checkSchemaVersion(v int) error {
	if v == 0 {
		return fmt.Errorf("manifest: missing schema_version")
	}
	if v > SchemaVersion {
		return fmt.Errorf("manifest: unsupported schema_version %d", v)
	}
	return nil
}
