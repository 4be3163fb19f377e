package target

import (
	"context"
	"fmt"
	"strings"
)

// NewTarget creates a Target based on the provided Config. Remote backends
// are wrapped in a RetryTarget when MaxRetries > 0; memory targets are
// shared through the process-wide registry and never retried.
func NewTarget(ctx context.Context, cfg Config) (Target, error) {
	var (
		t   Target
		err error
	)

	switch cfg.Type {
	case TypeMemory:
		return GetOrCreateMemoryTarget(cfg.Name), nil
	case TypeS3:
		t, err = newS3Target(ctx, cfg)
	case TypeAzure:
		t, err = newAzureTarget(cfg)
	case TypeGCS:
		t, err = newGCSTarget(ctx, cfg)
	case TypeSFTP:
		t, err = newSFTPTarget(cfg)
	default:
		return nil, fmt.Errorf("unsupported target type: %q (must be one of %s)", cfg.Type, strings.Join(Types, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s target %q: %w", cfg.Type, cfg.Name, err)
	}

	if cfg.MaxRetries > 0 {
		t = NewRetryTarget(t, cfg.MaxRetries, cfg.RetryBackoff)
	}
	return t, nil
}
