package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Backoff strategies accepted by NewRetryTarget.
const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
)

const maxRetryDelay = 30 * time.Second

// RetryTarget wraps another Target and retries failed calls with
// exponential or linear backoff plus jitter. Missing objects and context
// errors are never retried.
type RetryTarget struct {
	inner      Target
	maxRetries int
	backoff    string
	baseDelay  time.Duration
}

// NewRetryTarget creates a Target that retries transient errors up to
// maxRetries times. Unknown backoff values fall back to exponential.
func NewRetryTarget(inner Target, maxRetries int, backoff string) *RetryTarget {
	if backoff != BackoffLinear {
		backoff = BackoffExponential
	}
	return &RetryTarget{
		inner:      inner,
		maxRetries: maxRetries,
		backoff:    backoff,
		baseDelay:  100 * time.Millisecond,
	}
}

func (r *RetryTarget) Name() string {
	return r.inner.Name()
}

// Put buffers body once so every attempt sends the full payload.
func (r *RetryTarget) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	_, err = retry(ctx, r, "put", key, func() (struct{}, error) {
		return struct{}{}, r.inner.Put(ctx, key, bytes.NewReader(data), opts)
	})
	return err
}

type getResult struct {
	body io.ReadCloser
	meta ObjectMeta
}

func (r *RetryTarget) Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	res, err := retry(ctx, r, "get", key, func() (getResult, error) {
		body, meta, err := r.inner.Get(ctx, key)
		return getResult{body, meta}, err
	})
	return res.body, res.meta, err
}

func (r *RetryTarget) Head(ctx context.Context, key string) (ObjectMeta, error) {
	return retry(ctx, r, "head", key, func() (ObjectMeta, error) {
		return r.inner.Head(ctx, key)
	})
}

func (r *RetryTarget) Delete(ctx context.Context, key string) error {
	_, err := retry(ctx, r, "delete", key, func() (struct{}, error) {
		return struct{}{}, r.inner.Delete(ctx, key)
	})
	return err
}

func (r *RetryTarget) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return retry(ctx, r, "list", prefix, func() ([]ObjectInfo, error) {
		return r.inner.List(ctx, prefix)
	})
}

// isTransient reports whether err should be retried.
func isTransient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// retry runs op until it succeeds, fails permanently or runs out of
// attempts. The last error is returned unchanged.
func retry[T any](ctx context.Context, r *RetryTarget, op, key string, fn func() (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if !isTransient(err) || attempt == r.maxRetries {
			return v, err
		}

		delay := r.calcBackoff(attempt)
		tflog.Debug(ctx, "retrying target request", map[string]interface{}{
			"target":  r.inner.Name(),
			"op":      op,
			"key":     key,
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// calcBackoff returns the delay before retry number attempt+1, with up to
// 25% jitter either way, capped at maxRetryDelay.
func (r *RetryTarget) calcBackoff(attempt int) time.Duration {
	var delay time.Duration
	switch r.backoff {
	case BackoffLinear:
		delay = r.baseDelay * time.Duration(attempt+1)
	default:
		delay = r.baseDelay << min(attempt, 16)
	}
	delay = min(delay, maxRetryDelay)

	if quarter := int64(delay / 4); quarter > 0 {
		delay += time.Duration(rand.Int64N(2*quarter+1) - quarter)
	}
	if delay <= 0 {
		delay = r.baseDelay
	}
	return delay
}
