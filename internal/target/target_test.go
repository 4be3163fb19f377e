package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ---------------------------------------------------------------------------
// MemoryTarget basic operations
// ---------------------------------------------------------------------------

func TestMemoryTarget_PutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTarget("test")

	content := "hello, world"
	err := m.Put(ctx, "key1", strings.NewReader(content), PutOptions{})
	if err != nil {
		t.Fatalf("Put: unexpected error: %v", err)
	}

	rc, meta, err := m.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if string(got) != content {
		t.Errorf("Get returned %q, want %q", string(got), content)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("meta.Size = %d, want %d", meta.Size, len(content))
	}
	if meta.ETag == "" {
		t.Error("meta.ETag is empty, expected non-empty")
	}
}

func TestMemoryTarget_Head(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTarget("test")

	content := "some data for head"
	if err := m.Put(ctx, "headkey", strings.NewReader(content), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	meta, err := m.Head(ctx, "headkey")
	if err != nil {
		t.Fatalf("Head: unexpected error: %v", err)
	}

	if meta.Size != int64(len(content)) {
		t.Errorf("Head Size = %d, want %d", meta.Size, len(content))
	}
	if meta.ETag == "" {
		t.Error("Head ETag is empty")
	}
}

func TestMemoryTarget_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTarget("test")

	if err := m.Put(ctx, "delkey", strings.NewReader("data"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := m.Delete(ctx, "delkey"); err != nil {
		t.Fatalf("Delete: unexpected error: %v", err)
	}

	_, _, err := m.Get(ctx, "delkey")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: got err = %v, want ErrNotFound", err)
	}
}

func TestMemoryTarget_DeleteNonExistent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTarget("test")

	err := m.Delete(ctx, "no-such-key")
	if err != nil {
		t.Errorf("Delete non-existent key: got err = %v, want nil (idempotent)", err)
	}
}

func TestMemoryTarget_List(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTarget("test")

	keys := []string{
		"prefix/aaa",
		"prefix/bbb",
		"prefix/ccc",
		"other/ddd",
	}
	for _, k := range keys {
		if err := m.Put(ctx, k, strings.NewReader("v"), PutOptions{}); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	// List with prefix filter.
	results, err := m.List(ctx, "prefix/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("List returned %d results, want 3", len(results))
	}

	// Verify sorted order.
	for i := 1; i < len(results); i++ {
		if results[i].Key < results[i-1].Key {
			t.Errorf("results not sorted: %q comes after %q", results[i-1].Key, results[i].Key)
		}
	}

	// Verify the correct keys are present.
	wantKeys := []string{"prefix/aaa", "prefix/bbb", "prefix/ccc"}
	for i, want := range wantKeys {
		if results[i].Key != want {
			t.Errorf("results[%d].Key = %q, want %q", i, results[i].Key, want)
		}
	}

	// List with different prefix returns only matching keys.
	otherResults, err := m.List(ctx, "other/")
	if err != nil {
		t.Fatalf("List(other/): %v", err)
	}
	if len(otherResults) != 1 {
		t.Fatalf("List(other/) returned %d results, want 1", len(otherResults))
	}
	if otherResults[0].Key != "other/ddd" {
		t.Errorf("otherResults[0].Key = %q, want %q", otherResults[0].Key, "other/ddd")
	}
}

func TestMemoryTarget_GetNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTarget("test")

	_, _, err := m.Get(ctx, "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get nonexistent: got err = %v, want ErrNotFound", err)
	}
}

func TestMemoryTarget_Name(t *testing.T) {
	m := NewMemoryTarget("my-target-name")
	if got := m.Name(); got != "my-target-name" {
		t.Errorf("Name() = %q, want %q", got, "my-target-name")
	}
}

// ---------------------------------------------------------------------------
// RetryTarget tests
// ---------------------------------------------------------------------------

// faultyTarget wraps a Target and injects errors for the first N calls to Get.
type faultyTarget struct {
	Target
	mu        sync.Mutex
	callCount int
	failUntil int
	err       error
}

func (f *faultyTarget) Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	f.mu.Lock()
	f.callCount++
	count := f.callCount
	f.mu.Unlock()

	if count <= f.failUntil {
		return nil, ObjectMeta{}, f.err
	}
	return f.Target.Get(ctx, key)
}

func (f *faultyTarget) getCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func TestRetryTarget_NoRetryOnSuccess(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryTarget("test")

	if err := mem.Put(ctx, "ok", strings.NewReader("data"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	faulty := &faultyTarget{
		Target:    mem,
		failUntil: 0, // never fails
		err:       fmt.Errorf("transient error"),
	}

	rt := NewRetryTarget(faulty, 3, "exponential")

	rc, _, err := rt.Get(ctx, "ok")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if string(got) != "data" {
		t.Errorf("content = %q, want %q", string(got), "data")
	}

	if faulty.getCallCount() != 1 {
		t.Errorf("callCount = %d, want 1 (no retries on success)", faulty.getCallCount())
	}
}

func TestRetryTarget_RetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryTarget("test")

	if err := mem.Put(ctx, "retry-key", strings.NewReader("retry-data"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Fail the first 2 calls with a transient error, then succeed.
	faulty := &faultyTarget{
		Target:    mem,
		failUntil: 2,
		err:       fmt.Errorf("transient network error"),
	}

	// Use linear backoff for faster test execution (base delay is 100ms).
	rt := NewRetryTarget(faulty, 5, "linear")

	rc, _, err := rt.Get(ctx, "retry-key")
	if err != nil {
		t.Fatalf("Get: unexpected error after retries: %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if string(got) != "retry-data" {
		t.Errorf("content = %q, want %q", string(got), "retry-data")
	}

	// Should have been called 3 times: 2 failures + 1 success.
	if faulty.getCallCount() != 3 {
		t.Errorf("callCount = %d, want 3", faulty.getCallCount())
	}
}

func TestRetryTarget_NoRetryOnNotFound(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryTarget("test")

	// Return ErrNotFound -- this is non-retryable.
	faulty := &faultyTarget{
		Target:    mem,
		failUntil: 100, // always fail
		err:       ErrNotFound,
	}

	rt := NewRetryTarget(faulty, 5, "exponential")

	_, _, err := rt.Get(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: got err = %v, want ErrNotFound", err)
	}

	// Should have been called exactly once -- no retries for ErrNotFound.
	if faulty.getCallCount() != 1 {
		t.Errorf("callCount = %d, want 1 (no retry on ErrNotFound)", faulty.getCallCount())
	}
}

// flakyPutTarget fails the first failUntil Put calls after draining the body.
type flakyPutTarget struct {
	*MemoryTarget
	calls     int
	failUntil int
}

func (f *flakyPutTarget) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	f.calls++
	if f.calls <= f.failUntil {
		_, _ = io.Copy(io.Discard, body)
		return fmt.Errorf("connection reset")
	}
	return f.MemoryTarget.Put(ctx, key, body, opts)
}

func TestRetryTarget_PutResendsFullBody(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyPutTarget{MemoryTarget: NewMemoryTarget("test"), failUntil: 2}

	rt := NewRetryTarget(flaky, 3, BackoffLinear)
	rt.baseDelay = time.Millisecond

	if err := rt.Put(ctx, "k", strings.NewReader("payload"), PutOptions{}); err != nil {
		t.Fatalf("Put: unexpected error: %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}

	rc, _, err := flaky.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "payload" {
		t.Errorf("stored %q, want %q", got, "payload")
	}
}

func TestRetryTarget_GivesUp(t *testing.T) {
	flaky := &flakyPutTarget{MemoryTarget: NewMemoryTarget("test"), failUntil: 100}

	rt := NewRetryTarget(flaky, 2, "bogus")
	rt.baseDelay = time.Millisecond
	if rt.backoff != BackoffExponential {
		t.Errorf("backoff = %q, want fallback to exponential", rt.backoff)
	}

	err := rt.Put(context.Background(), "k", strings.NewReader("x"), PutOptions{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", flaky.calls)
	}
}

func TestRetryTarget_StopsOnCancel(t *testing.T) {
	flaky := &flakyPutTarget{MemoryTarget: NewMemoryTarget("test"), failUntil: 100}
	rt := NewRetryTarget(flaky, 5, BackoffExponential)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rt.Put(ctx, "k", strings.NewReader("x"), PutOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls)
	}
}

func TestCalcBackoff(t *testing.T) {
	lin := NewRetryTarget(NewMemoryTarget("x"), 1, BackoffLinear)
	exp := NewRetryTarget(NewMemoryTarget("x"), 1, BackoffExponential)

	for attempt := 0; attempt < 5; attempt++ {
		linBase := 100 * time.Millisecond * time.Duration(attempt+1)
		if d := lin.calcBackoff(attempt); d < linBase*3/4 || d > linBase*5/4 {
			t.Errorf("linear attempt %d: %v outside jitter range of %v", attempt, d, linBase)
		}
		expBase := 100 * time.Millisecond << attempt
		if d := exp.calcBackoff(attempt); d < expBase*3/4 || d > expBase*5/4 {
			t.Errorf("exponential attempt %d: %v outside jitter range of %v", attempt, d, expBase)
		}
	}
	if d := exp.calcBackoff(20); d > 30*time.Second*5/4 {
		t.Errorf("backoff %v exceeds cap", d)
	}
}

// ---------------------------------------------------------------------------
// Factory tests
// ---------------------------------------------------------------------------

func TestNewTarget_UnsupportedType(t *testing.T) {
	_, err := NewTarget(context.Background(), Config{
		Name: "bad",
		Type: "unsupported",
	})
	if err == nil {
		t.Fatal("NewTarget with unsupported type: expected error, got nil")
	}

	if !strings.Contains(err.Error(), "unsupported target type") {
		t.Errorf("error message = %q, want it to contain 'unsupported target type'", err.Error())
	}
}

func TestNewTarget_Memory(t *testing.T) {
	t.Cleanup(ResetMemoryTargets)

	a, err := NewTarget(context.Background(), Config{Name: "shared", Type: TypeMemory, MaxRetries: 3})
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	b, err := NewTarget(context.Background(), Config{Name: "shared", Type: TypeMemory})
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	if a != b {
		t.Error("memory targets with the same name should be shared")
	}
	if _, ok := a.(*MemoryTarget); !ok {
		t.Errorf("memory target should not be wrapped, got %T", a)
	}

	ResetMemoryTargets()
	c, _ := NewTarget(context.Background(), Config{Name: "shared", Type: TypeMemory})
	if c == a {
		t.Error("ResetMemoryTargets should drop registered targets")
	}
}

func TestNewTarget_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"s3 without bucket", Config{Name: "x", Type: TypeS3}, "bucket is required"},
		{"gcs without bucket", Config{Name: "x", Type: TypeGCS}, "bucket is required"},
		{"azure without account", Config{Name: "x", Type: TypeAzure, ContainerName: "c"}, "storage_account"},
		{"sftp without host", Config{Name: "x", Type: TypeSFTP, User: "u"}, "host is required"},
		{"sftp without user", Config{Name: "x", Type: TypeSFTP, Host: "h"}, "user is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTarget(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestNewTarget_SFTPIsLazy(t *testing.T) {
	tgt, err := NewTarget(context.Background(), Config{
		Name:       "backup",
		Type:       TypeSFTP,
		Host:       "sftp.invalid",
		User:       "deploy",
		Password:   "secret",
		Prefix:     "/srv/manifests/",
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	if tgt.Name() != "backup" {
		t.Errorf("Name() = %q, want %q", tgt.Name(), "backup")
	}
	rt, ok := tgt.(*RetryTarget)
	if !ok {
		t.Fatalf("expected *RetryTarget, got %T", tgt)
	}
	st, ok := rt.inner.(*sftpTarget)
	if !ok {
		t.Fatalf("expected *sftpTarget inside retry wrapper, got %T", rt.inner)
	}
	if st.addr != "sftp.invalid:22" {
		t.Errorf("addr = %q, want default port 22", st.addr)
	}
	if got := st.fullPath("pkg/LATEST"); got != "/srv/manifests/pkg/LATEST" {
		t.Errorf("fullPath = %q", got)
	}
	if st.client != nil {
		t.Error("sftp target should not connect before first use")
	}
}

func TestCloseConnections(t *testing.T) {
	tgt, err := newSFTPTarget(Config{Name: "backup", Type: TypeSFTP, Host: "sftp.invalid", User: "deploy", Password: "x"})
	if err != nil {
		t.Fatalf("newSFTPTarget: %v", err)
	}
	st := tgt.(*sftpTarget)

	// Closing a target that never dialed is a no-op.
	if err := st.Close(); err != nil {
		t.Fatalf("Close() on idle target: %v", err)
	}

	openSFTPMu.Lock()
	openSFTP[st] = struct{}{}
	openSFTPMu.Unlock()

	if err := CloseConnections(); err != nil {
		t.Fatalf("CloseConnections: %v", err)
	}

	openSFTPMu.Lock()
	_, still := openSFTP[st]
	remaining := len(openSFTP)
	openSFTPMu.Unlock()
	if still || remaining != 0 {
		t.Errorf("open connections after CloseConnections = %d, want 0", remaining)
	}
	if st.client != nil || st.conn != nil {
		t.Error("closed target should drop its client and connection")
	}
}

func TestNormalizePrefix(t *testing.T) {
	for in, want := range map[string]string{"": "", "a": "a/", "a/": "a/", "a/b": "a/b/"} {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Metadata and key mapping
// ---------------------------------------------------------------------------

func TestMemoryTarget_Metadata(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTarget("test")

	md := map[string]string{MetaSnapshotID: "snap_1", MetaFingerprint: "sha256:ab"}
	if err := m.Put(ctx, "pkg/LATEST", strings.NewReader("snap_1"), PutOptions{Metadata: md}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	md[MetaSnapshotID] = "mutated"

	meta, err := m.Head(ctx, "pkg/LATEST")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if meta.Metadata[MetaSnapshotID] != "snap_1" {
		t.Errorf("Head metadata = %v, caller mutation leaked into the store", meta.Metadata)
	}

	rc, meta, err := m.Get(ctx, "pkg/LATEST")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rc.Close()
	if meta.Metadata[MetaFingerprint] != "sha256:ab" {
		t.Errorf("Get metadata = %v", meta.Metadata)
	}

	if err := m.Put(ctx, "plain", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if meta, _ := m.Head(ctx, "plain"); meta.Metadata != nil {
		t.Errorf("metadata = %v, want nil when none was stored", meta.Metadata)
	}
}

func TestKeyspace(t *testing.T) {
	k := newKeyspace(Config{Name: "prod", Prefix: "manifests"})
	if k.Name() != "prod" {
		t.Errorf("Name() = %q", k.Name())
	}
	if got := k.object("pkg/LATEST"); got != "manifests/pkg/LATEST" {
		t.Errorf("object() = %q", got)
	}
	if got := k.logical("manifests/pkg/LATEST"); got != "pkg/LATEST" {
		t.Errorf("logical() = %q", got)
	}

	bare := newKeyspace(Config{Name: "bare"})
	if got := bare.object("pkg/LATEST"); got != "pkg/LATEST" {
		t.Errorf("object() without prefix = %q", got)
	}
}

func TestAzureMetadata(t *testing.T) {
	if toAzureMetadata(nil) != nil || fromAzureMetadata(nil) != nil {
		t.Error("empty metadata should map to nil")
	}

	in := toAzureMetadata(map[string]string{MetaSnapshotID: "snap_1", MetaFingerprint: "sha256:ab"})
	if *in[MetaSnapshotID] != "snap_1" || *in[MetaFingerprint] != "sha256:ab" {
		t.Errorf("toAzureMetadata values not preserved: %v", in)
	}

	v := "snap_2"
	out := fromAzureMetadata(map[string]*string{"Snapshot_id": &v, "Skipped": nil})
	if len(out) != 1 || out[MetaSnapshotID] != "snap_2" {
		t.Errorf("fromAzureMetadata = %v, want lower-cased snapshot_id only", out)
	}
}

func TestBackendErrors(t *testing.T) {
	boom := errors.New("boom")

	if err := s3Error("get", "k", &s3types.NoSuchKey{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("s3 NoSuchKey -> %v, want ErrNotFound", err)
	}
	if err := s3Error("head", "k", &s3types.NotFound{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("s3 NotFound -> %v, want ErrNotFound", err)
	}
	if err := s3Error("get", "k", boom); !errors.Is(err, boom) || errors.Is(err, ErrNotFound) {
		t.Errorf("s3 other error -> %v, want wrapped boom", err)
	}

	if err := gcsError("get", "k", gcsstorage.ErrObjectNotExist); !errors.Is(err, ErrNotFound) {
		t.Errorf("gcs ErrObjectNotExist -> %v, want ErrNotFound", err)
	}
	if err := gcsError("get", "k", boom); !errors.Is(err, boom) || !strings.Contains(err.Error(), `gcs: get "k"`) {
		t.Errorf("gcs other error -> %v", err)
	}
}

// ---------------------------------------------------------------------------
// Compile-time interface checks.
// ---------------------------------------------------------------------------
var (
	_ Target = (*MemoryTarget)(nil)
	_ Target = (*RetryTarget)(nil)
	_ Target = (*s3Target)(nil)
	_ Target = (*gcsTarget)(nil)
	_ Target = (*azureTarget)(nil)
	_ Target = (*sftpTarget)(nil)
)
