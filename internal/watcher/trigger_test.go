package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrigger(t *testing.T, dir string, ts time.Time) {
	t.Helper()
	data, err := json.Marshal(TriggerRecord{Timestamp: ts})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, TriggerFileName), data, 0o644))
}

func TestTriggerWatcher_FiresOnFreshTrigger(t *testing.T) {
	dir := t.TempDir()
	var fired int32

	w := NewTriggerWatcher(dir, 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	writeTrigger(t, dir, time.Now())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
}

func TestTriggerWatcher_DeletesTriggerBeforeFiring(t *testing.T) {
	dir := t.TempDir()
	w := NewTriggerWatcher(dir, 20*time.Millisecond, func(ctx context.Context) error {
		// By the time onFire runs, the sentinel must already be gone.
		_, err := os.Stat(filepath.Join(dir, TriggerFileName))
		assert.True(t, os.IsNotExist(err))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	writeTrigger(t, dir, time.Now())

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, TriggerFileName))
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
}

func TestTriggerWatcher_StaleTriggerIsDiscardedSilently(t *testing.T) {
	dir := t.TempDir()
	var fired int32

	w := NewTriggerWatcher(dir, 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	writeTrigger(t, dir, time.Now().Add(-10*time.Minute))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, TriggerFileName))
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	require.NoError(t, w.Stop())
}

func TestTriggerWatcher_MalformedTriggerIsRemovedAndReported(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, TriggerFileName), []byte("not json"), 0o644))

	w := NewTriggerWatcher(dir, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	select {
	case err := <-w.Errors():
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a malformed-trigger error")
	}

	require.NoError(t, w.Stop())
}

func TestTriggerWatcher_NoTriggerFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	var fired int32
	w := NewTriggerWatcher(dir, 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	require.NoError(t, w.Stop())
}
