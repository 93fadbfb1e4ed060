package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/sdk"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_BatchesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "x"), 0o755))

	w, err := NewWatcher(root, Options{
		Debounce:   50 * time.Millisecond,
		Extensions: []string{".ts"},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.ts"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "b.ts"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "notes.md"), []byte("c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "x", "c.ts"), []byte("c"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	batch, err := w.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.ts", "src/b.ts"}, batch)
}

func TestWatcher_CloseStopsNext(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Close())

	_, err = w.Next(context.Background())
	assert.Error(t, err)
}

func TestWatcher_CloseWithoutStart(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), Options{})
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows burst then blocks", func(t *testing.T) {
		rl := NewRateLimiter(10) // capacity 1
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
		assert.Greater(t, rl.Delay(), time.Duration(0))
	})

	t.Run("wait honours cancellation", func(t *testing.T) {
		rl := NewRateLimiter(1)
		for rl.Allow() {
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
		assert.Equal(t, 1, rl.Stats().WaitCount)
	})

	t.Run("reset refills", func(t *testing.T) {
		rl := NewRateLimiter(10)
		rl.Allow()
		rl.Reset()
		assert.Equal(t, time.Duration(0), rl.Delay())
	})
}

type fakeChanges struct {
	batches [][]string
	err     error
}

func (f *fakeChanges) Next(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestChangeRemediator(t *testing.T) {
	run, err := loop.NewRun(sdk.ChangeLogicOnly, "cart")
	require.NoError(t, err)
	failed := sdk.StageOutcome{Stage: sdk.StageCodeQuality, Attempt: 1, Reason: "lint"}

	bus := monitor.NewBus(10)
	defer bus.Close()

	t.Run("returns after a change", func(t *testing.T) {
		r := NewChangeRemediator(&fakeChanges{batches: [][]string{{"src/cart.ts"}}}, nil, bus, quietLogger())
		require.NoError(t, r.Remediate(context.Background(), run, failed))

		history := bus.History(run.ID)
		require.NotEmpty(t, history)
		assert.Equal(t, monitor.EventFilesChanged, history[len(history)-1].Type)
	})

	t.Run("propagates cancellation", func(t *testing.T) {
		r := NewChangeRemediator(&fakeChanges{}, nil, nil, quietLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := r.Remediate(ctx, run, failed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("source error", func(t *testing.T) {
		r := NewChangeRemediator(&fakeChanges{err: errors.New("watcher closed")}, nil, nil, quietLogger())
		assert.ErrorContains(t, r.Remediate(context.Background(), run, failed), "watcher closed")
	})

	t.Run("rate limited", func(t *testing.T) {
		limiter := NewRateLimiter(3600)
		r := NewChangeRemediator(&fakeChanges{batches: [][]string{{"a.ts"}}}, limiter, nil, quietLogger())
		require.NoError(t, r.Remediate(context.Background(), run, failed))
	})
}
