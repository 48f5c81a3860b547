package assets

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jroyal/phasetrack/internal/storage/memory"
	"github.com/jroyal/phasetrack/internal/tracker"
)

// TestLoadingTracksBackgroundLoads loads declared assets and exposes
// their content once done.
func TestLoadingTracksBackgroundLoads(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	ctx := context.Background()
	_, err := store.PutObject(ctx, "textures/hero.png", strings.NewReader("pixels"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "audio/theme.ogg", strings.NewReader("notes"))
	require.NoError(t, err)

	loading := NewLoading(store, nil)
	require.Equal(t, tracker.Progress{}, loading.Progress())

	loading.Enqueue(ctx, "textures/hero.png", "audio/theme.ogg")
	loading.Wait()

	require.Equal(t, tracker.Progress{Done: 2, Total: 2}, loading.Progress())
	data, ok := loading.Get("textures/hero.png")
	require.True(t, ok)
	require.Equal(t, []byte("pixels"), data)
}

// TestLoadingFailedAssetCountsAsDone keeps a missing asset from wedging
// the aggregate.
func TestLoadingFailedAssetCountsAsDone(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	loading := NewLoading(store, nil)
	loading.Enqueue(context.Background(), "missing/asset.bin")
	loading.Wait()

	require.Equal(t, tracker.Progress{Done: 1, Total: 1}, loading.Progress())
	_, ok := loading.Get("missing/asset.bin")
	require.False(t, ok)
}

// TestLoadingTaskReportsAggregate adapts the loader into a tracked
// task.
func TestLoadingTaskReportsAggregate(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	ctx := context.Background()
	_, err := store.PutObject(ctx, "a", strings.NewReader("x"))
	require.NoError(t, err)

	loading := NewLoading(store, nil)
	loading.Enqueue(ctx, "a")

	task := loading.Task()
	require.Eventually(t, func() bool {
		contrib := task(ctx, nil)
		p, ok := contrib.(tracker.Progress)
		return ok && p.IsReady() && p.Total == 1
	}, 2*time.Second, 10*time.Millisecond)
}
