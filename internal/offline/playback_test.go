package offline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/ferry/internal/config"
	"github.com/hpungsan/ferry/internal/content"
)

func tick(t *testing.T, p *Playback, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, p.Tick(context.Background()))
	}
}

func queueLen(t *testing.T, svc *Service) int {
	t.Helper()
	queue, err := svc.Queue(context.Background())
	require.NoError(t, err)
	return len(queue)
}

func TestPlayback_FlushesEveryInterval(t *testing.T) {
	f := newFakeFetcher()
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()
	seedVideo(t, svc, f, "v1", 1000, 600)

	p, err := svc.Playback(ctx, "v1")
	require.NoError(t, err)

	tick(t, p, 9)
	require.Zero(t, queueLen(t, svc))

	tick(t, p, 1)
	require.Equal(t, 1, queueLen(t, svc))

	e, err := svc.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 10, e.Progress.TimeSpentSeconds)
	require.Equal(t, 10.0, *e.Progress.LastPosition)
	require.InDelta(t, 10.0/600*100, e.Progress.Percentage, 1e-9)

	tick(t, p, 10)
	require.Equal(t, 2, queueLen(t, svc))
}

func TestPlayback_ThresholdFlushesOnceWithoutCompleting(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FlushEverySeconds = 1000
	f := newFakeFetcher()
	svc := newTestService(t, cfg, f, nil)
	ctx := context.Background()
	seedVideo(t, svc, f, "v1", 1000, 20)

	p, err := svc.Playback(ctx, "v1")
	require.NoError(t, err)

	tick(t, p, 18)
	require.Zero(t, queueLen(t, svc))

	tick(t, p, 1) // 19/20 = 95%
	require.Equal(t, 1, queueLen(t, svc))

	e, err := svc.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 95.0, e.Progress.Percentage)
	require.False(t, e.Progress.Completed)

	tick(t, p, 5)
	require.Equal(t, 20.0, p.Position())
	require.Equal(t, 1, queueLen(t, svc))
}

func TestPlayback_PauseFlushesAndCancelDiscards(t *testing.T) {
	f := newFakeFetcher()
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()
	seedVideo(t, svc, f, "v1", 1000, 600)

	p, err := svc.Playback(ctx, "v1")
	require.NoError(t, err)

	tick(t, p, 3)
	require.NoError(t, p.Pause(ctx))
	require.Equal(t, 1, queueLen(t, svc))

	// Nothing accumulated: no flush
	require.NoError(t, p.Stop(ctx))
	require.Equal(t, 1, queueLen(t, svc))

	tick(t, p, 4)
	p.Cancel()
	require.Equal(t, 1, queueLen(t, svc))
	require.Equal(t, 3, p.TimeSpent())
	require.Equal(t, 3.0, p.Position())

	e, err := svc.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 3, e.Progress.TimeSpentSeconds)
}

func TestPlayback_ResumesFromStoredProgress(t *testing.T) {
	f := newFakeFetcher()
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()
	seedVideo(t, svc, f, "v1", 1000, 600)

	_, err := svc.UpdateProgress(ctx, "v1", content.ProgressPatch{LastPosition: ptr(120.0), TimeSpentSeconds: ptr(90)})
	require.NoError(t, err)

	p, err := svc.Playback(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 120.0, p.Position())
	require.Equal(t, 90, p.TimeSpent())
}

func TestPlayback_UntimedContentTracksTimeOnly(t *testing.T) {
	f := newFakeFetcher()
	f.add("m1", 10)
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()
	_, err := svc.Download(ctx, "m1", content.KindMaterial)
	require.NoError(t, err)

	p, err := svc.Playback(ctx, "m1")
	require.NoError(t, err)
	tick(t, p, 10)

	e, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 10, e.Progress.TimeSpentSeconds)
	require.Nil(t, e.Progress.LastPosition)
	require.Zero(t, e.Progress.Percentage)
}

func TestPlayback_PlayAndPause(t *testing.T) {
	f := newFakeFetcher()
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()
	seedVideo(t, svc, f, "v1", 1000, 600)

	p, err := svc.Playback(ctx, "v1")
	require.NoError(t, err)

	p.Play(ctx)
	p.Play(ctx)
	require.True(t, p.Playing())

	require.NoError(t, p.Pause(ctx))
	require.False(t, p.Playing())
}

func TestPlayback_StartsFromStoredPercentageWithoutPosition(t *testing.T) {
	f := newFakeFetcher()
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()
	seedVideo(t, svc, f, "v1", 1000, 600)

	_, err := svc.UpdateProgress(ctx, "v1", content.ProgressPatch{Percentage: ptr(50.0)})
	require.NoError(t, err)

	p, err := svc.Playback(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 300.0, p.Position())

	tick(t, p, 1)
	require.NoError(t, p.Pause(ctx))

	e, err := svc.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 301.0, *e.Progress.LastPosition)
	require.InDelta(t, 301.0/600*100, e.Progress.Percentage, 1e-9)
}

func TestPlayback_NeverLowersStoredPercentage(t *testing.T) {
	f := newFakeFetcher()
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()
	seedVideo(t, svc, f, "v1", 1000, 600)

	_, err := svc.UpdateProgress(ctx, "v1", content.ProgressPatch{Percentage: ptr(80.0), LastPosition: ptr(10.0)})
	require.NoError(t, err)

	p, err := svc.Playback(ctx, "v1")
	require.NoError(t, err)
	tick(t, p, 2)
	require.NoError(t, p.Stop(ctx))

	e, err := svc.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 12.0, *e.Progress.LastPosition)
	require.Equal(t, 80.0, e.Progress.Percentage)

	queue, err := svc.Queue(ctx)
	require.NoError(t, err)
	var ev content.ProgressEvent
	require.NoError(t, json.Unmarshal(queue[len(queue)-1].Data, &ev))
	require.Equal(t, 80.0, *ev.ProgressDelta.Percentage)
}
