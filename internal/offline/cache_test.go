package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/ferry/internal/config"
	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
)

func TestDownload_StoresEntryWithFreshProgress(t *testing.T) {
	clock := newTestClock()
	f := newFakeFetcher()
	f.add("m1", 1200)
	svc := newTestService(t, nil, f, nil, WithClock(clock.Now))
	ctx := context.Background()

	e, err := svc.Download(ctx, "m1", content.KindMaterial)
	require.NoError(t, err)
	require.Equal(t, content.KindMaterial, e.Kind)
	require.Equal(t, int64(1200), e.SizeBytes)
	require.True(t, e.DownloadedAt.Equal(clock.Now()))
	require.NotNil(t, e.Progress)
	require.Zero(t, e.Progress.Percentage)

	require.True(t, svc.IsAvailable(ctx, "m1"))
	got, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "Title m1", got.Title)
	require.JSONEq(t, `{"body":"text"}`, string(got.Payload))
	require.Empty(t, svc.DownloadProgress())
}

func TestDownload_SizeFallsBackToPayloadLength(t *testing.T) {
	f := newFakeFetcher()
	f.add("m1", 0)
	svc := newTestService(t, nil, f, nil)

	e, err := svc.Download(context.Background(), "m1", content.KindMaterial)
	require.NoError(t, err)
	require.Equal(t, int64(len(`{"body":"text"}`)), e.SizeBytes)
}

func TestDownload_ValidatesInput(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Download(ctx, "  ", content.KindVideo)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = svc.Download(ctx, "x", content.Kind("podcast"))
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestDownload_FailureLeavesNothing(t *testing.T) {
	f := newFakeFetcher()
	f.err = fmt.Errorf("connection reset")
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()

	_, err := svc.Download(ctx, "v1", content.KindVideo)
	require.True(t, errors.Is(err, errors.ErrDownloadFailed))

	require.False(t, svc.IsAvailable(ctx, "v1"))
	entries, err := svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, svc.DownloadProgress())
}

func TestDownload_CanceledLeavesNothing(t *testing.T) {
	f := newFakeFetcher()
	f.add("v1", 100)
	f.block = make(chan struct{})
	svc := newTestService(t, nil, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Download(ctx, "v1", content.KindVideo)
		errc <- err
	}()

	require.Eventually(t, func() bool {
		return svc.DownloadProgress()["v1"] == 75
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	err := <-errc
	require.True(t, errors.Is(err, errors.ErrDownloadCanceled))
	require.Eventually(t, func() bool {
		return len(svc.DownloadProgress()) == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.False(t, svc.IsAvailable(context.Background(), "v1"))
}

// waiters returns how many callers wait on the transfer of id.
func waiters(svc *Service, id string) int {
	svc.flightMu.Lock()
	defer svc.flightMu.Unlock()
	if f, ok := svc.flights[id]; ok {
		return f.waiters
	}
	return 0
}

func TestDownload_OneCallerCancelingDoesNotFailOthers(t *testing.T) {
	f := newFakeFetcher()
	f.add("c1", 10)
	f.block = make(chan struct{})
	svc := newTestService(t, nil, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Download(ctx, "c1", content.KindCourse)
		first <- err
	}()
	require.Eventually(t, func() bool {
		return svc.DownloadProgress()["c1"] == 75
	}, 2*time.Second, 5*time.Millisecond)

	type result struct {
		entry *content.Entry
		err   error
	}
	second := make(chan result, 1)
	go func() {
		e, err := svc.Download(context.Background(), "c1", content.KindCourse)
		second <- result{e, err}
	}()
	require.Eventually(t, func() bool { return waiters(svc, "c1") == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.True(t, errors.Is(<-first, errors.ErrDownloadCanceled))
	require.Equal(t, 1, waiters(svc, "c1"))

	close(f.block)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "c1", res.entry.ID)
	require.True(t, svc.IsAvailable(context.Background(), "c1"))
	require.Equal(t, 1, f.callCount())
}

func TestDownload_LastCallerLeavingCancelsTransfer(t *testing.T) {
	f := newFakeFetcher()
	f.add("c1", 10)
	f.block = make(chan struct{})
	svc := newTestService(t, nil, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Download(ctx, "c1", content.KindCourse)
		errc <- err
	}()
	require.Eventually(t, func() bool {
		return svc.DownloadProgress()["c1"] == 75
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.True(t, errors.Is(<-errc, errors.ErrDownloadCanceled))
	require.Eventually(t, func() bool {
		return len(svc.DownloadProgress()) == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.False(t, svc.IsAvailable(context.Background(), "c1"))

	// A later download starts a fresh transfer.
	close(f.block)
	_, err := svc.Download(context.Background(), "c1", content.KindCourse)
	require.NoError(t, err)
	require.Equal(t, 2, f.callCount())
}

func TestDownload_OtherKindWhileInFlightRejected(t *testing.T) {
	f := newFakeFetcher()
	f.add("x1", 10)
	f.block = make(chan struct{})
	svc := newTestService(t, nil, f, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Download(context.Background(), "x1", content.KindVideo)
		errc <- err
	}()
	require.Eventually(t, func() bool { return waiters(svc, "x1") == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := svc.Download(context.Background(), "x1", content.KindQuiz)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	close(f.block)
	require.NoError(t, <-errc)
	got, err := svc.Get(context.Background(), "x1")
	require.NoError(t, err)
	require.Equal(t, content.KindVideo, got.Kind)
}

func TestDownload_CapacityExceeded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageLimitBytes = 100
	f := newFakeFetcher()
	f.add("small", 60)
	f.add("big", 50)
	svc := newTestService(t, cfg, f, nil)
	ctx := context.Background()

	_, err := svc.Download(ctx, "small", content.KindMaterial)
	require.NoError(t, err)

	_, err = svc.Download(ctx, "big", content.KindMaterial)
	require.True(t, errors.Is(err, errors.ErrCapacityExceeded))
	require.False(t, svc.IsAvailable(ctx, "big"))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(60), stats.TotalSizeBytes)
}

func TestDownload_ReplacementDoesNotCountOldCopy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageLimitBytes = 100
	f := newFakeFetcher()
	f.add("m1", 80)
	svc := newTestService(t, cfg, f, nil)
	ctx := context.Background()

	_, err := svc.Download(ctx, "m1", content.KindMaterial)
	require.NoError(t, err)
	_, err = svc.UpdateProgress(ctx, "m1", content.ProgressPatch{Percentage: ptr(40.0)})
	require.NoError(t, err)

	f.add("m1", 90)
	e, err := svc.Download(ctx, "m1", content.KindMaterial)
	require.NoError(t, err)
	require.Equal(t, int64(90), e.SizeBytes)
	require.Zero(t, e.Progress.Percentage)

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDownload_SizerRejectsBeforeFetch(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageLimitBytes = 100
	f := newFakeFetcher()
	f.add("huge", 500)
	svc := newTestService(t, cfg, sizedFetcher{f}, nil)

	_, err := svc.Download(context.Background(), "huge", content.KindVideo)
	require.True(t, errors.Is(err, errors.ErrCapacityExceeded))
	require.Zero(t, f.callCount())
}

func TestDownload_ReservationHoldsBudget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageLimitBytes = 100
	f := newFakeFetcher()
	f.add("a", 70)
	f.add("b", 70)
	f.block = make(chan struct{})
	svc := newTestService(t, cfg, sizedFetcher{f}, nil)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Download(ctx, "a", content.KindVideo)
		errc <- err
	}()
	require.Eventually(t, func() bool {
		_, ok := svc.DownloadProgress()["a"]
		return ok && f.callCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := svc.Download(ctx, "b", content.KindVideo)
	require.True(t, errors.Is(err, errors.ErrCapacityExceeded))

	close(f.block)
	require.NoError(t, <-errc)
}

func TestDownload_ConcurrentSameIDStoresOneEntry(t *testing.T) {
	f := newFakeFetcher()
	f.add("c1", 10)
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Download(ctx, "c1", content.KindCourse)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	entries, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRemove_Idempotent(t *testing.T) {
	f := newFakeFetcher()
	f.add("q1", 10)
	f.add("q2", 20)
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()

	for _, id := range []string{"q1", "q2"} {
		_, err := svc.Download(ctx, id, content.KindQuiz)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Remove(ctx, "q1"))
	once, err := svc.List(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, "q1"))
	twice, err := svc.List(ctx)
	require.NoError(t, err)

	require.Equal(t, once, twice)
	require.Len(t, twice, 1)
	require.NoError(t, svc.Remove(ctx, "never-downloaded"))
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStats_MatchListAfterDownloadsAndRemovals(t *testing.T) {
	f := newFakeFetcher()
	sizes := map[string]int64{"a": 100, "b": 250, "c": 4000, "d": 7}
	for id, size := range sizes {
		f.add(id, size)
	}
	svc := newTestService(t, nil, f, nil)
	ctx := context.Background()

	steps := []struct {
		remove bool
		id     string
	}{
		{id: "a"}, {id: "b"}, {id: "c"}, {remove: true, id: "b"},
		{id: "d"}, {id: "a"}, {remove: true, id: "zzz"}, {remove: true, id: "c"},
	}
	for _, step := range steps {
		if step.remove {
			require.NoError(t, svc.Remove(ctx, step.id))
		} else {
			_, err := svc.Download(ctx, step.id, content.KindMaterial)
			require.NoError(t, err)
		}

		entries, err := svc.List(ctx)
		require.NoError(t, err)
		stats, err := svc.Stats(ctx)
		require.NoError(t, err)

		var sum int64
		for _, e := range entries {
			sum += e.SizeBytes
		}
		require.Equal(t, len(entries), stats.ItemCount)
		require.Equal(t, sum, stats.TotalSizeBytes)
	}
}

func TestSweepExpired(t *testing.T) {
	clock := newTestClock()
	f := newFakeFetcher()
	past := clock.Now().Add(30 * time.Minute)
	future := clock.Now().Add(48 * time.Hour)
	f.add("past", 10).ExpiresAt = &past
	f.add("future", 10).ExpiresAt = &future
	f.add("forever", 10)
	svc := newTestService(t, nil, f, nil, WithClock(clock.Now))
	ctx := context.Background()

	for _, id := range []string{"past", "future", "forever"} {
		_, err := svc.Download(ctx, id, content.KindAssignment)
		require.NoError(t, err)
	}

	clock.Advance(time.Hour)
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	require.ElementsMatch(t, []string{"future", "forever"}, ids)

	queue, err := svc.Queue(ctx)
	require.NoError(t, err)
	require.Empty(t, queue)
}
