package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapetech/xtreamcache/internal/catalog"
)

// fakeFetcher serves two live categories with one entry each. The optional
// gate channel makes Entries block until released (or the ctx is cancelled);
// failCategory makes that category's fetch fail.
type fakeFetcher struct {
	gate         chan struct{}
	failCategory int
	entryCalls   atomic.Int32
}

func (f *fakeFetcher) Categories(ctx context.Context, kind catalog.Kind) ([]catalog.Category, error) {
	if kind != catalog.KindLive {
		return nil, nil
	}
	return []catalog.Category{
		{ID: 1, Name: "News", Kind: kind},
		{ID: 2, Name: "Sports", Kind: kind},
	}, nil
}

func (f *fakeFetcher) Entries(ctx context.Context, kind catalog.Kind, categoryID int) ([]catalog.Entry, error) {
	f.entryCalls.Add(1)
	if f.gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.gate:
		}
	}
	if categoryID == f.failCategory {
		return nil, fmt.Errorf("category %d: boom", categoryID)
	}
	return []catalog.Entry{
		{ID: categoryID * 100, Name: fmt.Sprintf("Channel %d", categoryID), CategoryID: categoryID, Kind: kind},
	}, nil
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not reach a terminal state")
	}
}

func TestRefreshPublishesFullyAssembledSnapshot(t *testing.T) {
	c := New(&fakeFetcher{}, WithKinds(catalog.KindLive))
	if c.IsCachePopulated() {
		t.Fatal("fresh coordinator must start unpopulated")
	}
	h, started := c.TriggerRefresh()
	if !started {
		t.Fatal("first trigger must start a refresh")
	}
	waitDone(t, h)
	if err := h.Err(); err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if !c.IsCachePopulated() {
		t.Fatal("cache must be populated after a successful refresh")
	}
	snap := c.Snapshot()
	if got := snap.Entries(catalog.KindLive, 1); len(got) != 1 || got[0].Name != "Channel 1" {
		t.Fatalf("entries = %+v", got)
	}
	st := c.GetStatus()
	if st.Refreshing || st.Progress != 1 || st.CompletedAt.IsZero() {
		t.Fatalf("terminal status = %+v", st)
	}
	if !strings.HasPrefix(st.Text, "completed") {
		t.Fatalf("status text = %q", st.Text)
	}
}

func TestTriggerRefreshIsSingleFlight(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c := New(f, WithKinds(catalog.KindLive))

	h1, started := c.TriggerRefresh()
	if !started {
		t.Fatal("first trigger must start")
	}
	h2, started := c.TriggerRefresh()
	if started {
		t.Fatal("second trigger while in flight must not start a new refresh")
	}
	if h1.ID != h2.ID {
		t.Fatalf("concurrent triggers saw different runs: %s vs %s", h1.ID, h2.ID)
	}
	close(f.gate)
	waitDone(t, h1)
	waitDone(t, h2)
	if got := f.entryCalls.Load(); got != 2 {
		t.Fatalf("entry fetches = %d, want 2 (one per category, not doubled)", got)
	}
}

func TestCancelRefreshReturnsToIdleAndKeepsSnapshot(t *testing.T) {
	// Populate first.
	c := New(&fakeFetcher{}, WithKinds(catalog.KindLive))
	h, _ := c.TriggerRefresh()
	waitDone(t, h)
	before := c.Snapshot()

	// Second coordinator with a blocking fetcher, seeded with the
	// published snapshot.
	f := &fakeFetcher{gate: make(chan struct{})}
	defer close(f.gate)
	c2 := New(f, WithKinds(catalog.KindLive))
	c2.Seed(before)

	h2, _ := c2.TriggerRefresh()
	time.Sleep(10 * time.Millisecond) // let the run reach the blocking fetch
	if !c2.CancelRefresh() {
		t.Fatal("cancel of an in-flight refresh must report interruption")
	}
	waitDone(t, h2)
	if !errors.Is(h2.Err(), context.Canceled) {
		t.Fatalf("cancelled run error = %v", h2.Err())
	}
	if c2.Snapshot() != before {
		t.Fatal("cancellation must leave the published snapshot untouched")
	}
	st := c2.GetStatus()
	if st.Refreshing || st.Text != "" {
		t.Fatalf("cancelled status = %+v (cancellation is not a failure)", st)
	}
	if c2.CancelRefresh() {
		t.Fatal("cancel while idle must be a no-op")
	}
}

func TestFailedCategoryAbortsWholeRefresh(t *testing.T) {
	c := New(&fakeFetcher{}, WithKinds(catalog.KindLive))
	h, _ := c.TriggerRefresh()
	waitDone(t, h)
	before := c.Snapshot()

	c2 := New(&fakeFetcher{failCategory: 2}, WithKinds(catalog.KindLive))
	c2.Seed(before)
	h2, _ := c2.TriggerRefresh()
	waitDone(t, h2)
	if h2.Err() == nil {
		t.Fatal("expected refresh failure")
	}
	if c2.Snapshot() != before {
		t.Fatal("failed refresh must never publish a partial snapshot")
	}
	st := c2.GetStatus()
	if st.Refreshing || !strings.HasPrefix(st.Text, "failed:") {
		t.Fatalf("failure status = %+v", st)
	}

	// Coordinator is idle again and can retry.
	if _, started := c2.TriggerRefresh(); !started {
		t.Fatal("coordinator must return to idle after a failed refresh")
	}
}

func TestInvalidateCacheClearsAndSupersedesInFlightRefresh(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c := New(f, WithKinds(catalog.KindLive))

	h, _ := c.TriggerRefresh()
	time.Sleep(10 * time.Millisecond)
	c.InvalidateCache()
	if c.IsCachePopulated() {
		t.Fatal("invalidation must leave the cache unpopulated")
	}
	close(f.gate) // let the stale run finish successfully
	waitDone(t, h)
	if h.Err() != nil {
		t.Fatalf("superseded run error = %v", h.Err())
	}
	if c.IsCachePopulated() {
		t.Fatal("a refresh started before invalidation must not resurrect the snapshot")
	}
	if got := c.Snapshot().EntryCount(); got != 0 {
		t.Fatalf("entries after superseded publish = %d, want 0", got)
	}

	// A refresh started after the invalidation repopulates normally.
	h2, started := c.TriggerRefresh()
	if !started {
		t.Fatal("post-invalidation trigger must start")
	}
	waitDone(t, h2)
	if !c.IsCachePopulated() {
		t.Fatal("refresh after invalidation must repopulate the cache")
	}
}

func TestInvalidateCacheRunsHookAndIsIdempotent(t *testing.T) {
	var hookCalls atomic.Int32
	c := New(&fakeFetcher{}, WithKinds(catalog.KindLive), WithInvalidateHook(func() {
		hookCalls.Add(1)
	}))
	h, _ := c.TriggerRefresh()
	waitDone(t, h)
	c.InvalidateCache()
	c.InvalidateCache()
	if hookCalls.Load() != 2 {
		t.Fatalf("invalidate hook calls = %d", hookCalls.Load())
	}
	if c.IsCachePopulated() {
		t.Fatal("cache must stay unpopulated after invalidation")
	}
}

func TestPublishHookReceivesPublishedSnapshot(t *testing.T) {
	published := make(chan *catalog.Snapshot, 1)
	c := New(&fakeFetcher{}, WithKinds(catalog.KindLive), WithPublishHook(func(s *catalog.Snapshot) {
		published <- s
	}))
	h, _ := c.TriggerRefresh()
	waitDone(t, h)
	select {
	case snap := <-published:
		if snap != c.Snapshot() {
			t.Fatal("publish hook must receive the published snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("publish hook was not called")
	}
}

func TestProgressIsMonotonicWithinARun(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{}, 2)}
	c := New(f, WithKinds(catalog.KindLive))
	h, _ := c.TriggerRefresh()

	last := -1.0
	donePolling := make(chan struct{})
	go func() {
		defer close(donePolling)
		for {
			select {
			case <-h.Done():
				return
			default:
			}
			st := c.GetStatus()
			if st.Refreshing && st.Progress < last {
				t.Errorf("progress went backwards: %f -> %f", last, st.Progress)
				return
			}
			if st.Refreshing {
				last = st.Progress
			}
			time.Sleep(time.Millisecond)
		}
	}()
	f.gate <- struct{}{}
	f.gate <- struct{}{}
	waitDone(t, h)
	<-donePolling
	if st := c.GetStatus(); st.Progress != 1 {
		t.Fatalf("terminal progress = %f, want 1", st.Progress)
	}
}
