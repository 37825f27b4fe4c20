// Package cache owns the refresh state machine and the published catalog
// snapshot. One Coordinator instance exists per process; it guarantees at
// most one in-flight synchronization, publishes finished generations by
// atomic pointer swap, and never blocks readers on network I/O.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/logx"
)

// State is the refresh state machine. Transitions: Idle → Refreshing on
// trigger; Refreshing → Idle on success, failure, or completed cancellation;
// Refreshing → CancelRequested → Idle on cancellation.
type State int

const (
	StateIdle State = iota
	StateRefreshing
	StateCancelRequested
)

func (s State) String() string {
	switch s {
	case StateRefreshing:
		return "refreshing"
	case StateCancelRequested:
		return "cancel-requested"
	default:
		return "idle"
	}
}

// Status is the observable progress of the refresh machinery. It changes
// together with the state, under the same lock, so a reader never sees an
// idle coordinator with a stale in-flight progress value.
type Status struct {
	Refreshing  bool      `json:"is_refreshing"`
	Progress    float64   `json:"progress"` // 0..1, monotonically non-decreasing within a run
	Text        string    `json:"status_text"`
	RefreshID   string    `json:"refresh_id,omitempty"`
	StartedAt   time.Time `json:"start_time,omitzero"`
	CompletedAt time.Time `json:"complete_time,omitzero"`
}

// Fetcher is the synchronization surface the coordinator drives.
type Fetcher interface {
	Categories(ctx context.Context, kind catalog.Kind) ([]catalog.Category, error)
	Entries(ctx context.Context, kind catalog.Kind, categoryID int) ([]catalog.Entry, error)
}

// run is one refresh attempt. err is written before done is closed.
type run struct {
	id   string
	gen  uint64
	done chan struct{}
	err  error
}

// Handle identifies an in-flight (or finished) refresh attempt. Concurrent
// triggers while a refresh is running all receive a handle to the same run.
type Handle struct {
	ID string
	r  *run
}

// Done is closed when the attempt reaches a terminal state.
func (h Handle) Done() <-chan struct{} { return h.r.done }

// Err returns the attempt's terminal error once Done is closed (nil before
// that, and nil for a successful or superseded attempt). A cancelled attempt
// reports context.Canceled.
func (h Handle) Err() error {
	select {
	case <-h.r.done:
		return h.r.err
	default:
		return nil
	}
}

// Wait blocks until the attempt finishes or ctx expires.
func (h Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.r.done:
		return h.r.err
	}
}

// Coordinator is the cache refresh coordinator. Construct with New and share
// the one instance; all methods are safe for concurrent use.
type Coordinator struct {
	fetcher        Fetcher
	kinds          []catalog.Kind
	log            zerolog.Logger
	publishHook    func(*catalog.Snapshot)
	invalidateHook func()

	mu      sync.Mutex
	state   State
	status  Status
	gen     uint64 // bumped by InvalidateCache; a run publishes only if gen is unchanged
	cancel  context.CancelFunc
	current *run

	snap atomic.Pointer[catalog.Snapshot]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithKinds restricts synchronization to the given content kinds
// (default: all).
func WithKinds(kinds ...catalog.Kind) Option {
	return func(c *Coordinator) { c.kinds = kinds }
}

// WithPublishHook runs after each successfully published snapshot
// (persistence). Called outside the coordinator lock.
func WithPublishHook(hook func(*catalog.Snapshot)) Option {
	return func(c *Coordinator) { c.publishHook = hook }
}

// WithInvalidateHook runs after every cache invalidation, outside the lock.
func WithInvalidateHook(hook func()) Option {
	return func(c *Coordinator) { c.invalidateHook = hook }
}

// New returns an idle Coordinator with an empty published snapshot.
func New(fetcher Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher: fetcher,
		kinds:   catalog.Kinds,
		log:     logx.WithComponent("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(catalog.Empty())
	return c
}

// Seed installs a previously persisted snapshot (boot-time restore). Only
// meaningful before the first refresh.
func (c *Coordinator) Seed(snap *catalog.Snapshot) {
	if snap == nil {
		return
	}
	c.snap.Store(snap)
	snapshotEntries.Set(float64(snap.EntryCount()))
}

// TriggerRefresh starts a background synchronization if none is running and
// returns immediately. When a refresh is already in flight the existing
// run's handle is returned and started is false — the single-flight
// guarantee: concurrent triggers collapse into one fetch sequence.
func (c *Coordinator) TriggerRefresh() (Handle, bool) {
	c.mu.Lock()
	if c.state != StateIdle {
		h := Handle{ID: c.current.id, r: c.current}
		c.mu.Unlock()
		return h, false
	}
	r := &run{id: uuid.NewString(), gen: c.gen, done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	c.state = StateRefreshing
	c.cancel = cancel
	c.current = r
	c.status = Status{
		Refreshing: true,
		Text:       "starting",
		RefreshID:  r.id,
		StartedAt:  time.Now(),
	}
	c.mu.Unlock()

	refreshInFlight.Set(1)
	refreshProgress.Set(0)
	c.log.Info().Str("event", "refresh.start").Str("refresh_id", r.id).Msg("starting catalog refresh")
	go c.run(ctx, cancel, r)
	return Handle{ID: r.id, r: r}, true
}

// GetStatus returns a copy of the current refresh status.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CancelRefresh requests cooperative cancellation of the in-flight refresh.
// Reports whether a refresh was actually interrupted; no-op when idle.
func (c *Coordinator) CancelRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRefreshing {
		return false
	}
	c.state = StateCancelRequested
	c.status.Text = "cancelling"
	if c.cancel != nil {
		c.cancel()
	}
	return true
}

// InvalidateCache replaces the published snapshot with an empty one and
// supersedes any refresh started before this call: such a refresh may still
// finish its fetch, but its result is discarded instead of published.
func (c *Coordinator) InvalidateCache() {
	c.mu.Lock()
	c.gen++
	c.snap.Store(catalog.Empty())
	hook := c.invalidateHook
	c.mu.Unlock()

	snapshotEntries.Set(0)
	c.log.Info().Str("event", "cache.invalidate").Msg("published snapshot cleared")
	if hook != nil {
		hook()
	}
}

// Snapshot returns the currently published snapshot. Never blocks; returns
// the empty snapshot when nothing has been published.
func (c *Coordinator) Snapshot() *catalog.Snapshot {
	return c.snap.Load()
}

// IsCachePopulated reports whether the published snapshot holds at least one
// entry in at least one category.
func (c *Coordinator) IsCachePopulated() bool {
	return c.snap.Load().Populated()
}

// run executes one refresh attempt to its terminal transition.
func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, r *run) {
	defer cancel()
	snap, err := c.buildSnapshot(ctx, r)

	c.mu.Lock()
	now := time.Now()
	result := "success"
	published := false
	switch {
	case err == nil && c.gen == r.gen:
		c.snap.Store(snap)
		c.status.Progress = 1
		c.status.Text = fmt.Sprintf("completed: %d entries", snap.EntryCount())
		published = true
	case err == nil:
		// Invalidation happened after this run started; its result must
		// not resurrect the cleared snapshot.
		c.status.Text = "superseded by invalidation"
		result = "superseded"
	case errors.Is(err, context.Canceled):
		c.status.Text = ""
		result = "cancelled"
	default:
		c.status.Text = "failed: " + err.Error()
		result = "failure"
	}
	c.status.Refreshing = false
	c.status.CompletedAt = now
	c.state = StateIdle
	c.cancel = nil
	c.current = nil
	r.err = err
	hook := c.publishHook
	c.mu.Unlock()

	refreshInFlight.Set(0)
	refreshesTotal.WithLabelValues(result).Inc()
	if published {
		lastSuccessTime.Set(float64(now.Unix()))
		snapshotEntries.Set(float64(snap.EntryCount()))
		if hook != nil {
			hook(snap)
		}
		c.log.Info().
			Str("event", "refresh.publish").
			Str("refresh_id", r.id).
			Int("entries", snap.EntryCount()).
			Msg("snapshot published")
	} else {
		c.log.Info().
			Str("event", "refresh.end").
			Str("refresh_id", r.id).
			Str("result", result).
			Err(err).
			Msg("refresh finished without publish")
	}
	close(r.done)
}

// buildSnapshot synchronizes every category of every configured kind. Any
// single failure aborts the whole attempt: a generation is published fully
// assembled or not at all. Cancellation is observed between fetches.
func (c *Coordinator) buildSnapshot(ctx context.Context, r *run) (*catalog.Snapshot, error) {
	c.setPhase(r, "listing categories", 0)

	categories := map[catalog.Kind][]catalog.Category{}
	var queue []catalog.Category
	for _, kind := range c.kinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, err := c.fetcher.Categories(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("%s categories: %w", kind, err)
		}
		categories[kind] = list
		queue = append(queue, list...)
	}

	total := len(queue)
	entries := map[catalog.Kind]map[int][]catalog.Entry{}
	for i, cat := range queue {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.setPhase(r, fmt.Sprintf("fetching %s %d/%d: %s", cat.Kind, i+1, total, cat.Name),
			float64(i)/float64(total))
		list, err := c.fetcher.Entries(ctx, cat.Kind, cat.ID)
		if err != nil {
			return nil, fmt.Errorf("%s category %q: %w", cat.Kind, cat.Name, err)
		}
		if entries[cat.Kind] == nil {
			entries[cat.Kind] = map[int][]catalog.Entry{}
		}
		entries[cat.Kind][cat.ID] = list
		c.setPhase(r, "", float64(i+1)/float64(total))
	}

	return catalog.New(time.Now().UTC(), categories, entries), nil
}

// setPhase updates status text and progress for the current run. Progress
// only ever moves forward within a run.
func (c *Coordinator) setPhase(r *run, text string, progress float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != r {
		return
	}
	if text != "" && c.state == StateRefreshing {
		c.status.Text = text
	}
	if progress > c.status.Progress {
		c.status.Progress = progress
	}
	refreshProgress.Set(c.status.Progress)
}
