package pipeline

import (
	"context"
	"time"

	"github.com/movestream/nft-marketplace-indexer/internal/store"
	"github.com/movestream/nft-marketplace-indexer/internal/store/schema"
)

// Clock defines an interface for time operations to enable mocking
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// checkpointer abstracts the two checkpoint rows a run can track against:
// the live processor_status row or a named backfill row.
type checkpointer interface {
	// resume returns the first version this run should process
	resume(ctx context.Context) (int64, error)
	// save persists progress through version
	save(ctx context.Context, version int64, ts time.Time) error
	// finish persists the final checkpoint when the run stops
	finish(ctx context.Context, version int64, ts time.Time) error
}

type liveCheckpointer struct {
	store           store.Store
	processor       string
	startingVersion int64
}

func (c *liveCheckpointer) resume(ctx context.Context) (int64, error) {
	status, err := c.store.GetProcessorStatus(ctx, c.processor)
	if err != nil {
		return 0, err
	}
	if status == nil {
		return c.startingVersion, nil
	}
	return max(status.LastSuccessVersion+1, c.startingVersion), nil
}

func (c *liveCheckpointer) save(ctx context.Context, version int64, ts time.Time) error {
	return c.store.SaveProcessorStatus(ctx, c.processor, version, &ts)
}

func (c *liveCheckpointer) finish(ctx context.Context, version int64, ts time.Time) error {
	return c.save(ctx, version, ts)
}

type backfillCheckpointer struct {
	store        store.Store
	alias        string
	startVersion int64
	endVersion   int64
}

func (c *backfillCheckpointer) resume(ctx context.Context) (int64, error) {
	status, err := c.store.GetBackfillStatus(ctx, c.alias)
	if err != nil {
		return 0, err
	}
	if status == nil {
		return c.startVersion, nil
	}
	if status.BackfillStatus == schema.BackfillStatusComplete {
		return c.endVersion + 1, nil
	}
	return max(status.LastSuccessVersion+1, c.startVersion), nil
}

func (c *backfillCheckpointer) save(ctx context.Context, version int64, ts time.Time) error {
	return c.store.SaveBackfillStatus(ctx, c.row(version, ts, schema.BackfillStatusInProgress))
}

// finish marks the run complete once it has covered the configured end
func (c *backfillCheckpointer) finish(ctx context.Context, version int64, ts time.Time) error {
	status := schema.BackfillStatusInProgress
	if version >= c.endVersion {
		status = schema.BackfillStatusComplete
	}
	return c.store.SaveBackfillStatus(ctx, c.row(version, ts, status))
}

func (c *backfillCheckpointer) row(version int64, ts time.Time, status string) *schema.BackfillProcessorStatus {
	return &schema.BackfillProcessorStatus{
		BackfillAlias:            c.alias,
		BackfillStatus:           status,
		LastSuccessVersion:       version,
		LastTransactionTimestamp: &ts,
		BackfillStartVersion:     c.startVersion,
		BackfillEndVersion:       c.endVersion,
	}
}

// tracker batches checkpoint writes: progress persists once the version has
// advanced by saveFreq, or once saveDelay has elapsed since the last write.
// A tracker is used from a single goroutine.
type tracker struct {
	cp        checkpointer
	saveFreq  int64
	saveDelay time.Duration
	clock     Clock

	lastSaved    int64
	lastSaveTime time.Time
	pending      int64
	pendingTS    time.Time
	advanced     bool
}

func newTracker(cp checkpointer, saveFreq int64, saveDelay time.Duration, clock Clock) *tracker {
	if saveFreq < 1 {
		saveFreq = 1
	}
	return &tracker{
		cp:           cp,
		saveFreq:     saveFreq,
		saveDelay:    saveDelay,
		clock:        clock,
		lastSaved:    -1,
		lastSaveTime: clock.Now(),
	}
}

// advance records that every version up to and including version is durable
func (t *tracker) advance(ctx context.Context, version int64, ts time.Time) error {
	t.pending = version
	t.pendingTS = ts
	t.advanced = true

	if version >= t.lastSaved+t.saveFreq || t.clock.Now().Sub(t.lastSaveTime) >= t.saveDelay {
		return t.persist(ctx, t.cp.save)
	}
	return nil
}

// flush persists the final checkpoint for the run. It always writes when any
// progress was made: a backfill that already saved its last version
// in_progress still needs the finishing write to flip to complete.
func (t *tracker) flush(ctx context.Context) error {
	if !t.advanced {
		return nil
	}
	return t.persist(ctx, t.cp.finish)
}

func (t *tracker) persist(ctx context.Context, fn func(context.Context, int64, time.Time) error) error {
	if err := fn(ctx, t.pending, t.pendingTS); err != nil {
		return err
	}
	t.lastSaved = t.pending
	t.lastSaveTime = t.clock.Now()
	return nil
}
