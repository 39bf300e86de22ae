package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type recordingCheckpointer struct {
	saves    []int64
	finishes []int64
}

func (r *recordingCheckpointer) resume(context.Context) (int64, error) { return 0, nil }

func (r *recordingCheckpointer) save(_ context.Context, version int64, _ time.Time) error {
	r.saves = append(r.saves, version)
	return nil
}

func (r *recordingCheckpointer) finish(_ context.Context, version int64, _ time.Time) error {
	r.finishes = append(r.finishes, version)
	return nil
}

func TestTrackerSavesByVersionFrequency(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cp := &recordingCheckpointer{}
	tr := newTracker(cp, 5, time.Hour, clock)

	ctx := context.Background()
	for v := int64(0); v < 12; v++ {
		require.NoError(t, tr.advance(ctx, v, clock.now))
	}

	// First save happens at version 4 (lastSaved starts at -1), then every 5.
	assert.Equal(t, []int64{4, 9}, cp.saves)

	require.NoError(t, tr.flush(ctx))
	assert.Equal(t, []int64{11}, cp.finishes)
}

func TestTrackerSavesAfterDelay(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cp := &recordingCheckpointer{}
	tr := newTracker(cp, 1000, 30*time.Second, clock)

	ctx := context.Background()
	require.NoError(t, tr.advance(ctx, 1, clock.now))
	assert.Empty(t, cp.saves)

	clock.now = clock.now.Add(31 * time.Second)
	require.NoError(t, tr.advance(ctx, 2, clock.now))
	assert.Equal(t, []int64{2}, cp.saves)
}

func TestTrackerFlushWithoutProgressIsNoOp(t *testing.T) {
	cp := &recordingCheckpointer{}
	tr := newTracker(cp, 1, time.Minute, &fakeClock{now: time.Unix(1000, 0)})

	require.NoError(t, tr.flush(context.Background()))
	assert.Empty(t, cp.finishes)
}
