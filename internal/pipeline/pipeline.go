// Package pipeline runs the processing loop: it pulls ordered transaction
// batches from the feed, remaps them concurrently, applies each transaction's
// writes atomically, and advances the checkpoint strictly in version order.
package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/movestream/nft-marketplace-indexer/internal/config"
	"github.com/movestream/nft-marketplace-indexer/internal/domain"
	"github.com/movestream/nft-marketplace-indexer/internal/logger"
	"github.com/movestream/nft-marketplace-indexer/internal/remapper"
	"github.com/movestream/nft-marketplace-indexer/internal/store"
	"github.com/movestream/nft-marketplace-indexer/internal/stream"
)

// Pipeline wires the stream, remapper and store into one processing loop
type Pipeline struct {
	cfg      config.ProcessorConfig
	store    store.Store
	stream   stream.Client
	remapper *remapper.Remapper
	clock    Clock
}

// New creates a pipeline
func New(cfg config.ProcessorConfig, st store.Store, sc stream.Client, rm *remapper.Remapper) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		stream:   sc,
		remapper: rm,
		clock:    RealClock{},
	}
}

// WithClock overrides the clock, for tests
func (p *Pipeline) WithClock(clock Clock) *Pipeline {
	p.clock = clock
	return p
}

// Run processes the feed until ctx is cancelled, the backfill end version is
// reached, or a fatal error occurs. Cancellation is graceful: the in-flight
// batch completes and the final checkpoint is flushed before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	cp, endVersion := p.checkpointer()

	start, err := cp.resume(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume checkpoint: %w", err)
	}
	if start > endVersion {
		logger.Info("Nothing to process", zap.Int64("start_version", start))
		return nil
	}

	logger.Info("Starting pipeline",
		zap.String("processor", p.cfg.ProcessorName),
		zap.Int64("start_version", start))

	batches, err := p.stream.Transactions(ctx, start)
	if err != nil {
		return fmt.Errorf("failed to open transaction stream: %w", err)
	}

	// Bounded queue decouples feed delivery from database throughput.
	queue := make(chan stream.Batch, p.cfg.Worker.WorkerQueueSize)
	go func() {
		defer close(queue)
		for batch := range batches {
			select {
			case <-ctx.Done():
				return
			case queue <- batch:
			}
		}
	}()

	pool := pond.NewPool(p.cfg.Worker.WorkerPoolSize, pond.WithQueueSize(p.cfg.Worker.WorkerQueueSize))
	defer pool.StopAndWait()

	tr := newTracker(cp, p.cfg.Checkpoint.SaveVersionFreq, p.cfg.Checkpoint.SaveDelay, p.clock)
	expected := start

	for batch := range queue {
		if batch.FirstVersion > expected {
			return fmt.Errorf("%w: expected version %d, stream resumed at %d",
				domain.ErrStreamGap, expected, batch.FirstVersion)
		}

		done, err := p.processBatch(ctx, pool, tr, batch, endVersion)
		if err != nil {
			return err
		}
		if done {
			break
		}
		expected = batch.LastVersion + 1
	}

	if err := tr.flush(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}

	logger.Info("Pipeline stopped", zap.String("processor", p.cfg.ProcessorName))
	return ctx.Err()
}

// processBatch remaps the batch concurrently, then applies and checkpoints
// each transaction in version order. It reports done when the backfill end
// version has been covered.
func (p *Pipeline) processBatch(ctx context.Context, pool pond.Pool, tr *tracker, batch stream.Batch, endVersion int64) (bool, error) {
	writes := make([]*store.TransactionWrites, len(batch.Transactions))
	group := pool.NewGroup()
	for i := range batch.Transactions {
		group.Submit(func() {
			writes[i] = p.remapper.Remap(&batch.Transactions[i])
		})
	}
	if err := group.Wait(); err != nil {
		return false, fmt.Errorf("failed to remap batch: %w", err)
	}

	for i := range batch.Transactions {
		txn := &batch.Transactions[i]
		if txn.Version > endVersion {
			return true, nil
		}

		if err := p.applyWithRetry(ctx, writes[i]); err != nil {
			return false, fmt.Errorf("failed to apply transaction %d: %w", txn.Version, err)
		}
		if err := tr.advance(ctx, txn.Version, txn.BlockTimestamp); err != nil {
			return false, fmt.Errorf("failed to save checkpoint at %d: %w", txn.Version, err)
		}
	}

	return batch.LastVersion >= endVersion, nil
}

// applyWithRetry retries transient database failures with exponential backoff
func (p *Pipeline) applyWithRetry(ctx context.Context, writes *store.TransactionWrites) error {
	if writes.Empty() {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Retry.InitialInterval

	attempt := 0
	operation := func() error {
		err := p.store.ApplyTransaction(ctx, writes)
		if err != nil {
			attempt++
			logger.Warn("Retrying transaction write",
				zap.Int64("version", writes.Version),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, p.cfg.Retry.MaxRetries), ctx))
}

// checkpointer picks the checkpoint row for this run. A configured backfill
// alias runs against its own bounded row instead of the live one.
func (p *Pipeline) checkpointer() (checkpointer, int64) {
	if p.cfg.Backfill.Alias != "" {
		return &backfillCheckpointer{
			store:        p.store,
			alias:        p.cfg.Backfill.Alias,
			startVersion: p.cfg.Backfill.StartVersion,
			endVersion:   p.cfg.Backfill.EndVersion,
		}, p.cfg.Backfill.EndVersion
	}

	return &liveCheckpointer{
		store:           p.store,
		processor:       p.cfg.ProcessorName,
		startingVersion: p.cfg.StartingVersion,
	}, math.MaxInt64
}
