package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/movestream/nft-marketplace-indexer/internal/config"
	"github.com/movestream/nft-marketplace-indexer/internal/logger"
)

// jetStreamClient consumes transaction batches from a durable NATS JetStream
// pull consumer. The stream preserves publish order, so batches arrive in
// ascending version order.
type jetStreamClient struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg config.NATSConfig
}

// NewJetStreamClient connects to NATS and prepares a JetStream context
func NewJetStreamClient(cfg config.NATSConfig) (Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &jetStreamClient{nc: nc, js: js, cfg: cfg}, nil
}

// Transactions creates (or resumes) the durable consumer and streams batches
func (c *jetStreamClient) Transactions(ctx context.Context, fromVersion int64) (<-chan Batch, error) {
	consumerName := c.cfg.ConsumerName
	if consumerName == "" {
		consumerName = "nft-marketplace-" + uuid.NewString()
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		FilterSubject: c.cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.Info("Consuming transaction feed",
		zap.String("stream", c.cfg.StreamName),
		zap.String("consumer", info.Name),
		zap.String("subject", c.cfg.Subject),
		zap.Int64("from_version", fromVersion))

	out := make(chan Batch)
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg, fromVersion, out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		<-ctx.Done()
		// Drain waits for in-flight callbacks, so nothing can send on out
		// after it closes.
		sub.Drain()
		<-sub.Closed()
		close(out)
	}()

	return out, nil
}

func (c *jetStreamClient) handleMessage(ctx context.Context, msg jetstream.Msg, fromVersion int64, out chan<- Batch) {
	var batch Batch
	if err := json.Unmarshal(msg.Data(), &batch); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal transaction batch"))
		// Poison message: terminate so it never redelivers.
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	batch = trimBatch(batch, fromVersion)
	if len(batch.Transactions) == 0 {
		if err := msg.Ack(); err != nil {
			logger.Error(err, zap.String("message", "Failed to ACK message"))
		}
		return
	}

	select {
	case <-ctx.Done():
		// Unacked message redelivers after the next start.
		return
	case out <- batch:
		if err := msg.Ack(); err != nil {
			logger.Error(err, zap.String("message", "Failed to ACK message"))
		}
	}
}

// trimBatch drops transactions below fromVersion, recomputing the bounds
func trimBatch(batch Batch, fromVersion int64) Batch {
	i := 0
	for i < len(batch.Transactions) && batch.Transactions[i].Version < fromVersion {
		i++
	}
	batch.Transactions = batch.Transactions[i:]
	if len(batch.Transactions) > 0 {
		batch.FirstVersion = batch.Transactions[0].Version
		batch.LastVersion = batch.Transactions[len(batch.Transactions)-1].Version
	}
	return batch
}

// Close closes the NATS connection
func (c *jetStreamClient) Close() {
	c.nc.Close()
}
