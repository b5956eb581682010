// Package kafka consumes canonical clinical events from the inbound topic.
// Upstream adapters key records by patient identifier, so partition order is
// patient order; partitions are processed concurrently, records within a
// partition sequentially.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"concord/internal/engine"
	"concord/internal/interchange"
	"concord/internal/platform/config"
	domainerrors "concord/pkg/domain-errors"
)

// Consumer pulls canonical messages and hands them to the engine.
type Consumer struct {
	client  *kgo.Client
	engine  *engine.Engine
	logger  *slog.Logger
	workers int
}

func NewConsumer(cfg config.KafkaConfig, eng *engine.Engine, workers int, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.Group),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("build kafka client: %w", err)
	}
	return &Consumer{client: client, engine: eng, logger: logger, workers: workers}, nil
}

// Run polls until the context ends. Offsets commit only after the engine has
// processed a record; unprocessable records are logged and skipped rather
// than left to poison the partition.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		var processed []*kgo.Record
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			records := p.Records
			if len(records) == 0 {
				return
			}
			processed = append(processed, records[len(records)-1])
			g.Go(func() error {
				for _, record := range records {
					if err := c.handle(gctx, record); err != nil {
						return err
					}
				}
				return nil
			})
		})
		if err := g.Wait(); err != nil {
			return err
		}
		if len(processed) > 0 {
			if err := c.client.CommitRecords(ctx, processed...); err != nil {
				c.logger.Error("kafka commit failed", "error", err)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, record *kgo.Record) error {
	msg, err := interchange.Decode(record.Value)
	if err != nil {
		c.logger.Error("dropping undecodable record",
			"partition", record.Partition, "offset", record.Offset, "error", err)
		return nil
	}
	if _, err := c.engine.Process(ctx, msg); err != nil {
		switch domainerrors.CodeOf(err) {
		case domainerrors.CodeInvalidInput, domainerrors.CodeUnsupportedKind:
			c.logger.Warn("dropping rejected message",
				"message_id", msg.Env().MessageID, "kind", msg.Kind(), "error", err)
			return nil
		default:
			return fmt.Errorf("process offset %d: %w", record.Offset, err)
		}
	}
	return nil
}
