package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/findmyvet/vetbook/libs/db"
	"github.com/findmyvet/vetbook/libs/kafkax"
	otelx "github.com/findmyvet/vetbook/libs/otel"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the relay uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   []string
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   cfg.Brokers,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run relays unpublished rows until ctx is done. Rows stay unpublished when
// Kafka rejects them and are retried on the next tick.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := kafkax.NewWriter(p.brokers)
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx, writer)
		}
	}
}

// drain publishes batches back to back while they come back full.
func (p *Publisher) drain(ctx context.Context, writer MessageWriter) {
	for ctx.Err() == nil {
		n, err := p.publishBatch(ctx, writer)
		if err != nil {
			backlog, _ := p.repo.Backlog(ctx)
			p.logger.Error("outbox publish failed", "err", err, "backlog", backlog)
			return
		}
		if n > 0 {
			p.logger.Debug("outbox batch published", "count", n)
		}
		if n < p.batchSize {
			return
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	var n int
	err := db.InTx(ctx, p.pool, db.TxOptions{}, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}
		if err := writeRecords(ctx, writer, records); err != nil {
			return err
		}
		ids := lo.Map(records, func(r Record, _ int) int64 { return r.ID })
		if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
			return err
		}
		n = len(records)
		return nil
	})
	return n, err
}

func writeRecords(ctx context.Context, writer MessageWriter, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, toMessage(ctx, r))
	}
	return writer.WriteMessages(ctx, msgs...)
}

// toMessage keys by aggregate id so every event of one appointment is
// delivered in order on a single partition.
func toMessage(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, otelx.Carried{Traceparent: r.Traceparent, Tracestate: r.Tracestate})
	return kafkax.NewMessage(msgCtx, kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}, r.AggregateID, r.Payload)
}
