// Package pipeline drives report ingestion: it pulls batches of citizen
// reports from an upstream source and submits each one to the incident
// service.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// Transformer decodes a raw message into a report.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawMessage) (domain.Report, error)
}

// Loader submits one report.
type Loader interface {
	Load(ctx context.Context, report domain.Report) error
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      Loader
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l Loader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("ingest started", "batch_size", p.batchSize)
	p.metrics.IngestRunning.Set(1)
	defer p.metrics.IngestRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingest stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one extract-transform-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.ReportsConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = initialBackoff

	for i := 0; i < len(batch); {
		retry, ok := p.handle(ctx, batch[i])
		if !ok {
			return false
		}
		if retry {
			if !p.backoffOrStop(ctx, backoff) {
				return false
			}
			continue
		}
		*backoff = initialBackoff
		i++
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// handle processes one message. Messages that can never succeed are
// committed and skipped; transient failures ask for a retry of the same
// message, which stays uncommitted.
func (p *Pipeline) handle(ctx context.Context, raw domain.RawMessage) (retry, ok bool) {
	report, err := p.transformer.Transform(ctx, raw)
	if err != nil {
		p.reject(ctx, raw, "decode failed, skipping report", err)
		return false, true
	}

	if err := p.loader.Load(ctx, report); err != nil {
		if ctx.Err() != nil {
			return false, false
		}
		if errors.Is(err, domain.ErrTransient) {
			p.logger.Error("submit report failed, retrying", "error", err,
				"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
			return true, true
		}
		p.reject(ctx, raw, "report rejected, skipping", err)
		return false, true
	}

	p.commitOffset(ctx, raw)
	return false, true
}

func (p *Pipeline) reject(ctx context.Context, raw domain.RawMessage, msg string, err error) {
	p.logger.Warn(msg,
		"error", err,
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)
	p.metrics.ReportsRejected.Inc()
	p.commitOffset(ctx, raw)
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
