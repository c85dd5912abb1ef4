package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	domainoutbox "squadlink/internal/domain/outbox"
	"squadlink/internal/events"
	"squadlink/internal/metrics"

	"go.uber.org/zap"
)

// Repository is the part of the outbox repository the processor needs.
type Repository interface {
	GetPending(ctx context.Context, limit int) ([]domainoutbox.OutboxEvent, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errorMsg string) error
	IncrementRetry(ctx context.Context, id string, errorMsg string) error
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Options struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	// StaleAfter is how long an event may stay claimed before it is retried.
	StaleAfter time.Duration
	Log        *zap.Logger
}

// Processor polls the outbox table and publishes each row event to every
// change feed channel it resolves to.
type Processor struct {
	repo      Repository
	publisher events.Publisher
	resolver  events.ChannelResolver
	opts      Options
	log       *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewProcessor(repo Repository, publisher events.Publisher, opts Options) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Minute
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		resolver:  events.NewColumnChannelResolver(),
		opts:      opts,
		log:       opts.Log,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the poll loop.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends the poll loop and waits for the current batch.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	if n, err := p.repo.ReleaseStale(ctx, p.opts.StaleAfter); err != nil {
		p.log.Warn("release stale outbox events", zap.Error(err))
	} else if n > 0 {
		p.log.Info("released stale outbox events", zap.Int64("count", n))
	}

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publishes up to one batch of pending events and returns how
// many were published.
func (p *Processor) ProcessBatch(ctx context.Context) int {
	pending, err := p.repo.GetPending(ctx, p.opts.BatchSize)
	if err != nil {
		p.log.Warn("load pending outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for i := range pending {
		if p.processEvent(ctx, &pending[i]) {
			published++
		}
	}
	return published
}

func (p *Processor) processEvent(ctx context.Context, event *domainoutbox.OutboxEvent) bool {
	id := event.ID.String()
	claimed, err := p.repo.MarkProcessing(ctx, id)
	if err != nil {
		p.log.Warn("claim outbox event", zap.String("event_id", id), zap.Error(err))
		return false
	}
	if !claimed {
		return false
	}

	env := events.Envelope{
		EventID:    id,
		Action:     event.Action,
		Table:      event.TableName,
		RecordID:   event.RecordID,
		OccurredAt: event.CreatedAt,
		Record:     json.RawMessage(event.Payload),
	}
	channels, err := p.resolver.ResolveChannels(env)
	if err != nil {
		// the payload will never resolve; retrying cannot help
		metrics.OutboxFailed.Inc()
		p.log.Error("unresolvable outbox event", zap.String("event_id", id), zap.Error(err))
		if err := p.repo.MarkFailed(ctx, id, err.Error()); err != nil {
			p.log.Warn("mark outbox event failed", zap.String("event_id", id), zap.Error(err))
		}
		return false
	}

	if err := p.publish(ctx, env, channels); err != nil {
		metrics.OutboxFailed.Inc()
		if event.RetryCount+1 >= p.opts.MaxRetries {
			p.log.Error("outbox event exhausted retries", zap.String("event_id", id), zap.Error(err))
			if err := p.repo.MarkFailed(ctx, id, err.Error()); err != nil {
				p.log.Warn("mark outbox event failed", zap.String("event_id", id), zap.Error(err))
			}
			return false
		}
		p.log.Warn("publish outbox event", zap.String("event_id", id), zap.Int("retry", event.RetryCount+1), zap.Error(err))
		if err := p.repo.IncrementRetry(ctx, id, err.Error()); err != nil {
			p.log.Warn("requeue outbox event", zap.String("event_id", id), zap.Error(err))
		}
		return false
	}

	if err := p.repo.MarkCompleted(ctx, id); err != nil {
		p.log.Warn("complete outbox event", zap.String("event_id", id), zap.Error(err))
	}
	metrics.OutboxPublished.Inc()
	p.log.Debug("outbox event published",
		zap.String("event_id", id),
		zap.String("table", env.Table),
		zap.String("action", env.Action),
		zap.Int("channels", len(channels)))
	return true
}

func (p *Processor) publish(ctx context.Context, env events.Envelope, channels []string) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	for _, ch := range channels {
		if err := p.publisher.Publish(ctx, ch, payload); err != nil {
			return fmt.Errorf("publish %s: %w", ch, err)
		}
	}
	return nil
}
