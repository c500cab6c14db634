// Package ops provides a best-effort audit publisher for operational events.
//
// Events are sampled, buffered and persisted by a background worker. Tracking
// never blocks and never fails the caller; when the store is unhealthy the
// circuit opens and events are dropped.
package ops

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "accord/pkg/platform/audit"
	"accord/pkg/platform/audit/worker"
)

const defaultBufferSize = 1024

// Publisher emits ops events asynchronously.
type Publisher struct {
	store   audit.Store
	sampler *Sampler
	breaker *CircuitBreaker
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	inbox  chan audit.Event
	done   chan struct{}
	size   int
}

// Option configures the Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(p *Publisher) {
		p.breaker = cb
	}
}

// WithBufferSize sets how many events may wait for persistence.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.size = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// New creates an ops publisher and starts its worker.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:   store,
		sampler: NewSampler(1),
		breaker: NewCircuitBreaker(5, time.Minute),
		logger:  slog.Default(),
		now:     time.Now,
		size:    defaultBufferSize,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.inbox = make(chan audit.Event, p.size)

	w := worker.NewWorker(p.persist, p.inbox, p.logger)
	go func() {
		defer close(p.done)
		_ = w.Run(context.Background())
	}()
	return p
}

// Track enqueues event for persistence. It never blocks.
func (p *Publisher) Track(ctx context.Context, event audit.Event) {
	if !p.sampler.ShouldSample(event.Action) {
		p.metrics.IncSampled()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	event.Category = audit.CategoryOperations

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.inbox <- event:
	default:
		p.metrics.IncBufferDropped()
		p.logger.WarnContext(ctx, "ops audit buffer full, event dropped", "action", event.Action)
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if !p.breaker.Allow() {
		p.metrics.IncCircuitBreakerDropped()
		return nil
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncPersistFailures()
		p.breaker.RecordFailure()
		p.metrics.SetCircuitBreakerState(p.breaker.IsOpen())
		return err
	}
	p.breaker.RecordSuccess()
	p.metrics.SetCircuitBreakerState(false)
	p.metrics.IncTracked()
	return nil
}

// Close stops accepting events and waits until the buffer is drained.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
	return nil
}
