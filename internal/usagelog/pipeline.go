package usagelog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	usagemetrics "relaypool/internal/usagelog/metrics"
	"relaypool/pkg/platform/circuit"
	"relaypool/pkg/requestcontext"
)

// Sink receives flushed hourly buckets. Merge must be additive: flushing
// the same hour twice adds the deltas instead of overwriting the row.
type Sink interface {
	Merge(ctx context.Context, buckets []Bucket) error
}

// Publisher mirrors individual entries to an external stream. Publishing
// is best effort; a failed publish never blocks or fails aggregation.
type Publisher interface {
	Publish(e Entry) error
}

// Pipeline buffers usage entries and aggregates them into hourly buckets
// in a background goroutine. Record never blocks: a full buffer drops the
// entry and counts the drop.
type Pipeline struct {
	sink      Sink
	publisher Publisher
	logger    *slog.Logger
	metrics   *usagemetrics.Metrics

	// mirror tracks the publisher's health. While open, per-entry publish
	// errors are muted; publishing itself continues so the breaker can
	// observe recovery.
	mirror *circuit.Breaker

	entries    chan Entry
	wg         sync.WaitGroup
	flushEvery time.Duration
	maxPending int
}

type Option func(p *Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *usagemetrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithPublisher mirrors each entry to an external stream before it is
// folded into its hourly bucket.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// WithBufferSize sets the intake channel capacity.
func WithBufferSize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.entries = make(chan Entry, size)
		}
	}
}

// WithFlushInterval sets how often pending buckets are flushed to the sink.
func WithFlushInterval(interval time.Duration) Option {
	return func(p *Pipeline) {
		if interval > 0 {
			p.flushEvery = interval
		}
	}
}

func New(sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:       sink,
		logger:     slog.Default(),
		mirror:     circuit.New("usage-mirror"),
		entries:    make(chan Entry, 1024),
		flushEvery: 30 * time.Second,
		maxPending: 256,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Record queues one entry for aggregation. The send is non-blocking; when
// the buffer is full the entry is dropped and the drop is counted, so a
// slow sink can never stall the relay path.
func (p *Pipeline) Record(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	select {
	case p.entries <- e:
		if p.metrics != nil {
			p.metrics.IncrementEntries()
		}
	default:
		p.logger.WarnContext(ctx, "usage buffer full, entry dropped",
			"account_id", e.AccountID,
			"model", e.Model,
		)
		if p.metrics != nil {
			p.metrics.IncrementDropped()
		}
	}
}

// Close stops the pipeline, drains buffered entries, and flushes the last
// pending buckets. Record must not be called after Close.
func (p *Pipeline) Close() {
	close(p.entries)
	p.wg.Wait()
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()

	pending := make(map[bucketKey]*Bucket)
	for {
		select {
		case e, ok := <-p.entries:
			if !ok {
				p.flush(pending)
				return
			}
			p.fold(pending, e)
			if len(pending) >= p.maxPending {
				p.flush(pending)
				pending = make(map[bucketKey]*Bucket)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				p.flush(pending)
				pending = make(map[bucketKey]*Bucket)
			}
		}
	}
}

// fold classifies the entry's client off the hot path and adds it to its
// hourly bucket, creating the bucket on first sight.
func (p *Pipeline) fold(pending map[bucketKey]*Bucket, e Entry) {
	if e.Client == "" {
		e.Client = ClassifyClient(e.UserAgent)
	}
	if p.publisher != nil {
		p.publish(e)
	}

	key := keyFor(e)
	b, ok := pending[key]
	if !ok {
		b = &Bucket{
			Hour:      e.Timestamp.UTC().Truncate(time.Hour),
			AccountID: e.AccountID,
			Provider:  e.Provider,
			Model:     e.Model,
			Client:    e.Client,
		}
		pending[key] = b
	}
	b.Requests++
	if !e.Success {
		b.Failures++
	}
	b.InputTokens += e.InputTokens
	b.OutputTokens += e.OutputTokens
	b.LatencyMsSum += e.LatencyMs
}

// publish mirrors one entry and feeds the outcome into the mirror
// breaker. The degraded and recovered transitions are logged once; the
// per-entry warning only fires while the breaker is still closed.
func (p *Pipeline) publish(e Entry) {
	err := p.publisher.Publish(e)
	if err == nil {
		if change := p.mirror.RecordSuccess(); change.Closed {
			p.logger.Info("usage mirror recovered", "breaker", p.mirror.Name())
			if p.metrics != nil {
				p.metrics.SetMirrorOpen(false)
			}
		}
		return
	}

	if p.metrics != nil {
		p.metrics.IncrementPublishErrors()
	}
	switch change := p.mirror.RecordFailure(); {
	case change.Opened:
		p.logger.Error("usage mirror degraded, muting per-entry errors",
			"breaker", p.mirror.Name(),
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.SetMirrorOpen(true)
		}
	case !p.mirror.IsOpen():
		p.logger.Warn("failed to publish usage entry",
			"error", err,
			"account_id", e.AccountID,
		)
	}
}

// flush writes the pending buckets to the sink. A failed flush drops the
// window's aggregates rather than queueing them without bound; the usage
// trail is best effort.
func (p *Pipeline) flush(pending map[bucketKey]*Bucket) {
	if len(pending) == 0 {
		return
	}
	buckets := make([]Bucket, 0, len(pending))
	for _, b := range pending {
		buckets = append(buckets, *b)
	}

	start := time.Now()
	err := p.sink.Merge(context.Background(), buckets)
	if p.metrics != nil {
		p.metrics.ObserveFlushDuration(time.Since(start).Seconds())
	}
	if err != nil {
		p.logger.Error("failed to flush usage buckets",
			"error", err,
			"buckets", len(buckets),
		)
		if p.metrics != nil {
			p.metrics.IncrementFlushes("error")
		}
		return
	}
	if p.metrics != nil {
		p.metrics.IncrementFlushes("ok")
		p.metrics.AddBucketsFlushed(len(buckets))
	}
}
