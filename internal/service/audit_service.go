package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/governed-io/governed/internal/domain/audit"
)

// AuditService is the async write path for evaluation/compliance
// records: a bounded channel plus a single background worker, so the
// evaluation hot path never waits on disk or network I/O.
type AuditService struct {
	store  audit.AuditStore
	events chan audit.AuditRecord
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration
	capacity      int

	// backpressure: a full channel blocks up to sendTimeout before the
	// record is dropped and counted. sendTimeout <= 0 drops immediately.
	sendTimeout time.Duration
	drops       atomic.Int64

	// depth warning, rate-limited to once per second
	warnAtPercent int
	lastWarnedAt  atomic.Int64

	// adaptive flush: above this depth percentage the worker's ticker
	// runs at 1/4 its configured interval
	fastFlushAtPercent int
}

// AuditOption configures an AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets how many records accumulate before a flush.
func WithBatchSize(n int) AuditOption {
	return func(s *AuditService) { s.batchSize = n }
}

// WithFlushInterval sets the ticker period for time-based flushing.
func WithFlushInterval(d time.Duration) AuditOption {
	return func(s *AuditService) { s.flushInterval = d }
}

// WithChannelSize replaces the default event buffer with one of the
// given capacity.
func WithChannelSize(n int) AuditOption {
	return func(s *AuditService) {
		s.events = make(chan audit.AuditRecord, n)
		s.capacity = n
	}
}

// WithSendTimeout sets how long Record blocks on a full channel
// before giving up and dropping. 0 drops without blocking.
func WithSendTimeout(d time.Duration) AuditOption {
	return func(s *AuditService) { s.sendTimeout = d }
}

// WithWarningThreshold sets the channel-depth percentage (0-100) that
// triggers a rate-limited warning log.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) { s.warnAtPercent = clampPercent(percent) }
}

// WithAdaptiveFlushThreshold sets the channel-depth percentage above
// which the worker flushes four times more often. 0 disables it.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) { s.fastFlushAtPercent = clampPercent(percent) }
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// NewAuditService wires an AuditService around store with sane
// defaults: a 1000-record buffer, 100-record batches flushed every
// second, a 100ms backpressure window, and warning/adaptive-flush
// triggers at 80% depth.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultCapacity = 1000
	s := &AuditService{
		store:              store,
		events:             make(chan audit.AuditRecord, defaultCapacity),
		done:               make(chan struct{}),
		logger:             logger,
		batchSize:          100,
		flushInterval:      time.Second,
		capacity:           defaultCapacity,
		sendTimeout:        100 * time.Millisecond,
		warnAtPercent:      80,
		fastFlushAtPercent: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop closes the event channel and waits for the worker to drain
// and flush whatever remains.
func (s *AuditService) Stop() {
	close(s.events)
	s.wg.Wait()
}

// Record enqueues one record for the background worker. It tries a
// non-blocking send first; on a full channel it waits up to
// sendTimeout, then drops the record and counts it.
func (s *AuditService) Record(record audit.AuditRecord) {
	if s.warnAtPercent > 0 {
		if depth := len(s.events); depth >= s.capacity*s.warnAtPercent/100 {
			s.maybeWarnDepth(depth)
		}
	}

	select {
	case s.events <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.noteDrop(record)
		return
	}

	select {
	case s.events <- record:
	case <-time.After(s.sendTimeout):
		s.noteDrop(record)
	}
}

func (s *AuditService) noteDrop(record audit.AuditRecord) {
	total := s.drops.Add(1)
	s.logger.Warn("audit record dropped",
		"action", record.Action,
		"request_id", record.RequestID,
		"total_drops", total,
	)
}

func (s *AuditService) maybeWarnDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarnedAt.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarnedAt.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.capacity,
			"percent", depth*100/s.capacity,
		)
	}
}

// DroppedRecords reports the cumulative count of records dropped
// under backpressure, for a metrics sink to expose.
func (s *AuditService) DroppedRecords() int64 { return s.drops.Load() }

// ChannelDepth reports the event channel's current occupancy.
func (s *AuditService) ChannelDepth() int { return len(s.events) }

// ChannelCapacity reports the event channel's configured capacity.
func (s *AuditService) ChannelCapacity() int { return s.capacity }

// Append implements audit.AuditStore by handing each record to
// Record, letting callers treat the async worker as just another
// store without depending on its channel-based internals.
func (s *AuditService) Append(_ context.Context, records ...audit.AuditRecord) error {
	for _, r := range records {
		s.Record(r)
	}
	return nil
}

// Flush is a no-op here: buffered records drain on the worker's own
// batch-size/interval/depth triggers, so there is nothing left for a
// caller-driven flush to force.
func (s *AuditService) Flush(_ context.Context) error { return nil }

// Close stops the worker, flushing whatever is still buffered.
func (s *AuditService) Close() error {
	s.Stop()
	return nil
}

var _ audit.AuditStore = (*AuditService)(nil)

// worker batches incoming records and writes them to store, flushing
// on whichever trigger fires first: a full batch, the flush ticker,
// channel-depth pressure, or shutdown.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.AuditRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	fastMode := false

	for {
		select {
		case record, ok := <-s.events:
			if !ok {
				s.flushWithDeadline(batch)
				return
			}
			batch = append(batch, record)

			if depthPercent := s.depthPercent(); s.fastFlushAtPercent > 0 && len(batch) < s.batchSize && depthPercent >= s.fastFlushAtPercent {
				s.flush(ctx, batch)
				batch = batch[:0]
			} else if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			s.adjustFlushRate(ticker, &fastMode)

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			for record := range s.events {
				batch = append(batch, record)
			}
			s.flushWithDeadline(batch)
			return
		}
	}
}

func (s *AuditService) depthPercent() int {
	return len(s.events) * 100 / s.capacity
}

// adjustFlushRate switches the worker's ticker between its configured
// interval and a 4x-faster one as channel depth crosses
// fastFlushAtPercent, so a burst drains quicker without the worker
// busy-looping once it subsides.
func (s *AuditService) adjustFlushRate(ticker *time.Ticker, fastMode *bool) {
	if s.fastFlushAtPercent <= 0 {
		return
	}
	depthPercent := s.depthPercent()
	switch {
	case depthPercent >= s.fastFlushAtPercent && !*fastMode:
		ticker.Reset(s.flushInterval / 4)
		*fastMode = true
		s.logger.Debug("audit adaptive flush: entering fast mode", "depth_percent", depthPercent, "interval", s.flushInterval/4)
	case depthPercent < s.fastFlushAtPercent && *fastMode:
		ticker.Reset(s.flushInterval)
		*fastMode = false
		s.logger.Debug("audit adaptive flush: returning to normal mode", "depth_percent", depthPercent, "interval", s.flushInterval)
	}
}

func (s *AuditService) flushWithDeadline(batch []audit.AuditRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
}

// flush writes a batch to the store. Errors are logged, not
// propagated: a storage hiccup must not fail the evaluation that
// produced the record.
func (s *AuditService) flush(ctx context.Context, batch []audit.AuditRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
	}
}
