package service

import (
	"context"
	"sync"
	"time"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/safego"
)

const usageModule = "usage"

// Sink receives flushed usage batches.
type Sink interface {
	InsertRecords(ctx context.Context, records []*entity.Record) error
}

// Tracker buffers usage records in memory and flushes batches in the
// background. Record never blocks on the sink.
type Tracker struct {
	sink     Sink
	interval time.Duration

	mu     sync.Mutex
	buffer []*entity.Record

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(sink Sink, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Tracker{sink: sink, interval: interval}
}

// Start launches the background flusher.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	safego.Go(ctx, func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Flush(context.Background())
			}
		}
	})
}

// Record appends one row to the buffer.
func (t *Tracker) Record(rec *entity.Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	t.mu.Lock()
	t.buffer = append(t.buffer, rec)
	t.mu.Unlock()
}

// Pending returns the number of unflushed records.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

// Flush writes the current buffer to the sink. On failure the batch is
// put back so no record is lost.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.buffer
	t.buffer = nil
	t.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := t.sink.InsertRecords(ctx, batch); err != nil {
		logger.WarnX(usageModule, "usage flush failed (%d records kept): %v", len(batch), err)
		t.mu.Lock()
		t.buffer = append(batch, t.buffer...)
		t.mu.Unlock()
	}
}

// Close stops the flusher and performs a final flush.
func (t *Tracker) Close(ctx context.Context) {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	t.Flush(ctx)
}
