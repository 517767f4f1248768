package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AsyncJournal hands records to a background writer so the control loop never
// waits on the database. Records that do not fit the queue are dropped.
type AsyncJournal struct {
	inner   Journal
	queue   chan func(context.Context) error
	timeout time.Duration
	logger  *zap.Logger
}

// NewAsyncJournal wraps inner. Each write gets its own timeout.
func NewAsyncJournal(inner Journal, size int, timeout time.Duration, logger *zap.Logger) *AsyncJournal {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &AsyncJournal{
		inner:   inner,
		queue:   make(chan func(context.Context) error, size),
		timeout: timeout,
		logger:  logger,
	}
}

func (j *AsyncJournal) RecordMove(_ context.Context, rec *MoveRecord) error {
	j.enqueue("move", func(ctx context.Context) error { return j.inner.RecordMove(ctx, rec) })
	return nil
}

func (j *AsyncJournal) RecordFault(_ context.Context, rec *FaultRecord) error {
	j.enqueue("fault", func(ctx context.Context) error { return j.inner.RecordFault(ctx, rec) })
	return nil
}

func (j *AsyncJournal) enqueue(kind string, write func(context.Context) error) {
	select {
	case j.queue <- write:
	default:
		j.logger.Warn("Journal channel full, skip", zap.String("record", kind))
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is
// still queued.
func (j *AsyncJournal) Run(ctx context.Context) {
	for {
		select {
		case write := <-j.queue:
			j.write(ctx, write)
		case <-ctx.Done():
			for {
				select {
				case write := <-j.queue:
					j.write(ctx, write)
				default:
					return
				}
			}
		}
	}
}

func (j *AsyncJournal) write(ctx context.Context, write func(context.Context) error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()
	if err := write(wctx); err != nil {
		j.logger.Warn("Journal write failed", zap.Error(err))
	}
}

var _ Journal = (*AsyncJournal)(nil)
