package asyncwriter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dash0.com/sv-subscriber/internal/sink"
)

// Writer persists records on its own goroutine through a single-slot
// mailbox. A record offered while an older one is still waiting replaces
// it, so the sink never receives a stale value after a newer one.
type Writer struct {
	sink    sink.Sink
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending *sink.Record
	closed  bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	abort    context.CancelFunc
	done     chan struct{}

	// Optional metric callbacks provided by the owner (e.g., orchestrator).
	incrWrites     func(int64)
	incrFailed     func(int64)
	incrSuperseded func(int64)
}

// New returns a writer for s. timeout bounds each Persist call; zero means
// no bound beyond the loop context.
func New(s sink.Sink, logger *slog.Logger, timeout time.Duration) *Writer {
	return &Writer{
		sink:    s,
		logger:  logger,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetMetricsCallbacks installs optional callbacks for metrics updates.
func (w *Writer) SetMetricsCallbacks(incrWrites, incrFailed, incrSuperseded func(int64)) {
	w.incrWrites = incrWrites
	w.incrFailed = incrFailed
	w.incrSuperseded = incrSuperseded
}

// Offer places r in the mailbox without blocking. It returns false once the
// writer is stopping.
func (w *Writer) Offer(r sink.Record) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}

	superseded := w.pending != nil
	w.pending = &r
	w.mu.Unlock()

	if superseded && w.incrSuperseded != nil {
		w.incrSuperseded(1)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}

	return true
}

// Pending reports whether a record is waiting to be written.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.pending != nil
}

// Start begins the write loop. Writes run under ctx. Stop lets a write in
// flight finish unless its own ctx expires first.
func (w *Writer) Start(ctx context.Context) {
	w.started = true
	ctx, w.abort = context.WithCancel(ctx)

	go func() {
		defer close(w.done)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-w.wake:
				// Records left once stopping belong to Stop.
				select {
				case <-w.stop:
					return
				default:
				}

				if r, ok := w.take(); ok {
					w.write(ctx, r)
				}
			}
		}
	}()
}

// Stop refuses further records, waits for the loop to exit and writes
// whatever is still in the mailbox. ctx bounds both the wait and the final
// write. When ctx expires the write in flight is cancelled and the pending
// record is dropped. No Persist call runs after Stop returns.
func (w *Writer) Stop(ctx context.Context) {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stop) })

	if w.started {
		select {
		case <-w.done:
		case <-ctx.Done():
			w.logger.Warn("deferred writer did not stop in time; cancelling write", slog.String("err", ctx.Err().Error()))
			w.abort()
			<-w.done
		}

		w.abort()
	}

	r, ok := w.take()
	if !ok {
		return
	}

	if ctx.Err() != nil {
		w.logger.Warn("dropping pending record", slog.Int64("identity", r.Identity), slog.String("err", ctx.Err().Error()))

		if w.incrFailed != nil {
			w.incrFailed(1)
		}

		return
	}

	w.write(ctx, r)
}

func (w *Writer) take() (sink.Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == nil {
		return sink.Record{}, false
	}

	r := *w.pending
	w.pending = nil

	return r, true
}

func (w *Writer) write(ctx context.Context, r sink.Record) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	if err := w.sink.Persist(ctx, r); err != nil {
		w.logger.Warn(
			"deferred write failed",
			slog.String("err", err.Error()),
			slog.Int64("identity", r.Identity),
			slog.String("sink", fmt.Sprintf("%T", w.sink)),
		)

		if w.incrFailed != nil {
			w.incrFailed(1)
		}

		return
	}

	if w.incrWrites != nil {
		w.incrWrites(1)
	}
}
