// Package receiver owns link-layer reception of sampled values frames. It
// runs one background goroutine per started Receiver and hands each ASDU
// that matches a subscriber to that subscriber's Listener, in arrival order.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dash0.com/sv-subscriber/internal/sv"
)

const (
	bufferSize = 65536

	// readBackoff spaces out retries after a failed read.
	readBackoff = 100 * time.Millisecond

	// failedReadLogEvery rate-limits warnings during a failure streak.
	failedReadLogEvery = 100
)

var (
	ErrAlreadyRunning = errors.New("receiver: already running")
	ErrDestroyed      = errors.New("receiver: destroyed")
	ErrNotSupported   = errors.New("receiver: raw link-layer capture not supported on this platform")
	ErrSourceClosed   = errors.New("receiver: packet source closed")
)

// Listener receives ASDUs on the receiver goroutine. Calls are sequential.
// The ASDU and its payload are only valid for the duration of the call.
type Listener interface {
	OnASDU(ctx context.Context, asdu *sv.ASDU)
}

// PacketSource yields raw Ethernet frames. ReadPacket must return an error
// matching os.ErrDeadlineExceeded when no frame arrived within its poll
// interval so the receive loop can observe Stop, and net.ErrClosed once the
// source can no longer deliver frames. Any other error is retried.
type PacketSource interface {
	ReadPacket(buf []byte) (int, error)
	Close() error
}

// Opener opens a PacketSource on the named interface.
type Opener func(ifaceID string) (PacketSource, error)

// Subscriber binds a Listener to the frames of one APPID, optionally
// restricted to one destination address.
type Subscriber struct {
	appID    uint16
	dst      net.HardwareAddr
	listener Listener
}

// NewSubscriber returns a subscriber for appID. A nil dst accepts any
// destination address.
func NewSubscriber(appID uint16, dst net.HardwareAddr, l Listener) *Subscriber {
	return &Subscriber{appID: appID, dst: dst, listener: l}
}

func (s *Subscriber) matches(h *sv.Header) bool {
	if h.AppID != s.appID {
		return false
	}

	if s.dst != nil && !bytes.Equal(s.dst, h.Dst) {
		return false
	}

	return true
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithOpener overrides how the packet source is opened (useful for tests).
func WithOpener(o Opener) Option { return func(r *Receiver) { r.open = o } }

// WithObserver installs a callback invoked with every raw frame read,
// before any parsing. It runs on the receive goroutine and must not block
// or retain the slice.
func WithObserver(fn func(pkt []byte)) Option { return func(r *Receiver) { r.observe = fn } }

// Receiver reads frames from one interface and dispatches them to its
// subscribers.
type Receiver struct {
	logger  *slog.Logger
	open    Opener
	observe func([]byte)

	mu        sync.Mutex
	ifaceID   string
	subs      []*Subscriber
	src       PacketSource
	cancel    context.CancelFunc
	done      chan struct{}
	loopErr   error
	destroyed bool

	running     atomic.Bool
	frames      atomic.Uint64
	parseErrors atomic.Uint64
	readErrors  atomic.Uint64
}

// New returns a Receiver that, unless overridden, opens a raw socket on
// the configured interface.
func New(logger *slog.Logger, opts ...Option) *Receiver {
	r := &Receiver{
		logger: logger,
		open:   OpenInterface,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// SetInterfaceID selects the network interface. It has no effect on a
// running receiver.
func (r *Receiver) SetInterfaceID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ifaceID = id
}

// AddSubscriber registers s. Subscribers added while running take effect
// on the next Start.
func (r *Receiver) AddSubscriber(s *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = append(r.subs, s)
}

// Start opens the packet source and launches the receive goroutine. If the
// source cannot be opened the receiver stays stopped and the error is
// returned. Cancelling ctx stops the loop like Stop does, except that the
// source is only released by Stop or Destroy.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return ErrDestroyed
	}

	if r.cancel != nil {
		return ErrAlreadyRunning
	}

	src, err := r.open(r.ifaceID)
	if err != nil {
		return fmt.Errorf("receiver: opening interface %q: %w", r.ifaceID, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	subs := append([]*Subscriber(nil), r.subs...)
	done := make(chan struct{})

	r.src, r.cancel, r.done, r.loopErr = src, cancel, done, nil
	r.running.Store(true)

	go r.loop(loopCtx, src, subs, done)

	r.logger.Debug("receiver started", slog.String("interface", r.ifaceID), slog.Int("subscribers", len(subs)))

	return nil
}

// IsRunning reports whether the receive goroutine is active.
func (r *Receiver) IsRunning() bool { return r.running.Load() }

// Done returns a channel closed when the current receive goroutine exits,
// or nil when the receiver is not started.
func (r *Receiver) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.done
}

// Err returns why the receive goroutine ended on its own. It is nil while
// running and after a requested stop.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loopErr
}

// Stop ends the receive loop, waits for the in-flight listener call to
// return and releases the packet source. It is safe to call repeatedly.
func (r *Receiver) Stop() {
	r.mu.Lock()
	cancel, done, src := r.cancel, r.done, r.src
	r.cancel, r.done, r.src = nil, nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	if err := src.Close(); err != nil {
		r.logger.Warn("receiver: closing packet source", slog.String("err", err.Error()))
	}

	r.logger.Debug("receiver stopped",
		slog.Uint64("frames", r.frames.Load()),
		slog.Uint64("parse_errors", r.parseErrors.Load()),
		slog.Uint64("read_errors", r.readErrors.Load()),
	)
}

// Destroy stops the receiver if needed and drops its subscribers. A
// destroyed receiver cannot be restarted.
func (r *Receiver) Destroy() {
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.destroyed = true
	r.subs = nil
}

// Frames returns the number of raw frames read.
func (r *Receiver) Frames() uint64 { return r.frames.Load() }

// ParseErrors returns the number of malformed SV frames seen.
func (r *Receiver) ParseErrors() uint64 { return r.parseErrors.Load() }

// ReadErrors returns the number of failed reads that were retried.
func (r *Receiver) ReadErrors() uint64 { return r.readErrors.Load() }

func (r *Receiver) loop(ctx context.Context, src PacketSource, subs []*Subscriber, done chan struct{}) {
	defer close(done)
	defer r.running.Store(false)

	buf := make([]byte, bufferSize)
	streak := 0

	for ctx.Err() == nil {
		n, err := src.ReadPacket(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}

			if ctx.Err() != nil {
				return
			}

			if errors.Is(err, net.ErrClosed) {
				r.fail(fmt.Errorf("%w: %w", ErrSourceClosed, err))
				return
			}

			r.readErrors.Add(1)
			streak++

			if streak%failedReadLogEvery == 1 {
				r.logger.Warn("receiver: read failed; retrying",
					slog.String("err", err.Error()),
					slog.Int("consecutive", streak),
				)
			}

			if !sleep(ctx, readBackoff) {
				return
			}

			continue
		}

		if streak > 0 {
			r.logger.Info("receiver: reads recovered", slog.Int("failed_reads", streak))
			streak = 0
		}

		r.handle(ctx, buf[:n], subs)
	}
}

func (r *Receiver) fail(err error) {
	r.mu.Lock()
	r.loopErr = err
	r.mu.Unlock()

	r.logger.Error("receiver: receive loop ended", slog.String("err", err.Error()))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Receiver) handle(ctx context.Context, pkt []byte, subs []*Subscriber) {
	r.frames.Add(1)

	if r.observe != nil {
		r.observe(pkt)
	}

	msg, err := sv.ParseFrame(pkt)
	if err != nil {
		if !errors.Is(err, sv.ErrNotSV) {
			r.parseErrors.Add(1)
			r.logger.Debug("receiver: dropping malformed frame", slog.String("err", err.Error()))
		}

		return
	}

	for _, s := range subs {
		if !s.matches(&msg.Header) {
			continue
		}

		for i := range msg.ASDUs {
			if ctx.Err() != nil {
				return
			}

			s.listener.OnASDU(ctx, &msg.ASDUs[i])
		}
	}
}
