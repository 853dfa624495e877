package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dash0.com/sv-subscriber/internal/receiver"
	"dash0.com/sv-subscriber/internal/sink"
)

var (
	// ErrInvalidState is returned when a lifecycle call does not fit the
	// current state.
	ErrInvalidState = errors.New("orchestrator: invalid state")

	// ErrReceiverStopped is returned by Wait when the receive goroutine
	// ended without a stop request.
	ErrReceiverStopped = errors.New("orchestrator: receiver stopped unexpectedly")
)

// State is the lifecycle position of a subscriber instance.
type State int32

const (
	StateCreated State = iota
	StateConfigured
	StateRunning
	StateStopping
	StateDestroyed
)

func (st State) String() string {
	switch st {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int32(st))
	}
}

// State returns the current lifecycle state.
func (s *orchestratorSvc) State() State { return State(s.state.Load()) }

// Configure binds the receiver to the configured interface and registers l
// for the configured APPID and destination filter.
func (s *orchestratorSvc) Configure(l receiver.Listener) error {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateConfigured)) {
		return fmt.Errorf("%w: configure in state %s", ErrInvalidState, s.State())
	}

	dst, err := s.Cfg.DstHardwareAddr()
	if err != nil {
		s.state.Store(int32(StateCreated))
		return err
	}

	s.receiver.SetInterfaceID(s.Cfg.InterfaceID)
	s.receiver.AddSubscriber(receiver.NewSubscriber(s.Cfg.AppID, dst, l))

	s.Logger.Debug("orchestrator configured",
		slog.String("interface", s.Cfg.InterfaceID),
		slog.String("app_id", fmt.Sprintf("0x%04x", s.Cfg.AppID)),
		slog.Int64("identity", s.Cfg.Identity),
	)

	return nil
}

// Start launches the receiver and, if enabled, the deferred writer. When
// the receiver cannot start the instance stays Configured and the error is
// returned. Calling Start while running is a no-op.
func (s *orchestratorSvc) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	switch s.State() {
	case StateRunning:
		return nil
	case StateConfigured:
	default:
		return fmt.Errorf("%w: start in state %s", ErrInvalidState, s.State())
	}

	ctx, span := s.Tracer.Start(ctx, "orchestrator.Start")
	defer span.End()

	s.Logger.DebugContext(ctx, "orchestrator.Start: begin")

	if s.Cfg.Store.InitSchema {
		s.initSchema(ctx)
	}

	recvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.receiver.Start(recvCtx); err != nil {
		cancel()
		span.RecordError(err)
		return fmt.Errorf("starting receiver: %w", err)
	}
	s.recvCancel.Store(&cancel)

	// A stop requested before the receiver existed still halts dispatch.
	if s.stopToken.Load() {
		cancel()
	}

	if s.writer != nil {
		s.writer.Start(context.WithoutCancel(ctx))
	}

	s.state.Store(int32(StateRunning))

	s.Logger.InfoContext(ctx, "subscriber running",
		slog.String("interface", s.Cfg.InterfaceID),
		slog.Int64("identity", s.Cfg.Identity),
		slog.Int("threshold", s.gate.Threshold()),
		slog.Bool("async_writes", s.writer != nil),
	)

	return nil
}

func (s *orchestratorSvc) initSchema(ctx context.Context) {
	si, ok := s.outSink.(sink.SchemaInitializer)
	if !ok {
		s.Logger.WarnContext(ctx, "store does not support schema initialization",
			slog.String("driver", s.Cfg.Store.Driver))
		return
	}

	if s.Cfg.Store.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Cfg.Store.Timeout)
		defer cancel()
	}

	if err := si.InitSchema(ctx, s.Cfg.Identity); err != nil {
		s.Logger.WarnContext(ctx, "schema initialization failed", slog.String("err", err.Error()))
	}
}

// Wait blocks the foreground goroutine, polling the stop token every
// PollInterval, until RequestStop is called or ctx is done. If the receive
// goroutine ends on its own, Wait returns ErrReceiverStopped joined with the
// receiver's error.
func (s *orchestratorSvc) Wait(ctx context.Context) error {
	ticker := time.NewTicker(s.Cfg.PollInterval)
	defer ticker.Stop()

	recvDone := s.receiver.Done()

	for !s.stopToken.Load() {
		select {
		case <-ctx.Done():
			return nil
		case <-recvDone:
			if s.stopToken.Load() {
				return nil
			}

			return errors.Join(ErrReceiverStopped, s.receiver.Err())
		case <-ticker.C:
		}
	}

	return nil
}

// RequestStop sets the stop token and halts frame dispatch after the
// in-flight callback. It is safe to call from any goroutine, any number of
// times.
func (s *orchestratorSvc) RequestStop() {
	s.stopToken.Store(true)

	if cancel := s.recvCancel.Load(); cancel != nil {
		(*cancel)()
	}
}

// Stop halts the receiver, waiting for the in-flight callback, then drains
// the deferred writer within ctx. Only the first call has an effect.
func (s *orchestratorSvc) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		ctx, span := s.Tracer.Start(ctx, "orchestrator.Stop")
		defer span.End()

		s.RequestStop()
		if s.State() < StateStopping {
			s.state.Store(int32(StateStopping))
		}

		s.Logger.DebugContext(ctx, "orchestrator.Stop: begin")

		s.receiver.Stop()

		if s.writer != nil {
			s.writer.Stop(ctx)
		}

		s.logSummary(ctx)

		s.Logger.DebugContext(ctx, "orchestrator.Stop: end")
	})
}

// Close stops the instance and destroys the receiver. Repeated calls
// return nil.
func (s *orchestratorSvc) Close(ctx context.Context) error {
	var err error

	s.closeOnce.Do(func() {
		s.Stop(ctx)

		ctx, span := s.Tracer.Start(ctx, "orchestrator.Close")
		defer span.End()

		s.receiver.Destroy()

		if s.registration != nil {
			err = s.registration.Unregister()
		}

		s.state.Store(int32(StateDestroyed))

		s.Logger.DebugContext(ctx, "orchestrator.Close: destroyed")
	})

	return err
}

func (s *orchestratorSvc) logSummary(ctx context.Context) {
	st := s.Stats()

	s.Logger.InfoContext(ctx, "subscriber stopped",
		slog.Int64("frames_received", st.FramesReceived),
		slog.Int64("frames_decoded", st.FramesDecoded),
		slog.Int64("frames_skipped", st.FramesSkipped),
		slog.Int64("writes", st.Writes),
		slog.Int64("writes_failed", st.WritesFailed),
		slog.Int64("writes_superseded", st.WritesSuperseded),
		slog.Uint64("raw_frames", s.receiver.Frames()),
		slog.Uint64("parse_errors", s.receiver.ParseErrors()),
		slog.Uint64("read_errors", s.receiver.ReadErrors()),
		slog.Uint64("stations_rejected", s.monitor.Rejected()),
	)

	for _, c := range s.monitor.Snapshot() {
		s.Logger.InfoContext(ctx, "station traffic",
			slog.String("station", c.Station.String()),
			slog.Uint64("packets", c.Packets),
			slog.Uint64("bytes", c.Bytes),
		)
	}
}
