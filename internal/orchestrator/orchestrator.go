package orchestrator

//go:generate mockgen -source=orchestrator.go -destination=./mocks/mock_orchestrator.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"dash0.com/sv-subscriber/internal/asyncwriter"
	cfgpkg "dash0.com/sv-subscriber/internal/config"
	"dash0.com/sv-subscriber/internal/decoder"
	"dash0.com/sv-subscriber/internal/gate"
	"dash0.com/sv-subscriber/internal/monitor"
	"dash0.com/sv-subscriber/internal/receiver"
	"dash0.com/sv-subscriber/internal/sink"
)

const instrumentationName = "dash0.com/sv-subscriber"

// Meta carries the frame fields stored alongside a sample pair.
type Meta struct {
	SvID    string
	SmpCnt  uint16
	ConfRev uint32
}

// Orchestrator is the surface the receive callback depends on.
type Orchestrator interface {
	Layout() decoder.Layout
	Submit(ctx context.Context, batch decoder.Batch, meta Meta) bool
	Stopping() bool
	IncrMetric(ctx context.Context, mt MetricType, n int64)
}

// orchestratorSvc holds all instance-scoped dependencies and metrics.
type orchestratorSvc struct {
	Cfg    cfgpkg.Config
	Logger *slog.Logger
	Tracer oteltrace.Tracer
	Meter  otelmetric.Meter

	// Metrics
	FramesReceived  otelmetric.Int64Counter
	FramesDecoded   otelmetric.Int64Counter
	FramesSkipped   otelmetric.Int64Counter
	Writes          otelmetric.Int64Counter
	WritesFailed    otelmetric.Int64Counter
	WritesSupersede otelmetric.Int64Counter
	CallbackPanics  otelmetric.Int64Counter
	stations        otelmetric.Int64ObservableGauge
	registration    otelmetric.Registration

	stats [metricCount]atomic.Int64

	layout   decoder.Layout
	gate     *gate.Gate
	outSink  sink.Sink
	writer   *asyncwriter.Writer
	receiver *receiver.Receiver
	monitor  *monitor.Table

	recvOpts []receiver.Option
	nowFn    func() time.Time

	state      atomic.Int32
	stopToken  atomic.Bool
	recvCancel atomic.Pointer[context.CancelFunc]
	startMu    sync.Mutex
	stopOnce   sync.Once
	closeOnce  sync.Once
}

// Option customizes New.
type Option func(*orchestratorSvc) error

// WithSink overrides the sink selected by the store configuration (useful for tests).
func WithSink(s sink.Sink) Option {
	return func(svc *orchestratorSvc) error { svc.outSink = s; return nil }
}

// WithReceiverOptions passes options to the receiver, e.g. a packet source
// opener.
func WithReceiverOptions(opts ...receiver.Option) Option {
	return func(svc *orchestratorSvc) error { svc.recvOpts = append(svc.recvOpts, opts...); return nil }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(svc *orchestratorSvc) error { svc.nowFn = now; return nil }
}

// New constructs the subscriber instance in state Created.
func New(cfg cfgpkg.Config, logger *slog.Logger, opts ...Option) (*orchestratorSvc, error) {
	s := &orchestratorSvc{
		Cfg:    cfg,
		Logger: logger,
		Tracer: otel.Tracer(instrumentationName),
		Meter:  otel.Meter(instrumentationName),
		nowFn:  time.Now,
	}

	if err := s.initInstruments(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	var err error
	if s.layout, err = cfg.DecoderLayout(); err != nil {
		return nil, err
	}

	if s.gate, err = gate.New(cfg.Threshold, cfg.Mode()); err != nil {
		return nil, err
	}

	if s.outSink == nil {
		if s.outSink, err = sink.Open(cfg.SinkOptions()); err != nil {
			return nil, err
		}
	}

	s.monitor = monitor.New(cfg.MonitorCapacity, s.onStation)
	if s.registration, err = s.Meter.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		o.ObserveInt64(s.stations, int64(s.monitor.Len()))
		return nil
	}, s.stations); err != nil {
		return nil, err
	}

	recvOpts := append([]receiver.Option{receiver.WithObserver(s.monitor.ObserveFrame)}, s.recvOpts...)
	s.receiver = receiver.New(logger, recvOpts...)

	if cfg.Store.Async {
		s.writer = asyncwriter.New(tracedSink{s}, logger, cfg.Store.Timeout)
		s.writer.SetMetricsCallbacks(
			func(n int64) { s.IncrMetric(context.Background(), MetricWrites, n) },
			func(n int64) { s.IncrMetric(context.Background(), MetricWritesFailed, n) },
			func(n int64) { s.IncrMetric(context.Background(), MetricWritesSuperseded, n) },
		)
	}

	s.state.Store(int32(StateCreated))

	return s, nil
}

func (s *orchestratorSvc) initInstruments() error {
	counters := []struct {
		dst  *otelmetric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&s.FramesReceived, "sv.frames.received", "Number of SV frames handed to the receive callback", "{frame}"},
		{&s.FramesDecoded, "sv.frames.decoded", "Number of SV frames decoded into samples", "{frame}"},
		{&s.FramesSkipped, "sv.frames.skipped", "Number of SV frames too short for the data-set layout", "{frame}"},
		{&s.Writes, "sv.writes", "Number of successful storage writes", "{write}"},
		{&s.WritesFailed, "sv.writes.failed", "Number of failed storage writes", "{write}"},
		{&s.WritesSupersede, "sv.writes.superseded", "Number of deferred writes replaced by a newer record", "{write}"},
		{&s.CallbackPanics, "sv.callback.panics", "Number of panics recovered in the receive callback", "{panic}"},
	}

	for _, c := range counters {
		var err error
		if *c.dst, err = s.Meter.Int64Counter(c.name,
			otelmetric.WithDescription(c.desc),
			otelmetric.WithUnit(c.unit),
		); err != nil {
			return err
		}
	}

	var err error
	s.stations, err = s.Meter.Int64ObservableGauge(
		"sv.monitor.stations",
		otelmetric.WithDescription("Number of link-layer stations tracked by the packet counter"),
		otelmetric.WithUnit("{station}"),
	)

	return err
}

func (s *orchestratorSvc) onStation(ev monitor.Event) {
	if ev.Rejected {
		s.Logger.Debug("packet counter full; station not tracked",
			slog.String("station", ev.Station.String()),
			slog.Int("length", ev.Length),
		)
	}
}

// Layout returns the data-set layout used to decode payloads.
func (s *orchestratorSvc) Layout() decoder.Layout { return s.layout }

// Stopping reports whether a stop was requested or has begun. The receive
// callback must not gate or persist once this is true.
func (s *orchestratorSvc) Stopping() bool {
	return s.stopToken.Load() || s.State() >= StateStopping
}

// Submit runs the gate for batch and, when it fires, persists the latest
// sample pair. It must only be called from the receiver goroutine. It
// reports whether a write was issued.
func (s *orchestratorSvc) Submit(ctx context.Context, batch decoder.Batch, meta Meta) bool {
	if s.Stopping() {
		return false
	}

	if !s.gate.ShouldWrite(batch) {
		return false
	}

	rec := sink.Record{
		Identity: s.Cfg.Identity,
		Data0:    batch[0],
		Samples:  batch,
		SvID:     meta.SvID,
		SmpCnt:   meta.SmpCnt,
		ConfRev:  meta.ConfRev,
		At:       s.nowFn().Unix(),
	}
	if len(batch) > 1 {
		rec.Data1 = batch[1]
	}

	if s.writer != nil {
		return s.writer.Offer(rec)
	}

	s.write(ctx, rec)

	return true
}

// write persists rec synchronously within the store timeout. Failures are
// logged and counted; intake continues.
func (s *orchestratorSvc) write(ctx context.Context, rec sink.Record) {
	if s.Cfg.Store.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Cfg.Store.Timeout)
		defer cancel()
	}

	if err := s.persist(ctx, rec); err != nil {
		s.IncrMetric(ctx, MetricWritesFailed, 1)
		return
	}

	s.IncrMetric(ctx, MetricWrites, 1)
}

func (s *orchestratorSvc) persist(ctx context.Context, rec sink.Record) error {
	ctx, span := s.Tracer.Start(ctx, "orchestrator.persist")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("sv.identity", rec.Identity),
		attribute.Int("sv.smp_cnt", int(rec.SmpCnt)),
		attribute.String("sink", fmt.Sprintf("%T", s.outSink)),
	)

	err := s.outSink.Persist(ctx, rec)
	if err != nil {
		span.RecordError(err)

		msg := "storage write failed"
		if errors.Is(err, sink.ErrNoRecord) {
			msg = "no storage row for subscriber identity"
		}

		s.Logger.WarnContext(ctx, msg,
			slog.String("err", err.Error()),
			slog.Int64("identity", rec.Identity),
			slog.String("sink", fmt.Sprintf("%T", s.outSink)),
		)

		return err
	}

	s.Logger.DebugContext(ctx, "stored sample pair",
		slog.Int64("identity", rec.Identity),
		slog.Float64("data0", rec.Data0),
		slog.Float64("data1", rec.Data1),
	)

	return nil
}

// tracedSink routes deferred writes through persist so they share its
// span and logging.
type tracedSink struct{ s *orchestratorSvc }

func (t tracedSink) Persist(ctx context.Context, r sink.Record) error { return t.s.persist(ctx, r) }

// Monitor returns the packet counter fed by the receiver.
func (s *orchestratorSvc) Monitor() *monitor.Table { return s.monitor }

// MetricType enumerates orchestrator metric counters.
type MetricType int

const (
	MetricFramesReceived MetricType = iota
	MetricFramesDecoded
	MetricFramesSkipped
	MetricWrites
	MetricWritesFailed
	MetricWritesSuperseded
	MetricCallbackPanics

	metricCount
)

// IncrMetric increments the selected metric by n (if n > 0).
func (s *orchestratorSvc) IncrMetric(ctx context.Context, mt MetricType, n int64) {
	if n <= 0 || mt < 0 || mt >= metricCount {
		return
	}

	s.stats[mt].Add(n)

	switch mt {
	case MetricFramesReceived:
		s.FramesReceived.Add(ctx, n)
	case MetricFramesDecoded:
		s.FramesDecoded.Add(ctx, n)
	case MetricFramesSkipped:
		s.FramesSkipped.Add(ctx, n)
	case MetricWrites:
		s.Writes.Add(ctx, n)
	case MetricWritesFailed:
		s.WritesFailed.Add(ctx, n)
	case MetricWritesSuperseded:
		s.WritesSupersede.Add(ctx, n)
	case MetricCallbackPanics:
		s.CallbackPanics.Add(ctx, n)
	}
}

// Stats is an in-process copy of the metric counters.
type Stats struct {
	FramesReceived   int64
	FramesDecoded    int64
	FramesSkipped    int64
	Writes           int64
	WritesFailed     int64
	WritesSuperseded int64
	CallbackPanics   int64
}

// Stats returns the counters accumulated since New.
func (s *orchestratorSvc) Stats() Stats {
	return Stats{
		FramesReceived:   s.stats[MetricFramesReceived].Load(),
		FramesDecoded:    s.stats[MetricFramesDecoded].Load(),
		FramesSkipped:    s.stats[MetricFramesSkipped].Load(),
		Writes:           s.stats[MetricWrites].Load(),
		WritesFailed:     s.stats[MetricWritesFailed].Load(),
		WritesSuperseded: s.stats[MetricWritesSuperseded].Load(),
		CallbackPanics:   s.stats[MetricCallbackPanics].Load(),
	}
}
