package listener

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"dash0.com/sv-subscriber/internal/decoder"
	"dash0.com/sv-subscriber/internal/orchestrator"
	"dash0.com/sv-subscriber/internal/sv"
)

// Listener is the receive callback. It decodes each ASDU and hands the
// samples to the orchestrator, which gates and persists them.
type Listener struct {
	orchestratorSvc orchestrator.Orchestrator
	logger          *slog.Logger
}

// New returns a Listener backed by the provided Orchestrator.
func New(svc orchestrator.Orchestrator, logger *slog.Logger) *Listener {
	return &Listener{orchestratorSvc: svc, logger: logger}
}

// OnASDU runs on the receiver goroutine. It never panics and never blocks
// beyond the synchronous storage write.
func (l *Listener) OnASDU(ctx context.Context, asdu *sv.ASDU) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "panic in receive callback",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			l.orchestratorSvc.IncrMetric(ctx, orchestrator.MetricCallbackPanics, 1)
		}
	}()

	if l.orchestratorSvc.Stopping() {
		return
	}

	l.logger.DebugContext(ctx, "received ASDU",
		slog.String("sv_id", asdu.SvID),
		slog.Int("smp_cnt", int(asdu.SmpCnt)),
		slog.Uint64("conf_rev", uint64(asdu.ConfRev)),
		slog.Int("data_size", asdu.DataSize()),
	)

	l.orchestratorSvc.IncrMetric(ctx, orchestrator.MetricFramesReceived, 1)

	layout := l.orchestratorSvc.Layout()

	batch, ok := decoder.Decode(asdu.Data(), asdu.DataSize(), layout)
	if !ok {
		l.orchestratorSvc.IncrMetric(ctx, orchestrator.MetricFramesSkipped, 1)
		l.logger.DebugContext(ctx, "payload shorter than data-set layout",
			slog.Int("data_size", asdu.DataSize()),
			slog.Int("required", layout.Required()),
		)
		return
	}

	l.orchestratorSvc.IncrMetric(ctx, orchestrator.MetricFramesDecoded, 1)

	l.orchestratorSvc.Submit(ctx, batch, orchestrator.Meta{
		SvID:    asdu.SvID,
		SmpCnt:  asdu.SmpCnt,
		ConfRev: asdu.ConfRev,
	})
}
