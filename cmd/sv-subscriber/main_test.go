package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "dash0.com/sv-subscriber/internal/config"
	"dash0.com/sv-subscriber/internal/orchestrator"
	"dash0.com/sv-subscriber/internal/receiver"
	"dash0.com/sv-subscriber/internal/receiver/receivertest"
	"dash0.com/sv-subscriber/internal/sink"
)

type memSink struct {
	mu  sync.Mutex
	got []sink.Record
}

func (m *memSink) Persist(_ context.Context, r sink.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, r)
	return nil
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func testConfig() cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Identity = 1
	cfg.Threshold = 10
	cfg.PollInterval = 5 * time.Millisecond
	cfg.GracefulTimeout = time.Second

	return cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestServe_RunsUntilContextDone(t *testing.T) {
	src := receivertest.NewSource(64)
	ms := &memSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, testConfig(), discard(),
			orchestrator.WithSink(ms),
			orchestrator.WithReceiverOptions(receiver.WithOpener(src.Opener())),
		)
	}()

	for i := 0; i < 30; i++ {
		src.Push(receivertest.Frame(0x4000, uint16(i), receivertest.Float32Payload(float32(i), 0)))
	}

	require.Eventually(t, func() bool { return ms.len() == 3 }, 2*time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}

	require.True(t, src.Closed())
	require.Equal(t, 0, exitCode(nil))
}

func TestServe_ReceiverStartFailure(t *testing.T) {
	err := serve(context.Background(), testConfig(), discard(),
		orchestrator.WithSink(&memSink{}),
		orchestrator.WithReceiverOptions(receiver.WithOpener(receivertest.FailingOpener(errors.New("operation not permitted")))),
	)
	require.ErrorContains(t, err, "operation not permitted")
	require.Equal(t, 1, exitCode(err))
}

func TestServe_ReceiverExitIsAnError(t *testing.T) {
	src := receivertest.NewSource(4)
	src.Fail(net.ErrClosed)

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(context.Background(), testConfig(), discard(),
			orchestrator.WithSink(&memSink{}),
			orchestrator.WithReceiverOptions(receiver.WithOpener(src.Opener())),
		)
	}()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, orchestrator.ErrReceiverStopped)
		require.Equal(t, 1, exitCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("serve kept running after the receiver exited")
	}

	require.True(t, src.Closed())
}

func TestRun_UsageError(t *testing.T) {
	getenv := func(string) string { return "" }

	for _, args := range [][]string{{"abc"}, {"1", "2"}, {"-v"}} {
		err := run(context.Background(), args, getenv)
		require.ErrorIs(t, err, cfgpkg.ErrUsage)
		require.Equal(t, 2, exitCode(err), fmt.Sprint(args))
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	getenv := func(k string) string {
		if k == "SV_THRESHOLD" {
			return "0"
		}
		return ""
	}

	err := run(context.Background(), nil, getenv)
	require.Error(t, err)
	require.Equal(t, 1, exitCode(err))
}
