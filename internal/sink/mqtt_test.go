package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)

	return &fakeToken{done: done, err: err}
}

func TestWaitToken(t *testing.T) {
	require.NoError(t, waitToken(completedToken(nil), time.Second))

	refused := errors.New("connection refused")
	require.ErrorIs(t, waitToken(completedToken(refused), time.Second), refused)

	err := waitToken(&fakeToken{done: make(chan struct{})}, 10*time.Millisecond)
	require.ErrorContains(t, err, "timed out after 10ms")
}

func TestMQTTSink_Topic(t *testing.T) {
	s, err := NewMQTT("tcp://localhost:1883", "sv/", 0)
	require.NoError(t, err)

	require.Equal(t, "sv/42", s.Topic(42))
	require.Equal(t, defaultMQTTTimeout, s.timeout)

	_, err = NewMQTT("", "sv/", 0)
	require.Error(t, err)
}
