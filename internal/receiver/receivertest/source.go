// Package receivertest provides an in-memory packet source and SV frame
// helpers for exercising receivers without a network interface.
package receivertest

import (
	"encoding/binary"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dash0.com/sv-subscriber/internal/receiver"
	"dash0.com/sv-subscriber/internal/sv"
)

const pollInterval = 5 * time.Millisecond

type read struct {
	pkt []byte
	err error
}

// Source is a receiver.PacketSource fed through Push and Fail.
type Source struct {
	frames chan read
	closed chan struct{}
	once   sync.Once

	iface  atomic.Value
	opened atomic.Int32
}

// NewSource returns a Source buffering up to capacity frames.
func NewSource(capacity int) *Source {
	return &Source{
		frames: make(chan read, capacity),
		closed: make(chan struct{}),
	}
}

// Push queues pkt for delivery. It blocks when the buffer is full.
func (s *Source) Push(pkt []byte) { s.frames <- read{pkt: pkt} }

// Fail queues a read that returns err, in order with pushed frames.
func (s *Source) Fail(err error) { s.frames <- read{err: err} }

// Pending returns the number of queued, unread frames.
func (s *Source) Pending() int { return len(s.frames) }

// ReadPacket implements receiver.PacketSource.
func (s *Source) ReadPacket(buf []byte) (int, error) {
	t := time.NewTimer(pollInterval)
	defer t.Stop()

	select {
	case rd := <-s.frames:
		if rd.err != nil {
			return 0, rd.err
		}
		return copy(buf, rd.pkt), nil
	case <-s.closed:
		return 0, net.ErrClosed
	case <-t.C:
		return 0, os.ErrDeadlineExceeded
	}
}

// Close implements receiver.PacketSource.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Opener returns a receiver.Opener handing out s.
func (s *Source) Opener() receiver.Opener {
	return func(iface string) (receiver.PacketSource, error) {
		s.iface.Store(iface)
		s.opened.Add(1)

		return s, nil
	}
}

// Interface returns the interface name the source was opened with.
func (s *Source) Interface() string {
	v, _ := s.iface.Load().(string)
	return v
}

// Opens returns how many times the opener was used.
func (s *Source) Opens() int { return int(s.opened.Load()) }

// FailingOpener returns an Opener that always fails with err.
func FailingOpener(err error) receiver.Opener {
	return func(string) (receiver.PacketSource, error) { return nil, err }
}

var (
	dstMAC = net.HardwareAddr{0x01, 0x0c, 0xcd, 0x04, 0x00, 0x01}
	srcMAC = net.HardwareAddr{0x00, 0x1a, 0xb6, 0x00, 0x00, 0x01}
)

// Float32Payload encodes vals as consecutive big-endian FLOAT32 values.
func Float32Payload(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.BigEndian.AppendUint32(out, math.Float32bits(v))
	}

	return out
}

// Frame builds an SV Ethernet frame with one ASDU per payload.
func Frame(appID uint16, smpCnt uint16, payloads ...[]byte) []byte {
	m := &sv.Message{Header: sv.Header{Dst: dstMAC, Src: srcMAC, AppID: appID}}

	for i, p := range payloads {
		m.ASDUs = append(m.ASDUs, sv.ASDU{
			SvID:    "MU01",
			HasSvID: true,
			SmpCnt:  smpCnt + uint16(i),
			ConfRev: 1,
			SeqData: p,
		})
	}

	pkt, err := sv.AppendFrame(nil, m)
	if err != nil {
		panic(err)
	}

	return pkt
}
