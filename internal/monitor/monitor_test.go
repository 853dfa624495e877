package monitor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(b byte) MAC { return MAC{0, 0x1a, 0xb6, 0, 0, b} }

func TestTable_CountsPacketsAndBytes(t *testing.T) {
	var events []Event

	tb := New(4, func(e Event) { events = append(events, e) })

	require.True(t, tb.Observe(mac(1), 100))
	require.True(t, tb.Observe(mac(1), 60))
	require.True(t, tb.Observe(mac(2), 10))

	c, ok := tb.Lookup(mac(1))
	require.True(t, ok)
	assert.EqualValues(t, 2, c.Packets)
	assert.EqualValues(t, 160, c.Bytes)

	require.Len(t, events, 3)
	assert.Equal(t, mac(2), events[2].Station)
	assert.Equal(t, 10, events[2].Length)
	assert.False(t, events[2].Rejected)
}

func TestTable_RejectsNewStationsWhenFull(t *testing.T) {
	var rejectedEvents int

	tb := New(2, func(e Event) {
		if e.Rejected {
			rejectedEvents++
		}
	})

	require.True(t, tb.Observe(mac(1), 1))
	require.True(t, tb.Observe(mac(2), 1))
	require.False(t, tb.Observe(mac(3), 1))
	require.False(t, tb.Observe(mac(3), 1))

	// Existing stations keep updating.
	require.True(t, tb.Observe(mac(1), 1))

	require.Equal(t, 2, tb.Len())
	require.EqualValues(t, 2, tb.Rejected())
	require.Equal(t, 2, rejectedEvents)

	_, ok := tb.Lookup(mac(3))
	require.False(t, ok)
}

func TestTable_LookupReturnsCopy(t *testing.T) {
	tb := New(0, nil)
	tb.Observe(mac(1), 5)

	c, _ := tb.Lookup(mac(1))
	c.Packets = 1000

	// Growth of the map must not affect previously returned values either.
	for i := 2; i < 200; i++ {
		tb.Observe(mac(byte(i)), 1)
	}

	again, _ := tb.Lookup(mac(1))
	require.EqualValues(t, 1, again.Packets)
	require.EqualValues(t, 1000, c.Packets)
}

func TestTable_ObserveFrameUsesSourceAddress(t *testing.T) {
	tb := New(8, nil)

	pkt := make([]byte, 64)
	copy(pkt[6:12], []byte{0, 0x1a, 0xb6, 0, 0, 9})
	tb.ObserveFrame(pkt)
	tb.ObserveFrame(pkt[:10]) // runt, ignored

	c, ok := tb.Lookup(mac(9))
	require.True(t, ok)
	require.EqualValues(t, 1, c.Packets)
	require.EqualValues(t, 64, c.Bytes)
	require.Equal(t, "00:1a:b6:00:00:09", c.Station.String())
}

func TestTable_SnapshotOrderedByBytes(t *testing.T) {
	tb := New(8, nil)
	tb.Observe(mac(1), 10)
	tb.Observe(mac(2), 30)
	tb.Observe(mac(3), 20)

	snap := tb.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, mac(2), snap[0].Station)
	require.Equal(t, mac(3), snap[1].Station)
	require.Equal(t, mac(1), snap[2].Station)
}

func TestTable_ConcurrentObserve(t *testing.T) {
	tb := New(16, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < 1000; i++ {
				tb.Observe(mac(byte(i%4)), 1)
			}
		}()
	}
	wg.Wait()

	var total uint64
	for _, c := range tb.Snapshot() {
		total += c.Packets
	}

	require.EqualValues(t, 8000, total)
}

func TestMACFrom(t *testing.T) {
	_, ok := MACFrom([]byte{1, 2, 3})
	require.False(t, ok)

	m, ok := MACFrom([]byte{1, 2, 3, 4, 5, 6, 7})
	require.True(t, ok)
	require.Equal(t, MAC{1, 2, 3, 4, 5, 6}, m)
}
