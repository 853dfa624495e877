// Package monitor keeps per-station packet and byte counters keyed by the
// Ethernet source address, the way a switch-side throughput monitor does.
package monitor

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultCapacity bounds the number of tracked stations.
const DefaultCapacity = 256

// MAC is a 6-byte link-layer address usable as a map key.
type MAC [6]byte

// MACFrom copies the first six bytes of addr. ok is false for shorter input.
func MACFrom(addr []byte) (m MAC, ok bool) {
	if len(addr) < len(m) {
		return m, false
	}

	copy(m[:], addr)

	return m, true
}

func (m MAC) String() string { return net.HardwareAddr(m[:]).String() }

// Counts is a copy of one station's counters.
type Counts struct {
	Station MAC
	Packets uint64
	Bytes   uint64
}

// Event is emitted once per observation.
type Event struct {
	Station MAC
	Length  int
	// Rejected is set when the table was full and the station is not tracked.
	Rejected bool
}

// Table is a capacity-bounded counter table. When full, observations of
// new stations are rejected and counted; tracked stations keep updating.
// Table is safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	entries  map[MAC]*Counts
	capacity int

	rejected atomic.Uint64
	notify   func(Event)
}

// New returns a Table holding at most capacity stations. notify may be nil;
// when set it is called synchronously for each observation and must not
// block.
func New(capacity int, notify func(Event)) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Table{
		entries:  make(map[MAC]*Counts, capacity),
		capacity: capacity,
		notify:   notify,
	}
}

// Observe accounts one frame of length bytes sent by station. It reports
// whether the station is tracked.
func (t *Table) Observe(station MAC, length int) bool {
	t.mu.Lock()

	e, ok := t.entries[station]
	if !ok && len(t.entries) < t.capacity {
		e = &Counts{Station: station}
		t.entries[station] = e
		ok = true
	}

	if ok {
		e.Packets++
		e.Bytes += uint64(length)
	}

	t.mu.Unlock()

	if !ok {
		t.rejected.Add(1)
	}

	if t.notify != nil {
		t.notify(Event{Station: station, Length: length, Rejected: !ok})
	}

	return ok
}

// ObserveFrame accounts a raw Ethernet frame by its source address.
// Frames shorter than an Ethernet header are ignored.
func (t *Table) ObserveFrame(pkt []byte) {
	if len(pkt) < 14 {
		return
	}

	src, _ := MACFrom(pkt[6:12])
	t.Observe(src, len(pkt))
}

// Lookup returns a copy of the station's counters.
func (t *Table) Lookup(station MAC) (Counts, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[station]
	if !ok {
		return Counts{}, false
	}

	return *e, true
}

// Len returns the number of tracked stations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Rejected returns the number of observations dropped because the table was full.
func (t *Table) Rejected() uint64 { return t.rejected.Load() }

// Snapshot returns copies of all counters ordered by descending byte count.
func (t *Table) Snapshot() []Counts {
	t.mu.Lock()
	out := make([]Counts, 0, len(t.entries))

	for _, e := range t.entries {
		out = append(out, *e)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}

		return out[i].Station.String() < out[j].Station.String()
	})

	return out
}
