// Package gate throttles how often decoded samples reach storage.
package gate

import (
	"fmt"
	"strings"

	"dash0.com/sv-subscriber/internal/decoder"
)

// Mode selects the firing policy of a Gate.
type Mode int

const (
	// ModePeriodic fires once every threshold frames and re-arms.
	ModePeriodic Mode = iota
	// ModeOnce fires on the first frame only.
	ModeOnce
)

func (m Mode) String() string {
	switch m {
	case ModePeriodic:
		return "periodic"
	case ModeOnce:
		return "once"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "periodic":
		return ModePeriodic, nil
	case "once":
		return ModeOnce, nil
	default:
		return 0, fmt.Errorf("gate: unknown mode %q", s)
	}
}

// Gate decides per decoded batch whether to persist it.
//
// A Gate is owned by exactly one subscriber and must only be used from the
// receiver goroutine; it does no locking.
type Gate struct {
	threshold int
	mode      Mode

	// Single-goroutine owned fields
	count int
	fired bool
}

// New returns a Gate for the given cadence.
func New(threshold int, mode Mode) (*Gate, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("gate: threshold must be >= 1, got %d", threshold)
	}

	if mode != ModePeriodic && mode != ModeOnce {
		return nil, fmt.Errorf("gate: unknown mode %v", mode)
	}

	return &Gate{threshold: threshold, mode: mode}, nil
}

// ShouldWrite advances the counter for one batch and reports whether the
// batch must be written. Empty batches are ignored.
func (g *Gate) ShouldWrite(batch decoder.Batch) bool {
	if len(batch) == 0 {
		return false
	}

	if g.mode == ModeOnce {
		if g.fired {
			return false
		}

		g.fired = true

		return true
	}

	g.count++
	if g.count < g.threshold {
		return false
	}

	g.count = 0

	return true
}

// Threshold returns the configured cadence.
func (g *Gate) Threshold() int { return g.threshold }

// Pending returns the number of frames counted since the last write.
func (g *Gate) Pending() int { return g.count }
