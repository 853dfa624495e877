package sink

import (
	"context"
	"errors"
	"regexp"
)

//go:generate mockgen -source=sink.go -destination=./mocks/mock_sink.go -package=mocks

// ErrNoRecord is returned by row stores when no row matches the identity.
var ErrNoRecord = errors.New("sink: no record for identity")

// Record is the latest gated sample pair of one subscriber.
type Record struct {
	Identity int64     `json:"identity"`
	Data0    float64   `json:"data0"`
	Data1    float64   `json:"data1"`
	Samples  []float64 `json:"samples,omitempty"`
	SvID     string    `json:"sv_id,omitempty"`
	SmpCnt   uint16    `json:"smp_cnt"`
	ConfRev  uint32    `json:"conf_rev"`
	At       int64     `json:"at"`
}

// Sink persists records. Row-store implementations acquire and release
// their connection within each call.
type Sink interface {
	Persist(ctx context.Context, r Record) error
}

// SchemaInitializer is implemented by sinks that can create their table and
// seed the row for an identity.
type SchemaInitializer interface {
	InitSchema(ctx context.Context, identity int64) error
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s can be used as a quoted SQL table name.
func ValidIdentifier(s string) bool { return identRe.MatchString(s) }

func quoteIdent(s string) string { return `"` + s + `"` }
