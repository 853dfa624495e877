package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverKafka    = "kafka"
	DriverMQTT     = "mqtt"
	DriverFile     = "file"
)

var drivers = []string{DriverSQLite, DriverPostgres, DriverRedis, DriverKafka, DriverMQTT, DriverFile}

// KnownDriver reports whether name selects a sink implementation.
func KnownDriver(name string) bool { return slices.Contains(drivers, name) }

// IsRowStore reports whether the driver updates a pre-existing row and
// therefore needs data0 and data1.
func IsRowStore(name string) bool { return name == DriverSQLite || name == DriverPostgres }

// Options selects and parameterizes a sink.
type Options struct {
	Driver string
	// DSN is the file path for sqlite and file, a connection string for
	// postgres, a redis:// URL for redis, a comma-separated broker list for
	// kafka and a broker URL for mqtt. "-" or empty selects stdout for file.
	DSN     string
	Table   string
	Key     string
	Prefix  string
	Topic   string
	Format  string
	Timeout time.Duration
}

// Open builds the sink named by opts.Driver.
func Open(opts Options) (Sink, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLite(opts.DSN, opts.Table, opts.Key)
	case DriverPostgres:
		return NewPostgres(opts.DSN, opts.Table, opts.Key)
	case DriverRedis:
		return NewRedis(opts.DSN, opts.Prefix)
	case DriverKafka:
		return NewKafka(splitBrokers(opts.DSN), opts.Topic, opts.Timeout)
	case DriverMQTT:
		return NewMQTT(opts.DSN, opts.Prefix, opts.Timeout)
	case DriverFile:
		if opts.DSN == "" || opts.DSN == "-" {
			return NewStreamSink(os.Stdout, opts.Format)
		}
		return NewFileSink(opts.DSN, opts.Format)
	default:
		return nil, fmt.Errorf("sink: unknown driver %q", opts.Driver)
	}
}

func splitBrokers(dsn string) []string {
	var out []string
	for _, b := range strings.Split(dsn, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// FileSink appends encoded records to a file, opening it per call.
type FileSink struct {
	path   string
	format string
}

// NewFileSink returns a sink appending to path in the given stream format.
func NewFileSink(path, format string) (*FileSink, error) {
	if _, err := NewStreamSink(nil, format); err != nil {
		return nil, err
	}

	if format == "" {
		format = "json"
	}

	return &FileSink{path: path, format: format}, nil
}

// Persist appends r to the file.
func (s *FileSink) Persist(ctx context.Context, r Record) (err error) {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	return (&StreamSink{w: f, format: s.format}).Persist(ctx, r)
}
