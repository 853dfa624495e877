package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/mebo/endian"
	"gopkg.in/yaml.v3"

	"dash0.com/sv-subscriber/internal/decoder"
	"dash0.com/sv-subscriber/internal/gate"
	"dash0.com/sv-subscriber/internal/sink"
)

// EnvConfigFile names the environment variable holding an optional YAML
// configuration path.
const EnvConfigFile = "SV_SUBSCRIBER_CONFIG"

// ErrUsage marks command-line errors. The process exits with status 2.
var ErrUsage = errors.New("usage: sv-subscriber [identity]")

// Field is one layout entry as written in configuration.
type Field struct {
	Offset int    `yaml:"offset"`
	Type   string `yaml:"type"`
}

// Store selects and parameterizes the storage sink.
type Store struct {
	Driver     string        `yaml:"driver"`
	DSN        string        `yaml:"dsn"`
	Table      string        `yaml:"table"`
	KeyColumn  string        `yaml:"key_column"`
	Prefix     string        `yaml:"prefix"`
	Topic      string        `yaml:"topic"`
	Format     string        `yaml:"format"`
	Timeout    time.Duration `yaml:"timeout"`
	Async      bool          `yaml:"async"`
	InitSchema bool          `yaml:"init_schema"`
}

// Config holds instance-level configuration for the subscriber. It is built
// once at startup and passed by value.
type Config struct {
	Identity    int64  `yaml:"identity"`
	InterfaceID string `yaml:"interface"`
	AppID       uint16 `yaml:"app_id"`
	DstMAC      string `yaml:"dst_mac"`

	Threshold int    `yaml:"threshold"`
	GateMode  string `yaml:"gate_mode"`

	Layout    []Field `yaml:"layout"`
	ByteOrder string  `yaml:"byte_order"`

	Store Store `yaml:"store"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
	LogLevel        string        `yaml:"log_level"`
	MonitorCapacity int           `yaml:"monitor_capacity"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		InterfaceID: "DPSHMI-eth0",
		AppID:       0x4000,
		Threshold:   100,
		GateMode:    gate.ModePeriodic.String(),
		Layout: []Field{
			{Offset: 0, Type: "float32"},
			{Offset: 4, Type: "float32"},
		},
		ByteOrder: "big",
		Store: Store{
			Driver:    sink.DriverSQLite,
			DSN:       "SGData.db",
			Table:     "SV",
			KeyColumn: "id",
			Prefix:    "sv:",
			Topic:     "sv.latest",
			Format:    "json",
			Timeout:   5 * time.Second,
		},
		PollInterval:    time.Second,
		GracefulTimeout: 10 * time.Second,
		LogLevel:        "info",
		MonitorCapacity: 256,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// SV_SUBSCRIBER_CONFIG, SV_* environment variables and finally the
// positional identity in args (without the program name). The result is
// validated.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if path := getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("sv-subscriber", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	switch fs.NArg() {
	case 0:
	case 1:
		id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: identity %q is not an integer", ErrUsage, fs.Arg(0))
		}
		cfg.Identity = id
	default:
		return Config{}, fmt.Errorf("%w: unexpected arguments %q", ErrUsage, fs.Args()[1:])
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	var errs []error

	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	if v := getenv("SV_IDENTITY"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: SV_IDENTITY: %w", err))
		} else {
			c.Identity = id
		}
	}

	if v := getenv("SV_APP_ID"); v != "" {
		id, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: SV_APP_ID: %w", err))
		} else {
			c.AppID = uint16(id)
		}
	}

	if v := getenv("SV_LAYOUT"); v != "" {
		fields, err := ParseLayout(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: SV_LAYOUT: %w", err))
		} else {
			c.Layout = fields
		}
	}

	str("SV_INTERFACE", &c.InterfaceID)
	str("SV_DST_MAC", &c.DstMAC)
	num("SV_THRESHOLD", &c.Threshold)
	str("SV_GATE_MODE", &c.GateMode)
	str("SV_BYTE_ORDER", &c.ByteOrder)
	str("SV_STORE_DRIVER", &c.Store.Driver)
	str("SV_STORE_DSN", &c.Store.DSN)
	str("SV_STORE_TABLE", &c.Store.Table)
	str("SV_STORE_KEY_COLUMN", &c.Store.KeyColumn)
	str("SV_STORE_PREFIX", &c.Store.Prefix)
	str("SV_STORE_TOPIC", &c.Store.Topic)
	str("SV_STORE_FORMAT", &c.Store.Format)
	dur("SV_STORE_TIMEOUT", &c.Store.Timeout)
	boolean("SV_STORE_ASYNC", &c.Store.Async)
	boolean("SV_STORE_INIT_SCHEMA", &c.Store.InitSchema)
	dur("SV_POLL_INTERVAL", &c.PollInterval)
	dur("SV_GRACEFUL_TIMEOUT", &c.GracefulTimeout)
	str("SV_LOG_LEVEL", &c.LogLevel)
	num("SV_MONITOR_CAPACITY", &c.MonitorCapacity)

	return errors.Join(errs...)
}

// ParseLayout reads a compact layout such as "float32@0,float32@4".
func ParseLayout(s string) ([]Field, error) {
	var fields []Field

	for _, part := range strings.Split(s, ",") {
		typ, off, ok := strings.Cut(strings.TrimSpace(part), "@")
		if !ok {
			return nil, fmt.Errorf("field %q: want type@offset", part)
		}

		n, err := strconv.Atoi(off)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", part, err)
		}

		fields = append(fields, Field{Offset: n, Type: typ})
	}

	return fields, nil
}

// Validate checks the configuration for values the subscriber cannot run
// with.
func (c Config) Validate() error {
	var errs []error

	if c.Threshold < 1 {
		errs = append(errs, fmt.Errorf("config: threshold must be >= 1, got %d", c.Threshold))
	}

	if _, err := gate.ParseMode(c.GateMode); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: poll interval must be positive, got %s", c.PollInterval))
	}

	if c.InterfaceID == "" {
		errs = append(errs, errors.New("config: interface is required"))
	}

	if _, err := c.DstHardwareAddr(); err != nil {
		errs = append(errs, err)
	}

	layout, err := c.DecoderLayout()
	if err != nil {
		errs = append(errs, err)
	}

	switch {
	case !sink.KnownDriver(c.Store.Driver):
		errs = append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	case sink.IsRowStore(c.Store.Driver):
		if !sink.ValidIdentifier(c.Store.Table) {
			errs = append(errs, fmt.Errorf("config: invalid table name %q", c.Store.Table))
		}
		if !sink.ValidIdentifier(c.Store.KeyColumn) {
			errs = append(errs, fmt.Errorf("config: invalid key column %q", c.Store.KeyColumn))
		}
		if err == nil && len(layout.Fields) < 2 {
			errs = append(errs, fmt.Errorf("config: store %q needs a layout with at least 2 fields", c.Store.Driver))
		}
	}

	if _, lerr := ParseLogLevel(c.LogLevel); lerr != nil {
		errs = append(errs, lerr)
	}

	return errors.Join(errs...)
}

// DecoderLayout converts the configured fields and byte order.
func (c Config) DecoderLayout() (decoder.Layout, error) {
	var l decoder.Layout

	switch strings.ToLower(c.ByteOrder) {
	case "", "big":
		l.Order = endian.GetBigEndianEngine()
	case "little":
		l.Order = endian.GetLittleEndianEngine()
	default:
		return decoder.Layout{}, fmt.Errorf("config: unknown byte order %q", c.ByteOrder)
	}

	for _, f := range c.Layout {
		t, err := decoder.ParseType(f.Type)
		if err != nil {
			return decoder.Layout{}, fmt.Errorf("config: %w", err)
		}
		l.Fields = append(l.Fields, decoder.Field{Offset: f.Offset, Type: t})
	}

	if err := l.Validate(); err != nil {
		return decoder.Layout{}, fmt.Errorf("config: %w", err)
	}

	return l, nil
}

// Mode returns the parsed gate mode.
func (c Config) Mode() gate.Mode {
	m, _ := gate.ParseMode(c.GateMode)
	return m
}

// DstHardwareAddr parses the optional destination MAC filter.
func (c Config) DstHardwareAddr() (net.HardwareAddr, error) {
	if c.DstMAC == "" {
		return nil, nil
	}

	mac, err := net.ParseMAC(c.DstMAC)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("config: invalid destination MAC %q", c.DstMAC)
	}

	return mac, nil
}

// SinkOptions maps the store section to sink.Open options.
func (c Config) SinkOptions() sink.Options {
	return sink.Options{
		Driver:  c.Store.Driver,
		DSN:     c.Store.DSN,
		Table:   c.Store.Table,
		Key:     c.Store.KeyColumn,
		Prefix:  c.Store.Prefix,
		Topic:   c.Store.Topic,
		Format:  c.Store.Format,
		Timeout: c.Store.Timeout,
	}
}

// ParseLogLevel maps debug|info|warn|error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
}
