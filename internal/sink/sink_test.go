package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{Identity: 7, Data0: 1.5, Data1: -2.25, SvID: "MU01", SmpCnt: 100, ConfRev: 1, At: 1700000000}
}

func TestStreamSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewStreamSink(&buf, "json")
	require.NoError(t, err)

	require.NoError(t, s.Persist(context.Background(), sampleRecord()))
	require.NoError(t, s.Persist(context.Background(), Record{Identity: 7, Data0: 3}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var got Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, sampleRecord(), got)
}

func TestStreamSink_CBOR(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewStreamSink(&buf, "cbor")
	require.NoError(t, err)

	require.NoError(t, s.Persist(context.Background(), sampleRecord()))

	var got Record
	require.NoError(t, cbor.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, sampleRecord(), got)
}

func TestStreamSink_UnknownFormat(t *testing.T) {
	_, err := NewStreamSink(&bytes.Buffer{}, "xml")
	require.Error(t, err)
}

func TestFileSink_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")

	s, err := Open(Options{Driver: DriverFile, DSN: path})
	require.NoError(t, err)

	require.NoError(t, s.Persist(context.Background(), sampleRecord()))
	require.NoError(t, s.Persist(context.Background(), sampleRecord()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestOpen_Drivers(t *testing.T) {
	cases := []struct {
		opts    Options
		want    any
		wantErr bool
	}{
		{opts: Options{Driver: DriverSQLite, DSN: "sv.db", Table: "SV", Key: "id"}, want: &SQLiteSink{}},
		{opts: Options{Driver: "", DSN: "sv.db", Table: "SV", Key: "id"}, want: &SQLiteSink{}},
		{opts: Options{Driver: DriverPostgres, DSN: "postgres://localhost/sv", Table: "SV", Key: "id"}, want: &PostgresSink{}},
		{opts: Options{Driver: DriverRedis, DSN: "redis://localhost:6379/0", Prefix: "sv:"}, want: &RedisSink{}},
		{opts: Options{Driver: DriverKafka, DSN: "a:9092, b:9092", Topic: "sv"}, want: &KafkaSink{}},
		{opts: Options{Driver: DriverMQTT, DSN: "tcp://localhost:1883", Prefix: "sv/"}, want: &MQTTSink{}},
		{opts: Options{Driver: DriverFile, DSN: "-"}, want: &StreamSink{}},
		{opts: Options{Driver: DriverFile, DSN: "out.cbor", Format: "cbor"}, want: &FileSink{}},
		{opts: Options{Driver: "oracle"}, wantErr: true},
		{opts: Options{Driver: DriverSQLite, DSN: "sv.db", Table: `SV"; DROP`, Key: "id"}, wantErr: true},
		{opts: Options{Driver: DriverPostgres, DSN: "postgres://x", Table: "SV", Key: "1id"}, wantErr: true},
		{opts: Options{Driver: DriverRedis, DSN: "http://nope"}, wantErr: true},
		{opts: Options{Driver: DriverKafka, DSN: " , ", Topic: "sv"}, wantErr: true},
		{opts: Options{Driver: DriverFile, DSN: "out", Format: "xml"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.opts.Driver+"/"+tc.opts.DSN, func(t *testing.T) {
			s, err := Open(tc.opts)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.want, s)
		})
	}
}

func TestKafkaSink_SplitsBrokers(t *testing.T) {
	s, err := Open(Options{Driver: DriverKafka, DSN: "a:9092, b:9092,", Topic: "sv"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, s.(*KafkaSink).brokers)
}

func TestValidIdentifier(t *testing.T) {
	for _, ok := range []string{"SV", "sv_values", "_x", "id"} {
		assert.True(t, ValidIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "1SV", "SV;", `S"V`, "a b", strings.Repeat("a", 64)} {
		assert.False(t, ValidIdentifier(bad), bad)
	}
}

func TestKnownDriver(t *testing.T) {
	assert.True(t, KnownDriver("sqlite"))
	assert.True(t, KnownDriver("file"))
	assert.False(t, KnownDriver("mysql"))
	assert.True(t, IsRowStore("postgres"))
	assert.False(t, IsRowStore("redis"))
}
