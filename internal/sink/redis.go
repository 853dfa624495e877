package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisSink stores each identity's latest record in a hash at
// <prefix><identity>. A client is created and closed per call.
type RedisSink struct {
	opts   *redis.Options
	prefix string
}

// NewRedis parses a redis:// URL.
func NewRedis(url, prefix string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis sink: %w", err)
	}

	return &RedisSink{opts: opts, prefix: prefix}, nil
}

// Key returns the hash key for identity.
func (s *RedisSink) Key(identity int64) string {
	return s.prefix + strconv.FormatInt(identity, 10)
}

// Persist writes data0, data1 and the frame metadata into the hash.
func (s *RedisSink) Persist(ctx context.Context, r Record) (err error) {
	client := redis.NewClient(s.opts)
	defer func() { err = errors.Join(err, client.Close()) }()

	if err := client.HSet(ctx, s.Key(r.Identity),
		"data0", r.Data0,
		"data1", r.Data1,
		"smp_cnt", r.SmpCnt,
		"conf_rev", r.ConfRev,
		"at", r.At,
	).Err(); err != nil {
		return fmt.Errorf("redis sink: hset %s: %w", s.Key(r.Identity), err)
	}

	return nil
}
