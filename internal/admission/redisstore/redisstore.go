// Package redisstore backs the admission store with Redis so that
// horizontally scaled gates share one set of counters. Window logs are
// sorted sets scored by timestamp; blocks are plain keys with a TTL.
//
// Cross-instance decisions are not linearized: two gates racing on the
// same client can each admit one request past the limit. That is the
// same tradeoff the in-memory store makes per instance, just narrower.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockpulse/gate/internal/admission"
	"github.com/stockpulse/gate/internal/tier"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Store struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
	seq       atomic.Uint64
}

var _ admission.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "gate"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{rdb: rdb, prefix: cfg.Prefix, retention: admission.SustainedWindow}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) winKey(client string, t tier.Tier) string {
	return s.prefix + ":win:" + client + ":" + t.String()
}

func (s *Store) blockKey(client string) string {
	return s.prefix + ":block:" + client
}

func (s *Store) IsBlocked(ctx context.Context, client string, now time.Time) (bool, time.Time, error) {
	ttl, err := s.rdb.PTTL(ctx, s.blockKey(client)).Result()
	if err != nil {
		return false, time.Time{}, err
	}
	if ttl <= 0 {
		// -2 key missing, -1 no expiry (never written by us)
		return false, time.Time{}, nil
	}
	return true, now.Add(ttl), nil
}

func (s *Store) Block(ctx context.Context, client string, until, now time.Time) error {
	key := s.blockKey(client)
	d := until.Sub(now)
	if d <= 0 {
		return nil
	}
	// extend-only: keep the longer of the existing and requested TTL
	cur, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return err
	}
	if cur >= d {
		return nil
	}
	return s.rdb.Set(ctx, key, "1", d).Err()
}

func (s *Store) Count(ctx context.Context, client string, t tier.Tier, since, now time.Time) (int, time.Time, error) {
	key := s.winKey(client, t)
	lo := strconv.FormatInt(since.UnixNano(), 10)

	pipe := s.rdb.Pipeline()
	// exclusive bound: an entry exactly at the retention edge still counts
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(now.Add(-s.retention).UnixNano(), 10))
	count := pipe.ZCount(ctx, key, lo, "+inf")
	oldest := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: lo, Max: "+inf", Count: 1})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	n := int(count.Val())
	var at time.Time
	if zs := oldest.Val(); len(zs) > 0 {
		at = time.Unix(0, int64(zs[0].Score))
	}
	return n, at, nil
}

func (s *Store) Record(ctx context.Context, client string, t tier.Tier, now time.Time) error {
	key := s.winKey(client, t)
	// member must be unique even for same-nanosecond requests
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + strconv.FormatUint(s.seq.Add(1), 10)

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, s.retention)
	_, err := pipe.Exec(ctx)
	return err
}
