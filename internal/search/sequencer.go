package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sequencer remembers the highest search sequence number seen per key so a
// finished search can tell whether a newer one has started since.
type Sequencer interface {
	// Advance records seq if it is higher than the stored value and reports
	// whether seq is now the newest.
	Advance(ctx context.Context, key string, seq int64) (bool, error)
	Latest(ctx context.Context, key string) (int64, error)
}

// advanceScript sets KEYS[1] to ARGV[1] only when it is greater than the
// stored value, refreshing the TTL in ARGV[2] seconds.
var advanceScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq > current then
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
	return 1
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 0
`)

type RedisSequencer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSequencer(client *redis.Client) *RedisSequencer {
	return &RedisSequencer{client: client, prefix: "search:seq:", ttl: 10 * time.Minute}
}

func (s *RedisSequencer) Advance(ctx context.Context, key string, seq int64) (bool, error) {
	res, err := advanceScript.Run(ctx, s.client, []string{s.prefix + key}, seq, int(s.ttl.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("advance search seq: %w", err)
	}
	return res == 1, nil
}

func (s *RedisSequencer) Latest(ctx context.Context, key string) (int64, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read search seq: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse search seq: %w", err)
	}
	return n, nil
}

// MemorySequencer is the single-process Sequencer used without Redis.
type MemorySequencer struct {
	mu     sync.Mutex
	latest map[string]int64
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{latest: make(map[string]int64)}
}

func (s *MemorySequencer) Advance(_ context.Context, key string, seq int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.latest[key] {
		s.latest[key] = seq
		return true, nil
	}
	return false, nil
}

func (s *MemorySequencer) Latest(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key], nil
}
