package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
)

// adjustMood applies a delta and clamps server side, so concurrent sessions of
// the same user cannot push the counter out of range.
var adjustMood = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1])) or 0
local updated = current + tonumber(ARGV[1])
if updated < tonumber(ARGV[2]) then updated = tonumber(ARGV[2]) end
if updated > tonumber(ARGV[3]) then updated = tonumber(ARGV[3]) end
redis.call('SET', KEYS[1], updated, 'EX', ARGV[4])
return updated
`)

// RedisStore implements Store on Redis using the chat:* key layout.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects using a redis:// URL and verifies the connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	s := NewRedisStoreFromClient(redis.NewClient(opts))
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (s *RedisStore) History(ctx context.Context, userID string, limit int) ([]chat.Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, historyKey(userID), start, -1).Result()
	if err != nil {
		return nil, unavailable("lrange history", err)
	}

	turns := make([]chat.Turn, 0, len(raw))
	for _, item := range raw {
		var turn chat.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// 损坏的条目直接跳过，不影响其余历史。
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, userID string, turn chat.Turn, maxRetained int) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	key := historyKey(userID)
	keep := int64(retainLimit(maxRetained))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, -keep, -1)
		pipe.Expire(ctx, key, HistoryTTL)
		return nil
	})
	if err != nil {
		return unavailable("append history", err)
	}
	return nil
}

func (s *RedisStore) ClearHistory(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, historyKey(userID)).Err(); err != nil {
		return unavailable("clear history", err)
	}
	return nil
}

func (s *RedisStore) Mood(ctx context.Context, userID string) (int, error) {
	raw, err := s.client.Get(ctx, moodKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return MinMood, nil
	}
	if err != nil {
		return MinMood, unavailable("get mood", err)
	}

	level, err := strconv.Atoi(raw)
	if err != nil {
		return MinMood, nil
	}
	return ClampMood(level), nil
}

func (s *RedisStore) SetMood(ctx context.Context, userID string, level int) (int, error) {
	level = ClampMood(level)
	if err := s.client.Set(ctx, moodKey(userID), level, MoodTTL).Err(); err != nil {
		return level, unavailable("set mood", err)
	}
	return level, nil
}

func (s *RedisStore) IncrementMood(ctx context.Context, userID string) (int, error) {
	return s.adjust(ctx, userID, 1)
}

func (s *RedisStore) DecrementMood(ctx context.Context, userID string) (int, error) {
	return s.adjust(ctx, userID, -1)
}

func (s *RedisStore) adjust(ctx context.Context, userID string, delta int) (int, error) {
	ttl := int64(MoodTTL.Seconds())
	level, err := adjustMood.Run(ctx, s.client, []string{moodKey(userID)}, delta, MinMood, MaxMood, ttl).Int()
	if err != nil {
		return MinMood, unavailable("adjust mood", err)
	}
	return ClampMood(level), nil
}

func (s *RedisStore) SessionPrefs(ctx context.Context, userID string) (chat.Prefs, error) {
	raw, err := s.client.Get(ctx, prefsKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.DefaultPrefs(), nil
	}
	if err != nil {
		return chat.DefaultPrefs(), unavailable("get prefs", err)
	}

	prefs := chat.DefaultPrefs()
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return chat.DefaultPrefs(), nil
	}
	return prefs, nil
}

func (s *RedisStore) SetSessionPrefs(ctx context.Context, userID string, prefs chat.Prefs) error {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	if err := s.client.Set(ctx, prefsKey(userID), payload, PrefsTTL).Err(); err != nil {
		return unavailable("set prefs", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
