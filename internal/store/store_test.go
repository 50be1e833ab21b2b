package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
	"github.com/zhouzirui/xiaoyue/backend/internal/store"
)

type backend struct {
	name    string
	open    func(t *testing.T) store.Store
	advance func(t *testing.T, d time.Duration)
}

func backends() []backend {
	var (
		clockMu sync.Mutex
		now     = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		mr      *miniredis.Miniredis
	)
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T) store.Store {
				return store.NewMemoryStore(store.WithClock(func() time.Time {
					clockMu.Lock()
					defer clockMu.Unlock()
					return now
				}))
			},
			advance: func(_ *testing.T, d time.Duration) {
				clockMu.Lock()
				now = now.Add(d)
				clockMu.Unlock()
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) store.Store {
				mr = miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				s := store.NewRedisStoreFromClient(client)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
			advance: func(_ *testing.T, d time.Duration) {
				mr.FastForward(d)
			},
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend, s store.Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b, b.open(t))
		})
	}
}

func turn(i int) chat.Turn {
	return chat.UserTurn(fmt.Sprintf("msg-%d", i), time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC))
}

func TestHistoryTrimKeepsNewestInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, s store.Store) {
		ctx := context.Background()
		for i := 1; i <= 25; i++ {
			require.NoError(t, s.AppendHistory(ctx, "u1", turn(i), 20))
		}

		got, err := s.History(ctx, "u1", 100)
		require.NoError(t, err)
		require.Len(t, got, 20)
		for i, tr := range got {
			assert.Equal(t, fmt.Sprintf("msg-%d", i+6), tr.Content)
		}
	})
}

func TestHistoryLimitReturnsMostRecent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, s store.Store) {
		ctx := context.Background()
		for i := 1; i <= 5; i++ {
			require.NoError(t, s.AppendHistory(ctx, "u1", turn(i), 100))
		}

		got, err := s.History(ctx, "u1", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "msg-4", got[0].Content)
		assert.Equal(t, "msg-5", got[1].Content)

		empty, err := s.History(ctx, "nobody", 20)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestHistoryClearAndExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.AppendHistory(ctx, "u1", turn(1), 100))
		require.NoError(t, s.ClearHistory(ctx, "u1"))
		got, err := s.History(ctx, "u1", 20)
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, s.AppendHistory(ctx, "u2", turn(1), 100))
		b.advance(t, store.HistoryTTL-time.Hour)
		require.NoError(t, s.AppendHistory(ctx, "u2", turn(2), 100))
		b.advance(t, 2*time.Hour)
		got, err = s.History(ctx, "u2", 20)
		require.NoError(t, err)
		assert.Len(t, got, 2, "append refreshes the expiry")

		b.advance(t, store.HistoryTTL+time.Hour)
		got, err = s.History(ctx, "u2", 20)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMoodAlwaysClamped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, s store.Store) {
		ctx := context.Background()

		level, err := s.Mood(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, level)

		ops := []struct {
			op   func() (int, error)
			want int
		}{
			{func() (int, error) { return s.DecrementMood(ctx, "u1") }, 0},
			{func() (int, error) { return s.IncrementMood(ctx, "u1") }, 1},
			{func() (int, error) { return s.IncrementMood(ctx, "u1") }, 2},
			{func() (int, error) { return s.IncrementMood(ctx, "u1") }, 3},
			{func() (int, error) { return s.IncrementMood(ctx, "u1") }, 3},
			{func() (int, error) { return s.SetMood(ctx, "u1", 99) }, 3},
			{func() (int, error) { return s.SetMood(ctx, "u1", -7) }, 0},
			{func() (int, error) { return s.SetMood(ctx, "u1", 2) }, 2},
			{func() (int, error) { return s.DecrementMood(ctx, "u1") }, 1},
		}
		for i, o := range ops {
			got, err := o.op()
			require.NoError(t, err)
			assert.Equal(t, o.want, got, "op %d", i)

			stored, err := s.Mood(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, o.want, stored, "stored after op %d", i)
		}
	})
}

func TestMoodConcurrentIncrementsStayInRange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, s store.Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%3 == 0 {
					_, _ = s.DecrementMood(ctx, "u1")
					return
				}
				_, _ = s.IncrementMood(ctx, "u1")
			}(i)
		}
		wg.Wait()

		level, err := s.Mood(ctx, "u1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, level, store.MinMood)
		assert.LessOrEqual(t, level, store.MaxMood)
	})
}

func TestMoodExpires(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, s store.Store) {
		ctx := context.Background()
		_, err := s.SetMood(ctx, "u1", 3)
		require.NoError(t, err)

		b.advance(t, store.MoodTTL+time.Minute)
		level, err := s.Mood(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, level)
	})
}

func TestSessionPrefsDefaultAndRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ backend, s store.Store) {
		ctx := context.Background()

		prefs, err := s.SessionPrefs(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, chat.DefaultPrefs(), prefs)

		want := chat.Prefs{UserRole: "Đệ đệ", AgentRole: "Tỷ tỷ ác ma", MoodLevel: 0, PreferredVoice: "zh-CN-YunxiNeural"}
		require.NoError(t, s.SetSessionPrefs(ctx, "u1", want))

		got, err := s.SessionPrefs(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestRedisStoreKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	s := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, "42", turn(1), 100))
	_, err := s.SetMood(ctx, "42", 2)
	require.NoError(t, err)
	require.NoError(t, s.SetSessionPrefs(ctx, "42", chat.DefaultPrefs()))

	assert.True(t, mr.Exists("chat:history:42"))
	assert.True(t, mr.Exists("chat:sulking:42"))
	assert.True(t, mr.Exists("chat:state:42"))
	assert.Equal(t, store.MoodTTL, mr.TTL("chat:sulking:42"))
	assert.Equal(t, store.PrefsTTL, mr.TTL("chat:state:42"))

	mood, err := mr.Get("chat:sulking:42")
	require.NoError(t, err)
	assert.Equal(t, "2", mood)
}

func TestRedisStoreToleratesCorruptValues(t *testing.T) {
	mr := miniredis.RunT(t)
	s := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, mr.Set("chat:sulking:u1", "lots"))
	require.NoError(t, mr.Set("chat:state:u1", "{broken"))
	_, err := mr.RPush("chat:history:u1", "not json")
	require.NoError(t, err)
	require.NoError(t, s.AppendHistory(ctx, "u1", turn(1), 100))

	level, err := s.Mood(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, level)

	prefs, err := s.SessionPrefs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, chat.DefaultPrefs(), prefs)

	got, err := s.History(ctx, "u1", 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "msg-1", got[0].Content)

	level, err = s.IncrementMood(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, level)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()

	ctx := context.Background()
	_, err := s.Mood(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), store.ErrUnavailable)
	assert.ErrorIs(t, s.AppendHistory(ctx, "u1", turn(1), 10), store.ErrUnavailable)
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := store.NewRedisStore(context.Background(), "://nope")
	require.Error(t, err)
}
