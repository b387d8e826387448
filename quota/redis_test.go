package quota

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisProcedure, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	proc, err := NewRedisProcedure(RedisOptions{Client: client})
	require.NoError(t, err)
	return proc, mr
}

func TestNewRedisProcedureValidation(t *testing.T) {
	_, err := NewRedisProcedure(RedisOptions{})
	assert.Error(t, err)
}

func TestRedisProcedure(t *testing.T) {
	t.Run("sequence", func(t *testing.T) {
		proc, _ := newTestRedis(t)
		testProcedureSequence(t, proc)
	})
	t.Run("oversized", func(t *testing.T) {
		proc, _ := newTestRedis(t)
		testProcedureOversizedRequest(t, proc)
	})
	t.Run("concurrency", func(t *testing.T) {
		proc, _ := newTestRedis(t)
		testProcedureConcurrency(t, proc)
	})
}

func TestRedisProcedureWeekFromServerClock(t *testing.T) {
	proc, mr := newTestRedis(t)
	l := newTestLedger(t, proc)
	ctx := context.Background()

	res := l.CheckAndIncrement(ctx, "u1", "pmle", 4)
	require.True(t, res.Allowed)
	assert.Equal(t, "2026-10-12", res.Usage.WeekStart)

	key := "quota:{u1}:pmle:" + itoaDays(time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC))
	require.True(t, mr.Exists(key))
	assert.Equal(t, "1", mr.HGet(key, "sessions_started"))
	assert.Equal(t, "4", mr.HGet(key, "questions_served"))
	assert.Equal(t, redisCounterTTL, mr.TTL(key))

	assert.False(t, l.CheckAndIncrement(ctx, "u1", "pmle", 1).Allowed)

	mr.SetTime(time.Date(2026, 10, 19, 0, 0, 1, 0, time.UTC))
	res = l.CheckAndIncrement(ctx, "u1", "pmle", 1)
	require.True(t, res.Allowed)
	assert.Equal(t, "2026-10-19", res.Usage.WeekStart)
	assert.Equal(t, 1, res.Usage.QuestionsServed)
}

func TestRedisProcedureUnreachable(t *testing.T) {
	proc, mr := newTestRedis(t)
	mr.Close()

	res := newTestLedger(t, proc).CheckAndIncrement(context.Background(), "u1", "pmle", 1)
	assert.False(t, res.Allowed)
	assert.Equal(t, ErrFreeQuotaExceeded, res.Error)
}

func itoaDays(t time.Time) string {
	return strconv.FormatInt(t.Unix()/86400, 10)
}
