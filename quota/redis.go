package quota

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// The script runs atomically on the Redis server. The week is derived from the server clock:
// day 0 of the Unix epoch is a Thursday, so Monday-based weeks start at day - (day + 3) % 7.
// Counters live in one hash per user, exam and week and expire after the week is over.
var checkAndIncrementScript = redis.NewScript(`
local now = redis.call('TIME')
local day = math.floor(tonumber(now[1]) / 86400)
local week = day - ((day + 3) % 7)
local key = KEYS[1] .. ':' .. week

local max_sessions = tonumber(ARGV[1])
local max_questions = tonumber(ARGV[2])
local count = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local current = redis.call('HMGET', key, 'sessions_started', 'questions_served')
local sessions = tonumber(current[1]) or 0
local questions = tonumber(current[2]) or 0

if sessions + 1 > max_sessions or questions + count > max_questions then
  return {0, sessions, questions, week}
end

sessions = redis.call('HINCRBY', key, 'sessions_started', 1)
questions = redis.call('HINCRBY', key, 'questions_served', count)
redis.call('EXPIRE', key, ttl)
return {1, sessions, questions, week}
`)

// counters outlive their week by a day so late readers still see them
const redisCounterTTL = 8 * 24 * time.Hour

// RedisOptions configures RedisProcedure
type RedisOptions struct {
	Client redis.UniversalClient
	Prefix string
}

// RedisProcedure runs the check-and-increment as a single Lua script
type RedisProcedure struct {
	RedisOptions
}

var _ Procedure = &RedisProcedure{}

// NewRedisProcedure returns a RedisProcedure
func NewRedisProcedure(option RedisOptions) (*RedisProcedure, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if len(option.Prefix) == 0 {
		option.Prefix = "quota:"
	}
	return &RedisProcedure{
		RedisOptions: option,
	}, nil
}

func (r *RedisProcedure) key(p Params) string {
	// hash tag keeps every week of a user on the same cluster slot
	return r.Prefix + "{" + p.UserID + "}:" + p.Exam
}

// CheckAndIncrement implements Procedure
func (r *RedisProcedure) CheckAndIncrement(ctx context.Context, p Params) (*Outcome, error) {
	values, err := checkAndIncrementScript.Run(ctx, r.Client,
		[]string{r.key(p)},
		p.MaxSessions,
		p.MaxQuestions,
		p.QuestionsCount,
		int64(redisCounterTTL/time.Second),
	).Int64Slice()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot run quota script")
	}
	if len(values) != 4 {
		return nil, ErrUnexpectedResult
	}
	week := time.Unix(values[3]*86400, 0).UTC()
	return &Outcome{
		Allowed: values[0] == 1,
		Usage: Usage{
			SessionsStarted: int(values[1]),
			QuestionsServed: int(values[2]),
			WeekStart:       week.Format("2006-01-02"),
		},
	}, nil
}
