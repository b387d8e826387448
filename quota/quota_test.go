package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProcedure struct {
	outcome *Outcome
	err     error
	calls   int
}

func (s *stubProcedure) CheckAndIncrement(ctx context.Context, p Params) (*Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

func newTestLedger(t *testing.T, proc Procedure) *Ledger {
	t.Helper()
	l, err := NewLedger(LedgerOptions{Procedure: proc, Logger: zap.NewNop()})
	require.NoError(t, err)
	return l
}

func TestNewLedgerValidation(t *testing.T) {
	_, err := NewLedger(LedgerOptions{Logger: zap.NewNop()})
	assert.Error(t, err)
	_, err = NewLedger(LedgerOptions{Procedure: &stubProcedure{}})
	assert.Error(t, err)
}

func TestLedgerFailsSecure(t *testing.T) {
	cases := map[string]*stubProcedure{
		"store error": {err: errors.New("connection refused")},
		"no outcome":  {},
		"unexpected":  {err: ErrUnexpectedResult},
	}
	for name, proc := range cases {
		t.Run(name, func(t *testing.T) {
			res := newTestLedger(t, proc).CheckAndIncrement(context.Background(), "u1", "pmle", 5)
			assert.False(t, res.Allowed)
			assert.Equal(t, ErrFreeQuotaExceeded, res.Error)
			assert.Nil(t, res.Usage)
		})
	}
}

func TestLedgerRejectsInvalidArguments(t *testing.T) {
	proc := &stubProcedure{outcome: &Outcome{Allowed: true}}
	l := newTestLedger(t, proc)
	ctx := context.Background()

	assert.False(t, l.CheckAndIncrement(ctx, "", "pmle", 1).Allowed)
	assert.False(t, l.CheckAndIncrement(ctx, "u1", "", 1).Allowed)
	assert.False(t, l.CheckAndIncrement(ctx, "u1", "pmle", -3).Allowed)
	assert.Equal(t, 0, proc.calls)
}

func TestLedgerPassesPolicy(t *testing.T) {
	var got Params
	proc := procedureFunc(func(ctx context.Context, p Params) (*Outcome, error) {
		got = p
		return &Outcome{Allowed: true, Usage: Usage{SessionsStarted: 1, QuestionsServed: 3, WeekStart: "2026-10-12"}}, nil
	})
	res := newTestLedger(t, proc).CheckAndIncrement(context.Background(), "u1", "pmle", 3)

	require.True(t, res.Allowed)
	assert.Empty(t, res.Error)
	assert.Equal(t, Params{UserID: "u1", Exam: "pmle", QuestionsCount: 3, MaxSessions: 1, MaxQuestions: 5}, got)
	assert.Equal(t, &Usage{SessionsStarted: 1, QuestionsServed: 3, WeekStart: "2026-10-12"}, res.Usage)
}

type procedureFunc func(ctx context.Context, p Params) (*Outcome, error)

func (f procedureFunc) CheckAndIncrement(ctx context.Context, p Params) (*Outcome, error) {
	return f(ctx, p)
}

func TestWeekStart(t *testing.T) {
	cases := map[string]struct {
		at   time.Time
		want string
	}{
		"monday midnight": {time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), "2026-10-12"},
		"saturday":        {time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC), "2026-10-12"},
		"sunday late":     {time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC), "2026-10-12"},
		"next monday":     {time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), "2026-10-19"},
		"across year":     {time.Date(2027, 1, 1, 8, 0, 0, 0, time.UTC), "2026-12-28"},
		"offset zone":     {time.Date(2026, 10, 19, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600)), "2026-10-12"},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, WeekStart(tc.at).Format("2006-01-02"), name)
	}
}

// exercises the full policy against any Procedure
func testProcedureSequence(t *testing.T, proc Procedure) {
	l := newTestLedger(t, proc)
	ctx := context.Background()

	first := l.CheckAndIncrement(ctx, "u1", "pmle", 5)
	require.True(t, first.Allowed)
	assert.Equal(t, 1, first.Usage.SessionsStarted)
	assert.Equal(t, 5, first.Usage.QuestionsServed)

	// denials leave the counters untouched
	for i := 0; i < 3; i++ {
		second := l.CheckAndIncrement(ctx, "u1", "pmle", 1)
		assert.False(t, second.Allowed)
		assert.Equal(t, ErrFreeQuotaExceeded, second.Error)
		require.NotNil(t, second.Usage)
		assert.Equal(t, 1, second.Usage.SessionsStarted)
		assert.Equal(t, 5, second.Usage.QuestionsServed)
	}

	// other exams and other users have their own allowance
	assert.True(t, l.CheckAndIncrement(ctx, "u1", "gcp-ace", 2).Allowed)
	assert.True(t, l.CheckAndIncrement(ctx, "u2", "pmle", 2).Allowed)
}

func testProcedureOversizedRequest(t *testing.T, proc Procedure) {
	l := newTestLedger(t, proc)
	ctx := context.Background()

	res := l.CheckAndIncrement(ctx, "u3", "pmle", 6)
	assert.False(t, res.Allowed)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 0, res.Usage.SessionsStarted)

	// the denial did not consume the session
	assert.True(t, l.CheckAndIncrement(ctx, "u3", "pmle", 5).Allowed)
}

func testProcedureConcurrency(t *testing.T, proc Procedure) {
	l := newTestLedger(t, proc)
	const workers = 20

	var allowed int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.CheckAndIncrement(context.Background(), "racer", "pmle", 5).Allowed {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), allowed)
}

func TestMemoryProcedure(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	t.Run("sequence", func(t *testing.T) { testProcedureSequence(t, NewMemoryProcedure(now)) })
	t.Run("oversized", func(t *testing.T) { testProcedureOversizedRequest(t, NewMemoryProcedure(now)) })
	t.Run("concurrency", func(t *testing.T) { testProcedureConcurrency(t, NewMemoryProcedure(now)) })
}

func TestMemoryProcedureWeekRollover(t *testing.T) {
	current := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	l := newTestLedger(t, NewMemoryProcedure(func() time.Time { return current }))
	ctx := context.Background()

	res := l.CheckAndIncrement(ctx, "u1", "pmle", 5)
	require.True(t, res.Allowed)
	assert.Equal(t, "2026-10-12", res.Usage.WeekStart)
	assert.False(t, l.CheckAndIncrement(ctx, "u1", "pmle", 1).Allowed)

	current = current.Add(2 * time.Hour)
	res = l.CheckAndIncrement(ctx, "u1", "pmle", 1)
	require.True(t, res.Allowed)
	assert.Equal(t, "2026-10-19", res.Usage.WeekStart)
	assert.Equal(t, 1, res.Usage.QuestionsServed)
}

func TestMemoryProcedureCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestLedger(t, NewMemoryProcedure(nil)).CheckAndIncrement(ctx, "u1", "pmle", 1)
	assert.False(t, res.Allowed)
}
