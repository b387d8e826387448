package quota

import (
	"context"
	"sync"
	"time"
)

// WeekStart returns Monday 00:00 UTC of the ISO week containing t
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
}

type memoryKey struct {
	userID string
	exam   string
	week   string
}

// MemoryProcedure keeps counters in process memory. It is used for development and tests.
type MemoryProcedure struct {
	mu       sync.Mutex
	counters map[memoryKey]*Usage
	now      func() time.Time
}

var _ Procedure = &MemoryProcedure{}

// NewMemoryProcedure returns an empty MemoryProcedure. A nil now uses time.Now.
func NewMemoryProcedure(now func() time.Time) *MemoryProcedure {
	if now == nil {
		now = time.Now
	}
	return &MemoryProcedure{
		counters: make(map[memoryKey]*Usage),
		now:      now,
	}
}

// CheckAndIncrement implements Procedure
func (m *MemoryProcedure) CheckAndIncrement(ctx context.Context, p Params) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	week := WeekStart(m.now()).Format("2006-01-02")
	key := memoryKey{userID: p.UserID, exam: p.Exam, week: week}

	m.mu.Lock()
	defer m.mu.Unlock()

	usage, ok := m.counters[key]
	if !ok {
		usage = &Usage{WeekStart: week}
		m.counters[key] = usage
	}
	if usage.SessionsStarted+1 > p.MaxSessions || usage.QuestionsServed+p.QuestionsCount > p.MaxQuestions {
		return &Outcome{Allowed: false, Usage: *usage}, nil
	}
	usage.SessionsStarted++
	usage.QuestionsServed += p.QuestionsCount
	return &Outcome{Allowed: true, Usage: *usage}, nil
}
