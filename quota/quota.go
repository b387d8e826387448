// Package quota enforces the free-tier weekly practice allowance.
//
// All counting happens inside a single atomic Procedure call (a Postgres
// function or a Redis script) so concurrent requests for the same user can
// never both pass the limit. Ledger wraps the Procedure and resolves every
// failure to a denial.
package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Free-tier policy, per user per exam per week
const (
	MaxSessionsPerWeek  = 1
	MaxQuestionsPerWeek = 5
)

// ErrFreeQuotaExceeded is the error tag attached to every denial
const ErrFreeQuotaExceeded = "FREE_QUOTA_EXCEEDED"

// ErrUnexpectedResult is returned by a Procedure whose backend answered with an unusable shape
var ErrUnexpectedResult = errors.New("quota procedure returned an unexpected result")

// Params are the arguments of the atomic check-and-increment procedure
type Params struct {
	UserID         string
	Exam           string
	QuestionsCount int
	MaxSessions    int
	MaxQuestions   int
}

// Usage is a snapshot of a user's counters for the current week
type Usage struct {
	SessionsStarted int    `json:"sessions_started"`
	QuestionsServed int    `json:"questions_served"`
	WeekStart       string `json:"week_start"`
}

// Outcome is what the atomic procedure reports. When Allowed, Usage already includes the increment.
type Outcome struct {
	Allowed bool
	Usage   Usage
}

// Procedure performs check-then-increment atomically. Implementations own the week boundary.
type Procedure interface {
	CheckAndIncrement(ctx context.Context, p Params) (*Outcome, error)
}

// Result is the Ledger's answer. Denials always carry Error, and carry Usage when the store could report it.
type Result struct {
	Allowed bool   `json:"allowed"`
	Usage   *Usage `json:"usage,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LedgerOptions contains the dependencies of Ledger
type LedgerOptions struct {
	Procedure Procedure
	Logger    *zap.Logger
}

// Ledger is the free-tier quota ledger
type Ledger struct {
	LedgerOptions
}

// NewLedger returns a Ledger over the given Procedure
func NewLedger(option LedgerOptions) (*Ledger, error) {
	if option.Procedure == nil {
		return nil, fmt.Errorf("nil Procedure is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Ledger{
		LedgerOptions: option,
	}, nil
}

// CheckAndIncrement consumes one session and questionCount questions of the user's weekly allowance for exam.
// It never returns an error: an unreachable or misbehaving store is a denial.
func (l *Ledger) CheckAndIncrement(ctx context.Context, userID, exam string, questionCount int) Result {
	logger := l.Logger.With(
		zap.String("UserID", userID),
		zap.String("Exam", exam),
		zap.Int("QuestionCount", questionCount),
	)

	if len(userID) == 0 || len(exam) == 0 || questionCount < 0 {
		logger.Warn("Rejecting quota check with invalid arguments")
		return denied(nil)
	}

	outcome, err := l.Procedure.CheckAndIncrement(ctx, Params{
		UserID:         userID,
		Exam:           exam,
		QuestionsCount: questionCount,
		MaxSessions:    MaxSessionsPerWeek,
		MaxQuestions:   MaxQuestionsPerWeek,
	})
	if err != nil {
		logger.Error("Quota procedure failed, denying",
			zap.Error(err),
		)
		return denied(nil)
	}
	if outcome == nil {
		logger.Error("Quota procedure returned no outcome, denying")
		return denied(nil)
	}

	usage := outcome.Usage
	if !outcome.Allowed {
		logger.Info("Free quota exceeded",
			zap.Int("SessionsStarted", usage.SessionsStarted),
			zap.Int("QuestionsServed", usage.QuestionsServed),
			zap.String("WeekStart", usage.WeekStart),
		)
		return denied(&usage)
	}
	return Result{
		Allowed: true,
		Usage:   &usage,
	}
}

func denied(usage *Usage) Result {
	return Result{
		Allowed: false,
		Usage:   usage,
		Error:   ErrFreeQuotaExceeded,
	}
}
