package quota

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UsageRecord is one row of weekly counters per user and exam
type UsageRecord struct {
	UserID          string    `gorm:"primaryKey"`
	Exam            string    `gorm:"primaryKey"`
	WeekStart       time.Time `gorm:"primaryKey;type:date"`
	SessionsStarted int       `gorm:"not null;default:0"`
	QuestionsServed int       `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (UsageRecord) TableName() string {
	return "practice_quota_usage"
}

// the row lock taken by SELECT ... FOR UPDATE serializes concurrent callers for the same key
const checkAndIncrementFunction = `
CREATE OR REPLACE FUNCTION check_and_increment_practice_quota(
	p_user_id text,
	p_exam text,
	p_questions_count integer,
	p_max_sessions integer,
	p_max_questions integer
) RETURNS TABLE (
	allowed boolean,
	sessions_started integer,
	questions_served integer,
	week_start date
) LANGUAGE plpgsql AS $$
#variable_conflict use_column
DECLARE
	v_week date := date_trunc('week', now() AT TIME ZONE 'utc')::date;
	v_sessions integer;
	v_questions integer;
BEGIN
	INSERT INTO practice_quota_usage (user_id, exam, week_start, sessions_started, questions_served, created_at, updated_at)
	VALUES (p_user_id, p_exam, v_week, 0, 0, now(), now())
	ON CONFLICT (user_id, exam, week_start) DO NOTHING;

	SELECT u.sessions_started, u.questions_served
	INTO v_sessions, v_questions
	FROM practice_quota_usage u
	WHERE u.user_id = p_user_id AND u.exam = p_exam AND u.week_start = v_week
	FOR UPDATE;

	IF v_sessions + 1 > p_max_sessions OR v_questions + p_questions_count > p_max_questions THEN
		RETURN QUERY SELECT false, v_sessions, v_questions, v_week;
		RETURN;
	END IF;

	UPDATE practice_quota_usage u
	SET sessions_started = u.sessions_started + 1,
		questions_served = u.questions_served + p_questions_count,
		updated_at = now()
	WHERE u.user_id = p_user_id AND u.exam = p_exam AND u.week_start = v_week
	RETURNING u.sessions_started, u.questions_served INTO v_sessions, v_questions;

	RETURN QUERY SELECT true, v_sessions, v_questions, v_week;
END;
$$;
`

// PostgresOptions configures PostgresProcedure
type PostgresOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// PostgresProcedure calls the check_and_increment_practice_quota stored function
type PostgresProcedure struct {
	PostgresOptions
}

var _ Procedure = &PostgresProcedure{}

// NewPostgresProcedure returns a PostgresProcedure. Call Install once to create the table and function.
func NewPostgresProcedure(option PostgresOptions) (*PostgresProcedure, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &PostgresProcedure{
		PostgresOptions: option,
	}, nil
}

// Install migrates the counters table and (re)creates the stored function
func (p *PostgresProcedure) Install(ctx context.Context) error {
	db := p.DB.WithContext(ctx)
	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return extErrors.Wrap(err, "Cannot migrate quota table")
	}
	if err := db.Exec(checkAndIncrementFunction).Error; err != nil {
		return extErrors.Wrap(err, "Cannot install quota function")
	}
	p.Logger.Info("Quota function installed")
	return nil
}

type procedureRow struct {
	Allowed         bool
	SessionsStarted int
	QuestionsServed int
	WeekStart       time.Time
}

// CheckAndIncrement implements Procedure
func (p *PostgresProcedure) CheckAndIncrement(ctx context.Context, params Params) (*Outcome, error) {
	var rows []procedureRow
	result := p.DB.WithContext(ctx).
		Raw(
			"SELECT allowed, sessions_started, questions_served, week_start FROM check_and_increment_practice_quota(?, ?, ?, ?, ?)",
			params.UserID,
			params.Exam,
			params.QuestionsCount,
			params.MaxSessions,
			params.MaxQuestions,
		).
		Scan(&rows)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot call quota function")
	}
	if len(rows) != 1 {
		return nil, ErrUnexpectedResult
	}
	row := rows[0]
	return &Outcome{
		Allowed: row.Allowed,
		Usage: Usage{
			SessionsStarted: row.SessionsStarted,
			QuestionsServed: row.QuestionsServed,
			WeekStart:       row.WeekStart.UTC().Format("2006-01-02"),
		},
	}, nil
}
