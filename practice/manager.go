package practice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions contains the dependencies of Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to practice Sessions
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for practice sessions
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Session{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize practice.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// NewSessionParams describes a session to record
type NewSessionParams struct {
	UserID          string
	Exam            string
	Source          string
	SourceSessionID string
	DomainCodes     []string
	QuestionCount   int
}

// Create records a new practice session
// Domain codes are stored comma-joined and must not contain a comma.
func (m *Manager) Create(ctx context.Context, p NewSessionParams) (*Session, error) {
	for _, code := range p.DomainCodes {
		if strings.Contains(code, ",") {
			return nil, fmt.Errorf("domain code %q contains a comma", code)
		}
	}
	s := &Session{
		ID:            uuid.New().String(),
		UserID:        p.UserID,
		Exam:          p.Exam,
		Source:        p.Source,
		DomainCodes:   strings.Join(p.DomainCodes, ","),
		QuestionCount: p.QuestionCount,
	}
	if len(p.SourceSessionID) > 0 {
		s.SourceSessionID = &p.SourceSessionID
	}

	result := m.DB.WithContext(ctx).Create(s)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create practice session")
	}
	return s, nil
}

// GetByID returns the session with id owned by userID, nil if there is none
func (m *Manager) GetByID(ctx context.Context, userID, id string) (*Session, error) {
	var s Session

	result := m.DB.WithContext(ctx).First(&s, "id = ? AND user_id = ?", id, userID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get practice session")
	}

	return &s, nil
}
