package practice

import (
	"strings"
	"time"
)

// Session is a practice session started by a user
type Session struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	UserID          string    `json:"userId" gorm:"not null;index"`
	Exam            string    `json:"exam" gorm:"not null"`
	Source          string    `json:"source"`
	SourceSessionID *string   `json:"sourceSessionId"`
	DomainCodes     string    `json:"-"`
	QuestionCount   int       `json:"questionCount" gorm:"not null"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (Session) TableName() string {
	return "practice_sessions"
}

// Domains splits the stored domain codes
func (s *Session) Domains() []string {
	if len(s.DomainCodes) == 0 {
		return nil
	}
	return strings.Split(s.DomainCodes, ",")
}

// Route is where the frontend renders the session
func (s *Session) Route() string {
	return "/practice/session/" + s.ID
}
