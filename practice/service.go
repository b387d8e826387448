package practice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/testero/entitlement/gate"
	resp "github.com/testero/entitlement/response"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// define constants
const (
	DefaultQuestionCount = 10
	DefaultSource        = "study_plan_domain"
)

// Gate decides whether the caller may start a session
type Gate interface {
	Check(r *http.Request, req gate.Request) gate.Decision
}

// Identity resolves the signed-in user
type Identity interface {
	UserID(r *http.Request) (string, bool)
}

// Sessions is the practice session store
type Sessions interface {
	Create(ctx context.Context, p NewSessionParams) (*Session, error)
	GetByID(ctx context.Context, userID, id string) (*Session, error)
}

// Options contains the configuration for Service router
type Options struct {
	Logger   *zap.Logger
	Gate     Gate
	Identity Identity
	Sessions Sessions
	Exams    []string
}

// Service is the practice API router
type Service struct {
	Options
}

// CreateSessionRequest is the model of user request for a new practice session
type CreateSessionRequest struct {
	ExamKey         string   `json:"examKey" validate:"required"`
	DomainCodes     []string `json:"domainCodes" validate:"required,min=1,dive,required,excludes=0x2C"`
	QuestionCount   *int     `json:"questionCount" validate:"omitempty,min=5,max=20"`
	Source          string   `json:"source" validate:"omitempty,max=64"`
	SourceSessionID string   `json:"sourceSessionId" validate:"omitempty,uuid"`
}

// CreateSessionResponse tells the frontend where the new session lives
type CreateSessionResponse struct {
	SessionID     string `json:"sessionId"`
	Route         string `json:"route"`
	QuestionCount int    `json:"questionCount"`
}

// NewService will create an instance of the practice API router
func NewService(option Options) (*Service, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Gate == nil {
		return nil, fmt.Errorf("nil Gate is invalid")
	}
	if option.Identity == nil {
		return nil, fmt.Errorf("nil Identity is invalid")
	}
	if option.Sessions == nil {
		return nil, fmt.Errorf("nil Sessions is invalid")
	}
	if len(option.Exams) == 0 {
		return nil, fmt.Errorf("at least one exam is required")
	}
	return &Service{
		Options: option,
	}, nil
}

func (s *Service) examSupported(exam string) bool {
	for _, e := range s.Exams {
		if e == exam {
			return true
		}
	}
	return false
}

func (s *Service) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := s.Identity.UserID(r)
	if !ok {
		resp.WriteError(w, r, resp.ErrNoBearer())
		return
	}

	logger := s.Logger.With(zap.String("UserID", userID))

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}
	if !s.examSupported(req.ExamKey) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(fmt.Sprintf("Unsupported exam key: %s", req.ExamKey)))
		return
	}
	questionCount := DefaultQuestionCount
	if req.QuestionCount != nil {
		questionCount = *req.QuestionCount
	}
	source := req.Source
	if len(source) == 0 {
		source = DefaultSource
	}

	decision := s.Gate.Check(r, gate.Request{
		Feature:   gate.PracticeSession,
		Exam:      req.ExamKey,
		Questions: questionCount,
		Consume:   true,
	})
	if !decision.Allowed {
		gate.WriteDenial(w, r, decision)
		return
	}

	session, err := s.Sessions.Create(ctx, NewSessionParams{
		UserID:          userID,
		Exam:            req.ExamKey,
		Source:          source,
		SourceSessionID: req.SourceSessionID,
		DomainCodes:     req.DomainCodes,
		QuestionCount:   questionCount,
	})
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Failed to create practice session"))
		return
	}

	logger.Info("Practice session created",
		zap.String("SessionID", session.ID),
		zap.String("Access", string(decision.State)),
		zap.Int("QuestionCount", questionCount),
	)

	resp.WriteResponseWithStatus(w, r, http.StatusCreated, CreateSessionResponse{
		SessionID:     session.ID,
		Route:         session.Route(),
		QuestionCount: session.QuestionCount,
	})
}

func (s *Service) getSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.Identity.UserID(r)
	if !ok {
		resp.WriteError(w, r, resp.ErrNoBearer())
		return
	}
	id := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(id); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid session id"))
		return
	}

	session, err := s.Sessions.GetByID(r.Context(), userID, id)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if session == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}

	resp.WriteResponse(w, r, map[string]interface{}{
		"session":     session,
		"domainCodes": session.Domains(),
		"route":       session.Route(),
	})
}

// Router returns the practice routes
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/session", s.createSession)
	r.Get("/session/{sessionID}", s.getSession)

	return r
}
