package billing

import (
	"net/http"

	"github.com/testero/entitlement/grace"
	resp "github.com/testero/entitlement/response"
	"github.com/testero/entitlement/subscription"
	"go.uber.org/zap"
)

// StatusResponse is the billing status of the caller
type StatusResponse struct {
	IsSubscriber bool                `json:"isSubscriber"`
	Status       subscription.Status `json:"status"`
}

func (s *Service) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := s.Identity.Identify(r)
	if claims == nil {
		resp.WriteResponse(w, r, StatusResponse{IsSubscriber: false, Status: subscription.StatusNone})
		return
	}

	rec, err := s.Subscriptions.GetActive(ctx, claims.ID)
	if err == nil && rec == nil {
		rec, err = s.Subscriptions.GetLatest(ctx, claims.ID)
	}
	if err != nil {
		s.Logger.Error("Cannot load subscription for billing status, reporting none",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteResponse(w, r, StatusResponse{IsSubscriber: false, Status: subscription.StatusNone})
		return
	}

	status := subscription.StatusNone
	if rec != nil {
		status = rec.Status
	}
	isSubscriber := subscription.IsSubscriber(rec.Data(), s.Now())

	// the record has landed, the grace window is no longer needed
	if isSubscriber && grace.Present(r) {
		http.SetCookie(w, grace.ClearCookie())
	}

	resp.WriteResponse(w, r, StatusResponse{
		IsSubscriber: isSubscriber,
		Status:       status,
	})
}
