package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/testero/entitlement/gate"
	resp "github.com/testero/entitlement/response"
)

type routerOptions struct {
	Gate        *gate.Gate
	Billing     http.Handler
	Practice    http.Handler
	CORSOrigins []string
	// Frontend receives every page request that passes the gate, nil answers 404
	Frontend http.Handler
}

// gated page prefixes and the feature they require
var gatedPages = map[string]gate.Feature{
	"/practice":     gate.PracticeSession,
	"/explanations": gate.Explanations,
	"/diagnostic":   gate.DiagnosticSummaryFull,
}

func newFrontendProxy(frontendURL string) (http.Handler, error) {
	if len(frontendURL) == 0 {
		return nil, nil
	}
	target, err := url.Parse(frontendURL)
	if err != nil {
		return nil, err
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

func newRouter(option routerOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(option.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   option.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api", func(r chi.Router) {
		r.Mount("/billing", option.Billing)
		r.Mount("/practice", option.Practice)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			resp.WriteError(w, r, resp.ErrNotFound())
		})
	})

	frontend := option.Frontend
	if frontend == nil {
		frontend = http.NotFoundHandler()
	}
	for prefix, feature := range gatedPages {
		page := option.Gate.RequirePage(feature)(frontend)
		r.Handle(prefix, page)
		r.Handle(prefix+"/*", page)
	}
	r.Handle("/*", frontend)

	return r
}
