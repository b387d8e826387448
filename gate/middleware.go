package gate

import (
	"context"
	"net/http"
	"net/url"

	resp "github.com/testero/entitlement/response"
)

// ContextKey is a defined type to be used in context.Context containing the Decision
type ContextKey string

// Context is key used in context.Context containing the Decision
const Context ContextKey = "gateContext"

// FromContext returns the Decision stored by RequireAPI or RequirePage
func FromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(Context).(Decision)
	return d, ok
}

// WriteDenial writes the structured API error for a denied Decision
func WriteDenial(w http.ResponseWriter, r *http.Request, d Decision) {
	switch d.State {
	case StateNoUser:
		resp.WriteError(w, r, resp.ErrNoBearer())
	case StateQuotaExceeded:
		e := resp.ErrFreeQuotaExceeded()
		if d.Usage != nil {
			e = e.WithResult(map[string]interface{}{"usage": d.Usage})
		}
		resp.WriteError(w, r, e)
	default:
		resp.WriteError(w, r, resp.ErrPaywall().WithResult(map[string]string{"feature": d.Feature}))
	}
}

// PageRedirect returns where a denied page request is sent
func PageRedirect(r *http.Request, d Decision) string {
	if d.State == StateNoUser {
		target := r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		if target == "" || target == "/" {
			return "/login"
		}
		return "/login?" + url.Values{"redirect": {target}}.Encode()
	}
	return "/pricing?gated=1&feature=" + url.QueryEscape(d.Feature)
}

// RequireAPI returns a http middleware that answers denials with a JSON error
func (g *Gate) RequireAPI(req Request) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Check(r, req)
			if !d.Allowed {
				WriteDenial(w, r, d)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), Context, d)))
		})
	}
}

// RequirePage returns a http middleware that redirects denied page views. Page views never spend quota.
func (g *Gate) RequirePage(f Feature) func(next http.Handler) http.Handler {
	req := Request{Feature: f}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Check(r, req)
			if !d.Allowed {
				http.Redirect(w, r, PageRedirect(r, d), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), Context, d)))
		})
	}
}
