package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/assocops/memberbridge/internal/services"
)

// MagicLinkExchanger trades a one-time magic-link token for a session token.
// Only the local auth provider supports it; with an external provider the
// exchange happens on the provider's side.
type MagicLinkExchanger interface {
	ExchangeMagicLink(ctx context.Context, token string) (string, error)
}

type Router struct {
	reconcile *services.ReconcileService
	view      *services.MembershipViewService
	surveys   *services.SurveyResponseService
	auth      services.AuthProvider
	exchanger MagicLinkExchanger
}

func NewRouter(reconcile *services.ReconcileService, view *services.MembershipViewService,
	surveys *services.SurveyResponseService, auth services.AuthProvider, exchanger MagicLinkExchanger) *Router {
	return &Router{reconcile: reconcile, view: view, surveys: surveys, auth: auth, exchanger: exchanger}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/membership/check", rt.handleMembershipCheck)     // POST
	mux.HandleFunc("/api/auth/callback", rt.handleLoginCallback)          // POST
	mux.HandleFunc("/api/auth/magic-link", rt.handleMagicLink)            // POST
	mux.HandleFunc("/api/auth/magic-link/exchange", rt.handleMagicLinkExchange) // GET
	mux.HandleFunc("/api/crm/webhook", rt.handleCRMWebhook)               // POST
	mux.HandleFunc("/api/me", rt.handleMe)                                // GET
	mux.HandleFunc("/api/surveys", rt.handleSurveys)                      // POST
	mux.HandleFunc("/api/surveys/", rt.handleSurveyScoped)                // POST {id}/draft|submit|public, GET {id}/export
}

// session resolves the caller's bearer token, if any. A missing token is not
// an error here; endpoints that require auth reject the nil session instead.
func (rt *Router) session(r *http.Request) (*services.Session, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	return rt.auth.VerifySession(r.Context(), token)
}

func (rt *Router) handleSurveyScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/surveys/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	surveyID := parts[0]
	switch parts[1] {
	case "draft":
		rt.handleSurveyDraft(w, r, surveyID)
	case "submit":
		rt.handleSurveySubmit(w, r, surveyID)
	case "public":
		rt.handleSurveyPublic(w, r, surveyID)
	case "export":
		rt.handleSurveyExport(w, r, surveyID)
	default:
		http.NotFound(w, r)
	}
}
