package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/assocops/memberbridge/internal/services"
)

// POST /api/membership/check — explicit CRM membership lookup.
// CRM unavailability is a 502 here, never a silent "non-member".
func (rt *Router) handleMembershipCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	check, err := rt.reconcile.CheckMembership(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// POST /api/auth/callback — post-login reconciliation. The site calls this
// after its own CRM lookup, so membership state arrives pre-derived; a bearer
// token, when present, lazily attaches the account to the member record.
func (rt *Router) handleLoginCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Email           string  `json:"email"`
		CRMContactID    string  `json:"crm_contact_id"`
		IsMember        *bool   `json:"is_member"`
		MembershipLevel *string `json:"membership_level"`
		FirstName       *string `json:"first_name"`
		LastName        *string `json:"last_name"`
		USZipCode       *string `json:"us_zip_code"`
		Country         *string `json:"country"`
		Profession      *string `json:"profession"`
		Company         *string `json:"company"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := rt.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in := services.ReconcileInput{
		Email: req.Email,
		Fields: services.MemberPatch{
			IsMember:        req.IsMember,
			MembershipLevel: req.MembershipLevel,
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			USZipCode:       req.USZipCode,
			Country:         req.Country,
			Profession:      req.Profession,
			Company:         req.Company,
		},
	}
	if v := strings.TrimSpace(req.CRMContactID); v != "" {
		in.Fields.CRMContactID = &v
	}
	if sess != nil {
		in.AccountRef = sess.AccountRef
	}
	res, err := rt.reconcile.Reconcile(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/crm/webhook — CRM contact upsert in either payload shape.
func (rt *Router) handleCRMWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, services.NewInvalidError("read body: "+err.Error()))
		return
	}
	member, err := rt.reconcile.ProcessIdentityEvent(r.Context(), json.RawMessage(body))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_member": member.IsMember})
}

// GET /api/me — membership view for the current session. Always 200: an
// invalid or missing token resolves to the anonymous view.
func (rt *Router) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	view, err := rt.view.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/auth/magic-link — provision an account for a CRM-verified email
// and return the login link.
func (rt *Router) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Email       string `json:"email"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := rt.reconcile.RequestMagicLink(r.Context(), req.Email, req.RedirectURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link": res.MagicLink, "action": res.Action})
}

// GET /api/auth/magic-link/exchange?token= — one-time token for session JWT.
func (rt *Router) handleMagicLinkExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if rt.exchanger == nil {
		writeError(w, services.NewNotFoundError("magic link exchange is handled by the auth provider"))
		return
	}
	token, err := rt.exchanger.ExchangeMagicLink(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
