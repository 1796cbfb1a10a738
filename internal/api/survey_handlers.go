package api

import (
	"net/http"

	"github.com/assocops/memberbridge/internal/services"
)

// POST /api/surveys — register a survey id (question content lives in the CMS).
func (rt *Router) handleSurveys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	sess, err := rt.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeError(w, services.NewUnauthorizedError("unauthorized"))
		return
	}
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sv, err := rt.surveys.CreateSurvey(r.Context(), req.ID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

// POST /api/surveys/{id}/draft
func (rt *Router) handleSurveyDraft(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	sess, err := rt.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		ResponseID string            `json:"response_id"`
		Answers    []services.Answer `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := rt.surveys.SaveDraft(r.Context(), sess, surveyID, req.ResponseID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/surveys/{id}/submit
func (rt *Router) handleSurveySubmit(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	sess, err := rt.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		ResponseID string            `json:"response_id"`
		Answers    []services.Answer `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := rt.surveys.SubmitFinal(r.Context(), sess, surveyID, req.ResponseID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/surveys/{id}/public — anonymous save, one response per
// (email, survey); a later save overwrites the earlier one.
func (rt *Router) handleSurveyPublic(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Email   string            `json:"email"`
		Source  string            `json:"source"`
		Answers []services.Answer `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := rt.surveys.SaveAnonymous(r.Context(), req.Email, surveyID, req.Source, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/surveys/{id}/export — long-format CSV of every answer.
func (rt *Router) handleSurveyExport(w http.ResponseWriter, r *http.Request, surveyID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	sess, err := rt.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := rt.surveys.ExportSurvey(r.Context(), sess, surveyID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=responses.csv")
	_, _ = w.Write(data)
}
