package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// ExportSurvey renders every answer for a survey as a long-format CSV, one
// row per (response, question). Drafts are included with an empty
// submitted_at column.
func (s *SurveyResponseService) ExportSurvey(ctx context.Context, sess *Session, surveyID string) ([]byte, error) {
	if sess == nil || strings.TrimSpace(sess.AccountRef) == "" {
		return nil, NewUnauthorizedError("session required")
	}
	survey, err := s.store.GetSurvey(ctx, strings.TrimSpace(surveyID))
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, NewNotFoundError("survey not found")
	}
	responses, err := s.store.ListResponsesBySurvey(ctx, survey.ID)
	if err != nil {
		return nil, err
	}
	answers := map[string][]Answer{}
	for _, r := range responses {
		list, err := s.store.ListAnswers(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		answers[r.ID] = list
	}
	return exportLongCSV(responses, answers)
}

func exportLongCSV(responses []*SurveyResponse, answers map[string][]Answer) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"response_id", "survey_id", "identity_key", "account_ref", "is_member", "submitted_at", "question_id", "value"})
	for _, r := range responses {
		submitted := ""
		if r.SubmittedAt != nil {
			submitted = r.SubmittedAt.UTC().Format(time.RFC3339)
		}
		for _, a := range answers[r.ID] {
			rec := []string{
				r.ID,
				r.SurveyID,
				r.IdentityKey,
				r.AccountRef,
				strconv.FormatBool(r.IsMember),
				submitted,
				a.QuestionID,
				answerValue(a),
			}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func answerValue(a Answer) string {
	switch {
	case a.ValueNum != nil:
		return strconv.FormatFloat(*a.ValueNum, 'f', -1, 64)
	case len(a.ValueOptions) > 0:
		return strings.Join(a.ValueOptions, "|")
	default:
		return a.ValueText
	}
}
