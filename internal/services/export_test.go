package services

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

func TestExportSurveyRequiresSession(t *testing.T) {
	svc, _ := newSurveyService(newStubSurveyStore("s1"), nil)
	_, err := svc.ExportSurvey(context.Background(), nil, "s1")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestExportSurveyLongFormat(t *testing.T) {
	store := newStubSurveyStore("s1")
	submitted := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	num := 4.5
	store.responses["r1"] = &SurveyResponse{
		ID: "r1", SurveyID: "s1", IdentityKey: "jane@example.org",
		AccountRef: "acct_1", IsMember: true, SubmittedAt: &submitted,
	}
	store.answers["r1"] = []Answer{
		{QuestionID: "q1", ValueText: "yes"},
		{QuestionID: "q2", ValueNum: &num},
		{QuestionID: "q3", ValueOptions: []string{"a", "b"}},
	}
	svc, _ := newSurveyService(store, nil)
	sess := &Session{Email: "jane@example.org", AccountRef: "acct_1"}

	data, err := svc.ExportSurvey(context.Background(), sess, "s1")
	if err != nil {
		t.Fatalf("ExportSurvey error: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "response_id" || rows[0][7] != "value" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	byQuestion := map[string]string{}
	for _, row := range rows[1:] {
		if row[0] != "r1" || row[1] != "s1" || row[4] != "true" || row[5] != "2026-08-29T12:00:00Z" {
			t.Fatalf("unexpected row: %v", row)
		}
		byQuestion[row[6]] = row[7]
	}
	if byQuestion["q1"] != "yes" || byQuestion["q2"] != "4.5" || byQuestion["q3"] != "a|b" {
		t.Fatalf("unexpected values: %v", byQuestion)
	}
}

func TestExportSurveyUnknownSurvey(t *testing.T) {
	svc, _ := newSurveyService(newStubSurveyStore(), nil)
	sess := &Session{Email: "jane@example.org", AccountRef: "acct_1"}
	_, err := svc.ExportSurvey(context.Background(), sess, "nope")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}
