package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SurveyStore abstracts persistence for surveys, responses and answers.
// UpsertAnonymousResponse conflicts on (identity_key, survey_id); answer
// upserts conflict on (response_id, question_id). Both are single atomic
// statements in the sqlite implementation.
type SurveyStore interface {
	AddSurvey(ctx context.Context, sv *Survey) error
	GetSurvey(ctx context.Context, id string) (*Survey, error)
	GetResponse(ctx context.Context, id string) (*SurveyResponse, error)
	InsertResponse(ctx context.Context, r *SurveyResponse) error
	MarkSubmitted(ctx context.Context, id string, at time.Time) error
	UpsertAnonymousResponse(ctx context.Context, r *SurveyResponse) (*SurveyResponse, error)
	UpsertAnswers(ctx context.Context, responseID string, answers []Answer) error
	ListResponsesBySurvey(ctx context.Context, surveyID string) ([]*SurveyResponse, error)
	ListAnswers(ctx context.Context, responseID string) ([]Answer, error)
}

// Reconciler is the slice of the reconciliation engine the survey workflows
// need: touch the member record for the caller without recomputing membership.
type Reconciler interface {
	Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error)
}

type SaveResult struct {
	ResponseID string `json:"response_id"`
}

// SurveyResponseService hosts the draft, submit and anonymous-save workflows.
type SurveyResponseService struct {
	store     SurveyStore
	reconcile Reconciler
	now       func() time.Time
	idGen     func() string
}

func NewSurveyResponseService(store SurveyStore, reconcile Reconciler) *SurveyResponseService {
	return &SurveyResponseService{
		store:     store,
		reconcile: reconcile,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
}

// CreateSurvey registers a survey id so response saves can 404 on unknown
// surveys. Question content is owned by the CMS.
func (s *SurveyResponseService) CreateSurvey(ctx context.Context, id, name string) (*Survey, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = s.idGen()[:8]
	}
	sv := &Survey{ID: id, Name: strings.TrimSpace(name), CreatedAt: s.now()}
	if err := s.store.AddSurvey(ctx, sv); err != nil {
		return nil, err
	}
	return sv, nil
}

// SaveDraft creates or updates a draft owned by the authenticated account.
// Touching the member record here is what lazily attaches account_ref the
// first time an authenticated caller shows up.
func (s *SurveyResponseService) SaveDraft(ctx context.Context, sess *Session, surveyID, responseID string, answers []Answer) (*SaveResult, error) {
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
	res, err := s.reconcile.Reconcile(ctx, ReconcileInput{Email: sess.Email, AccountRef: sess.AccountRef})
	if err != nil {
		return nil, err
	}
	member := res.Member

	responseID = strings.TrimSpace(responseID)
	if responseID == "" {
		responseID = s.idGen()
		r := &SurveyResponse{
			ID:          responseID,
			SurveyID:    survey.ID,
			IdentityKey: member.IdentityKey,
			AccountRef:  sess.AccountRef,
			IsMember:    member.IsMember,
			Source:      "web",
		}
		if err := s.store.InsertResponse(ctx, r); err != nil {
			return nil, err
		}
	} else {
		existing, err := s.store.GetResponse(ctx, responseID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, NewNotFoundError("draft not found")
		}
		if existing.AccountRef != sess.AccountRef {
			return nil, NewForbiddenError("draft owned by another account")
		}
		if existing.SurveyID != survey.ID {
			return nil, NewInvalidError("draft belongs to another survey")
		}
	}
	if err := s.store.UpsertAnswers(ctx, responseID, answers); err != nil {
		return nil, err
	}
	return &SaveResult{ResponseID: responseID}, nil
}

// SubmitFinal is the one-way draft-to-submitted transition. Re-submitting an
// already-final response updates its answers; the original submitted_at is
// kept.
func (s *SurveyResponseService) SubmitFinal(ctx context.Context, sess *Session, surveyID, responseID string, answers []Answer) (*SaveResult, error) {
	if sess == nil || strings.TrimSpace(sess.AccountRef) == "" {
		return nil, NewUnauthorizedError("session required")
	}
	responseID = strings.TrimSpace(responseID)
	if responseID == "" {
		return nil, NewInvalidError("response_id required")
	}
	existing, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, NewNotFoundError("response not found")
	}
	if existing.AccountRef != sess.AccountRef {
		return nil, NewForbiddenError("response owned by another account")
	}
	if surveyID = strings.TrimSpace(surveyID); surveyID != "" && existing.SurveyID != surveyID {
		return nil, NewInvalidError("response belongs to another survey")
	}
	if len(answers) > 0 {
		if err := s.store.UpsertAnswers(ctx, responseID, answers); err != nil {
			return nil, err
		}
	}
	if existing.SubmittedAt == nil {
		if err := s.store.MarkSubmitted(ctx, responseID, s.now()); err != nil {
			return nil, err
		}
	}
	return &SaveResult{ResponseID: responseID}, nil
}

// SaveAnonymous upserts the single response a bare email may hold per survey.
// A second save overwrites the first: anonymous respondents may revise before
// converting to an account.
func (s *SurveyResponseService) SaveAnonymous(ctx context.Context, email, surveyID, source string, answers []Answer) (*SaveResult, error) {
	key, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, NewInvalidError("answers required")
	}
	survey, err := s.store.GetSurvey(ctx, strings.TrimSpace(surveyID))
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, NewNotFoundError("survey not found")
	}
	res, err := s.reconcile.Reconcile(ctx, ReconcileInput{Email: key})
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = "web"
	}
	now := s.now()
	r := &SurveyResponse{
		ID:          s.idGen(),
		SurveyID:    survey.ID,
		IdentityKey: key,
		IsMember:    res.Member.IsMember,
		SubmittedAt: &now,
		Source:      source,
	}
	stored, err := s.store.UpsertAnonymousResponse(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertAnswers(ctx, stored.ID, answers); err != nil {
		return nil, err
	}
	return &SaveResult{ResponseID: stored.ID}, nil
}
