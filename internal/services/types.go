package services

import "time"

// Member is this system's row for a person: cached membership state plus
// linkage to the auth provider and the CRM.
type Member struct {
	IdentityKey     string    `json:"identity_key"`
	AccountRef      string    `json:"account_ref,omitempty"`
	IsMember        bool      `json:"is_member"`
	MembershipLevel string    `json:"membership_level,omitempty"`
	CRMContactID    string    `json:"crm_contact_id,omitempty"`
	FirstName       string    `json:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty"`
	USZipCode       string    `json:"us_zip_code,omitempty"`
	Country         string    `json:"country,omitempty"`
	Profession      string    `json:"profession,omitempty"`
	Company         string    `json:"company,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// MemberPatch carries only the fields a caller actually supplied. Nil pointers
// are left untouched by the store; the upsert never nulls out an unset field.
type MemberPatch struct {
	AccountRef      *string
	IsMember        *bool
	MembershipLevel *string
	CRMContactID    *string
	FirstName       *string
	LastName        *string
	USZipCode       *string
	Country         *string
	Profession      *string
	Company         *string
}

// CRMContact is the read model of a contact fetched from the external CRM.
type CRMContact struct {
	CRMContactID     string `json:"crm_contact_id,omitempty"`
	Email            string `json:"email"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	USZipCode        string `json:"us_zip_code,omitempty"`
	Country          string `json:"country,omitempty"`
	Profession       string `json:"profession,omitempty"`
	MembershipStatus string `json:"membership_status,omitempty"`
}

// Session is the auth provider's view of a verified bearer token.
type Session struct {
	Email      string
	AccountRef string
}

// Survey registers a survey id so responses can reject unknown surveys.
// Question content lives in the CMS, not here.
type Survey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// SurveyResponse is one person's response to one survey. A nil SubmittedAt
// means the response is still a draft.
type SurveyResponse struct {
	ID             string     `json:"id"`
	SurveyID       string     `json:"survey_id"`
	IdentityKey    string     `json:"identity_key,omitempty"`
	AccountRef     string     `json:"account_ref,omitempty"`
	IsMember       bool       `json:"is_member"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	Source         string     `json:"source,omitempty"`
	RespondentHash string     `json:"respondent_hash,omitempty"`
}

// Answer holds one question's value within a response. Exactly one of the
// value fields is expected to be set.
type Answer struct {
	QuestionID   string   `json:"question_id"`
	ValueText    string   `json:"value_text,omitempty"`
	ValueNum     *float64 `json:"value_num,omitempty"`
	ValueOptions []string `json:"value_options,omitempty"`
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
