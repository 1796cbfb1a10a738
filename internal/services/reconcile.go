package services

import (
	"context"
	"encoding/json"
	"strings"
)

// MemberStore is the system-of-record table for members. UpsertMember must be
// a single atomic insert-or-update keyed on the identity key: only fields set
// in the patch are written, and an already-set account_ref is never replaced.
type MemberStore interface {
	GetMemberByIdentityKey(ctx context.Context, key string) (*Member, error)
	UpsertMember(ctx context.Context, key string, patch MemberPatch) (*Member, error)
}

// AuthProvider is the external account/session system. VerifySession returns
// nil,nil for an invalid token; FindAccountByEmail returns "" when no account
// exists. CreateAccount must be duplicate-safe under concurrent calls for the
// same email (unique-email constraint at the provider).
type AuthProvider interface {
	VerifySession(ctx context.Context, token string) (*Session, error)
	FindAccountByEmail(ctx context.Context, email string) (string, error)
	CreateAccount(ctx context.Context, email string) (string, error)
	IssueMagicLink(ctx context.Context, email, redirectURL string) (string, error)
}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// ReconcileInput is the union of what the entry points can supply. Email is
// required; everything else is optional and handled in any combination.
// Fields carries caller-asserted values (login callback); a freshly fetched
// Contact wins over Fields for membership state. Fields.AccountRef is
// ignored — account linkage only flows through AccountRef.
type ReconcileInput struct {
	Email       string
	Contact     *CRMContact
	Fields      MemberPatch
	AccountRef  string
	Provision   bool
	RedirectURL string
}

type ReconcileResult struct {
	Action    string  `json:"action"`
	Member    *Member `json:"member"`
	MagicLink string  `json:"magic_link,omitempty"`
}

// MembershipCheck is the outcome of an explicit CRM membership lookup.
type MembershipCheck struct {
	Found           bool   `json:"found"`
	Status          string `json:"status,omitempty"`
	IsMember        bool   `json:"is_member"`
	MembershipLevel string `json:"membership_level,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	USZipCode       string `json:"us_zip_code,omitempty"`
	Country         string `json:"country,omitempty"`
	Profession      string `json:"profession,omitempty"`
}

// ReconcileService merges CRM-sourced membership truth into the local member
// table without duplicating records or losing previously-known linkage.
type ReconcileService struct {
	members MemberStore
	crm     CRMClient
	auth    AuthProvider
}

func NewReconcileService(members MemberStore, crm CRMClient, auth AuthProvider) *ReconcileService {
	return &ReconcileService{members: members, crm: crm, auth: auth}
}

// Reconcile applies the uniform algorithm every entry point funnels through:
// normalize the email, derive membership only when fresh CRM data was
// supplied, partially upsert the member row, and optionally provision an
// account at the auth provider.
func (s *ReconcileService) Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	key, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	existing, err := s.members.GetMemberByIdentityKey(ctx, key)
	if err != nil {
		return nil, err
	}

	patch := in.Fields
	patch.AccountRef = nil
	if in.Contact != nil {
		patch.IsMember = boolPtr(IsActiveMembership(in.Contact.MembershipStatus))
		if lvl := strings.TrimSpace(in.Contact.MembershipStatus); lvl != "" {
			patch.MembershipLevel = strPtr(lvl)
		}
		if v := strings.TrimSpace(in.Contact.CRMContactID); v != "" {
			patch.CRMContactID = strPtr(v)
		}
		setIfPresent(&patch.FirstName, in.Contact.FirstName)
		setIfPresent(&patch.LastName, in.Contact.LastName)
		setIfPresent(&patch.USZipCode, in.Contact.USZipCode)
		setIfPresent(&patch.Country, in.Contact.Country)
		setIfPresent(&patch.Profession, in.Contact.Profession)
	}

	accountRef := strings.TrimSpace(in.AccountRef)
	if in.Provision {
		ref, perr := s.provisionAccount(ctx, key)
		if perr != nil {
			return nil, perr
		}
		if accountRef == "" {
			accountRef = ref
		}
	}
	if accountRef != "" {
		// An identity key maps to at most one account for the lifetime of the
		// record. A different incoming ref is an error, not an overwrite.
		if existing != nil && existing.AccountRef != "" && existing.AccountRef != accountRef {
			return nil, NewConflictError("account_ref mismatch for " + key)
		}
		patch.AccountRef = strPtr(accountRef)
	}

	member, err := s.members.UpsertMember(ctx, key, patch)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Action: ActionUpdated, Member: member}
	if existing == nil {
		result.Action = ActionCreated
	}
	if in.Provision {
		link, lerr := s.auth.IssueMagicLink(ctx, key, in.RedirectURL)
		if lerr != nil {
			return nil, lerr
		}
		result.MagicLink = link
	}
	return result, nil
}

// EnsureMember records a member row for an identity key without recomputing
// membership (raw survey saves). An existing row is left as-is.
func (s *ReconcileService) EnsureMember(ctx context.Context, email string) (*Member, error) {
	res, err := s.Reconcile(ctx, ReconcileInput{Email: email})
	if err != nil {
		return nil, err
	}
	return res.Member, nil
}

// CheckMembership runs a fresh CRM lookup and refreshes the cached member
// projection. CRM unavailability surfaces as bad_gateway here: the whole
// point of this call is the CRM check, so it is never degraded to
// "non-member".
func (s *ReconcileService) CheckMembership(ctx context.Context, email string) (*MembershipCheck, error) {
	key, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	contact, err := s.crm.LookupContact(ctx, key)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return &MembershipCheck{Found: false, Status: "not_found"}, nil
	}
	if _, err := s.Reconcile(ctx, ReconcileInput{Email: key, Contact: contact}); err != nil {
		return nil, err
	}
	return &MembershipCheck{
		Found:           true,
		IsMember:        IsActiveMembership(contact.MembershipStatus),
		MembershipLevel: strings.TrimSpace(contact.MembershipStatus),
		FirstName:       contact.FirstName,
		LastName:        contact.LastName,
		USZipCode:       contact.USZipCode,
		Country:         contact.Country,
		Profession:      contact.Profession,
	}, nil
}

// ProcessIdentityEvent handles a CRM webhook payload in either supported
// shape. A payload that carries only an email triggers a fresh lookup.
func (s *ReconcileService) ProcessIdentityEvent(ctx context.Context, raw json.RawMessage) (*Member, error) {
	ev, err := ParseIdentityEvent(raw)
	if err != nil {
		return nil, err
	}
	contact := ev.Contact
	if contact == nil {
		contact, err = s.crm.LookupContact(ctx, ev.Email)
		if err != nil {
			return nil, err
		}
		// No contact at all is still a valid event outcome: the member is
		// recorded as a non-member, not rejected.
	}
	res, err := s.Reconcile(ctx, ReconcileInput{Email: ev.Email, Contact: contact})
	if err != nil {
		return nil, err
	}
	return res.Member, nil
}

// RequestMagicLink provisions an account for a CRM-verified email and returns
// the login link. Unknown emails are rejected before any account is created.
func (s *ReconcileService) RequestMagicLink(ctx context.Context, email, redirectURL string) (*ReconcileResult, error) {
	key, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	contact, err := s.crm.LookupContact(ctx, key)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, NewNotFoundError("no contact for " + key)
	}
	return s.Reconcile(ctx, ReconcileInput{
		Email:       key,
		Contact:     contact,
		Provision:   true,
		RedirectURL: redirectURL,
	})
}

// provisionAccount is find-or-create. The provider's unique-email constraint
// is what makes concurrent calls for the same email safe; account creation is
// never retried.
func (s *ReconcileService) provisionAccount(ctx context.Context, key string) (string, error) {
	ref, err := s.auth.FindAccountByEmail(ctx, key)
	if err != nil {
		return "", err
	}
	if ref != "" {
		return ref, nil
	}
	return s.auth.CreateAccount(ctx, key)
}

func setIfPresent(dst **string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = &v
	}
}
