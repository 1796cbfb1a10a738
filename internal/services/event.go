package services

import (
	"encoding/json"
	"strings"
)

// IdentityEvent is the canonical form of an inbound CRM-originated payload.
// Contact is nil when the payload carried an email but no membership data; the
// caller is expected to run a fresh CRM lookup in that case.
type IdentityEvent struct {
	Email   string
	Contact *CRMContact
}

type directEvent struct {
	Email            string  `json:"email"`
	CRMContactID     string  `json:"crm_contact_id"`
	FirstName        string  `json:"first_name"`
	LastName         string  `json:"last_name"`
	USZipCode        string  `json:"us_zip_code"`
	Country          string  `json:"country"`
	Profession       string  `json:"profession"`
	MembershipStatus *string `json:"membership_status"`
}

type changedPropertyEvent struct {
	ObjectID   json.Number `json:"objectId"`
	VID        json.Number `json:"vid"`
	Properties map[string]struct {
		Value string `json:"value"`
	} `json:"properties"`
}

// ParseIdentityEvent accepts either the direct payload shape
// ({"email":..., "membership_status":...}) or the CRM changed-property shape
// ({"properties":{"email":{"value":...},...}}) and normalizes it. Everything
// past this function only ever sees the canonical contact shape.
func ParseIdentityEvent(raw json.RawMessage) (*IdentityEvent, error) {
	if len(raw) == 0 {
		return nil, NewInvalidError("missing_email")
	}

	var changed changedPropertyEvent
	if err := json.Unmarshal(raw, &changed); err == nil && len(changed.Properties) > 0 {
		return eventFromChangedProperties(&changed)
	}

	var direct directEvent
	if err := json.Unmarshal(raw, &direct); err != nil {
		return nil, NewInvalidError("malformed payload: " + err.Error())
	}
	key, err := NormalizeEmail(direct.Email)
	if err != nil {
		return nil, err
	}
	ev := &IdentityEvent{Email: key}
	if direct.MembershipStatus != nil {
		ev.Contact = &CRMContact{
			CRMContactID:     direct.CRMContactID,
			Email:            key,
			FirstName:        direct.FirstName,
			LastName:         direct.LastName,
			USZipCode:        direct.USZipCode,
			Country:          direct.Country,
			Profession:       direct.Profession,
			MembershipStatus: *direct.MembershipStatus,
		}
	}
	return ev, nil
}

func eventFromChangedProperties(ev *changedPropertyEvent) (*IdentityEvent, error) {
	prop := func(name string) string {
		if p, ok := ev.Properties[name]; ok {
			return p.Value
		}
		return ""
	}
	key, err := NormalizeEmail(prop(crmPropEmail))
	if err != nil {
		return nil, err
	}
	out := &IdentityEvent{Email: key}
	if _, ok := ev.Properties[crmPropMembershipStatus]; ok {
		out.Contact = &CRMContact{
			CRMContactID:     numberToID(ev.ObjectID, ev.VID),
			Email:            key,
			FirstName:        prop(crmPropFirstName),
			LastName:         prop(crmPropLastName),
			USZipCode:        prop(crmPropZip),
			Country:          prop(crmPropCountry),
			Profession:       prop(crmPropProfession),
			MembershipStatus: prop(crmPropMembershipStatus),
		}
	}
	return out, nil
}

func numberToID(candidates ...json.Number) string {
	for _, n := range candidates {
		if s := strings.TrimSpace(n.String()); s != "" {
			return s
		}
	}
	return ""
}
