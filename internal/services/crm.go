package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// HTTPClient is the minimal client surface used by outbound adapters.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CRMClient looks up a contact by email. A nil contact with a nil error means
// the CRM has no such contact; transport failures come back as bad_gateway
// errors and must never be read as "not found".
type CRMClient interface {
	LookupContact(ctx context.Context, email string) (*CRMContact, error)
}

// Raw CRM property names consumed by this system. The mapping to the
// canonical CRMContact shape is fixed here and nowhere else.
const (
	crmPropEmail            = "email"
	crmPropFirstName        = "firstname"
	crmPropLastName         = "lastname"
	crmPropZip              = "zip"
	crmPropCountry          = "country"
	crmPropProfession       = "profession_am_aa"
	crmPropMembershipStatus = "membership_status___amaa"
)

// IsActiveMembership applies the single membership rule: only an exact
// case-insensitive "active" counts as member. Anything else, including an
// absent status, means non-member.
func IsActiveMembership(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "active")
}

// HTTPCRMClient queries the CRM contact-search endpoint over JSON/HTTP.
type HTTPCRMClient struct {
	base   string
	token  string
	client HTTPClient
}

func NewHTTPCRMClient(base, token string, client HTTPClient) *HTTPCRMClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCRMClient{base: strings.TrimRight(strings.TrimSpace(base), "/"), token: token, client: client}
}

type crmSearchResult struct {
	Results []struct {
		ID         string            `json:"id"`
		Properties map[string]string `json:"properties"`
	} `json:"results"`
}

// LookupContact performs a single exact-match search by email. The lookup is
// read-only, so one retry on transport failure is allowed.
func (c *HTTPCRMClient) LookupContact(ctx context.Context, email string) (*CRMContact, error) {
	key, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"filterGroups": []map[string]any{
			{"filters": []map[string]string{
				{"propertyName": crmPropEmail, "operator": "EQ", "value": key},
			}},
		},
		"properties": []string{
			crmPropEmail, crmPropFirstName, crmPropLastName, crmPropZip,
			crmPropCountry, crmPropProfession, crmPropMembershipStatus,
		},
		"limit": 1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/crm/v3/objects/contacts/search", bytes.NewReader(body))
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err = c.client.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, NewBadGatewayError("crm unreachable: " + err.Error())
		}
	}
	if err != nil {
		return nil, NewBadGatewayError("crm unreachable: " + err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewBadGatewayError("crm search failed: " + strings.TrimSpace(string(b)))
	}
	var out crmSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewBadGatewayError("crm response decode: " + err.Error())
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return contactFromProperties(out.Results[0].ID, out.Results[0].Properties), nil
}

func contactFromProperties(id string, props map[string]string) *CRMContact {
	return &CRMContact{
		CRMContactID:     id,
		Email:            strings.ToLower(strings.TrimSpace(props[crmPropEmail])),
		FirstName:        props[crmPropFirstName],
		LastName:         props[crmPropLastName],
		USZipCode:        props[crmPropZip],
		Country:          props[crmPropCountry],
		Profession:       props[crmPropProfession],
		MembershipStatus: props[crmPropMembershipStatus],
	}
}

var _ CRMClient = (*HTTPCRMClient)(nil)
