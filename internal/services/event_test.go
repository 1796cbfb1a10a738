package services

import (
	"encoding/json"
	"testing"
)

func TestParseIdentityEventDirect(t *testing.T) {
	raw := json.RawMessage(`{"email":"Jane@Example.org","crm_contact_id":"c1","membership_status":"active","first_name":"Jane"}`)
	ev, err := ParseIdentityEvent(raw)
	if err != nil {
		t.Fatalf("ParseIdentityEvent error: %v", err)
	}
	if ev.Email != "jane@example.org" {
		t.Fatalf("email not normalized: %q", ev.Email)
	}
	if ev.Contact == nil || ev.Contact.MembershipStatus != "active" || ev.Contact.CRMContactID != "c1" || ev.Contact.FirstName != "Jane" {
		t.Fatalf("unexpected contact: %+v", ev.Contact)
	}
}

func TestParseIdentityEventDirectEmptyStatusIsStillData(t *testing.T) {
	// "membership_status":"" asserts non-membership; an absent key asserts
	// nothing and leaves the contact nil.
	ev, err := ParseIdentityEvent(json.RawMessage(`{"email":"jane@example.org","membership_status":""}`))
	if err != nil {
		t.Fatalf("ParseIdentityEvent error: %v", err)
	}
	if ev.Contact == nil || ev.Contact.MembershipStatus != "" {
		t.Fatalf("expected contact with empty status, got %+v", ev.Contact)
	}
}

func TestParseIdentityEventDirectBareEmail(t *testing.T) {
	ev, err := ParseIdentityEvent(json.RawMessage(`{"email":"jane@example.org"}`))
	if err != nil {
		t.Fatalf("ParseIdentityEvent error: %v", err)
	}
	if ev.Contact != nil {
		t.Fatalf("bare email must leave contact nil: %+v", ev.Contact)
	}
}

func TestParseIdentityEventChangedProperties(t *testing.T) {
	raw := json.RawMessage(`{"objectId":1351,"properties":{
        "email":{"value":"Jane@Example.org"},
        "firstname":{"value":"Jane"},
        "zip":{"value":"94110"},
        "membership_status___amaa":{"value":"Active"}}}`)
	ev, err := ParseIdentityEvent(raw)
	if err != nil {
		t.Fatalf("ParseIdentityEvent error: %v", err)
	}
	if ev.Email != "jane@example.org" {
		t.Fatalf("email not normalized: %q", ev.Email)
	}
	c := ev.Contact
	if c == nil || c.CRMContactID != "1351" || c.MembershipStatus != "Active" || c.FirstName != "Jane" || c.USZipCode != "94110" {
		t.Fatalf("unexpected contact: %+v", c)
	}
}

func TestParseIdentityEventChangedPropertiesWithoutStatus(t *testing.T) {
	raw := json.RawMessage(`{"vid":42,"properties":{"email":{"value":"jane@example.org"},"firstname":{"value":"Jane"}}}`)
	ev, err := ParseIdentityEvent(raw)
	if err != nil {
		t.Fatalf("ParseIdentityEvent error: %v", err)
	}
	if ev.Contact != nil {
		t.Fatalf("status-less change must leave contact nil: %+v", ev.Contact)
	}
}

func TestParseIdentityEventMissingEmail(t *testing.T) {
	for _, raw := range []string{``, `{}`, `{"membership_status":"active"}`, `{"properties":{"firstname":{"value":"Jane"}}}`} {
		_, err := ParseIdentityEvent(json.RawMessage(raw))
		se, ok := AsServiceError(err)
		if !ok || se.Code != ErrorInvalid {
			t.Fatalf("payload %q: expected invalid error, got %v", raw, err)
		}
	}
}
