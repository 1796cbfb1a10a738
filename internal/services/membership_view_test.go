package services

import (
	"context"
	"testing"
)

func TestResolveAnonymousWithoutToken(t *testing.T) {
	svc := NewMembershipViewService(newStubMemberStore(), newStubAuthProvider())
	view, err := svc.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if view.IsMember || view.Email != "" || view.AccountRef != "" {
		t.Fatalf("expected anonymous view, got %+v", view)
	}
}

func TestResolveInvalidTokenFailsClosed(t *testing.T) {
	svc := NewMembershipViewService(newStubMemberStore(), newStubAuthProvider())
	view, err := svc.Resolve(context.Background(), "garbage.token")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if view.IsMember || view.Email != "" {
		t.Fatalf("invalid token must resolve anonymous, got %+v", view)
	}
}

func TestResolveKnownMember(t *testing.T) {
	store := newStubMemberStore()
	store.members["jane@example.org"] = &Member{
		IdentityKey:     "jane@example.org",
		AccountRef:      "acct_1",
		IsMember:        true,
		MembershipLevel: "active",
	}
	auth := newStubAuthProvider()
	auth.sessions["tok"] = &Session{Email: "Jane@Example.org", AccountRef: "acct_1"}

	svc := NewMembershipViewService(store, auth)
	view, err := svc.Resolve(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !view.IsMember || view.Email != "jane@example.org" || view.MembershipLevel != "active" || view.AccountRef != "acct_1" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestResolveSessionWithoutMemberRow(t *testing.T) {
	auth := newStubAuthProvider()
	auth.sessions["tok"] = &Session{Email: "new@example.org", AccountRef: "acct_9"}
	svc := NewMembershipViewService(newStubMemberStore(), auth)

	view, err := svc.Resolve(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if view.IsMember || view.Email != "new@example.org" || view.AccountRef != "acct_9" {
		t.Fatalf("unexpected view: %+v", view)
	}
}
