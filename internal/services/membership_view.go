package services

import (
	"context"
	"strings"
)

// MembershipView is the read-only projection handed to front-end code.
// Anonymous views carry is_member=false and no email.
type MembershipView struct {
	Email           string `json:"email,omitempty"`
	IsMember        bool   `json:"is_member"`
	MembershipLevel string `json:"membership_level,omitempty"`
	AccountRef      string `json:"account_ref,omitempty"`
}

// MembershipViewService answers "is this caller a member" from a session
// token. It reads the cached projection only; it never calls the CRM.
type MembershipViewService struct {
	members MemberStore
	auth    AuthProvider
}

func NewMembershipViewService(members MemberStore, auth AuthProvider) *MembershipViewService {
	return &MembershipViewService{members: members, auth: auth}
}

// Resolve fails closed: an absent, invalid or unverifiable token yields the
// anonymous view, never an auth error. Membership-gated UI must degrade to
// "non-member" rather than break the page.
func (s *MembershipViewService) Resolve(ctx context.Context, token string) (*MembershipView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return &MembershipView{}, nil
	}
	sess, err := s.auth.VerifySession(ctx, token)
	if err != nil || sess == nil {
		return &MembershipView{}, nil
	}
	key, err := NormalizeEmail(sess.Email)
	if err != nil {
		return &MembershipView{}, nil
	}
	member, err := s.members.GetMemberByIdentityKey(ctx, key)
	if err != nil {
		return nil, err
	}
	view := &MembershipView{Email: key, AccountRef: sess.AccountRef}
	if member != nil {
		view.IsMember = member.IsMember
		view.MembershipLevel = member.MembershipLevel
		if member.AccountRef != "" {
			view.AccountRef = member.AccountRef
		}
	}
	return view, nil
}
