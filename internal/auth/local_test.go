package auth

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/assocops/memberbridge/internal/services"
)

type memStore struct {
	accounts map[string]*Account
	links    map[string]*MagicLink
}

func newMemStore() *memStore {
	return &memStore{accounts: map[string]*Account{}, links: map[string]*MagicLink{}}
}

func (s *memStore) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	a, ok := s.accounts[email]
	if !ok {
		return nil, nil
	}
	copy := *a
	return &copy, nil
}

func (s *memStore) InsertAccount(ctx context.Context, a *Account) error {
	if _, ok := s.accounts[a.Email]; ok {
		return nil
	}
	copy := *a
	s.accounts[a.Email] = &copy
	return nil
}

func (s *memStore) InsertMagicLink(ctx context.Context, l *MagicLink) error {
	copy := *l
	s.links[l.ID] = &copy
	return nil
}

func (s *memStore) GetMagicLink(ctx context.Context, id string) (*MagicLink, error) {
	l, ok := s.links[id]
	if !ok {
		return nil, nil
	}
	copy := *l
	return &copy, nil
}

func (s *memStore) MarkMagicLinkUsed(ctx context.Context, id string, at time.Time) error {
	l, ok := s.links[id]
	if !ok || l.UsedAt != nil {
		return services.NewUnauthorizedError("magic link already used")
	}
	t := at
	l.UsedAt = &t
	return nil
}

func newTestProvider(store Store) *LocalProvider {
	p := NewLocalProvider(store, []byte("test-secret"), "https://app.example.org/")
	n := 0
	p.idGen = func() string { n++; return fmt.Sprintf("id%010d", n) }
	return p
}

func linkToken(t *testing.T, link string) string {
	t.Helper()
	_, token, ok := strings.Cut(link, "token=")
	if !ok {
		t.Fatalf("no token in link %q", link)
	}
	return token
}

func TestCreateAccountDuplicateSafe(t *testing.T) {
	p := newTestProvider(newMemStore())
	ctx := context.Background()

	ref1, err := p.CreateAccount(ctx, "Jane@Example.org")
	if err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}
	ref2, err := p.CreateAccount(ctx, "jane@example.org")
	if err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}
	if ref1 == "" || ref1 != ref2 {
		t.Fatalf("expected one stable account, got %q and %q", ref1, ref2)
	}
}

func TestFindAccountByEmailMissing(t *testing.T) {
	p := newTestProvider(newMemStore())
	ref, err := p.FindAccountByEmail(context.Background(), "ghost@example.org")
	if err != nil {
		t.Fatalf("FindAccountByEmail error: %v", err)
	}
	if ref != "" {
		t.Fatalf("expected empty ref, got %q", ref)
	}
}

func TestMagicLinkRoundTrip(t *testing.T) {
	p := newTestProvider(newMemStore())
	ctx := context.Background()

	link, err := p.IssueMagicLink(ctx, "Jane@Example.org", "/surveys/s1")
	if err != nil {
		t.Fatalf("IssueMagicLink error: %v", err)
	}
	if !strings.HasPrefix(link, "https://app.example.org/api/auth/magic-link/exchange?token=") {
		t.Fatalf("unexpected link: %q", link)
	}

	session, err := p.ExchangeMagicLink(ctx, linkToken(t, link))
	if err != nil {
		t.Fatalf("ExchangeMagicLink error: %v", err)
	}
	sess, err := p.VerifySession(ctx, session)
	if err != nil {
		t.Fatalf("VerifySession error: %v", err)
	}
	if sess == nil || sess.Email != "jane@example.org" || sess.AccountRef == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestMagicLinkSingleUse(t *testing.T) {
	p := newTestProvider(newMemStore())
	ctx := context.Background()

	link, err := p.IssueMagicLink(ctx, "jane@example.org", "")
	if err != nil {
		t.Fatalf("IssueMagicLink error: %v", err)
	}
	token := linkToken(t, link)
	if _, err := p.ExchangeMagicLink(ctx, token); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err = p.ExchangeMagicLink(ctx, token)
	se, ok := services.AsServiceError(err)
	if !ok || se.Code != services.ErrorUnauthorized {
		t.Fatalf("expected unauthorized on reuse, got %v", err)
	}
}

func TestMagicLinkExpired(t *testing.T) {
	p := newTestProvider(newMemStore())
	ctx := context.Background()

	link, err := p.IssueMagicLink(ctx, "jane@example.org", "")
	if err != nil {
		t.Fatalf("IssueMagicLink error: %v", err)
	}
	p.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	_, err = p.ExchangeMagicLink(ctx, linkToken(t, link))
	se, ok := services.AsServiceError(err)
	if !ok || se.Code != services.ErrorUnauthorized {
		t.Fatalf("expected unauthorized on expiry, got %v", err)
	}
}

func TestMagicLinkWrongSecret(t *testing.T) {
	p := newTestProvider(newMemStore())
	ctx := context.Background()

	link, err := p.IssueMagicLink(ctx, "jane@example.org", "")
	if err != nil {
		t.Fatalf("IssueMagicLink error: %v", err)
	}
	id, _, _ := strings.Cut(linkToken(t, link), ".")
	_, err = p.ExchangeMagicLink(ctx, id+".forged-secret")
	se, ok := services.AsServiceError(err)
	if !ok || se.Code != services.ErrorUnauthorized {
		t.Fatalf("expected unauthorized on wrong secret, got %v", err)
	}
}

func TestVerifySessionInvalidToken(t *testing.T) {
	p := newTestProvider(newMemStore())
	for _, token := range []string{"", "garbage", "a.b.c"} {
		sess, err := p.VerifySession(context.Background(), token)
		if err != nil || sess != nil {
			t.Fatalf("token %q: expected nil,nil, got %v, %v", token, sess, err)
		}
	}
}

func TestVerifySessionWrongKey(t *testing.T) {
	store := newMemStore()
	p := newTestProvider(store)
	link, err := p.IssueMagicLink(context.Background(), "jane@example.org", "")
	if err != nil {
		t.Fatalf("IssueMagicLink error: %v", err)
	}
	token, err := p.ExchangeMagicLink(context.Background(), linkToken(t, link))
	if err != nil {
		t.Fatalf("ExchangeMagicLink error: %v", err)
	}

	other := NewLocalProvider(store, []byte("another-secret"), "https://app.example.org")
	sess, err := other.VerifySession(context.Background(), token)
	if err != nil || sess != nil {
		t.Fatalf("expected nil,nil for wrong key, got %v, %v", sess, err)
	}
}
