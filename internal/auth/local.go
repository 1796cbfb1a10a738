// Package auth provides the auth-provider implementations behind the
// services.AuthProvider interface: a sqlite-backed local provider used for
// development and tests, and a JSON/HTTP adapter for an external provider.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/assocops/memberbridge/internal/services"
)

// Account is an auth-provider account. Email is unique; the constraint is
// what makes concurrent provisioning for the same email safe.
type Account struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// MagicLink is a single-use login link. Only the bcrypt hash of the secret is
// stored.
type MagicLink struct {
	ID          string
	Email       string
	TokenHash   []byte
	RedirectURL string
	ExpiresAt   time.Time
	UsedAt      *time.Time
}

// Store is the persistence surface the local provider needs. InsertAccount is
// insert-or-ignore on the unique email; callers re-read to learn the winner.
type Store interface {
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	InsertAccount(ctx context.Context, a *Account) error
	InsertMagicLink(ctx context.Context, l *MagicLink) error
	GetMagicLink(ctx context.Context, id string) (*MagicLink, error)
	MarkMagicLinkUsed(ctx context.Context, id string, at time.Time) error
}

type sessionClaims struct {
	AccountRef string `json:"account_ref"`
	Email      string `json:"email"`
	jwt.RegisteredClaims
}

// LocalProvider implements services.AuthProvider against the local store with
// HS256 session tokens.
type LocalProvider struct {
	store    Store
	secret   []byte
	baseURL  string
	tokenTTL time.Duration
	linkTTL  time.Duration
	now      func() time.Time
	idGen    func() string
}

func NewLocalProvider(store Store, secret []byte, baseURL string) *LocalProvider {
	return &LocalProvider{
		store:    store,
		secret:   secret,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokenTTL: 30 * 24 * time.Hour,
		linkTTL:  time.Hour,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
}

func (p *LocalProvider) VerifySession(ctx context.Context, token string) (*services.Session, error) {
	t, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, nil
	}
	c, ok := t.Claims.(*sessionClaims)
	if !ok || !t.Valid || c.Email == "" {
		return nil, nil
	}
	return &services.Session{Email: c.Email, AccountRef: c.AccountRef}, nil
}

func (p *LocalProvider) FindAccountByEmail(ctx context.Context, email string) (string, error) {
	key, err := services.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	a, err := p.store.FindAccountByEmail(ctx, key)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", nil
	}
	return a.ID, nil
}

// CreateAccount is insert-or-ignore followed by a re-read, so concurrent
// requests for the same email converge on one account instead of erroring.
func (p *LocalProvider) CreateAccount(ctx context.Context, email string) (string, error) {
	key, err := services.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	a := &Account{ID: "acct_" + p.idGen(), Email: key, CreatedAt: p.now()}
	if err := p.store.InsertAccount(ctx, a); err != nil {
		return "", err
	}
	stored, err := p.store.FindAccountByEmail(ctx, key)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", errors.New("account insert lost")
	}
	return stored.ID, nil
}

func (p *LocalProvider) IssueMagicLink(ctx context.Context, email, redirectURL string) (string, error) {
	key, err := services.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	secret := randomToken(24)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	link := &MagicLink{
		ID:          p.idGen(),
		Email:       key,
		TokenHash:   hash,
		RedirectURL: strings.TrimSpace(redirectURL),
		ExpiresAt:   p.now().Add(p.linkTTL),
	}
	if err := p.store.InsertMagicLink(ctx, link); err != nil {
		return "", err
	}
	return p.baseURL + "/api/auth/magic-link/exchange?token=" + link.ID + "." + secret, nil
}

// ExchangeMagicLink trades a one-time link token for a session JWT. Expired,
// unknown or reused tokens are all unauthorized.
func (p *LocalProvider) ExchangeMagicLink(ctx context.Context, token string) (string, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || id == "" || secret == "" {
		return "", services.NewUnauthorizedError("invalid magic link token")
	}
	link, err := p.store.GetMagicLink(ctx, id)
	if err != nil {
		return "", err
	}
	now := p.now()
	if link == nil || link.UsedAt != nil || now.After(link.ExpiresAt) {
		return "", services.NewUnauthorizedError("magic link expired")
	}
	if bcrypt.CompareHashAndPassword(link.TokenHash, []byte(secret)) != nil {
		return "", services.NewUnauthorizedError("invalid magic link token")
	}
	if err := p.store.MarkMagicLinkUsed(ctx, id, now); err != nil {
		return "", err
	}
	ref, err := p.FindAccountByEmail(ctx, link.Email)
	if err != nil {
		return "", err
	}
	if ref == "" {
		ref, err = p.CreateAccount(ctx, link.Email)
		if err != nil {
			return "", err
		}
	}
	return p.signSession(ref, link.Email)
}

func (p *LocalProvider) signSession(accountRef, email string) (string, error) {
	now := p.now()
	claims := sessionClaims{
		AccountRef: accountRef,
		Email:      email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

var _ services.AuthProvider = (*LocalProvider)(nil)
