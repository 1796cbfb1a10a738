package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/assocops/memberbridge/internal/services"
)

// HTTPProvider adapts an external auth/session provider speaking JSON over
// HTTP. Transport failures surface as bad_gateway; they are never mapped to
// "invalid session" or "no account". Duplicate-safe account creation relies
// on the remote provider's unique-email constraint.
type HTTPProvider struct {
	base   string
	token  string
	client services.HTTPClient
}

func NewHTTPProvider(base, token string, client services.HTTPClient) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{base: strings.TrimRight(strings.TrimSpace(base), "/"), token: token, client: client}
}

func (p *HTTPProvider) VerifySession(ctx context.Context, token string) (*services.Session, error) {
	var out struct {
		Email      string `json:"email"`
		AccountRef string `json:"account_ref"`
	}
	status, err := p.postJSON(ctx, "/v1/sessions/verify", map[string]string{"token": token}, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 300 {
		return nil, services.NewBadGatewayError("auth provider verify failed")
	}
	if out.Email == "" {
		return nil, nil
	}
	return &services.Session{Email: out.Email, AccountRef: out.AccountRef}, nil
}

func (p *HTTPProvider) FindAccountByEmail(ctx context.Context, email string) (string, error) {
	key, err := services.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/v1/accounts?email="+url.QueryEscape(key), nil)
	if err != nil {
		return "", err
	}
	p.setHeaders(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return "", services.NewBadGatewayError("auth provider unreachable: " + err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode >= 300 {
		return "", services.NewBadGatewayError("auth provider account lookup failed")
	}
	var out struct {
		AccountRef string `json:"account_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", services.NewBadGatewayError("auth provider response decode: " + err.Error())
	}
	return out.AccountRef, nil
}

func (p *HTTPProvider) CreateAccount(ctx context.Context, email string) (string, error) {
	key, err := services.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	var out struct {
		AccountRef string `json:"account_ref"`
	}
	status, err := p.postJSON(ctx, "/v1/accounts", map[string]string{"email": key}, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusConflict {
		// Unique-email constraint fired at the provider: the account exists.
		return p.FindAccountByEmail(ctx, key)
	}
	if status >= 300 {
		return "", services.NewBadGatewayError("auth provider account create failed")
	}
	return out.AccountRef, nil
}

func (p *HTTPProvider) IssueMagicLink(ctx context.Context, email, redirectURL string) (string, error) {
	key, err := services.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	var out struct {
		Link string `json:"link"`
	}
	status, err := p.postJSON(ctx, "/v1/magic-links", map[string]string{"email": key, "redirect_url": redirectURL}, &out)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", services.NewBadGatewayError("auth provider magic link failed")
	}
	return out.Link, nil
}

func (p *HTTPProvider) postJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	p.setHeaders(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, services.NewBadGatewayError("auth provider unreachable: " + err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, services.NewBadGatewayError("auth provider response decode: " + err.Error())
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

func (p *HTTPProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}

var _ services.AuthProvider = (*HTTPProvider)(nil)
