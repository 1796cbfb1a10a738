//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("MB_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

// Exercises the endpoints that work without a CRM or a session against a
// running server: health, login-callback reconciliation, the webhook and the
// anonymous membership view.
func TestMemberFlowIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	resp, err := client.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}

	email := fmt.Sprintf("integration_%d@Example.com", time.Now().UnixNano())
	key := strings.ToLower(email)

	var callbackResp struct {
		Action string `json:"action"`
		Member struct {
			IdentityKey string `json:"identity_key"`
			IsMember    bool   `json:"is_member"`
		} `json:"member"`
	}
	doPost(t, client, base+"/api/auth/callback", "", map[string]any{
		"email":            email,
		"is_member":        true,
		"membership_level": "active",
	}, &callbackResp)
	if callbackResp.Action != "created" || callbackResp.Member.IdentityKey != key || !callbackResp.Member.IsMember {
		t.Fatalf("unexpected callback response: %+v", callbackResp)
	}

	// same email again is an update on the same row
	doPost(t, client, base+"/api/auth/callback", "", map[string]any{"email": key}, &callbackResp)
	if callbackResp.Action != "updated" || !callbackResp.Member.IsMember {
		t.Fatalf("second callback: %+v", callbackResp)
	}

	var webhookResp struct {
		IsMember bool `json:"is_member"`
	}
	doPost(t, client, base+"/api/crm/webhook", "", map[string]any{
		"email":             key,
		"membership_status": "lapsed",
	}, &webhookResp)
	if webhookResp.IsMember {
		t.Fatalf("webhook should have flipped membership off: %+v", webhookResp)
	}

	var meResp struct {
		IsMember bool   `json:"is_member"`
		Email    string `json:"email"`
	}
	doGet(t, client, base+"/api/me", &meResp)
	if meResp.IsMember || meResp.Email != "" {
		t.Fatalf("anonymous /api/me must be a non-member view: %+v", meResp)
	}

	// unknown survey surfaces as not_found, not a silent success
	req, err := http.NewRequest(http.MethodPost, base+"/api/surveys/does-not-exist/public",
		strings.NewReader(`{"email":"`+key+`","answers":[{"question_id":"q1","value_text":"x"}]}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("public save request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("public save status %d body %s", resp.StatusCode, string(body))
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("post %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post %s status %d body %s", url, resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s response %q: %v", url, string(data), err)
		}
	}
}

func doGet(t *testing.T, client *http.Client, url string, out any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s status %d body %s", url, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s response %q: %v", url, string(data), err)
	}
}
