package providers

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return header + "." + body + "." + sig
}

func TestExtractCodexAccountID(t *testing.T) {
	token := makeJWT(t, map[string]any{
		codexJWTClaimPath: map[string]any{"chatgpt_account_id": "acct_123"},
	})
	accountID, err := extractCodexAccountID(token)
	if err != nil {
		t.Fatalf("extractCodexAccountID: %v", err)
	}
	if accountID != "acct_123" {
		t.Errorf("accountID = %q", accountID)
	}
}

func TestExtractCodexAccountIDErrors(t *testing.T) {
	if _, err := extractCodexAccountID("not-a-jwt"); err == nil {
		t.Error("malformed token should fail")
	}
	token := makeJWT(t, map[string]any{"sub": "nobody"})
	if _, err := extractCodexAccountID(token); err == nil {
		t.Error("token without auth claim should fail")
	}
}

func TestResolveCodexURL(t *testing.T) {
	cases := map[string]string{
		"":                                     "https://chatgpt.com/backend-api/codex/responses",
		"https://chatgpt.com/backend-api":      "https://chatgpt.com/backend-api/codex/responses",
		"https://proxy.local/codex":            "https://proxy.local/codex/responses",
		"https://proxy.local/codex/responses/": "https://proxy.local/codex/responses",
	}
	for in, want := range cases {
		if got := resolveCodexURL(in); got != want {
			t.Errorf("resolveCodexURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClampCodexReasoningEffort(t *testing.T) {
	cases := []struct {
		model, effort, want string
	}{
		{"gpt-5.2", "minimal", "low"},
		{"gpt-5.2", "xhigh", "xhigh"},
		{"gpt-5.1", "xhigh", "high"},
		{"gpt-5.1-codex-mini", "low", "medium"},
		{"gpt-5.1-codex-mini", "xhigh", "high"},
		{"gpt-5.1-codex", "high", "high"},
	}
	for _, tc := range cases {
		if got := clampCodexReasoningEffort(tc.model, tc.effort); got != tc.want {
			t.Errorf("clamp(%s, %s) = %s, want %s", tc.model, tc.effort, got, tc.want)
		}
	}
}
