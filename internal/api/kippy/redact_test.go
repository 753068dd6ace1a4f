package kippy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactNestedSensitiveFields(t *testing.T) {
	payload := map[string]any{
		"app_code": "secret",
		"list":     []any{map[string]any{"petID": 1, "petName": "Rex"}},
	}

	out, err := json.Marshal(redact(payload))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "secret") {
		t.Errorf("app_code not redacted: %s", s)
	}
	if !strings.Contains(s, `"petID":"***"`) {
		t.Errorf("nested petID not redacted: %s", s)
	}
	if !strings.Contains(s, "Rex") {
		t.Errorf("non-sensitive field must survive: %s", s)
	}
}

func TestRedactLoginCoversCredentialFields(t *testing.T) {
	payload := map[string]any{
		"login_email":         "user@example.com",
		"login_password_hash": "abc",
		"app_version":         "2.9.9",
	}

	out, err := json.Marshal(redactLogin(payload))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "user@example.com") || strings.Contains(s, `"abc"`) {
		t.Errorf("credentials not redacted: %s", s)
	}
	if !strings.Contains(s, "2.9.9") {
		t.Errorf("app_version must survive: %s", s)
	}
}

func TestRedactJSONLeavesInvalidInputUntouched(t *testing.T) {
	if got := redactJSON([]byte("not json")); got != "not json" {
		t.Errorf("redactJSON = %q, want passthrough", got)
	}
	got := redactJSON([]byte(`{"auth_token":"tok","battery":90}`))
	if strings.Contains(got, "tok") {
		t.Errorf("auth_token not redacted: %s", got)
	}
	if !strings.Contains(got, "90") {
		t.Errorf("battery must survive: %s", got)
	}
}
