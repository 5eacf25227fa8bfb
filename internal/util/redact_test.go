package util

import (
	"encoding/json"
	"testing"
)

func TestRedactSensitiveJSON(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		wantKeys map[string]string
		wantOut  string
	}{
		{
			name:     "redacts top-level token",
			in:       `{"access_token":"abc123","region":"us-east-1"}`,
			wantKeys: map[string]string{"access_token": redactedValue, "region": "us-east-1"},
		},
		{
			name:     "redacts nested secret",
			in:       `{"credential":{"client_secret":"shh","client_id":"ok"}}`,
			wantKeys: nil,
			wantOut:  `{"credential":{"client_id":"ok","client_secret":"[REDACTED]"}}`,
		},
		{
			name:     "non-json passthrough",
			in:       "not json at all",
			wantKeys: nil,
			wantOut:  "not json at all",
		},
		{
			name:     "empty body passthrough",
			in:       "",
			wantKeys: nil,
			wantOut:  "",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			out := RedactSensitiveJSON([]byte(tt.in))
			if tt.wantKeys == nil {
				if string(out) != tt.wantOut {
					t.Errorf("RedactSensitiveJSON(%q) = %q, want %q", tt.in, out, tt.wantOut)
				}
				return
			}
			var got map[string]any
			if err := json.Unmarshal(out, &got); err != nil {
				t.Fatalf("unmarshal redacted output: %v", err)
			}
			for k, want := range tt.wantKeys {
				if got[k] != want {
					t.Errorf("key %q = %v, want %v", k, got[k], want)
				}
			}
		})
	}
}

func TestRedactSensitiveJSON_NestedAndArrays(t *testing.T) {
	in := `{"credential":{"client_secret":"shh"},"list":[{"password":"p"},{"region":"x"}]}`
	out := RedactSensitiveJSON([]byte(in))

	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal redacted output: %v", err)
	}
	cred, ok := got["credential"].(map[string]any)
	if !ok {
		t.Fatalf("credential field missing or wrong type")
	}
	if cred["client_secret"] != redactedValue {
		t.Errorf("nested client_secret = %v, want %v", cred["client_secret"], redactedValue)
	}
	list, ok := got["list"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("list field missing or wrong shape: %v", got["list"])
	}
	first, _ := list[0].(map[string]any)
	if first["password"] != redactedValue {
		t.Errorf("list[0].password = %v, want %v", first["password"], redactedValue)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{"Authorization", "Cookie", "api_key", "apiKey", "client_secret", "refresh_token", "Password"}
	for _, k := range sensitive {
		if !isSensitiveKey(k) {
			t.Errorf("isSensitiveKey(%q) = false, want true", k)
		}
	}
	benign := []string{"region", "status", "model", "id"}
	for _, k := range benign {
		if isSensitiveKey(k) {
			t.Errorf("isSensitiveKey(%q) = true, want false", k)
		}
	}
}
