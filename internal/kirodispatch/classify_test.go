package kirodispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Outcome
	}{
		{"200 ok", 200, "", OutcomeSuccess},
		{"201 created", 201, "", OutcomeSuccess},
		{"299 edge", 299, "", OutcomeSuccess},
		{"400 bad request", 400, "", OutcomeBadRequest},
		{"401 unauthorized", 401, "", OutcomeAuthFailure},
		{"403 forbidden", 403, "", OutcomeAuthFailure},
		{"402 without marker", 402, `{"reason":"OTHER"}`, OutcomeOtherClient},
		{"402 with substring marker", 402, `plain text MONTHLY_REQUEST_COUNT exceeded`, OutcomeQuotaExhausted},
		{"402 with top-level reason field", 402, `{"reason":"MONTHLY_REQUEST_COUNT"}`, OutcomeQuotaExhausted},
		{"402 with nested error.reason field", 402, `{"error":{"reason":"MONTHLY_REQUEST_COUNT"}}`, OutcomeQuotaExhausted},
		{"408 request timeout", 408, "", OutcomeTransient},
		{"429 too many requests", 429, "", OutcomeTransient},
		{"500 internal error", 500, "", OutcomeTransient},
		{"503 unavailable", 503, "", OutcomeTransient},
		{"404 not found", 404, "", OutcomeOtherClient},
		{"422 unprocessable", 422, "", OutcomeOtherClient},
		{"100 continue falls to unknown", 100, "", OutcomeUnknown},
		{"301 redirect falls to unknown", 301, "", OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, []byte(tt.body)))
		})
	}
}

func TestIsMonthlyQuotaExceeded(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"empty body", "", false},
		{"non-json substring match", "error: MONTHLY_REQUEST_COUNT limit hit", true},
		{"invalid json without substring", "{not json", false},
		{"json without reason field", `{"message":"nope"}`, false},
		{"json with unrelated reason", `{"reason":"RATE_LIMIT"}`, false},
		{"json with top-level reason match", `{"reason":"MONTHLY_REQUEST_COUNT"}`, true},
		{"json with nested error.reason match", `{"error":{"reason":"MONTHLY_REQUEST_COUNT","code":402}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMonthlyQuotaExceeded([]byte(tt.body)))
		})
	}
}
