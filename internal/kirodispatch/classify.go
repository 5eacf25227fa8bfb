package kirodispatch

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Outcome classifies the result of a single HTTP attempt against Kiro.
type Outcome int

const (
	// OutcomeSuccess is any 2xx response.
	OutcomeSuccess Outcome = iota
	// OutcomeBadRequest is a 400: fatal to the call, never attributed to the credential.
	OutcomeBadRequest
	// OutcomeAuthFailure is a 401 or 403: attributed to the credential.
	OutcomeAuthFailure
	// OutcomeQuotaExhausted is a 402 carrying the monthly-quota marker: attributed
	// to the credential as quota exhaustion.
	OutcomeQuotaExhausted
	// OutcomeTransient is a 408, 429, or 5xx: retried without credential attribution.
	OutcomeTransient
	// OutcomeOtherClient is any other 4xx: fatal to the call, not attributed.
	OutcomeOtherClient
	// OutcomeUnknown is anything not covered above: retried like OutcomeTransient.
	OutcomeUnknown
)

// monthlyQuotaMarker is the literal substring AWS embeds in the quota-exceeded
// error body.
const monthlyQuotaMarker = "MONTHLY_REQUEST_COUNT"

// Classify maps an HTTP status code and response body to an Outcome. body may
// be empty (e.g. when it could not be read) without affecting classification
// for any status other than 402.
func Classify(status int, body []byte) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusBadRequest:
		return OutcomeBadRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeAuthFailure
	case status == http.StatusPaymentRequired:
		if IsMonthlyQuotaExceeded(body) {
			return OutcomeQuotaExhausted
		}
		return OutcomeOtherClient
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return OutcomeTransient
	case status >= 400 && status < 500:
		return OutcomeOtherClient
	default:
		return OutcomeUnknown
	}
}

// IsMonthlyQuotaExceeded reports whether body indicates the Kiro service has
// stopped serving a credential for the billing period. It checks, in order:
// a literal substring match, a top-level "reason" field, and a nested
// "error.reason" field.
func IsMonthlyQuotaExceeded(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if strings.Contains(string(body), monthlyQuotaMarker) {
		return true
	}
	if !gjson.ValidBytes(body) {
		return false
	}
	if gjson.GetBytes(body, "reason").String() == monthlyQuotaMarker {
		return true
	}
	return gjson.GetBytes(body, "error.reason").String() == monthlyQuotaMarker
}
