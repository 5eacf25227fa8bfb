package kirodispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// HTTPDoer is the subset of *http.Client the dispatcher needs. Tests supply
// a fake; production wiring supplies a pooled, proxy- and TLS-backend-aware
// client built by internal/httpclientfactory.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HeaderBuilder produces the header set for one attempt.
type HeaderBuilder func(ctx CallContext, cfg Config, deriver MachineIDDeriver) (http.Header, error)

// origin is the Kiro-specific body field toggled across attempts by attempt
// index, whatever the previous attempt's outcome was. It is folded into the
// request body by rewriteOrigin, never inspected by the classifier.
type origin string

const (
	originAIEditor origin = "AI_EDITOR"
	originCLI      origin = "CLI"
)

// originFallbackSequence is tried in order across attempts on the primary
// endpoint; MCP calls never rewrite origin.
var originFallbackSequence = []origin{originAIEditor, originCLI}

// rewriteOrigin patches a top-level "origin" string field in body, if
// present, to the given origin. Bodies without the field are returned
// unchanged: origin fallback is best-effort and never a precondition for
// dispatch. Malformed JSON is also returned unchanged, leaving the outcome
// to the upstream call itself rather than failing the attempt here.
func rewriteOrigin(body []byte, o origin) []byte {
	if !gjson.GetBytes(body, "origin").Exists() {
		return body
	}
	out, err := sjson.SetBytes(body, "origin", string(o))
	if err != nil {
		return body
	}
	return out
}

// Dispatcher is the resilient request dispatcher: it couples a TokenManager
// to an HTTP client and runs the bounded retry/failover state machine
// described for call_api, call_api_stream, and call_mcp. A Dispatcher holds
// no per-call mutable state and is safe for concurrent use.
type Dispatcher struct {
	Tokens  TokenManager
	Client  HTTPDoer
	Deriver MachineIDDeriver
	Log     *logrus.Logger
}

// NewDispatcher wires a Dispatcher from its three collaborators. log may be
// nil, in which case a standard logrus.Logger with default settings is used.
func NewDispatcher(tokens TokenManager, client HTTPDoer, deriver MachineIDDeriver, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{Tokens: tokens, Client: client, Deriver: deriver, Log: log}
}

// CallAPI sends body to the primary (non-streaming) endpoint.
func (d *Dispatcher) CallAPI(ctx context.Context, body []byte) (*http.Response, error) {
	return d.dispatch(ctx, "call_api", body, primaryTarget)
}

// CallAPIStream sends body to the primary endpoint for streaming consumption.
// It is behaviorally identical to CallAPI; the label exists for observability
// only, matching what the response is used for downstream.
func (d *Dispatcher) CallAPIStream(ctx context.Context, body []byte) (*http.Response, error) {
	return d.dispatch(ctx, "call_api_stream", body, primaryTarget)
}

// CallMCP sends body to the MCP tool-invocation endpoint.
func (d *Dispatcher) CallMCP(ctx context.Context, body []byte) (*http.Response, error) {
	return d.dispatch(ctx, "call_mcp", body, mcpTarget)
}

// target bundles the per-endpoint URL, header builder, and whether origin
// fallback rewriting applies.
type target struct {
	url           func(Config) string
	buildHeaders  HeaderBuilder
	rewriteOrigin bool
}

var primaryTarget = target{
	url:           func(cfg Config) string { return cfg.BaseURL() },
	buildHeaders:  BuildPrimaryHeaders,
	rewriteOrigin: true,
}

var mcpTarget = target{
	url:           func(cfg Config) string { return cfg.MCPURL() },
	buildHeaders:  BuildMCPHeaders,
	rewriteOrigin: false,
}

func (d *Dispatcher) dispatch(ctx context.Context, label string, body []byte, t target) (*http.Response, error) {
	cfg := d.Tokens.Config()
	cap := attemptCap(d.Tokens.TotalCount())
	var lastErr *DispatchError

	for attempt := 0; attempt < cap; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		callCtx, err := d.Tokens.AcquireContext(ctx)
		if err != nil {
			lastErr = acquireError(label, err)
			continue
		}

		headers, err := t.buildHeaders(callCtx, cfg, d.Deriver)
		if err != nil {
			if de, ok := err.(*DispatchError); ok {
				lastErr = de
			} else {
				lastErr = &DispatchError{Code: HeaderBuildFailure, Message: err.Error()}
			}
			continue
		}

		attemptBody := body
		if t.rewriteOrigin {
			attemptBody = rewriteOrigin(body, originFallbackSequence[attempt%len(originFallbackSequence)])
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(cfg), bytes.NewReader(attemptBody))
		if err != nil {
			lastErr = networkError(label, err)
			return nil, lastErr
		}
		req.Header = headers

		resp, err := d.Client.Do(req)
		if err != nil {
			lastErr = networkError(label, err)
			attemptsTotal.WithLabelValues(label, "network_failure").Inc()
			d.Log.WithFields(logrus.Fields{"label": label, "attempt": attempt}).Warn(lastErr.Message)
			if attempt+1 < cap {
				retriesTotal.WithLabelValues(label).Inc()
				if slept := d.sleep(ctx, retryDelay(attempt)); slept != nil {
					return nil, slept
				}
			}
			continue
		}

		outcome, status, respBody := d.classifyResponse(resp)
		attemptsTotal.WithLabelValues(label, outcomeLabel(outcome)).Inc()
		if outcome == OutcomeSuccess {
			d.Tokens.ReportSuccess(callCtx.CredentialID)
			return resp, nil
		}

		switch outcome {
		case OutcomeQuotaExhausted:
			if !d.Tokens.ReportQuotaExhausted(callCtx.CredentialID) {
				credentialsExhaustedTotal.WithLabelValues(label).Inc()
				return nil, allCredentialsExhaustedError(label, status, respBody)
			}
			failoversTotal.WithLabelValues(label).Inc()
			lastErr = failoverError(label, status, respBody)
			continue

		case OutcomeBadRequest:
			return nil, requestRejectedError(label, status, respBody)

		case OutcomeAuthFailure:
			if !d.Tokens.ReportFailure(callCtx.CredentialID) {
				credentialsExhaustedTotal.WithLabelValues(label).Inc()
				return nil, allCredentialsExhaustedError(label, status, respBody)
			}
			failoversTotal.WithLabelValues(label).Inc()
			lastErr = failoverError(label, status, respBody)
			continue

		case OutcomeOtherClient:
			return nil, requestRejectedError(label, status, respBody)

		default: // OutcomeTransient, OutcomeUnknown
			lastErr = transientError(label, status, respBody)
			d.Log.WithFields(logrus.Fields{"label": label, "attempt": attempt, "status": status}).Warn(lastErr.Message)
			if attempt+1 < cap {
				retriesTotal.WithLabelValues(label).Inc()
				if slept := d.sleep(ctx, retryDelay(attempt)); slept != nil {
					return nil, slept
				}
			}
			continue
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, retriesExceededError(label, cap)
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func outcomeLabel(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeQuotaExhausted:
		return "quota_exhausted"
	case OutcomeTransient:
		return "transient"
	case OutcomeOtherClient:
		return "other_client"
	default:
		return "unknown"
	}
}

// classifyResponse reads the response body only when the attempt was not a
// success; successful responses are returned undrained so the caller owns
// streaming semantics.
func (d *Dispatcher) classifyResponse(resp *http.Response) (Outcome, int, string) {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return OutcomeSuccess, status, ""
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()
	if err != nil {
		return Classify(status, nil), status, ""
	}
	return Classify(status, raw), status, strings.TrimSpace(string(raw))
}
