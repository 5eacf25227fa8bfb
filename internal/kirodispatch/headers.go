package kirodispatch

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// MachineIDDeriver produces the opaque machine identity embedded in outgoing
// user-agent headers. It is pure over a credential snapshot and the dispatch
// configuration; an empty return value means derivation failed.
type MachineIDDeriver interface {
	Derive(snapshot CredentialSnapshot, cfg Config) string
}

// amzSDKRequestHeader is a literal AWS-SDK artifact: it does not reflect the
// actual attempt index or retry budget of this call. Do not "fix" it.
const amzSDKRequestHeader = "attempt=1; max=3"

func userAgentStrings(cfg Config, machineID string) (xAmzUserAgent, userAgent string) {
	xAmzUserAgent = fmt.Sprintf("aws-sdk-js/1.0.27 KiroIDE-%s-%s", cfg.KiroVersion, machineID)
	userAgent = fmt.Sprintf(
		"aws-sdk-js/1.0.27 ua/2.1 os/%s lang/js md/nodejs#%s api/codewhispererstreaming#1.0.27 m/E KiroIDE-%s-%s",
		cfg.SystemVersion, cfg.NodeVersion, cfg.KiroVersion, machineID,
	)
	return xAmzUserAgent, userAgent
}

// BuildPrimaryHeaders assembles the header set for the generateAssistantResponse
// endpoint. It returns an error if machine-id derivation fails; that failure
// is structural (an incomplete credential), never attributed to the
// credential as an auth failure.
func BuildPrimaryHeaders(ctx CallContext, cfg Config, deriver MachineIDDeriver) (http.Header, error) {
	machineID := deriver.Derive(ctx.Snapshot, cfg)
	if machineID == "" {
		return nil, &DispatchError{Code: HeaderBuildFailure, Message: "machine_id derivation failed"}
	}
	xAmzUserAgent, userAgent := userAgentStrings(cfg, machineID)

	h := make(http.Header, 10)
	h.Set("Content-Type", "application/json")
	h.Set("x-amzn-codewhisperer-optout", "true")
	h.Set("x-amzn-kiro-agent-mode", "vibe")
	h.Set("x-amz-user-agent", xAmzUserAgent)
	h.Set("User-Agent", userAgent)
	h.Set("Host", cfg.HostHeader())
	h.Set("amz-sdk-invocation-id", uuid.NewString())
	h.Set("amz-sdk-request", amzSDKRequestHeader)
	h.Set("Authorization", "Bearer "+ctx.Token)
	h.Set("Connection", "close")
	return h, nil
}

// BuildMCPHeaders assembles the header set for the MCP tool-invocation
// endpoint. It deliberately omits x-amzn-codewhisperer-optout and
// x-amzn-kiro-agent-mode, which the primary endpoint requires and the MCP
// endpoint rejects.
func BuildMCPHeaders(ctx CallContext, cfg Config, deriver MachineIDDeriver) (http.Header, error) {
	machineID := deriver.Derive(ctx.Snapshot, cfg)
	if machineID == "" {
		return nil, &DispatchError{Code: HeaderBuildFailure, Message: "machine_id derivation failed"}
	}
	xAmzUserAgent, userAgent := userAgentStrings(cfg, machineID)

	h := make(http.Header, 8)
	h.Set("content-type", "application/json")
	h.Set("x-amz-user-agent", xAmzUserAgent)
	h.Set("user-agent", userAgent)
	h.Set("host", cfg.HostHeader())
	h.Set("amz-sdk-invocation-id", uuid.NewString())
	h.Set("amz-sdk-request", amzSDKRequestHeader)
	h.Set("Authorization", "Bearer "+ctx.Token)
	h.Set("Connection", "close")
	return h, nil
}
