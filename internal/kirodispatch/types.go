// Package kirodispatch implements the resilient request dispatcher that
// fronts the Kiro (Amazon Q) coding-assistant endpoint: credential
// acquisition, header assembly, transient-error retry with backoff, and
// multi-credential failover, independent of how credentials are stored
// or how request/response bodies are translated.
package kirodispatch

import "fmt"

// Config is the read-only configuration snapshot the dispatcher consumes.
// It never mutates for the lifetime of a call.
type Config struct {
	// Region selects the AWS region embedded in the Kiro endpoint URLs.
	Region string
	// KiroVersion is embedded in both user-agent headers.
	KiroVersion string
	// SystemVersion is the host OS identifier embedded in the User-Agent header.
	SystemVersion string
	// NodeVersion is the Node.js runtime version embedded in the User-Agent header.
	NodeVersion string
}

// BaseURL returns the primary generateAssistantResponse endpoint for the region.
func (c Config) BaseURL() string {
	return fmt.Sprintf("https://q.%s.amazonaws.com/generateAssistantResponse", c.Region)
}

// MCPURL returns the MCP tool-invocation endpoint for the region.
func (c Config) MCPURL() string {
	return fmt.Sprintf("https://q.%s.amazonaws.com/mcp", c.Region)
}

// HostHeader returns the Host header value for the region.
func (c Config) HostHeader() string {
	return fmt.Sprintf("q.%s.amazonaws.com", c.Region)
}

// CallContext is the lease granted by a TokenManager for a single attempt.
// It pairs a stable credential identity with a bearer token that is valid
// as-is; the two are guaranteed internally consistent by the manager that
// issued them. A CallContext is consumed by exactly one attempt and is
// never mutated.
type CallContext struct {
	// CredentialID is the opaque, process-lifetime-stable credential identifier.
	CredentialID string
	// Snapshot carries whatever the credential record exposes for machine-id
	// derivation; the dispatcher never inspects its contents directly.
	Snapshot CredentialSnapshot
	// Token is the bearer token to send as-is in the Authorization header.
	Token string
}

// CredentialSnapshot is the read-only view of a credential record needed to
// derive a machine identity. It is opaque to the dispatcher itself and is
// only threaded through to the MachineIDDeriver.
type CredentialSnapshot interface {
	// CredentialKey returns a value stable across refreshes of the same
	// underlying account, used as the seed for machine-id derivation.
	CredentialKey() string
}
