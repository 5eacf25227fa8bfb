package kirodispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshot struct{ key string }

func (f fakeSnapshot) CredentialKey() string { return f.key }

type fakeDeriver struct{ machineID string }

func (f fakeDeriver) Derive(CredentialSnapshot, Config) string { return f.machineID }

func testConfig() Config {
	return Config{Region: "us-east-1", KiroVersion: "0.1.25", SystemVersion: "win32", NodeVersion: "20.11.0"}
}

func TestBuildPrimaryHeaders(t *testing.T) {
	ctx := CallContext{CredentialID: "cred-1", Snapshot: fakeSnapshot{"k"}, Token: "tok-123"}
	h, err := BuildPrimaryHeaders(ctx, testConfig(), fakeDeriver{"machine-abc"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "true", h.Get("x-amzn-codewhisperer-optout"))
	assert.Equal(t, "vibe", h.Get("x-amzn-kiro-agent-mode"))
	assert.Equal(t, "q.us-east-1.amazonaws.com", h.Get("Host"))
	assert.Equal(t, "attempt=1; max=3", h.Get("amz-sdk-request"))
	assert.Equal(t, "Bearer tok-123", h.Get("Authorization"))
	assert.Equal(t, "close", h.Get("Connection"))
	assert.Contains(t, h.Get("x-amz-user-agent"), "machine-abc")
	assert.Contains(t, h.Get("x-amz-user-agent"), "0.1.25")
	assert.Contains(t, h.Get("User-Agent"), "machine-abc")
	assert.NotEmpty(t, h.Get("amz-sdk-invocation-id"))
}

func TestBuildPrimaryHeadersFailsOnEmptyMachineID(t *testing.T) {
	ctx := CallContext{CredentialID: "cred-1", Snapshot: fakeSnapshot{"k"}, Token: "tok"}
	_, err := BuildPrimaryHeaders(ctx, testConfig(), fakeDeriver{""})
	require.Error(t, err)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, HeaderBuildFailure, de.Code)
}

func TestBuildMCPHeadersOmitsKiroSpecificFields(t *testing.T) {
	ctx := CallContext{CredentialID: "cred-1", Snapshot: fakeSnapshot{"k"}, Token: "tok-456"}
	h, err := BuildMCPHeaders(ctx, testConfig(), fakeDeriver{"machine-xyz"})
	require.NoError(t, err)

	assert.Empty(t, h.Get("x-amzn-codewhisperer-optout"))
	assert.Empty(t, h.Get("x-amzn-kiro-agent-mode"))
	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "Bearer tok-456", h.Get("Authorization"))
	assert.Equal(t, "close", h.Get("Connection"))
}

func TestBuildMCPHeadersFailsOnEmptyMachineID(t *testing.T) {
	ctx := CallContext{CredentialID: "cred-1", Snapshot: fakeSnapshot{"k"}, Token: "tok"}
	_, err := BuildMCPHeaders(ctx, testConfig(), fakeDeriver{""})
	require.Error(t, err)
}
