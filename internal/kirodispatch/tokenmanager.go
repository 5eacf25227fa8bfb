package kirodispatch

import "context"

// TokenManager is the dispatcher's sole view of the credential pool. It owns
// credential selection, health bookkeeping, and configuration; the
// dispatcher never reaches into a credential store directly.
//
// Implementations must be safe for concurrent use: AcquireContext may be
// called from many goroutines serving concurrent calls, and ReportSuccess /
// ReportFailure / ReportQuotaExhausted may race with each other and with
// AcquireContext.
type TokenManager interface {
	// TotalCount returns the number of credentials currently known to the
	// pool, including ones presently disabled. The dispatcher uses this to
	// compute the per-call attempt cap; it is read once per call, not once
	// per attempt, so a pool resize mid-call does not change an in-flight
	// call's budget.
	TotalCount() int

	// AcquireContext leases a non-disabled credential for a single attempt. It
	// returns an error only when no usable credential exists (none present,
	// or all disabled).
	AcquireContext(ctx context.Context) (CallContext, error)

	// ReportSuccess records that credentialID served a request successfully,
	// resetting any accumulated failure count for that credential.
	ReportSuccess(credentialID string)

	// ReportFailure records an auth/permission failure attributed to
	// credentialID (only OutcomeAuthFailure triggers this; callers should not
	// call it for transient or client-side outcomes). It returns true if at
	// least one non-disabled credential remains in the pool afterwards.
	ReportFailure(credentialID string) bool

	// ReportQuotaExhausted marks credentialID as disabled for quota
	// exhaustion, independent of the failure-count path. It returns true if
	// at least one non-disabled credential remains in the pool afterwards.
	ReportQuotaExhausted(credentialID string) bool

	// Config returns the dispatch configuration snapshot in effect for the
	// pool. It is consulted once per call.
	Config() Config
}
