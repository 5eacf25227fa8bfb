package kirodispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenManager is a minimal, mutex-guarded in-memory TokenManager for
// exercising the dispatcher's control flow in isolation from any real
// credential store.
type fakeTokenManager struct {
	mu sync.Mutex

	ids      []string
	disabled map[string]bool
	cfg      Config

	nextIdx int

	successes       []string
	failures        []string
	quotaExhausted  []string
	acquireSequence []string
}

func newFakeTokenManager(n int, cfg Config) *fakeTokenManager {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("cred-%d", i)
	}
	return &fakeTokenManager{ids: ids, disabled: map[string]bool{}, cfg: cfg}
}

func (f *fakeTokenManager) TotalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func (f *fakeTokenManager) AcquireContext(ctx context.Context) (CallContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < len(f.ids); i++ {
		idx := (f.nextIdx + i) % len(f.ids)
		id := f.ids[idx]
		if !f.disabled[id] {
			f.nextIdx = idx + 1
			f.acquireSequence = append(f.acquireSequence, id)
			return CallContext{CredentialID: id, Snapshot: fakeSnapshot{id}, Token: "tok-" + id}, nil
		}
	}
	return CallContext{}, fmt.Errorf("no usable credential")
}

func (f *fakeTokenManager) ReportSuccess(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, id)
}

func (f *fakeTokenManager) ReportFailure(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, id)
	f.disabled[id] = true
	return f.remainingLocked()
}

func (f *fakeTokenManager) ReportQuotaExhausted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotaExhausted = append(f.quotaExhausted, id)
	f.disabled[id] = true
	return f.remainingLocked()
}

func (f *fakeTokenManager) remainingLocked() bool {
	for _, id := range f.ids {
		if !f.disabled[id] {
			return true
		}
	}
	return false
}

func (f *fakeTokenManager) Config() Config { return f.cfg }

func newTestDispatcher(tokens TokenManager, client HTTPDoer) *Dispatcher {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewDispatcher(tokens, client, fakeDeriver{"machine-test"}, log)
}

// sequencedHandler serves the given status/body pairs in order, then repeats
// the last entry for any further requests.
func sequencedHandler(t *testing.T, responses []struct {
	status int
	body   string
}) http.HandlerFunc {
	var mu sync.Mutex
	i := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		idx := i
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		i++
		mu.Unlock()
		resp := responses[idx]
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}
}

func TestDispatcher_HappyPathSingleCredential(t *testing.T) {
	srv := httptest.NewServer(sequencedHandler(t, []struct {
		status int
		body   string
	}{{200, `{"ok":true}`}}))
	defer srv.Close()

	tokens := newFakeTokenManager(1, Config{Region: "us-east-1"})
	d := newTestDispatcher(tokens, srv.Client())
	primaryTarget.url = func(Config) string { return srv.URL }
	defer func() { primaryTarget.url = func(cfg Config) string { return cfg.BaseURL() } }()

	resp, err := d.CallAPI(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 1, len(tokens.acquireSequence))
	assert.Equal(t, []string{"cred-0"}, tokens.successes)
	assert.Empty(t, tokens.failures)
}

func TestDispatcher_AuthFailover(t *testing.T) {
	srv := httptest.NewServer(sequencedHandler(t, []struct {
		status int
		body   string
	}{{403, `forbidden`}, {200, `ok`}}))
	defer srv.Close()

	tokens := newFakeTokenManager(2, Config{Region: "us-east-1"})
	d := newTestDispatcher(tokens, srv.Client())
	primaryTarget.url = func(Config) string { return srv.URL }
	defer func() { primaryTarget.url = func(cfg Config) string { return cfg.BaseURL() } }()

	start := time.Now()
	resp, err := d.CallAPI(context.Background(), []byte(`{}`))
	elapsed := time.Since(start)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, tokens.acquireSequence, 2)
	assert.NotEqual(t, tokens.acquireSequence[0], tokens.acquireSequence[1])
	assert.Equal(t, []string{tokens.acquireSequence[0]}, tokens.failures)
	assert.Equal(t, []string{tokens.acquireSequence[1]}, tokens.successes)
	assert.Less(t, elapsed, 100*time.Millisecond, "auth failover must not incur backoff")
}

func TestDispatcher_QuotaExhaustionToEmpty(t *testing.T) {
	srv := httptest.NewServer(sequencedHandler(t, []struct {
		status int
		body   string
	}{{402, `{"reason":"MONTHLY_REQUEST_COUNT"}`}}))
	defer srv.Close()

	tokens := newFakeTokenManager(1, Config{Region: "us-east-1"})
	d := newTestDispatcher(tokens, srv.Client())
	primaryTarget.url = func(Config) string { return srv.URL }
	defer func() { primaryTarget.url = func(cfg Config) string { return cfg.BaseURL() } }()

	_, err := d.CallAPI(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, AllCredentialsExhausted, de.Code)
	assert.Len(t, tokens.acquireSequence, 1)
	assert.Equal(t, []string{"cred-0"}, tokens.quotaExhausted)
}

func TestDispatcher_TransientThenSuccessSameCredential(t *testing.T) {
	srv := httptest.NewServer(sequencedHandler(t, []struct {
		status int
		body   string
	}{{503, `unavailable`}, {200, `ok`}}))
	defer srv.Close()

	tokens := newFakeTokenManager(1, Config{Region: "us-east-1"})
	d := newTestDispatcher(tokens, srv.Client())
	primaryTarget.url = func(Config) string { return srv.URL }
	defer func() { primaryTarget.url = func(cfg Config) string { return cfg.BaseURL() } }()

	start := time.Now()
	resp, err := d.CallAPI(context.Background(), []byte(`{}`))
	elapsed := time.Since(start)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, tokens.acquireSequence, 2)
	assert.Equal(t, tokens.acquireSequence[0], tokens.acquireSequence[1], "retry must stay on the same credential")
	assert.Empty(t, tokens.failures)
	assert.Equal(t, []string{"cred-0"}, tokens.successes)
	assert.GreaterOrEqual(t, elapsed, retryBaseDelay, "transient retry must incur backoff")
}

func TestDispatcher_Terminal400(t *testing.T) {
	srv := httptest.NewServer(sequencedHandler(t, []struct {
		status int
		body   string
	}{{400, `bad input`}}))
	defer srv.Close()

	tokens := newFakeTokenManager(3, Config{Region: "us-east-1"})
	d := newTestDispatcher(tokens, srv.Client())
	primaryTarget.url = func(Config) string { return srv.URL }
	defer func() { primaryTarget.url = func(cfg Config) string { return cfg.BaseURL() } }()

	start := time.Now()
	_, err := d.CallAPI(context.Background(), []byte(`{}`))
	elapsed := time.Since(start)
	require.Error(t, err)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, RequestRejected, de.Code)
	assert.Len(t, tokens.acquireSequence, 1)
	assert.Empty(t, tokens.failures)
	assert.Empty(t, tokens.quotaExhausted)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

// neverExhaustedTokenManager simulates a credential pool whose failure
// threshold is softer than one strike (like credstore.Store's
// maxFailingCount): ReportFailure/ReportQuotaExhausted always report a
// credential remains, even though the call keeps failing attempt after
// attempt.
type neverExhaustedTokenManager struct {
	cfg Config
}

func (f *neverExhaustedTokenManager) TotalCount() int { return 2 }
func (f *neverExhaustedTokenManager) Config() Config  { return f.cfg }
func (f *neverExhaustedTokenManager) AcquireContext(ctx context.Context) (CallContext, error) {
	return CallContext{CredentialID: "cred-0", Snapshot: fakeSnapshot{"cred-0"}, Token: "tok"}, nil
}
func (f *neverExhaustedTokenManager) ReportSuccess(string)             {}
func (f *neverExhaustedTokenManager) ReportFailure(string) bool        { return true }
func (f *neverExhaustedTokenManager) ReportQuotaExhausted(string) bool { return true }

// TestDispatcher_AuthFailoverExhaustsCapWithoutClaimingAllCredentialsExhausted
// covers a pool that always reports a credential remains to fail over to, but
// never recovers before the attempt cap is hit. The final error must report
// the plain per-attempt failure, not AllCredentialsExhausted, since the pool
// was never actually drained.
func TestDispatcher_AuthFailoverExhaustsCapWithoutClaimingAllCredentialsExhausted(t *testing.T) {
	srv := httptest.NewServer(sequencedHandler(t, []struct {
		status int
		body   string
	}{{403, `forbidden`}}))
	defer srv.Close()

	tokens := &neverExhaustedTokenManager{cfg: Config{Region: "us-east-1"}}
	d := newTestDispatcher(tokens, srv.Client())
	primaryTarget.url = func(Config) string { return srv.URL }
	defer func() { primaryTarget.url = func(cfg Config) string { return cfg.BaseURL() } }()

	_, err := d.CallAPI(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, UpstreamUnavailable, de.Code)
	assert.NotContains(t, de.Message, "all credentials exhausted")
}

func TestDispatcher_AttemptCap(t *testing.T) {
	srv := httptest.NewServer(sequencedHandler(t, []struct {
		status int
		body   string
	}{{503, `unavailable`}}))
	defer srv.Close()

	tokens := newFakeTokenManager(5, Config{Region: "us-east-1"})
	d := newTestDispatcher(tokens, srv.Client())
	primaryTarget.url = func(Config) string { return srv.URL }
	defer func() { primaryTarget.url = func(cfg Config) string { return cfg.BaseURL() } }()

	_, err := d.CallAPI(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, UpstreamUnavailable, de.Code)
	assert.Len(t, tokens.acquireSequence, 9)
	assert.Empty(t, tokens.failures)
	assert.Empty(t, tokens.quotaExhausted)
}
