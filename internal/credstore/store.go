package credstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirorelay/kirorelay/internal/kirodispatch"
	"github.com/sirupsen/logrus"
)

// refreshGraceWindow is the expiring-soon grace window (5 * time.Minute)
// check: a token within this window of expiry is refreshed eagerly rather
// than left to fail on the wire.
const refreshGraceWindow = 5 * time.Minute

// Store is the concrete kirodispatch.TokenManager: a mutex-guarded,
// round-robin pool of credentials with refresh-on-acquire and health-state
// transitions. It satisfies kirodispatch.TokenManager in full.
type Store struct {
	mu       sync.Mutex
	creds    []*Credential
	byID     map[string]*Credential
	nextIdx  int
	cfg      kirodispatch.Config
	client   Refresher
	log      *logrus.Logger
}

// NewStore builds a Store from an initial credential set. client performs
// token-refresh HTTP calls; log may be nil (defaults to logrus's standard
// logger).
func NewStore(creds []*Credential, cfg kirodispatch.Config, client Refresher, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	byID := make(map[string]*Credential, len(creds))
	for _, c := range creds {
		byID[c.ID] = c
	}
	return &Store{creds: creds, byID: byID, cfg: cfg, client: client, log: log}
}

// TotalCount implements kirodispatch.TokenManager.
func (s *Store) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creds)
}

// Config implements kirodispatch.TokenManager.
func (s *Store) Config() kirodispatch.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// AcquireContext implements kirodispatch.TokenManager. It selects the next
// non-disabled credential round-robin, refreshing its token in place if it
// is expired or expiring soon.
func (s *Store) AcquireContext(ctx context.Context) (kirodispatch.CallContext, error) {
	s.mu.Lock()
	n := len(s.creds)
	if n == 0 {
		s.mu.Unlock()
		return kirodispatch.CallContext{}, fmt.Errorf("credential pool is empty")
	}
	var picked *Credential
	for i := 0; i < n; i++ {
		idx := (s.nextIdx + i) % n
		c := s.creds[idx]
		if !c.disabled() {
			picked = c
			s.nextIdx = idx + 1
			break
		}
	}
	s.mu.Unlock()

	if picked == nil {
		return kirodispatch.CallContext{}, fmt.Errorf("no non-disabled credential available")
	}

	s.mu.Lock()
	err := refreshIfNeeded(ctx, s.client, picked, refreshGraceWindow)
	token := picked.AccessToken
	id := picked.ID
	s.mu.Unlock()
	if err != nil {
		return kirodispatch.CallContext{}, fmt.Errorf("refresh for %s: %w", id, err)
	}

	return kirodispatch.CallContext{CredentialID: id, Snapshot: picked, Token: token}, nil
}

// ReportSuccess implements kirodispatch.TokenManager.
func (s *Store) ReportSuccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return
	}
	c.Health = HealthHealthy
	c.FailingCount = 0
	now := time.Now()
	c.resetDailyQuotaIfNeeded(now)
	c.DailyRequestCount++
}

// ReportFailure implements kirodispatch.TokenManager.
func (s *Store) ReportFailure(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if ok {
		c.FailingCount++
		if c.FailingCount >= maxFailingCount {
			c.Health = HealthDisabledUnhealthy
			s.log.WithFields(logrus.Fields{"credential": id}).Warn("credential disabled after repeated auth failures")
		} else {
			c.Health = HealthFailing
		}
	}
	return s.remainingLocked()
}

// ReportQuotaExhausted implements kirodispatch.TokenManager.
func (s *Store) ReportQuotaExhausted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[id]; ok {
		wasDisabled := c.disabled()
		c.Health = HealthDisabledQuotaExhausted
		if !wasDisabled {
			s.log.WithFields(logrus.Fields{"credential": id}).Warn("credential disabled: monthly quota exhausted")
		}
	}
	return s.remainingLocked()
}

func (s *Store) remainingLocked() bool {
	for _, c := range s.creds {
		if !c.disabled() {
			return true
		}
	}
	return false
}

// ReplacePool swaps the store's credential set wholesale, preserving health
// state for any credential ID present in both the old and new sets. It is
// the onChange hook WatchPool drives: a config edit may add, remove, or
// relabel credentials, so an in-place merge by field would be ambiguous.
func (s *Store) ReplacePool(creds []*Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range creds {
		if prev, ok := s.byID[c.ID]; ok {
			c.Health = prev.Health
			c.FailingCount = prev.FailingCount
			c.DailyRequestCount = prev.DailyRequestCount
			c.DailyResetAt = prev.DailyResetAt
		}
	}
	byID := make(map[string]*Credential, len(creds))
	for _, c := range creds {
		byID[c.ID] = c
	}
	s.creds = creds
	s.byID = byID
	s.nextIdx = 0
}

// Snapshot returns a shallow copy of the pool's health for observability
// endpoints (e.g. /healthz); callers must not mutate the returned slice's
// Credential values.
func (s *Store) Snapshot() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Credential, len(s.creds))
	for i, c := range s.creds {
		out[i] = *c
	}
	return out
}
