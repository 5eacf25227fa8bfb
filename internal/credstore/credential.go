// Package credstore implements the concrete credential pool that backs
// kirodispatch.TokenManager: persistence, health-state bookkeeping, OAuth2
// token refresh (both the "social" and AWS Builder ID flows), machine-id
// derivation, and daily/monthly quota accounting for a pool of Kiro
// credentials.
package credstore

import "time"

// AuthMethod distinguishes the two OAuth2 refresh flows a credential may use.
type AuthMethod string

const (
	AuthMethodSocial     AuthMethod = "social"
	AuthMethodBuilderID  AuthMethod = "builder-id"
)

// HealthState is the lifecycle state of a credential in the pool.
type HealthState string

const (
	// HealthHealthy credentials are eligible for acquisition.
	HealthHealthy HealthState = "healthy"
	// HealthFailing credentials have accumulated auth failures but are
	// still eligible; FailingCount tracks how many.
	HealthFailing HealthState = "failing"
	// HealthDisabledUnhealthy credentials are permanently excluded until an
	// operator intervenes: too many consecutive auth failures.
	HealthDisabledUnhealthy HealthState = "disabled_unhealthy"
	// HealthDisabledQuotaExhausted credentials are excluded until the
	// monthly quota window resets upstream; no local timer clears this.
	HealthDisabledQuotaExhausted HealthState = "disabled_quota_exhausted"
)

// maxFailingCount is how many consecutive auth failures a credential
// tolerates before the pool disables it outright.
const maxFailingCount = 3

// Credential is one entry in the pool: an OAuth2-backed identity plus the
// health and quota bookkeeping the dispatcher's TokenManager contract needs.
type Credential struct {
	ID     string `yaml:"id" json:"id"`
	Label  string `yaml:"label" json:"label"`
	Region string `yaml:"region" json:"region"`

	AuthMethod   AuthMethod `yaml:"auth_method" json:"auth_method"`
	AccessToken  string     `yaml:"access_token" json:"access_token"`
	RefreshToken string     `yaml:"refresh_token" json:"refresh_token"`
	ProfileArn   string     `yaml:"profile_arn,omitempty" json:"profile_arn,omitempty"`
	ClientID     string     `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string     `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	IDCRegion    string     `yaml:"idc_region,omitempty" json:"idc_region,omitempty"`

	ExpiresAt   time.Time `yaml:"expires_at" json:"expires_at"`
	LastRefresh time.Time `yaml:"last_refresh" json:"last_refresh"`

	Health       HealthState `yaml:"health" json:"health"`
	FailingCount int         `yaml:"failing_count" json:"failing_count"`

	DailyRequestCount int       `yaml:"daily_request_count" json:"daily_request_count"`
	DailyResetAt      time.Time `yaml:"daily_reset_at" json:"daily_reset_at"`
}

// CredentialKey implements kirodispatch.CredentialSnapshot. It is the seed
// machine-id derivation uses, stable across token refreshes of the same
// account.
func (c *Credential) CredentialKey() string {
	if c.ProfileArn != "" {
		return c.ProfileArn
	}
	return c.ID
}

// expiringWithin reports whether the access token expires within d,
// matching an expiring-soon grace-window check against ExpiresAt.
func (c *Credential) expiringWithin(d time.Duration) bool {
	return !c.ExpiresAt.IsZero() && time.Now().Add(d).After(c.ExpiresAt)
}

// disabled reports whether the credential is currently excluded from
// acquisition.
func (c *Credential) disabled() bool {
	return c.Health == HealthDisabledUnhealthy || c.Health == HealthDisabledQuotaExhausted
}

// resetDailyQuotaIfNeeded zeroes the daily counter once the reset instant
// has passed, grounded on the pack's resetDailyQuotaIfNeeded behavior:
// resets happen lazily, on next touch, rather than via a background timer.
func (c *Credential) resetDailyQuotaIfNeeded(now time.Time) {
	if c.DailyResetAt.IsZero() || now.Before(c.DailyResetAt) {
		return
	}
	c.DailyRequestCount = 0
	c.DailyResetAt = nextUTCMidnight(now)
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	tomorrow := u.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC)
}
