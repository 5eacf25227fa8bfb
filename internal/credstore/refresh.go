package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// socialRefreshEndpoint is the "desktop" OAuth refresh endpoint Kiro's
// non-enterprise sign-in flow uses, parameterized by region.
const socialRefreshEndpointFmt = "https://prod.%s.auth.desktop.kiro.dev/refreshToken"

// builderIDTokenEndpointFmt is the AWS SSO OIDC token endpoint used by the
// enterprise Builder ID sign-in flow.
const builderIDTokenEndpointFmt = "https://oidc.%s.amazonaws.com/token"

// Refresher performs the HTTP round trip to exchange a refresh token for a
// new access token. It is satisfied by *http.Client.
type Refresher interface {
	Do(req *http.Request) (*http.Response, error)
}

// refreshIfNeeded refreshes c's access token in place when it is expired or
// expiring within the grace window, dispatching to the social or Builder ID
// flow by c.AuthMethod. It is a no-op (success) when the token is still
// comfortably valid.
func refreshIfNeeded(ctx context.Context, client Refresher, c *Credential, graceWindow time.Duration) error {
	if !c.expiringWithin(graceWindow) {
		return nil
	}
	switch c.AuthMethod {
	case AuthMethodBuilderID:
		return refreshBuilderID(ctx, client, c)
	default:
		return refreshSocial(ctx, client, c)
	}
}

func refreshSocial(ctx context.Context, client Refresher, c *Credential) error {
	if c.RefreshToken == "" {
		return fmt.Errorf("credential %s: refresh_token not set", c.ID)
	}
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}
	url := fmt.Sprintf(socialRefreshEndpointFmt, region)

	reqBody, err := json.Marshal(map[string]string{"refreshToken": c.RefreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("social refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("social refresh failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ProfileArn   string `json:"profileArn"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("social refresh response decode failed: %w", err)
	}

	c.AccessToken = result.AccessToken
	if result.RefreshToken != "" {
		c.RefreshToken = result.RefreshToken
	}
	if result.ProfileArn != "" {
		c.ProfileArn = result.ProfileArn
	}
	c.AuthMethod = AuthMethodSocial
	now := time.Now()
	c.ExpiresAt = now.Add(time.Duration(result.ExpiresIn) * time.Second)
	c.LastRefresh = now
	c.resetDailyQuotaIfNeeded(now)
	return nil
}

func refreshBuilderID(ctx context.Context, client Refresher, c *Credential) error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("credential %s: client_id/client_secret not set for builder-id auth", c.ID)
	}
	region := c.IDCRegion
	if region == "" {
		region = c.Region
	}
	if region == "" {
		region = "us-east-1"
	}
	url := fmt.Sprintf(builderIDTokenEndpointFmt, region)

	reqBody, err := json.Marshal(map[string]string{
		"clientId":     c.ClientID,
		"clientSecret": c.ClientSecret,
		"refreshToken": c.RefreshToken,
		"grantType":    "refresh_token",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("builder-id refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("builder-id refresh failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("builder-id refresh response decode failed: %w", err)
	}

	c.AccessToken = result.AccessToken
	if result.RefreshToken != "" {
		c.RefreshToken = result.RefreshToken
	}
	c.AuthMethod = AuthMethodBuilderID
	now := time.Now()
	c.ExpiresAt = now.Add(time.Duration(result.ExpiresIn) * time.Second)
	c.LastRefresh = now
	c.resetDailyQuotaIfNeeded(now)
	return nil
}
