package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// IdentityClient talks to a GoTrue-compatible identity service (the wire
// format used by Supabase auth, which backed the original panel).
type IdentityClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewIdentityClient constructs a client for the identity service at baseURL.
// A nil httpClient gets a default with a 10s timeout; timeouts are this
// client's responsibility, the manager only sees ErrNetwork.
func NewIdentityClient(baseURL, apiKey string, httpClient *http.Client) *IdentityClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdentityClient{baseURL: baseURL, apiKey: apiKey, http: httpClient}
}

type grantPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
	// Registration without auto-confirm returns a bare user object.
	ID string `json:"id"`
}

func (p *grantPayload) grant(now time.Time) *Grant {
	g := &Grant{
		UserID:       p.User.ID,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
	}
	if g.UserID == "" {
		g.UserID = p.ID
	}
	switch {
	case p.ExpiresAt > 0:
		g.ExpiresAt = time.Unix(p.ExpiresAt, 0)
	case p.ExpiresIn > 0:
		g.ExpiresAt = now.Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	return g
}

// ExchangeCredentials performs the password grant.
func (c *IdentityClient) ExchangeCredentials(ctx context.Context, email, password string) (*Grant, error) {
	var payload grantPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &payload); err != nil {
		return nil, err
	}
	return payload.grant(time.Now()), nil
}

// Register signs up a new credential identity. The grant is empty when the
// service requires email confirmation before the first sign-in.
func (c *IdentityClient) Register(ctx context.Context, email, password string) (*Grant, error) {
	var payload grantPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &payload); err != nil {
		return nil, err
	}
	return payload.grant(time.Now()), nil
}

// Refresh exchanges the refresh token for a new grant.
func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	var payload grantPayload
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &payload); err != nil {
		return nil, err
	}
	return payload.grant(time.Now()), nil
}

// Revoke invalidates the grant. GoTrue keys the logout off a bearer token,
// so the refresh token is presented as the bearer.
func (c *IdentityClient) Revoke(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", refreshToken, nil, nil)
}

// ResetPassword triggers the recovery mail for the address.
func (c *IdentityClient) ResetPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/recover", "", map[string]string{"email": email}, nil)
}

// ChangePassword updates the password of the bearer.
func (c *IdentityClient) ChangePassword(ctx context.Context, accessToken, newPassword string) error {
	return c.do(ctx, http.MethodPut, "/user", accessToken, map[string]string{"password": newPassword}, nil)
}

type errorPayload struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
}

func (c *IdentityClient) do(ctx context.Context, method, path, bearer string, body, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: encode request: %w", ErrUnexpected)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("identity: build request: %w", ErrUnexpected)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %v: %w", err, ErrNetwork)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("identity: decode response: %w", ErrNetwork)
		}
		return nil
	case res.StatusCode == http.StatusBadRequest,
		res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusUnprocessableEntity:
		var ep errorPayload
		_ = json.NewDecoder(res.Body).Decode(&ep)
		msg := ep.Description
		if msg == "" {
			msg = ep.Msg
		}
		if msg == "" {
			msg = ep.Error
		}
		return fmt.Errorf("identity: %s: %w", msg, ErrInvalidCredentials)
	default:
		return fmt.Errorf("identity: status %d: %w", res.StatusCode, ErrNetwork)
	}
}

var _ IdentityBackend = (*IdentityClient)(nil)
