package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/deviceflow"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Client talks to the dashborion auth API.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// sleep is replaceable in tests so polling does not wall-clock wait.
	sleep func(time.Duration)
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		sleep:   time.Sleep,
	}
}

// StartDeviceFlow requests a new device authorization.
func (c *Client) StartDeviceFlow(ctx context.Context) (*deviceflow.Authorization, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/device/code", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var authz deviceflow.Authorization
	if err := json.NewDecoder(resp.Body).Decode(&authz); err != nil {
		return nil, fmt.Errorf("malformed server response: %w", err)
	}
	return &authz, nil
}

type tokenError struct {
	Error string `json:"error"`
}

// PollToken polls the token endpoint until the user approves, the code
// expires, or the context is cancelled. It honors the server's interval and
// backs off on slow_down.
func (c *Client) PollToken(ctx context.Context, authz *deviceflow.Authorization) (*auth.TokenPair, error) {
	interval := time.Duration(authz.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(authz.ExpiresIn) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("device code expired before approval")
		}

		c.sleep(interval)

		pair, errCode, err := c.pollOnce(ctx, authz.DeviceCode)
		if err != nil {
			return nil, err
		}
		if pair != nil {
			return pair, nil
		}

		switch errCode {
		case "authorization_pending":
			// keep waiting
		case "slow_down":
			interval += 5 * time.Second
		case "expired_token":
			return nil, fmt.Errorf("device code expired before approval")
		case "access_denied":
			return nil, fmt.Errorf("login was denied")
		default:
			return nil, fmt.Errorf("server rejected poll: %s", errCode)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, deviceCode string) (*auth.TokenPair, string, error) {
	form := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {deviceCode},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/auth/device/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var pair auth.TokenPair
		if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
			return nil, "", fmt.Errorf("malformed server response: %w", err)
		}
		return &pair, "", nil
	case http.StatusBadRequest, http.StatusTooManyRequests:
		var te tokenError
		if err := json.NewDecoder(resp.Body).Decode(&te); err != nil || te.Error == "" {
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, "slow_down", nil
			}
			return nil, "", fmt.Errorf("malformed server response")
		}
		return nil, te.Error, nil
	default:
		return nil, "", apiError(resp)
	}
}

// Refresh exchanges the refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/auth/token/refresh", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var pair auth.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("malformed server response: %w", err)
	}
	return &pair, nil
}

// Identity is the /auth/me response.
type Identity struct {
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name,omitempty"`
	Method      string      `json:"method"`
	Groups      []string    `json:"groups,omitempty"`
	Permissions interface{} `json:"permissions"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

// WhoAmI fetches the caller's identity using the access token.
func (c *Client) WhoAmI(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var ident Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, fmt.Errorf("malformed server response: %w", err)
	}
	return &ident, nil
}

// Logout revokes the presented access token server-side.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, parsed.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
