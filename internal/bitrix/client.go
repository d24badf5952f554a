package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/apperr"
	"github.com/phamtuthu/bitrix-call-relay/internal/config"
)

// refreshCooldown bounds token-refresh network calls: a burst of concurrent
// 401s must resolve to at most one outbound refresh per window.
const refreshCooldown = 5 * time.Minute

// maxResponseBodySize limits how much of an upstream response is read.
const maxResponseBodySize = 1 << 20

// TokenPersistFunc is invoked after every successful refresh so rotated
// tokens can be propagated outside the process (e.g. a deployment platform's
// variable store). A persistence failure is logged, never fails the refresh.
type TokenPersistFunc func(ctx context.Context, accessToken, refreshToken string) error

// Client owns the access/refresh token pair for a single Bitrix24 portal and
// exposes the authenticated-call primitive the rest of the service uses.
type Client struct {
	domain       string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *zap.Logger
	persist      TokenPersistFunc
	now          func() time.Time

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	lastRefresh  time.Time
}

// NewClient creates a Bitrix API client. The access token may be empty; the
// first authenticated call acquires one through the refresh token.
func NewClient(cfg *config.BitrixConfig, timeout time.Duration, logger *zap.Logger, persist TokenPersistFunc) *Client {
	return &Client{
		domain:       strings.TrimSuffix(cfg.Domain, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:       logger,
		persist:      persist,
		now:          time.Now,
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
	}
}

// Call issues an authenticated request to a Bitrix REST method. An HTTP 401
// triggers exactly one refresh (subject to the cooldown) and one retry of the
// same request; a second 401 propagates as UpstreamError.
func (c *Client) Call(ctx context.Context, endpoint string, payload interface{}) (*APIResponse, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	// Bounded retry: one refresh-and-retry pass, never recursion.
	for attempt := 0; ; attempt++ {
		resp, status, body, err := c.do(ctx, endpoint, token, payload)
		if err != nil {
			return nil, err
		}

		if status == http.StatusUnauthorized {
			if attempt >= 1 {
				return nil, &apperr.UpstreamError{Endpoint: endpoint, StatusCode: status, Body: body}
			}
			c.logger.Warn("Authorization failure, refreshing token",
				zap.String("endpoint", endpoint),
			)
			token, err = c.refresh(ctx)
			if err != nil {
				return nil, err
			}
			continue
		}

		if status < 200 || status >= 300 {
			return nil, &apperr.UpstreamError{Endpoint: endpoint, StatusCode: status, Body: body}
		}

		if resp.ErrorCode != "" {
			return nil, &apperr.UpstreamError{
				Endpoint:   endpoint,
				StatusCode: status,
				Body:       fmt.Sprintf("%s: %s", resp.ErrorCode, resp.ErrorDescription),
			}
		}

		return resp, nil
	}
}

// do performs a single REST request with the given token.
func (c *Client) do(ctx context.Context, endpoint, token string, payload interface{}) (*APIResponse, int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to marshal payload for %s: %w", endpoint, err)
	}

	reqURL := fmt.Sprintf("%s/rest/%s?auth=%s",
		c.domain, strings.TrimPrefix(endpoint, "/"), url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, "", &apperr.TimeoutError{Endpoint: endpoint, Err: err}
		}
		return nil, 0, "", fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	apiResp := &APIResponse{}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, apiResp); err != nil {
			return nil, 0, "", fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
		}
	} else {
		// Error responses still carry the envelope when Bitrix produced
		// them; ignore decode failures for proxy-level errors.
		_ = json.Unmarshal(respBody, apiResp)
	}

	return apiResp, resp.StatusCode, string(respBody), nil
}

// ensureToken returns the current access token, acquiring one first if the
// client has never authenticated.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" {
		return c.accessToken, nil
	}
	return c.refreshLocked(ctx)
}

// refresh exchanges the refresh token for a new access/refresh pair.
func (c *Client) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// refreshLocked must be called with c.mu held. Within the cooldown window it
// is a no-op that reuses the held access token.
func (c *Client) refreshLocked(ctx context.Context) (string, error) {
	if c.accessToken != "" && c.now().Sub(c.lastRefresh) < refreshCooldown {
		c.logger.Debug("Refresh requested within cooldown window, reusing current token")
		return c.accessToken, nil
	}

	query := url.Values{}
	query.Set("grant_type", "refresh_token")
	query.Set("client_id", c.clientID)
	query.Set("client_secret", c.clientSecret)
	query.Set("refresh_token", c.refreshToken)

	reqURL := fmt.Sprintf("%s/oauth/token/?%s", c.domain, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", &apperr.CredentialError{Msg: "failed to create token refresh request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &apperr.TimeoutError{Endpoint: "oauth/token", Err: err}
		}
		return "", &apperr.CredentialError{Msg: "token refresh request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", &apperr.CredentialError{Msg: "failed to read token refresh response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &apperr.CredentialError{
			Msg: fmt.Sprintf("token endpoint rejected refresh with status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(respBody, &tokens); err != nil {
		return "", &apperr.CredentialError{Msg: "failed to decode token refresh response", Err: err}
	}
	if tokens.AccessToken == "" {
		return "", &apperr.CredentialError{Msg: "token endpoint returned empty access token"}
	}

	c.accessToken = tokens.AccessToken
	c.refreshToken = tokens.RefreshToken
	c.lastRefresh = c.now()

	c.logger.Info("Token refreshed successfully")

	if c.persist != nil {
		if err := c.persist(ctx, c.accessToken, c.refreshToken); err != nil {
			c.logger.Error("Failed to persist refreshed tokens",
				zap.Error(err),
			)
		}
	}

	return c.accessToken, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
