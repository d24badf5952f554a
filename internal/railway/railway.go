package railway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/config"
)

const defaultAPIURL = "https://backboard.railway.app/graphql/v2"

// Persister pushes rotated Bitrix tokens into the Railway variable store so
// a restarted deployment starts from the current refresh token instead of a
// stale one.
type Persister struct {
	cfg        *config.RailwayConfig
	apiURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPersister creates a Railway API client for token persistence.
func NewPersister(cfg *config.RailwayConfig, timeout time.Duration, logger *zap.Logger) *Persister {
	return &Persister{
		cfg:    cfg,
		apiURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// PersistTokens upserts both token variables and triggers a redeploy of the
// service. Matches bitrix.TokenPersistFunc.
func (p *Persister) PersistTokens(ctx context.Context, accessToken, refreshToken string) error {
	vars := map[string]string{
		"BITRIX_ACCESS_TOKEN":  accessToken,
		"BITRIX_REFRESH_TOKEN": refreshToken,
	}

	for name, value := range vars {
		if err := p.upsertVariable(ctx, name, value); err != nil {
			return fmt.Errorf("failed to upsert variable %s: %w", name, err)
		}
	}

	p.logger.Info("Persisted refreshed tokens to Railway")

	if err := p.redeploy(ctx); err != nil {
		return fmt.Errorf("failed to redeploy service: %w", err)
	}
	return nil
}

func (p *Persister) upsertVariable(ctx context.Context, name, value string) error {
	const mutation = `mutation variableUpsert($input: VariableUpsertInput!) {
  variableUpsert(input: $input)
}`

	return p.execute(ctx, mutation, map[string]interface{}{
		"input": map[string]string{
			"projectId":     p.cfg.ProjectID,
			"environmentId": p.cfg.EnvironmentID,
			"serviceId":     p.cfg.ServiceID,
			"name":          name,
			"value":         value,
		},
	})
}

func (p *Persister) redeploy(ctx context.Context) error {
	const mutation = `mutation serviceInstanceRedeploy($environmentId: String!, $serviceId: String!) {
  serviceInstanceRedeploy(environmentId: $environmentId, serviceId: $serviceId)
}`

	return p.execute(ctx, mutation, map[string]interface{}{
		"environmentId": p.cfg.EnvironmentID,
		"serviceId":     p.cfg.ServiceID,
	})
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *Persister) execute(ctx context.Context, query string, variables map[string]interface{}) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GraphQL request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read GraphQL response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Railway API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return fmt.Errorf("failed to decode GraphQL response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("Railway API error: %s", gqlResp.Errors[0].Message)
	}

	return nil
}
