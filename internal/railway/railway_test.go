package railway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/config"
)

type recordedCall struct {
	Auth      string
	Query     string
	Variables map[string]interface{}
}

// fakeBackboard records GraphQL calls and answers with a canned response.
type fakeBackboard struct {
	mu     sync.Mutex
	calls  []recordedCall
	status int
	body   string

	server *httptest.Server
}

func newFakeBackboard() *fakeBackboard {
	b := &fakeBackboard{
		status: http.StatusOK,
		body:   `{"data":{}}`,
	}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		_ = json.Unmarshal(payload, &req)

		b.mu.Lock()
		b.calls = append(b.calls, recordedCall{
			Auth:      r.Header.Get("Authorization"),
			Query:     req.Query,
			Variables: req.Variables,
		})
		status, body := b.status, b.body
		b.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	return b
}

func newTestPersister(t *testing.T) (*Persister, *fakeBackboard) {
	t.Helper()
	backboard := newFakeBackboard()
	t.Cleanup(backboard.server.Close)

	persister := NewPersister(&config.RailwayConfig{
		APIToken:      "rw-token",
		ProjectID:     "proj-1",
		EnvironmentID: "env-1",
		ServiceID:     "svc-1",
	}, 5*time.Second, zap.NewNop())
	persister.apiURL = backboard.server.URL
	return persister, backboard
}

func TestPersistTokens_UpsertsBothVariablesAndRedeploys(t *testing.T) {
	persister, backboard := newTestPersister(t)

	require.NoError(t, persister.PersistTokens(context.Background(), "new-access", "new-refresh"))

	// Two variable upserts plus one redeploy.
	require.Len(t, backboard.calls, 3)

	upserted := map[string]string{}
	for _, call := range backboard.calls[:2] {
		assert.Equal(t, "Bearer rw-token", call.Auth)
		assert.Contains(t, call.Query, "variableUpsert")

		input, ok := call.Variables["input"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "proj-1", input["projectId"])
		assert.Equal(t, "env-1", input["environmentId"])
		assert.Equal(t, "svc-1", input["serviceId"])
		upserted[input["name"].(string)] = input["value"].(string)
	}
	assert.Equal(t, map[string]string{
		"BITRIX_ACCESS_TOKEN":  "new-access",
		"BITRIX_REFRESH_TOKEN": "new-refresh",
	}, upserted)

	redeploy := backboard.calls[2]
	assert.Contains(t, redeploy.Query, "serviceInstanceRedeploy")
	assert.Equal(t, "env-1", redeploy.Variables["environmentId"])
	assert.Equal(t, "svc-1", redeploy.Variables["serviceId"])
}

func TestPersistTokens_GraphQLErrorSurfaced(t *testing.T) {
	persister, backboard := newTestPersister(t)
	backboard.body = `{"errors":[{"message":"Not Authorized"}]}`

	err := persister.PersistTokens(context.Background(), "a", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not Authorized")

	// The first upsert failed; nothing further was attempted.
	assert.Len(t, backboard.calls, 1)
}

func TestPersistTokens_HTTPErrorSurfaced(t *testing.T) {
	persister, backboard := newTestPersister(t)
	backboard.status = http.StatusBadGateway
	backboard.body = "upstream down"

	err := persister.PersistTokens(context.Background(), "a", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
