package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/bitrix"
	"github.com/phamtuthu/bitrix-call-relay/internal/config"
	"github.com/phamtuthu/bitrix-call-relay/internal/processor"
)

type recordedUpdate struct {
	ID     string
	Fields map[string]interface{}
}

type fakeCRM struct {
	mu          sync.Mutex
	statsByCall map[string][]bitrix.CallStatistic
	dealUpdates []recordedUpdate
}

func (f *fakeCRM) GetCallStatistics(ctx context.Context, callID string) ([]bitrix.CallStatistic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsByCall[callID], nil
}

func (f *fakeCRM) ListDealsByContact(ctx context.Context, contactID string) ([]bitrix.Deal, error) {
	return nil, nil
}

func (f *fakeCRM) UpdateDeal(ctx context.Context, dealID string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dealUpdates = append(f.dealUpdates, recordedUpdate{ID: dealID, Fields: fields})
	return nil
}

func (f *fakeCRM) UpdateContact(ctx context.Context, contactID string, fields map[string]interface{}) error {
	return nil
}

func newTestApp(t *testing.T, crm processor.CRMClient) *fiber.App {
	t.Helper()

	fields := config.FieldConfig{
		Deal: config.DealFields{
			FailureReason: "UF_DEAL_FAIL",
			Duration:      "UF_DEAL_DURATION",
			StartDate:     "UF_DEAL_START",
		},
		Contact: config.ContactFields{
			Duration:      "UF_CONTACT_DURATION",
			FailureReason: "UF_CONTACT_FAIL",
			LastCallDate:  "UF_CONTACT_LAST_CALL",
		},
	}

	proc := processor.New(crm, fields, 16, zap.NewNop())
	require.NoError(t, proc.Start())
	t.Cleanup(func() {
		_ = proc.Stop()
	})

	app := fiber.New()
	app.Post("/bx24-event-handler", NewCallEventHandler(proc, zap.NewNop()).HandleCallEvent)
	app.Get("/", Liveness)
	app.Get("/health", NewHealthHandler(proc).HealthCheck)
	return app
}

func postEvent(t *testing.T, app *fiber.App, contentType, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/bx24-event-handler", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func TestHandleCallEvent_EndToEndDeal(t *testing.T) {
	crm := &fakeCRM{statsByCall: map[string][]bitrix.CallStatistic{
		"abc123": {{
			CallID:           "abc123",
			CRMEntityID:      "77",
			CRMEntityType:    bitrix.EntityTypeDeal,
			CallFailedReason: "200",
			CallDuration:     "35",
			CallStartDate:    "2025-07-05T00:00:00Z",
		}},
	}}
	app := newTestApp(t, crm)

	resp := postEvent(t, app, fiber.MIMEApplicationJSON, `{"data":{"CALL_ID":"abc123"}}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "successfully")

	require.Len(t, crm.dealUpdates, 1)
	assert.Equal(t, "77", crm.dealUpdates[0].ID)
	assert.Equal(t, map[string]interface{}{
		"UF_DEAL_FAIL":     "200",
		"UF_DEAL_DURATION": "35",
		"UF_DEAL_START":    "2025-07-05T08:00:00.000Z",
	}, crm.dealUpdates[0].Fields)
}

func TestHandleCallEvent_EmptyBody(t *testing.T) {
	app := newTestApp(t, &fakeCRM{})

	resp := postEvent(t, app, fiber.MIMEApplicationJSON, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Request body is empty")
}

func TestHandleCallEvent_MissingCallID(t *testing.T) {
	app := newTestApp(t, &fakeCRM{})

	resp := postEvent(t, app, fiber.MIMEApplicationJSON, `{"data":{"OTHER":"x"}}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Missing CALL_ID")
}

func TestHandleCallEvent_ProcessingFailureIs500(t *testing.T) {
	// No statistics for this call: the upstream has no matching record.
	app := newTestApp(t, &fakeCRM{})

	resp := postEvent(t, app, fiber.MIMEApplicationJSON, `{"data":{"CALL_ID":"ghost"}}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "no call data found")
}

func TestLiveness(t *testing.T) {
	app := newTestApp(t, &fakeCRM{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "App is running!", string(body))
}

func TestHealthCheck(t *testing.T) {
	app := newTestApp(t, &fakeCRM{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(body, []byte(`"status":"healthy"`)))
}
