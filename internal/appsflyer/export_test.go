package appsflyer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/config"
)

const csvPayload = "appsflyer_id,install_time\nid-1,2025-07-04 10:00:00\n"

func newTestExporter(t *testing.T, outputDir string, handler http.Handler) (*Exporter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	exporter := NewExporter(&config.AppsFlyerConfig{
		Token:            "test-token",
		AppID:            "com.example.app",
		Timezone:         "Asia/Ho_Chi_Minh",
		AdditionalFields: "blocked_reason_rule,store_reinstall_date",
		OutputDir:        outputDir,
	}, zap.NewNop())
	exporter.baseURL = server.URL
	exporter.now = func() time.Time {
		return time.Date(2025, 7, 5, 9, 0, 0, 0, time.UTC)
	}
	return exporter, server
}

func TestExport_WritesCSVBehindRedirect(t *testing.T) {
	dir := t.TempDir()

	var gotAuth, gotFrom, gotTo string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/raw-data/export/app/com.example.app/installs_report/v5", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		w.Header().Set("Location", "http://"+r.Host+"/download/report.csv")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/download/report.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csvPayload))
	})

	exporter, _ := newTestExporter(t, dir, mux)

	path, err := exporter.Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "2025-07-04", gotFrom)
	assert.Equal(t, "2025-07-05", gotTo)
	assert.Equal(t, filepath.Join(dir, "installs_2025-07-04.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, csvPayload, string(data))
}

func TestExport_MissingRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	exporter, _ := newTestExporter(t, t.TempDir(), mux)

	_, err := exporter.Export(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect URL not found")
}

func TestExport_UpstreamFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	exporter, _ := newTestExporter(t, t.TempDir(), mux)

	_, err := exporter.Export(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
