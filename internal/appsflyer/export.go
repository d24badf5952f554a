package appsflyer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/config"
)

const baseURL = "https://hq1.appsflyer.com"

// Exporter pulls the raw-data installs report for the yesterday-to-today
// window and writes it to disk as CSV.
type Exporter struct {
	cfg        *config.AppsFlyerConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewExporter creates an installs-report exporter. The HTTP client does not
// follow redirects: the export endpoint answers with a handoff URL in the
// Location header that must be fetched separately.
func NewExporter(cfg *config.AppsFlyerConfig, logger *zap.Logger) *Exporter {
	return &Exporter{
		cfg:     cfg,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Export requests the installs report and streams the CSV behind the handoff
// URL into the output directory. Returns the written file path.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	from, to := e.dateWindow()

	downloadURL, err := e.requestReport(ctx, from, to)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("installs_%s.csv", from))
	if err := e.downloadCSV(ctx, downloadURL, outputPath); err != nil {
		return "", err
	}

	e.logger.Info("Saved installs report",
		zap.String("path", outputPath),
		zap.String("from", from),
		zap.String("to", to),
	)
	return outputPath, nil
}

// dateWindow returns yesterday and today as ISO dates.
func (e *Exporter) dateWindow() (string, string) {
	today := e.now().UTC()
	yesterday := today.AddDate(0, 0, -1)
	return yesterday.Format("2006-01-02"), today.Format("2006-01-02")
}

func (e *Exporter) requestReport(ctx context.Context, from, to string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/raw-data/export/app/%s/installs_report/v5", e.baseURL, e.cfg.AppID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create report request: %w", err)
	}

	query := req.URL.Query()
	query.Set("from", from)
	query.Set("to", to)
	query.Set("timezone", e.cfg.Timezone)
	query.Set("additional_fields", e.cfg.AdditionalFields)
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Authorization", "Bearer "+e.cfg.Token)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("report request returned status %d: %s", resp.StatusCode, string(body))
	}

	downloadURL := resp.Header.Get("Location")
	if downloadURL == "" {
		return "", fmt.Errorf("redirect URL not found in report response")
	}

	return downloadURL, nil
}

func (e *Exporter) downloadCSV(ctx context.Context, downloadURL, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CSV download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("CSV download returned status %d", resp.StatusCode)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return fmt.Errorf("failed to write CSV: %w", err)
	}

	return file.Close()
}
