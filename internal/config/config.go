package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Bitrix  BitrixConfig
	Fields  FieldConfig
	Worker  WorkerConfig
	Railway RailwayConfig
}

type ServerConfig struct {
	Host string
	Port string
}

// BitrixConfig holds the upstream CRM credentials. AccessToken is optional:
// when empty the first authenticated call acquires one via the refresh token.
type BitrixConfig struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
}

// FieldConfig maps logical call fields to the tenant's Bitrix custom-field
// identifiers. Defaults match the production portal; override per tenant.
type FieldConfig struct {
	Deal    DealFields
	Contact ContactFields
}

type DealFields struct {
	FailureReason string
	Duration      string
	StartDate     string
}

type ContactFields struct {
	Duration      string
	FailureReason string
	LastCallDate  string
}

type WorkerConfig struct {
	HTTPTimeout   time.Duration
	QueueCapacity int
}

// RailwayConfig enables pushing refreshed tokens back into the Railway
// variable store. All four values must be set for persistence to activate.
type RailwayConfig struct {
	APIToken      string
	ProjectID     string
	EnvironmentID string
	ServiceID     string
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	getDefault := func(key, def string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return def
	}

	config := &Config{
		Server: ServerConfig{
			Host: getDefault("SERVER_HOST", "0.0.0.0"),
			Port: getDefault("SERVER_PORT", "3000"),
		},
		Bitrix: BitrixConfig{
			Domain:       get("BITRIX_DOMAIN"),
			ClientID:     get("BITRIX_CLIENT_ID"),
			ClientSecret: get("BITRIX_CLIENT_SECRET"),
			RefreshToken: get("BITRIX_REFRESH_TOKEN"),
			AccessToken:  os.Getenv("BITRIX_ACCESS_TOKEN"),
		},
		Fields: FieldConfig{
			Deal: DealFields{
				FailureReason: getDefault("DEAL_FIELD_FAILURE_REASON", "UF_CRM_668BB634B111F"),
				Duration:      getDefault("DEAL_FIELD_DURATION", "UF_CRM_66C2B64134A71"),
				StartDate:     getDefault("DEAL_FIELD_START_DATE", "UF_CRM_1733474117"),
			},
			Contact: ContactFields{
				Duration:      getDefault("CONTACT_FIELD_DURATION", "UF_CRM_66CBE81B02C06"),
				FailureReason: getDefault("CONTACT_FIELD_FAILURE_REASON", "UF_CRM_668F763F5D533"),
				LastCallDate:  getDefault("CONTACT_FIELD_LAST_CALL_DATE", "UF_CRM_1733471904291"),
			},
		},
		Worker: WorkerConfig{
			HTTPTimeout:   30 * time.Second,
			QueueCapacity: 256,
		},
		Railway: RailwayConfig{
			APIToken:      os.Getenv("RAILWAY_API_TOKEN"),
			ProjectID:     os.Getenv("RAILWAY_PROJECT_ID"),
			EnvironmentID: os.Getenv("RAILWAY_ENVIRONMENT_ID"),
			ServiceID:     os.Getenv("RAILWAY_SERVICE_ID"),
		},
	}

	if timeoutStr := os.Getenv("HTTP_TIMEOUT_SECONDS"); timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("HTTP_TIMEOUT_SECONDS must be a positive integer, got %q", timeoutStr)
		}
		config.Worker.HTTPTimeout = time.Duration(seconds) * time.Second
	}

	if capStr := os.Getenv("QUEUE_CAPACITY"); capStr != "" {
		capacity, err := strconv.Atoi(capStr)
		if err != nil || capacity <= 0 {
			return nil, fmt.Errorf("QUEUE_CAPACITY must be a positive integer, got %q", capStr)
		}
		config.Worker.QueueCapacity = capacity
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

// Enabled reports whether Railway token persistence is fully configured.
func (c *RailwayConfig) Enabled() bool {
	return c.APIToken != "" && c.ProjectID != "" && c.EnvironmentID != "" && c.ServiceID != ""
}

// AppsFlyerConfig holds settings for the installs-report export tool.
type AppsFlyerConfig struct {
	Token            string
	AppID            string
	Timezone         string
	AdditionalFields string
	OutputDir        string
	CronSpec         string
}

// LoadAppsFlyer loads configuration for cmd/appsflyer-export. It is separate
// from Load so the export tool does not require the Bitrix credentials.
func LoadAppsFlyer() (*AppsFlyerConfig, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &AppsFlyerConfig{
		Token:            get("APPSFLYER_TOKEN"),
		AppID:            get("APPSFLYER_APP_ID"),
		Timezone:         os.Getenv("APPSFLYER_TIMEZONE"),
		AdditionalFields: os.Getenv("APPSFLYER_ADDITIONAL_FIELDS"),
		OutputDir:        os.Getenv("APPSFLYER_OUTPUT_DIR"),
		CronSpec:         os.Getenv("APPSFLYER_CRON"),
	}

	if config.Timezone == "" {
		config.Timezone = "Asia/Ho_Chi_Minh"
	}
	if config.AdditionalFields == "" {
		config.AdditionalFields = "blocked_reason_rule,store_reinstall_date"
	}
	if config.OutputDir == "" {
		config.OutputDir = "."
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}
