package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

const (
	MinWatchInterval = 100 * time.Millisecond
	MaxWatchInterval = time.Hour
)

var validBackends = []string{BackendMemory, BackendFile, BackendSQLite}

type Config struct {
	// Storage
	StorageBackend string
	DataDir        string
	SQLiteDBPath   string
	StorageKey     string

	// AMQP relay, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string

	// Watcher
	WatchInterval time.Duration

	// Export
	ExportDir string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics endpoint of eduit-watch, disabled when MetricsAddr is empty
	MetricsAddr string

	// Offsite copies of backups and exports, disabled when S3Bucket is empty
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3PathStyle bool

	// Google Sheets publishing, disabled when GoogleSpreadsheetID is empty
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

func Load() *Config {
	cfg := &Config{
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendFile)),
		DataDir:        getEnv("DATA_DIR", "./data"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/eduitraya.db"),
		StorageKey:     getEnv("STORAGE_KEY", "eduitraya-recipients"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "eduitraya.changes"),

		WatchInterval: getEnvDuration("WATCH_INTERVAL", 2*time.Second),

		ExportDir: getEnv("EXPORT_DIR", "."),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		MetricsAddr: getEnv("METRICS_ADDR", ""),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", getEnv("AWS_REGION", "us-east-1")),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Prefix:    getEnv("S3_PREFIX", "eduitraya"),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "eDuit Raya"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),
	}

	return cfg
}

// AMQPEnabled reports whether the cross-process relay should run.
func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }

// OffsiteEnabled reports whether backups and exports may be copied to S3.
func (c *Config) OffsiteEnabled() bool { return c.S3Bucket != "" }

// SheetsEnabled reports whether exports may be published to Google Sheets.
func (c *Config) SheetsEnabled() bool { return c.GoogleSpreadsheetID != "" }

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !slices.Contains(validBackends, c.StorageBackend) {
		errors = append(errors, fmt.Sprintf("invalid storage backend '%s': must be one of %v", c.StorageBackend, validBackends))
	}

	if strings.TrimSpace(c.StorageKey) == "" {
		errors = append(errors, "storage key cannot be empty")
	} else if strings.ContainsAny(c.StorageKey, `/\`) || strings.Contains(c.StorageKey, "..") {
		errors = append(errors, fmt.Sprintf("invalid storage key '%s': must not contain path separators or '..'", c.StorageKey))
	}

	switch c.StorageBackend {
	case BackendFile:
		if c.DataDir == "" {
			errors = append(errors, "data directory cannot be empty when using file backend")
		} else if err := ensureDir(c.DataDir); err != nil {
			errors = append(errors, fmt.Sprintf("cannot create data directory '%s': %v", c.DataDir, err))
		}
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if err := ensureDir(dir); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.WatchInterval < MinWatchInterval {
		errors = append(errors, fmt.Sprintf("invalid watch interval %v: must be at least %v", c.WatchInterval, MinWatchInterval))
	} else if c.WatchInterval > MaxWatchInterval {
		errors = append(errors, fmt.Sprintf("invalid watch interval %v: must be at most %v", c.WatchInterval, MaxWatchInterval))
	}

	if c.ExportDir == "" {
		errors = append(errors, "export directory cannot be empty")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid metrics address '%s': %v", c.MetricsAddr, err))
		}
	}

	if c.S3Endpoint != "" {
		if parsedURL, err := url.Parse(c.S3Endpoint); err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid S3 endpoint '%s': must be an http or https URL", c.S3Endpoint))
		}
		if c.S3Bucket == "" {
			errors = append(errors, "S3 bucket is required when S3_ENDPOINT is set")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when GOOGLE_SPREADSHEET_ID is set")
		}
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided when GOOGLE_SPREADSHEET_ID is set")
		}
		if !hasJSON && hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
