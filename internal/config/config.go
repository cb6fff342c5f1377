package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// Ledger
	LedgerBackend    string
	AlgodURL         string
	AlgodToken       string
	IndexerURL       string
	IndexerToken     string
	TreasuryEndpoint string
	AssetID          uint64
	LedgerTimeout    time.Duration
	ConfirmRounds    int

	// Vault
	VaultMasterKey      string
	TreasuryPrincipalID string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Reconciler
	ReconcileInterval    time.Duration
	ReconcileConcurrency int
	PendingExpiry        time.Duration

	// Reports
	ReportSpreadsheetID      string
	ReportSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	Currency                 string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/campuschain.db"),

		LedgerBackend:    getEnv("LEDGER_BACKEND", "memory"),
		AlgodURL:         getEnv("ALGOD_ADDRESS", "https://testnet-api.algonode.cloud"),
		AlgodToken:       getEnv("ALGOD_TOKEN", ""),
		IndexerURL:       getEnv("INDEXER_ADDRESS", "https://testnet-idx.algonode.cloud"),
		IndexerToken:     getEnv("INDEXER_TOKEN", ""),
		TreasuryEndpoint: getEnv("TREASURY_ENDPOINT", ""),
		AssetID:          getEnvUint("ASA_ID", 0),
		LedgerTimeout:    getEnvDuration("LEDGER_TIMEOUT", 10*time.Second),
		ConfirmRounds:    getEnvInt("CONFIRM_ROUNDS", 4),

		VaultMasterKey:      getEnv("VAULT_MASTER_KEY", ""),
		TreasuryPrincipalID: getEnv("TREASURY_PRINCIPAL_ID", "treasury"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "campuschain"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "pending_transfers"),

		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
		PendingExpiry:        getEnvDuration("PENDING_EXPIRY", time.Hour),

		ReportSpreadsheetID:      getEnv("REPORT_SPREADSHEET_ID", ""),
		ReportSheetName:          getEnv("REPORT_SHEET_NAME", "Spending"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		Currency:                 getEnv("CURRENCY", "INR"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	validBackends := []string{"memory", "algod", "treasury"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.LedgerBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validBackends))
	}

	switch c.LedgerBackend {
	case "algod":
		errors = append(errors, validateHTTPURL("ALGOD_ADDRESS", c.AlgodURL)...)
		errors = append(errors, validateHTTPURL("INDEXER_ADDRESS", c.IndexerURL)...)
	case "treasury":
		errors = append(errors, validateHTTPURL("TREASURY_ENDPOINT", c.TreasuryEndpoint)...)
		errors = append(errors, validateHTTPURL("INDEXER_ADDRESS", c.IndexerURL)...)
	}
	if c.LedgerBackend != "memory" && c.AssetID == 0 {
		errors = append(errors, "ASA_ID is required when using a network ledger backend")
	}

	if c.LedgerTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid ledger timeout %v: must be at least 100ms", c.LedgerTimeout))
	} else if c.LedgerTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid ledger timeout %v: must be at most 5 minutes", c.LedgerTimeout))
	}
	if c.ConfirmRounds < 1 || c.ConfirmRounds > 1000 {
		errors = append(errors, fmt.Sprintf("invalid confirm rounds %d: must be between 1 and 1000", c.ConfirmRounds))
	}

	// The master key is never echoed back in messages.
	if c.VaultMasterKey == "" {
		errors = append(errors, "VAULT_MASTER_KEY is required")
	} else if key, err := hex.DecodeString(c.VaultMasterKey); err != nil || len(key) != 32 {
		errors = append(errors, "VAULT_MASTER_KEY must be 64 hex characters (32 bytes)")
	}
	if strings.TrimSpace(c.TreasuryPrincipalID) == "" {
		errors = append(errors, "TREASURY_PRINCIPAL_ID cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ReconcileInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at least 1 second", c.ReconcileInterval))
	} else if c.ReconcileInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at most 24 hours", c.ReconcileInterval))
	}
	if c.ReconcileConcurrency < 1 || c.ReconcileConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid reconcile concurrency %d: must be between 1 and 64", c.ReconcileConcurrency))
	}
	if c.PendingExpiry < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid pending expiry %v: must be at least 1 minute", c.PendingExpiry))
	}

	if c.ReportSpreadsheetID != "" {
		if c.ReportSheetName == "" {
			errors = append(errors, "report sheet name is required when REPORT_SPREADSHEET_ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for report export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// MasterKey returns the decoded vault master key. Call after Validate.
func (c *Config) MasterKey() ([]byte, error) {
	key, err := hex.DecodeString(c.VaultMasterKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("decode vault master key: invalid encoding")
	}
	return key, nil
}

func validateHTTPURL(name, raw string) []string {
	if raw == "" {
		return []string{fmt.Sprintf("%s is required", name)}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []string{fmt.Sprintf("invalid %s: %v", name, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []string{fmt.Sprintf("invalid %s scheme '%s': must be 'http' or 'https'", name, u.Scheme)}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
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
