// Package config defines the configuration for the time and billing ledger
// service. Configuration is loaded once at process startup and is immutable
// thereafter; values come from the OS environment with an optional .env file
// for local development. A missing required value fails the process
// immediately.
package config

import (
	"time"

	"taxledger/internal/types"
)

// SecretString aliases types.SecretString, the redacted secret type used in
// configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"taxledger"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Documents DocumentsConfig
	Ledger    LedgerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"20s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// DocumentsConfig holds the document service endpoint and credentials.
type DocumentsConfig struct {
	BaseURL string       `envconfig:"DOCUMENTS_BASE_URL" validate:"required,url"`
	APIKey  SecretString `envconfig:"DOCUMENTS_API_KEY" validate:"required"`
	Timeout time.Duration `envconfig:"DOCUMENTS_TIMEOUT" default:"10s"`
}

// LedgerConfig holds domain tuning knobs.
type LedgerConfig struct {
	// RecordAttempts bounds the retry loop on contended allowance writes.
	RecordAttempts int `envconfig:"LEDGER_RECORD_ATTEMPTS" default:"3"`
	// InvoiceListLimit is the default page size for invoice listings.
	InvoiceListLimit int `envconfig:"LEDGER_INVOICE_LIST_LIMIT" default:"50"`
}
