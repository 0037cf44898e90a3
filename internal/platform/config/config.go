package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "legisledger"

const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"

	LedgerSimulated = "simulated"
	LedgerGateway   = "gateway"

	TracingStdout = "stdout"
	TracingOTLP   = "otlp"
)

// Config is centralized process configuration.
// Values come from the optional YAML file, then environment variables
// prefixed with LEGISLEDGER_ override them.
type Config struct {
	ServiceName string `yaml:"serviceName" envconfig:"service_name"`
	HTTPPort    string `yaml:"httpPort"    envconfig:"http_port"`

	Database    string `yaml:"database"    envconfig:"database"`
	PostgresDSN string `yaml:"postgresDsn" envconfig:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlitePath"  envconfig:"sqlite_path"`

	KafkaBrokers []string `yaml:"kafkaBrokers" envconfig:"kafka_brokers"`

	Ledger              string        `yaml:"ledger"              envconfig:"ledger"`
	LedgerGatewayURL    string        `yaml:"ledgerGatewayUrl"    envconfig:"ledger_gateway_url"`
	LedgerNetworkID     string        `yaml:"ledgerNetworkId"     envconfig:"ledger_network_id"`
	LedgerCallTimeout   time.Duration `yaml:"ledgerCallTimeout"   envconfig:"ledger_call_timeout"`
	LedgerRetryMax      int           `yaml:"ledgerRetryMax"      envconfig:"ledger_retry_max"`
	LedgerRetryWaitMin  time.Duration `yaml:"ledgerRetryWaitMin"  envconfig:"ledger_retry_wait_min"`
	LedgerRetryWaitMax  time.Duration `yaml:"ledgerRetryWaitMax"  envconfig:"ledger_retry_wait_max"`
	// SigningKeys maps voter addresses to signing secrets for the simulated ledger.
	SigningKeys map[string]string `yaml:"signingKeys" envconfig:"signing_keys"`

	ReconcileInterval    time.Duration `yaml:"reconcileInterval"    envconfig:"reconcile_interval"`
	ReconcileConcurrency int           `yaml:"reconcileConcurrency" envconfig:"reconcile_concurrency"`
	OutboxBatchSize      int           `yaml:"outboxBatchSize"      envconfig:"outbox_batch_size"`
	WorkerPollInterval   time.Duration `yaml:"workerPollInterval"   envconfig:"worker_poll_interval"`

	TracingEnabled  bool   `yaml:"tracingEnabled"  envconfig:"tracing_enabled"`
	TracingExporter string `yaml:"tracingExporter" envconfig:"tracing_exporter"`
	MetricsEnabled  bool   `yaml:"metricsEnabled"  envconfig:"metrics_enabled"`

	EnableVoteCastConsumer bool `yaml:"enableVoteCastConsumer" envconfig:"enable_vote_cast_consumer"`
	EnableReconciliation   bool `yaml:"enableReconciliation"   envconfig:"enable_reconciliation"`
	EnableVoterSync        bool `yaml:"enableVoterSync"        envconfig:"enable_voter_sync"`
}

func Default() Config {
	return Config{
		ServiceName:            "legisledger",
		HTTPPort:               "8080",
		Database:               DatabasePostgres,
		SQLitePath:             "file::memory:?cache=shared",
		KafkaBrokers:           []string{"localhost:9092"},
		Ledger:                 LedgerSimulated,
		LedgerNetworkID:        "simulated",
		LedgerCallTimeout:      10 * time.Second,
		LedgerRetryMax:         3,
		LedgerRetryWaitMin:     200 * time.Millisecond,
		LedgerRetryWaitMax:     2 * time.Second,
		ReconcileInterval:      time.Minute,
		ReconcileConcurrency:   4,
		OutboxBatchSize:        100,
		WorkerPollInterval:     2 * time.Second,
		TracingExporter:        TracingStdout,
		MetricsEnabled:         true,
		EnableVoteCastConsumer: true,
		EnableReconciliation:   true,
		EnableVoterSync:        true,
	}
}

// Load reads configFile when given and applies the environment on top.
func Load(configFile string) (Config, error) {
	cfg := Default()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("error processing environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Database = strings.ToLower(strings.TrimSpace(c.Database))
	c.Ledger = strings.ToLower(strings.TrimSpace(c.Ledger))
	c.TracingExporter = strings.ToLower(strings.TrimSpace(c.TracingExporter))
	brokers := make([]string, 0, len(c.KafkaBrokers))
	for _, value := range c.KafkaBrokers {
		if value = strings.TrimSpace(value); value != "" {
			brokers = append(brokers, value)
		}
	}
	c.KafkaBrokers = brokers
}

func (c Config) Validate() error {
	switch c.Database {
	case DatabasePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres dsn is required when database is postgres")
		}
	case DatabaseSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("sqlite path is required when database is sqlite")
		}
	default:
		return fmt.Errorf("invalid database: %q (must be 'postgres' or 'sqlite')", c.Database)
	}
	switch c.Ledger {
	case LedgerSimulated:
	case LedgerGateway:
		if strings.TrimSpace(c.LedgerGatewayURL) == "" {
			return errors.New("ledger gateway url is required when ledger is gateway")
		}
	default:
		return fmt.Errorf("invalid ledger: %q (must be 'simulated' or 'gateway')", c.Ledger)
	}
	if c.TracingEnabled && c.TracingExporter != TracingStdout && c.TracingExporter != TracingOTLP {
		return fmt.Errorf("invalid tracing exporter: %q (must be 'stdout' or 'otlp')", c.TracingExporter)
	}
	if c.LedgerCallTimeout <= 0 {
		return errors.New("ledger call timeout must be positive")
	}
	if c.ReconcileConcurrency <= 0 {
		return errors.New("reconcile concurrency must be positive")
	}
	if c.OutboxBatchSize <= 0 {
		return errors.New("outbox batch size must be positive")
	}
	if c.WorkerPollInterval <= 0 || c.ReconcileInterval <= 0 {
		return errors.New("worker intervals must be positive")
	}
	return nil
}

// Addr returns the listen address for HTTPPort.
func (c Config) Addr() string {
	value := strings.TrimSpace(c.HTTPPort)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
