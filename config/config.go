// Package config parses the process options of the reindex command from flags,
// environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Ledger backends accepted by --ledger.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerMySQL    = "mysql"
	LedgerSQLite   = "sqlite"
	LedgerMongoDB  = "mongodb"
)

// SourceOptions describe the cluster data is copied from.
type SourceOptions struct {
	URL      string `long:"source-url" env:"REINDEX_SOURCE_URL" value-name:"<url>" description:"source cluster address as seen from the target cluster"`
	Username string `long:"source-username" env:"REINDEX_SOURCE_USERNAME" description:"username passed through to the source cluster"`
	Password string `long:"source-password" env:"REINDEX_SOURCE_PASSWORD" description:"password passed through to the source cluster"`
	Scope    string `long:"source-scope" env:"REINDEX_SOURCE_SCOPE" description:"prefix of the source index names"`
}

// TargetOptions describe the cluster data is copied into.
type TargetOptions struct {
	URLs      []string `long:"target-url" env:"REINDEX_TARGET_URLS" env-delim:"," default:"http://localhost:9200" description:"target cluster address (repeatable)"`
	Username  string   `long:"target-username" env:"REINDEX_TARGET_USERNAME" description:"target cluster username"`
	Password  string   `long:"target-password" env:"REINDEX_TARGET_PASSWORD" description:"target cluster password"`
	Scope     string   `long:"scope" env:"REINDEX_SCOPE" description:"prefix of the target index names"`
	BatchSize int      `long:"batch-size" env:"REINDEX_BATCH_SIZE" default:"250" description:"documents per reindex scroll batch"`
}

// JobOptions select what is migrated.
type JobOptions struct {
	Name          string `long:"job" env:"REINDEX_JOB" default:"reindex" description:"job name; runs of the same job exclude each other"`
	Catalog       string `long:"catalog" env:"REINDEX_CATALOG" value-name:"<path>" description:"YAML catalog of indices to migrate (default: built-in)"`
	Cutoff        string `long:"cutoff" env:"REINDEX_CUTOFF" value-name:"<date>" description:"only copy documents with a date field at or after this instant (RFC3339 or YYYY-MM-DD)"`
	RetentionDays int    `long:"retention-days" env:"REINDEX_RETENTION_DAYS" default:"180" description:"number of daily partitions to migrate"`
	Resume        bool   `long:"resume" env:"REINDEX_RESUME" description:"skip targets completed by an earlier run of the job"`
}

// PolicyOptions tune the scheduling loop.
type PolicyOptions struct {
	MaxConcurrency int           `long:"max-concurrency" env:"REINDEX_MAX_CONCURRENCY" default:"5" description:"maximum in-flight tasks"`
	MaxAttempts    int           `long:"max-attempts" env:"REINDEX_MAX_ATTEMPTS" default:"3" description:"submissions per unit before it is failed"`
	MaxErrors      int           `long:"max-errors" env:"REINDEX_MAX_ERRORS" default:"5" description:"consecutive poll errors before a task is given up"`
	PollInterval   time.Duration `long:"poll-interval" env:"REINDEX_POLL_INTERVAL" default:"5s" description:"pause between sweeps"`
	ThrottleDelay  time.Duration `long:"throttle-delay" env:"REINDEX_THROTTLE_DELAY" default:"1s" description:"pause after a throttled poll"`
	RetryBackoff   time.Duration `long:"retry-backoff" env:"REINDEX_RETRY_BACKOFF" default:"15s" description:"pause after re-enqueueing a unit"`
	ReportInterval time.Duration `long:"report-interval" env:"REINDEX_REPORT_INTERVAL" default:"5m" description:"time between status lines"`
}

// LedgerOptions select where runs are recorded.
type LedgerOptions struct {
	Backend  string `long:"ledger" env:"REINDEX_LEDGER" default:"memory" choice:"memory" choice:"postgres" choice:"mysql" choice:"sqlite" choice:"mongodb" description:"run ledger backend"`
	DSN      string `long:"ledger-dsn" env:"REINDEX_LEDGER_DSN" description:"ledger connection string"`
	Database string `long:"ledger-database" env:"REINDEX_LEDGER_DATABASE" default:"reindex" description:"ledger database name (mongodb only)"`
}

// NotifyOptions configure outcome events.
type NotifyOptions struct {
	KafkaBrokers string `long:"kafka-brokers" env:"REINDEX_KAFKA_BROKERS" description:"comma separated Kafka brokers; events are disabled when empty"`
	KafkaTopic   string `long:"kafka-topic" env:"REINDEX_KAFKA_TOPIC" default:"reindex-events" description:"topic receiving unit outcome events"`
}

// OpsOptions configure logging and metrics.
type OpsOptions struct {
	LogLevel       string `long:"log-level" env:"REINDEX_LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	LogFormat      string `long:"log-format" env:"REINDEX_LOG_FORMAT" default:"json" choice:"json" choice:"console" description:"log output format"`
	MetricsAddr    string `long:"metrics-addr" env:"REINDEX_METRICS_ADDR" default:":9090" description:"address of the metrics and status server"`
	DisableMetrics bool   `long:"disable-metrics" env:"REINDEX_DISABLE_METRICS" description:"do not collect metrics or serve them"`
}

// Options are the complete process options.
type Options struct {
	Source SourceOptions `group:"source options"`
	Target TargetOptions `group:"target options"`
	Job    JobOptions    `group:"job options"`
	Policy PolicyOptions `group:"policy options"`
	Ledger LedgerOptions `group:"ledger options"`
	Notify NotifyOptions `group:"notification options"`
	Ops    OpsOptions    `group:"operational options"`
}

// Load reads envFiles (default: .env) into the environment, then parses args.
// Missing env files are ignored. Variables already set in the environment win.
func Load(args []string, envFiles ...string) (*Options, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "reindex"
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	return &opts, nil
}

// Validate checks the preconditions of a run.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.Source.URL) == "" {
		return orchestrator.ErrSourceNotConfigured
	}
	if _, err := o.CutoffTime(); err != nil {
		return err
	}

	positive := map[string]int{
		"max-concurrency": o.Policy.MaxConcurrency,
		"max-attempts":    o.Policy.MaxAttempts,
		"max-errors":      o.Policy.MaxErrors,
		"batch-size":      o.Target.BatchSize,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("--%s must be positive, got %d", name, v)
		}
	}
	if o.Job.RetentionDays < 0 {
		return fmt.Errorf("--retention-days must not be negative, got %d", o.Job.RetentionDays)
	}

	durations := map[string]time.Duration{
		"poll-interval":   o.Policy.PollInterval,
		"throttle-delay":  o.Policy.ThrottleDelay,
		"retry-backoff":   o.Policy.RetryBackoff,
		"report-interval": o.Policy.ReportInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("--%s must be positive, got %s", name, d)
		}
	}

	if o.Ledger.Backend != LedgerMemory && o.Ledger.DSN == "" {
		return fmt.Errorf("--ledger-dsn is required for the %s ledger", o.Ledger.Backend)
	}
	return nil
}

// CutoffTime returns the parsed cutoff, or the zero time when none is set.
func (o *Options) CutoffTime() (time.Time, error) {
	if o.Job.Cutoff == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, o.Job.Cutoff); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --cutoff %q: want RFC3339 or YYYY-MM-DD", o.Job.Cutoff)
}

// MetricsEnabled reports whether metrics are collected.
func (o *Options) MetricsEnabled() bool {
	return !o.Ops.DisableMetrics
}
