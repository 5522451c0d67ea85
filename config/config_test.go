package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	opts, err := Load([]string{"--source-url", "http://old:9200"}, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "http://old:9200", opts.Source.URL)
	assert.Equal(t, []string{"http://localhost:9200"}, opts.Target.URLs)
	assert.Equal(t, 250, opts.Target.BatchSize)
	assert.Equal(t, "reindex", opts.Job.Name)
	assert.Equal(t, 180, opts.Job.RetentionDays)
	assert.Equal(t, 5, opts.Policy.MaxConcurrency)
	assert.Equal(t, 3, opts.Policy.MaxAttempts)
	assert.Equal(t, 5, opts.Policy.MaxErrors)
	assert.Equal(t, 5*time.Second, opts.Policy.PollInterval)
	assert.Equal(t, time.Second, opts.Policy.ThrottleDelay)
	assert.Equal(t, 15*time.Second, opts.Policy.RetryBackoff)
	assert.Equal(t, 5*time.Minute, opts.Policy.ReportInterval)
	assert.Equal(t, LedgerMemory, opts.Ledger.Backend)
	assert.Equal(t, ":9090", opts.Ops.MetricsAddr)
	assert.True(t, opts.MetricsEnabled())
	assert.NoError(t, opts.Validate())
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	opts, err := Load([]string{
		"--source-url", "http://old:9200",
		"--target-url", "http://a:9200",
		"--target-url", "http://b:9200",
		"--max-concurrency", "2",
		"--poll-interval", "250ms",
		"--ledger", "postgres",
		"--ledger-dsn", "postgres://localhost/reindex",
		"--disable-metrics",
	}, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, opts.Target.URLs)
	assert.Equal(t, 2, opts.Policy.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, opts.Policy.PollInterval)
	assert.Equal(t, LedgerPostgres, opts.Ledger.Backend)
	assert.False(t, opts.MetricsEnabled())
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("REINDEX_SOURCE_URL", "http://env-source:9200")
	t.Setenv("REINDEX_MAX_ATTEMPTS", "7")

	opts, err := Load(nil, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "http://env-source:9200", opts.Source.URL)
	assert.Equal(t, 7, opts.Policy.MaxAttempts)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("REINDEX_SCOPE=prod-\nREINDEX_RETENTION_DAYS=30\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("REINDEX_SCOPE")
		_ = os.Unsetenv("REINDEX_RETENTION_DAYS")
	})

	opts, err := Load(nil, envFile)
	require.NoError(t, err)

	assert.Equal(t, "prod-", opts.Target.Scope)
	assert.Equal(t, 30, opts.Job.RetentionDays)
}

func TestLoad_RejectsUnknownLedger(t *testing.T) {
	_, err := Load([]string{"--ledger", "redis"}, noEnvFile(t))
	assert.Error(t, err)
}

func TestValidate_RequiresSource(t *testing.T) {
	opts, err := Load(nil, noEnvFile(t))
	require.NoError(t, err)

	assert.ErrorIs(t, opts.Validate(), orchestrator.ErrSourceNotConfigured)
}

func TestValidate_RejectsNonPositiveKnobs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
		want   string
	}{
		{"concurrency", func(o *Options) { o.Policy.MaxConcurrency = 0 }, "max-concurrency"},
		{"attempts", func(o *Options) { o.Policy.MaxAttempts = -1 }, "max-attempts"},
		{"errors", func(o *Options) { o.Policy.MaxErrors = 0 }, "max-errors"},
		{"batch size", func(o *Options) { o.Target.BatchSize = 0 }, "batch-size"},
		{"retention", func(o *Options) { o.Job.RetentionDays = -1 }, "retention-days"},
		{"poll interval", func(o *Options) { o.Policy.PollInterval = 0 }, "poll-interval"},
		{"ledger dsn", func(o *Options) { o.Ledger.Backend = LedgerMongoDB }, "ledger-dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Load([]string{"--source-url", "http://old:9200"}, noEnvFile(t))
			require.NoError(t, err)

			tt.mutate(opts)

			err = opts.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCutoffTime(t *testing.T) {
	opts := &Options{}

	got, err := opts.CutoffTime()
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	opts.Job.Cutoff = "2024-03-01"
	got, err = opts.CutoffTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	opts.Job.Cutoff = "2024-03-01T10:00:00+02:00"
	got, err = opts.CutoffTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), got)

	opts.Job.Cutoff = "yesterday"
	_, err = opts.CutoffTime()
	assert.Error(t, err)
}
