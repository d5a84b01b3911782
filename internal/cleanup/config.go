package cleanup

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRetention defines how long an unsubmitted session is retained
// before it becomes a cleanup candidate (7 days).
const DefaultRetention = 7 * 24 * time.Hour

const (
	DefaultBatchSize      = 500
	DefaultMaxConcurrency = 4
)

// DefaultLiveStatuses are the relationship statuses that mark an entity as
// claimed by an active business process. Anything else is treated as
// abandoned and does not block cleanup.
var DefaultLiveStatuses = []string{"submitted", "active", "new", "in_progress"}

// Config holds the cleanup job configuration.
type Config struct {
	// Retention is the age a token must exceed before it becomes a
	// candidate. The cutoff is computed once per run as now - Retention.
	Retention time.Duration

	// LiveStatuses is the set of relationship statuses treated as live.
	LiveStatuses []string

	// BatchSize is the page size used when listing candidates.
	BatchSize int

	// MaxConcurrency bounds the number of candidates processed in parallel.
	MaxConcurrency int

	// FatalIfAllCandidatesFail makes the run fail when every candidate
	// errored, instead of reporting completed with a full error tally.
	FatalIfAllCandidatesFail bool

	// DryRun classifies and tallies without deleting anything.
	DryRun bool
}

// DefaultConfig returns the configuration used when no overrides are set.
func DefaultConfig() Config {
	return Config{
		Retention:      DefaultRetention,
		LiveStatuses:   DefaultLiveStatuses,
		BatchSize:      DefaultBatchSize,
		MaxConcurrency: DefaultMaxConcurrency,
	}
}

// LoadConfig loads the cleanup configuration from environment variables and,
// when CLEANUP_POLICY_FILE is set, the YAML liveness policy file.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("CLEANUP_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, &ConfigurationError{Field: "CLEANUP_RETENTION", Reason: err.Error()}
		}
		cfg.Retention = d
	}

	if v := os.Getenv("CLEANUP_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &ConfigurationError{Field: "CLEANUP_BATCH_SIZE", Reason: err.Error()}
		}
		cfg.BatchSize = n
	}

	if v := os.Getenv("CLEANUP_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &ConfigurationError{Field: "CLEANUP_MAX_CONCURRENCY", Reason: err.Error()}
		}
		cfg.MaxConcurrency = n
	}

	cfg.FatalIfAllCandidatesFail = os.Getenv("CLEANUP_FATAL_IF_ALL_FAIL") == "true"
	cfg.DryRun = os.Getenv("CLEANUP_DRY_RUN") == "true"

	if path := os.Getenv("CLEANUP_POLICY_FILE"); path != "" {
		statuses, err := LoadLivenessPolicy(path)
		if err != nil {
			return cfg, &ConfigurationError{Field: "CLEANUP_POLICY_FILE", Reason: err.Error()}
		}
		cfg.LiveStatuses = statuses
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

type livenessPolicyFile struct {
	LiveStatuses []string `yaml:"live_statuses"`
}

// LoadLivenessPolicy loads a liveness policy YAML file and returns the set of
// relationship statuses treated as live.
func LoadLivenessPolicy(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf livenessPolicyFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, err
	}
	return pf.LiveStatuses, nil
}

// Validate checks the configuration before any deletion is attempted.
func (c Config) Validate() error {
	if c.Retention <= 0 {
		return &ConfigurationError{Field: "retention", Reason: "must be a positive duration"}
	}
	if c.BatchSize <= 0 {
		return &ConfigurationError{Field: "batch_size", Reason: "must be a positive integer"}
	}
	if c.MaxConcurrency <= 0 {
		return &ConfigurationError{Field: "max_concurrency", Reason: "must be a positive integer"}
	}
	if len(c.LiveStatuses) == 0 {
		return &ConfigurationError{Field: "live_statuses", Reason: "must not be empty"}
	}
	return nil
}
