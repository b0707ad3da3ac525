package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/rushops/rush/job"
)

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn or error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// JobsConfig configures where jobs are discovered and how their manifests are named.
type JobsConfig struct {
	Locations      []string `mapstructure:"locations" yaml:"locations"`             // Ordered job search locations. The first match wins.
	ParamsFile     string   `mapstructure:"params_file" yaml:"params_file"`         // File name of the parameter manifest inside a job directory
	OperationsFile string   `mapstructure:"operations_file" yaml:"operations_file"` // File name of the operations manifest inside a job directory
}

// ExecutionConfig configures parameter resolution and the executor.
type ExecutionConfig struct {
	Policy              string        `mapstructure:"policy" yaml:"policy"`                               // fail-fast or lenient
	SharedSection       string        `mapstructure:"shared_section" yaml:"shared_section"`               // Section of the parameter manifest shared by every environment
	MaxReferenceDepth   int           `mapstructure:"max_reference_depth" yaml:"max_reference_depth"`     // Maximum nesting of parameter references
	AllowSharedFallback bool          `mapstructure:"allow_shared_fallback" yaml:"allow_shared_fallback"` // Resolve unknown environments from the shared section alone
	RetryAttempts       uint          `mapstructure:"retry_attempts" yaml:"retry_attempts"`               // Attempts for network bound operations such as git_clone
	RetryDelay          time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`                     // Pause between those attempts
}

// DatabaseConfig configures the connection used by the db operations.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // database/sql driver name
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // Secret: administrative connection string
}

// HostConfig configures the host operations.
type HostConfig struct {
	VhostDir      string `mapstructure:"vhost_dir" yaml:"vhost_dir"`           // Directory virtual host files are written to
	HostsFile     string `mapstructure:"hosts_file" yaml:"hosts_file"`         // hosts file managed by create_dns and delete_dns
	ApacheRestart string `mapstructure:"apache_restart" yaml:"apache_restart"` // Command line used by restart_apache
}

// ToolsConfig names the external programs run by operations.
type ToolsConfig struct {
	Git    string `mapstructure:"git" yaml:"git"`
	Drush  string `mapstructure:"drush" yaml:"drush"`
	PgDump string `mapstructure:"pg_dump" yaml:"pg_dump"`
	Open   string `mapstructure:"open" yaml:"open"` // Command line used by open_uri
}

// GitHubConfig configures create_remote_repo.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type GitHubConfig struct {
	Token   string `mapstructure:"token" yaml:"token"`       // Secret: API token
	BaseURL string `mapstructure:"base_url" yaml:"base_url"` // GitHub Enterprise API URL. Empty means github.com
}

// Config wraps the entire configuration for rush.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Jobs      JobsConfig      `mapstructure:"jobs" yaml:"jobs"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Host      HostConfig      `mapstructure:"host" yaml:"host"`
	Tools     ToolsConfig     `mapstructure:"tools" yaml:"tools"`
	GitHub    GitHubConfig    `mapstructure:"github" yaml:"github"`
}

// Validate checks that the configuration can be used to run jobs.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}
	if len(c.Jobs.Locations) == 0 {
		errs = append(errs, errors.New("jobs.locations: at least one location is required"))
	}
	if c.Jobs.ParamsFile == "" || c.Jobs.OperationsFile == "" {
		errs = append(errs, errors.New("jobs: params_file and operations_file are required"))
	}
	if _, err := job.ParsePolicy(c.Execution.Policy); err != nil {
		errs = append(errs, fmt.Errorf("execution.policy: %w", err))
	}
	if c.Execution.MaxReferenceDepth < 1 {
		errs = append(errs, fmt.Errorf("execution.max_reference_depth: must be positive, got %d", c.Execution.MaxReferenceDepth))
	}
	if strings.TrimSpace(c.Execution.SharedSection) == "" {
		errs = append(errs, errors.New("execution.shared_section: is required"))
	}

	return errors.Join(errs...)
}

// Policy returns the parsed failure policy. Call Validate first.
func (c *Config) Policy() job.Policy {
	p, err := job.ParsePolicy(c.Execution.Policy)
	if err != nil {
		return job.FailFast
	}

	return p
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	// Bind environment variables
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fallback to using
	// environment variables
	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadEnv loads the config from the environment variables.
func LoadEnv() (*Config, error) {
	v := newViper()

	// Bind environment variables
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadFile loads the config from a file. Environment variables are ignored.
func LoadFile(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// Default returns the configuration used when neither a file nor environment variables set
// anything.
func Default() *Config {
	cfg := &Config{}
	// defaults only contain plain values, decoding them cannot fail
	_ = newViper().Unmarshal(cfg)

	return cfg
}

// DefaultLocations are the job search locations used when none are configured. A leading ~ is
// expanded to the user's home directory by the workspace.
var DefaultLocations = []string{"./rush/jobs", "~/.rush/jobs", "/etc/rush/jobs"}

var defaults = map[string]any{
	"log.level":                     "info",
	"log.format":                    "text",
	"jobs.locations":                DefaultLocations,
	"jobs.params_file":              "params.ini",
	"jobs.operations_file":          "operations.ini",
	"execution.policy":              string(job.FailFast),
	"execution.shared_section":      "default",
	"execution.max_reference_depth": 32,
	"execution.retry_attempts":      3,
	"execution.retry_delay":         2 * time.Second,
	"database.driver":               "postgres",
	"host.vhost_dir":                "/etc/apache2/sites-available",
	"host.hosts_file":               "/etc/hosts",
	"host.apache_restart":           "apachectl graceful",
	"tools.git":                     "git",
	"tools.drush":                   "drush",
	"tools.pg_dump":                 "pg_dump",
	"tools.open":                    "xdg-open",
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

var (
	// envBindings defines how environment variables map to configuration keys used by Viper.
	// Each entry maps a config key (as used in the struct, e.g. "database.dsn") to a list of
	// environment variable names that can provide its value.
	//
	// The first element in the list is the preferred environment variable name, the others are
	// legacy names still honoured for existing setups. Viper uses the first one that is set.
	envBindings = map[string][]string{
		"log.level":                       {"RUSH_LOG_LEVEL", "LOG_LEVEL"},
		"log.format":                      {"RUSH_LOG_FORMAT"},
		"jobs.locations":                  {"RUSH_JOB_LOCATIONS", "RUSH_PATH"},
		"jobs.params_file":                {"RUSH_PARAMS_FILE"},
		"jobs.operations_file":            {"RUSH_OPERATIONS_FILE"},
		"execution.policy":                {"RUSH_POLICY"},
		"execution.shared_section":        {"RUSH_SHARED_SECTION"},
		"execution.max_reference_depth":   {"RUSH_MAX_REFERENCE_DEPTH"},
		"execution.allow_shared_fallback": {"RUSH_ALLOW_SHARED_FALLBACK"},
		"execution.retry_attempts":        {"RUSH_RETRY_ATTEMPTS"},
		"execution.retry_delay":           {"RUSH_RETRY_DELAY"},
		"database.driver":                 {"RUSH_DB_DRIVER"},
		"database.dsn":                    {"RUSH_DB_DSN", "DATABASE_URL"},
		"host.vhost_dir":                  {"RUSH_VHOST_DIR", "APACHE_VHOST_DIR"},
		"host.hosts_file":                 {"RUSH_HOSTS_FILE"},
		"host.apache_restart":             {"RUSH_APACHE_RESTART"},
		"tools.git":                       {"RUSH_GIT"},
		"tools.drush":                     {"RUSH_DRUSH", "DRUSH"},
		"tools.pg_dump":                   {"RUSH_PG_DUMP"},
		"tools.open":                      {"RUSH_OPEN_COMMAND", "BROWSER"},
		"github.token":                    {"RUSH_GITHUB_TOKEN", "GITHUB_TOKEN"},
		"github.base_url":                 {"RUSH_GITHUB_URL"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		// Prepend the config key to the start of the arguments
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
