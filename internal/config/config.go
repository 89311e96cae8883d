// Package config loads mantis2ado settings from mantis2ado.yaml, MANTIS2ADO_*
// environment variables and built-in defaults, in increasing precedence
// order: defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/mantis2ado/mantis2ado/internal/attachments"
	"github.com/mantis2ado/mantis2ado/internal/mapping"
	"github.com/mantis2ado/mantis2ado/internal/tracker"
	"github.com/mantis2ado/mantis2ado/internal/workflow"
)

// FileName is the config file looked up when no explicit path is given.
const FileName = "mantis2ado.yaml"

// EnvPrefix prefixes every environment override (MANTIS2ADO_ADO_PROJECT).
const EnvPrefix = "MANTIS2ADO"

// PATEnv is the conventional Azure DevOps token variable.
const PATEnv = "AZURE_DEVOPS_PAT"

// Config is the typed mantis2ado configuration.
type Config struct {
	ADO         ADOConfig         `mapstructure:"ado" yaml:"ado"`
	Mantis      MantisConfig      `mapstructure:"mantis" yaml:"mantis"`
	Workflow    WorkflowConfig    `mapstructure:"workflow" yaml:"workflow"`
	Mapping     mapping.Overrides `mapstructure:"mapping" yaml:"mapping"`
	Attachments AttachmentsConfig `mapstructure:"attachments" yaml:"attachments"`
	Ledger      LedgerConfig      `mapstructure:"ledger" yaml:"ledger"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

// ADOConfig locates the Azure DevOps project.
type ADOConfig struct {
	Organization      string        `mapstructure:"organization" yaml:"organization"`
	Project           string        `mapstructure:"project" yaml:"project"`
	PAT               string        `mapstructure:"pat" yaml:"pat,omitempty"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	IdentityURL       string        `mapstructure:"identity_url" yaml:"identity_url,omitempty"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MantisConfig names the legacy input: an export file or a live database.
type MantisConfig struct {
	Data           string `mapstructure:"data" yaml:"data,omitempty"`
	AttachmentsDir string `mapstructure:"attachments_dir" yaml:"attachments_dir,omitempty"`
	DSN            string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	TablePrefix    string `mapstructure:"table_prefix" yaml:"table_prefix"`
	TableSuffix    string `mapstructure:"table_suffix" yaml:"table_suffix"`
}

// WorkflowConfig overrides the per-type state paths, either from a process
// template file or inline.
type WorkflowConfig struct {
	Template string              `mapstructure:"template" yaml:"template,omitempty"`
	Paths    map[string][]string `mapstructure:"paths" yaml:"paths,omitempty"`
}

// AttachmentsConfig tunes attachment syncing.
type AttachmentsConfig struct {
	MaxSize     string   `mapstructure:"max_size" yaml:"max_size"`
	Exclude     []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
}

// LedgerConfig locates the local run journal.
type LedgerConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Disabled bool   `mapstructure:"disabled" yaml:"disabled"`
}

// LogConfig controls the structured log.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
}

// TelemetryConfig enables OpenTelemetry export. Endpoint is an OTLP/HTTP
// metrics collector.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Stdout   bool   `mapstructure:"stdout" yaml:"stdout"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ado.organization", "")
	v.SetDefault("ado.project", "")
	v.SetDefault("ado.pat", "")
	v.SetDefault("ado.base_url", "")
	v.SetDefault("ado.identity_url", "")
	v.SetDefault("ado.requests_per_second", 5.0)
	v.SetDefault("ado.max_retries", 5)
	v.SetDefault("ado.timeout", 30*time.Second)

	v.SetDefault("mantis.data", "")
	v.SetDefault("mantis.attachments_dir", "")
	v.SetDefault("mantis.dsn", "")
	v.SetDefault("mantis.table_prefix", "mantis_")
	v.SetDefault("mantis.table_suffix", "_table")

	v.SetDefault("workflow.template", "")

	v.SetDefault("attachments.max_size", "60 MB")
	v.SetDefault("attachments.exclude", []string{})
	v.SetDefault("attachments.concurrency", attachments.DefaultConcurrency)

	v.SetDefault("ledger.path", defaultLedgerPath())
	v.SetDefault("ledger.disabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.endpoint", "")
}

func defaultLedgerPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".mantis2ado", "ledger.db")
	}
	return filepath.Join(dir, "mantis2ado", "ledger.db")
}

// Load reads configuration. An explicit path must exist; with an empty path
// mantis2ado.yaml is looked up in the working directory and then in the
// user config directory, and its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "mantis2ado"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

// MaxSizeBytes parses attachments.max_size ("60 MB", "1GiB"). Empty or "0"
// means unlimited.
func (c *Config) MaxSizeBytes() (int64, error) {
	s := strings.TrimSpace(c.Attachments.MaxSize)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// AttachmentOptions returns the synchronizer options.
func (c *Config) AttachmentOptions() (attachments.Options, error) {
	size, err := c.MaxSizeBytes()
	if err != nil {
		return attachments.Options{}, fmt.Errorf("attachments.max_size: %w", err)
	}
	return attachments.Options{
		Exclude:     c.Attachments.Exclude,
		MaxSize:     size,
		Concurrency: c.Attachments.Concurrency,
	}, nil
}

// WorkflowPaths returns the effective state paths: the template file if one
// is configured, else inline paths, else the defaults.
func (c *Config) WorkflowPaths() (workflow.Paths, error) {
	if c.Workflow.Template != "" {
		return workflow.Load(c.Workflow.Template)
	}
	if len(c.Workflow.Paths) > 0 {
		return workflow.FromMap(c.Workflow.Paths)
	}
	return workflow.DefaultPaths(), nil
}

// Mapper builds the field mapper from the workflow paths and the mapping
// overrides.
func (c *Config) Mapper() (*mapping.Mapper, error) {
	paths, err := c.WorkflowPaths()
	if err != nil {
		return nil, err
	}
	return mapping.New(paths, c.Mapping)
}

// Connection returns the target connection settings using token.
func (c *Config) Connection(token string) tracker.Connection {
	return tracker.Connection{
		Organization:      c.ADO.Organization,
		Project:           c.ADO.Project,
		Token:             token,
		BaseURL:           c.ADO.BaseURL,
		IdentityURL:       c.ADO.IdentityURL,
		RequestsPerSecond: c.ADO.RequestsPerSecond,
		MaxRetries:        c.ADO.MaxRetries,
		Timeout:           c.ADO.Timeout,
	}
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.ADO.PAT != "" {
		out.ADO.PAT = "********"
	}
	if out.Mantis.DSN != "" {
		out.Mantis.DSN = redactDSN(out.Mantis.DSN)
	}
	return out
}

// redactDSN masks the password of user:pass@tcp(host)/db.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	creds := dsn[:at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return creds[:colon] + ":********" + dsn[at:]
	}
	return dsn
}
