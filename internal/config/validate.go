package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"github.com/mantis2ado/mantis2ado/internal/mapping"
)

// Validate checks the settings a migration needs. All problems are
// reported together as criterio.FieldErrors.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("ado.organization", c.ADO.Organization, required),
		criterio.Run("ado.project", c.ADO.Project, required),
		criterio.Run("ado.requests_per_second", c.ADO.RequestsPerSecond, positive),
		criterio.Run("ado.max_retries", c.ADO.MaxRetries, nonNegative),
		criterio.Run("attachments.max_size", c.Attachments.MaxSize, byteSize),
		criterio.Run("attachments.exclude", c.Attachments.Exclude, globPatterns),
		criterio.Run("log.level", c.Log.Level, logLevel),
		c.validateWorkflow(),
	)
}

// validateWorkflow checks the template file is readable and that the
// mapping overrides fit the effective paths.
func (c *Config) validateWorkflow() error {
	if c.Workflow.Template != "" {
		if err := readableFile(c.Workflow.Template); err != nil {
			return criterio.NewFieldErrors("workflow.template", err)
		}
	}
	paths, err := c.WorkflowPaths()
	if err != nil {
		field := "workflow.paths"
		if c.Workflow.Template != "" {
			field = "workflow.template"
		}
		return criterio.NewFieldErrors(field, err)
	}
	if _, err := mapping.New(paths, c.Mapping); err != nil {
		return criterio.NewFieldErrors("mapping", err)
	}
	return nil
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func positive(f float64) error {
	if f <= 0 {
		return fmt.Errorf("must be greater than 0, got %v", f)
	}
	return nil
}

func nonNegative(n int) error {
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func byteSize(s string) error {
	c := Config{Attachments: AttachmentsConfig{MaxSize: s}}
	if _, err := c.MaxSizeBytes(); err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	return nil
}

func globPatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	return nil
}

func logLevel(s string) error {
	if s == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(s)); err != nil {
		return fmt.Errorf("unknown level %q", s)
	}
	return nil
}

func readableFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}
	return nil
}
