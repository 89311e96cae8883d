package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.File)
	assert.Equal(t, 5.0, cfg.ADO.RequestsPerSecond)
	assert.Equal(t, 5, cfg.ADO.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ADO.Timeout)
	assert.Equal(t, "60 MB", cfg.Attachments.MaxSize)
	assert.Equal(t, "mantis_", cfg.Mantis.TablePrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Ledger.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
ado:
  organization: contoso
  project: Legacy
  requests_per_second: 2.5
  timeout: 10s
mantis:
  data: export/mantis_data.json
attachments:
  max_size: 10 MB
  exclude: ["*.exe", "**/thumbs.db"]
mapping:
  status:
    triaged: Active
  type:
    crash: Bug
workflow:
  paths:
    task: [New, Active, Closed]
`)
	t.Setenv("MANTIS2ADO_ADO_PROJECT", "FromEnv")
	t.Setenv("MANTIS2ADO_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "contoso", cfg.ADO.Organization)
	assert.Equal(t, "FromEnv", cfg.ADO.Project, "environment wins over the file")
	assert.Equal(t, 2.5, cfg.ADO.RequestsPerSecond)
	assert.Equal(t, 10*time.Second, cfg.ADO.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"*.exe", "**/thumbs.db"}, cfg.Attachments.Exclude)
	assert.Equal(t, "Active", cfg.Mapping.Status["triaged"])

	size, err := cfg.MaxSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), size)

	m, err := cfg.Mapper()
	require.NoError(t, err)
	state, err := m.MapStatus("triaged")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, state)

	conn := cfg.Connection("tok")
	assert.Equal(t, "contoso", conn.Organization)
	assert.Equal(t, "tok", conn.Token)
	assert.Equal(t, 10*time.Second, conn.Timeout)

	require.NoError(t, cfg.Validate())
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadDiscoversWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "ado:\n  organization: found\n")
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "found", cfg.ADO.Organization)
	assert.NotEmpty(t, cfg.File)
}

func validConfig() *Config {
	return &Config{
		ADO:         ADOConfig{Organization: "contoso", Project: "Legacy", RequestsPerSecond: 5, MaxRetries: 3},
		Attachments: AttachmentsConfig{MaxSize: "60 MB"},
		Log:         LogConfig{Level: "info"},
	}
}

func failedFields(t *testing.T, err error) map[string]bool {
	t.Helper()
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	fields := map[string]bool{}
	for _, fe := range fieldErrs {
		fields[fe.Field] = true
	}
	return fields
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.ADO.Organization = " "
	cfg.ADO.RequestsPerSecond = 0
	cfg.Attachments.MaxSize = "lots"
	cfg.Log.Level = "chatty"

	err := cfg.Validate()
	fields := failedFields(t, err)
	for _, want := range []string{"ado.organization", "ado.requests_per_second", "attachments.max_size", "log.level"} {
		assert.True(t, fields[want], "expected a %s error in %v", want, err)
	}
}

func TestValidateWorkflow(t *testing.T) {
	cfg := validConfig()
	cfg.Workflow.Template = filepath.Join(t.TempDir(), "missing.yaml")
	assert.True(t, failedFields(t, cfg.Validate())["workflow.template"])

	cfg = validConfig()
	cfg.Workflow.Paths = map[string][]string{"epic": {"New"}}
	assert.True(t, failedFields(t, cfg.Validate())["workflow.paths"])

	cfg = validConfig()
	cfg.Mapping.Status = map[string]string{"triaged": "Limbo"}
	assert.True(t, failedFields(t, cfg.Validate())["mapping"])

	dir := t.TempDir()
	tmpl := filepath.Join(dir, "agile.toml")
	require.NoError(t, os.WriteFile(tmpl, []byte("[paths]\nbug = [\"New\", \"Active\", \"Closed\"]\n"), 0o600))
	cfg = validConfig()
	cfg.Workflow.Template = tmpl
	require.NoError(t, cfg.Validate())
	paths, err := cfg.WorkflowPaths()
	require.NoError(t, err)
	assert.Equal(t, []types.State{types.StateNew, types.StateActive, types.StateClosed}, paths.Path(types.TypeBug))
}

func TestMaxSizeBytesUnlimited(t *testing.T) {
	for _, s := range []string{"", "0", "  "} {
		cfg := Config{Attachments: AttachmentsConfig{MaxSize: s}}
		n, err := cfg.MaxSizeBytes()
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.ADO.PAT = "secret"
	cfg.Mantis.DSN = "mantis:hunter2@tcp(db:3306)/bugtracker"

	r := cfg.Redacted()
	assert.Equal(t, "********", r.ADO.PAT)
	assert.Equal(t, "mantis:********@tcp(db:3306)/bugtracker", r.Mantis.DSN)
	assert.Equal(t, "secret", cfg.ADO.PAT, "original is untouched")
}

type mapStore map[string]string

func (m mapStore) Get(org string) (string, error) {
	if v, ok := m[org]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func TestResolvePAT(t *testing.T) {
	store := mapStore{"contoso": "from-keyring"}

	cfg := validConfig()
	cfg.ADO.PAT = "from-config"
	t.Setenv(PATEnv, "from-env")
	pat, src, err := cfg.ResolvePAT(store)
	require.NoError(t, err)
	assert.Equal(t, "from-config", pat)
	assert.Equal(t, PATFromConfig, src)

	cfg.ADO.PAT = ""
	pat, src, err = cfg.ResolvePAT(store)
	require.NoError(t, err)
	assert.Equal(t, "from-env", pat)
	assert.Equal(t, PATFromEnv, src)

	t.Setenv(PATEnv, "")
	pat, src, err = cfg.ResolvePAT(store)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", pat)
	assert.Equal(t, PATFromKeyring, src)

	_, _, err = cfg.ResolvePAT(nil)
	assert.ErrorIs(t, err, ErrNoPAT)
}
