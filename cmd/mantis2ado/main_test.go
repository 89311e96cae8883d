package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantis2ado/mantis2ado/internal/config"
	"github.com/mantis2ado/mantis2ado/internal/credential"
	"github.com/mantis2ado/mantis2ado/internal/debug"
	"github.com/mantis2ado/mantis2ado/internal/lockfile"
	"github.com/mantis2ado/mantis2ado/internal/tracker/testutil"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

const cliExport = `{
  "bugs_by_id": {
    "12": {
      "project": {"name": "Web"},
      "category": {"name": "UI"},
      "summary": "Button misaligned",
      "description": "off by two pixels",
      "status": 50, "status_label": "assigned",
      "priority": 40, "severity": 60, "severity_label": "major",
      "reporter": {"id": 7, "username": "rep", "realname": "Rep Orter", "email": "rep@example.com"},
      "date_submitted": 1609459200,
      "bugnotes": [
        {"id": 30, "note_text": "first", "date_submitted": 1609502400,
         "reporter": {"id": 7, "username": "rep", "email": "rep@example.com"}}
      ]
    },
    "3": {
      "project": {"name": "Api"},
      "summary": "Crash on save",
      "status": 90, "priority": 30, "severity": 10,
      "reporter": {"id": 8, "username": "dev", "email": "dev@example.com"},
      "handler": {"id": 8, "username": "dev", "realname": "Dev", "email": "dev@example.com"},
      "date_submitted": 1609459200
    }
  }
}`

const cliManifest = "file_id,bug_id,filename,diskfile,filesize,file_type,title,description,path\n" +
	"5,12,shot.png,abc,4,image/png,,,bug_12/5_shot.png\n"

type cliEnv struct {
	mock   *testutil.AzureDevOpsMockServer
	dir    string
	export string
	attDir string
	ledger string
}

func newCLIEnv(t *testing.T, export string) *cliEnv {
	t.Helper()
	mock := testutil.NewAzureDevOpsMockServer()
	t.Cleanup(mock.Close)
	mock.Mem.AddUser(types.TargetUser{ID: "u-dev", DisplayName: "Dev", UniqueName: "dev@example.com"})

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	env := &cliEnv{
		mock:   mock,
		dir:    dir,
		export: filepath.Join(dir, "mantis_data.json"),
		attDir: filepath.Join(dir, "attachments"),
		ledger: filepath.Join(dir, "ledger.db"),
	}
	require.NoError(t, os.WriteFile(env.export, []byte(export), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(env.attDir, "bug_12"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.attDir, "bug_12", "5_shot.png"), []byte("\x89PNG"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(env.attDir, "manifest.csv"), []byte(cliManifest), 0o600))

	t.Setenv("MANTIS2ADO_ADO_ORGANIZATION", "testorg")
	t.Setenv("MANTIS2ADO_ADO_PROJECT", "testproj")
	t.Setenv("MANTIS2ADO_ADO_BASE_URL", mock.URL())
	t.Setenv("MANTIS2ADO_ADO_IDENTITY_URL", mock.URL())
	t.Setenv("MANTIS2ADO_ADO_REQUESTS_PER_SECOND", "1000")
	t.Setenv("MANTIS2ADO_ADO_MAX_RETRIES", "0")
	t.Setenv("MANTIS2ADO_LEDGER_PATH", env.ledger)
	t.Setenv("MANTIS2ADO_LOG_LEVEL", "error")
	t.Setenv(config.PATEnv, "test-pat")
	return env
}

// resetFlags restores every flag to its default between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { rootCancel() })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(&bytes.Buffer{})
	debug.SetOutput(&out, &errOut)
	t.Cleanup(func() { debug.SetOutput(os.Stdout, os.Stderr) })

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	shutdown()
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	return exit.code
}

func TestMigrateTwiceIsIdempotent(t *testing.T) {
	env := newCLIEnv(t, cliExport)

	out, err := runCLI(t, "migrate", "--data", env.export, "--attachments-dir", env.attDir, "--yes")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Mantis-3")
	assert.Contains(t, out, "Mantis-12")
	assert.Regexp(t, `created\s+2`, out)

	items := env.mock.Mem.Items()
	require.Len(t, items, 2)
	var bug12 types.WorkItem
	for _, it := range items {
		if it.Title == "Button misaligned" {
			bug12 = it
		}
	}
	require.NotZero(t, bug12.ID)
	assert.Contains(t, bug12.Tags, "Mantis-12")
	assert.Equal(t, types.StateActive, bug12.State)
	assert.Len(t, env.mock.Mem.Attachments(bug12.ID), 1)
	// first note plus the metadata record
	assert.Len(t, env.mock.Mem.Comments(bug12.ID), 2)

	out, err = runCLI(t, "migrate", "--data", env.export, "--attachments-dir", env.attDir, "--yes")
	require.NoError(t, err, out)
	assert.Regexp(t, `unchanged\s+2`, out)
	assert.Regexp(t, `attachments already present\s+1`, out)
	assert.Len(t, env.mock.Mem.Items(), 2)
	assert.Len(t, env.mock.Mem.Comments(bug12.ID), 2)
	assert.Len(t, env.mock.Mem.Attachments(bug12.ID), 1)

	out, err = runCLI(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "RECENT RUNS")
	assert.Contains(t, out, "0 created, 0 updated, 2 unchanged, 0 failed")
	assert.Contains(t, out, "2 created, 0 updated, 0 unchanged, 0 failed")
	assert.Contains(t, out, "no failed issues")

	out, err = runCLI(t, "status", "--bug-id", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "MANTIS-12")
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "skipped")
}

func TestMigrateFiltersAndDryRun(t *testing.T) {
	env := newCLIEnv(t, cliExport)

	out, err := runCLI(t, "migrate", "--data", env.export, "--project-filter", "web", "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Mantis-12 would create")
	assert.NotContains(t, out, "Mantis-3")
	assert.Contains(t, out, "MIGRATION PLAN (DRY RUN)")
	assert.Empty(t, env.mock.Mem.Items())

	out, err = runCLI(t, "migrate", "--data", env.export, "--bug-id", "3", "--yes")
	require.NoError(t, err, out)
	items := env.mock.Mem.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Crash on save", items[0].Title)
	assert.Equal(t, types.StateClosed, items[0].State)
	assert.Equal(t, "dev@example.com", items[0].AssignedTo)

	out, err = runCLI(t, "migrate", "--data", env.export, "--bug-id", "404", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "No Mantis issues match")
}

func TestMigrateFailureAndRetry(t *testing.T) {
	bad := `{"bugs": [
	  {"id": 1, "project": {"name": "Web"}, "summary": "fine", "status_label": "new", "priority": 30, "severity": 50},
	  {"id": 2, "project": {"name": "Web"}, "summary": "odd", "status_label": "limbo", "priority": 30, "severity": 50}
	]}`
	env := newCLIEnv(t, bad)

	out, err := runCLI(t, "migrate", "--data", env.export, "--yes")
	require.Error(t, err)
	assert.Equal(t, exitIssuesFailed, exitCode(t, err))
	assert.Contains(t, out, "Mantis-2 failed at map [UnmappedStatus]")
	require.Len(t, env.mock.Mem.Items(), 1)

	out, err = runCLI(t, "migrate", "--data", env.export, "--retry-failed", "--yes")
	require.Error(t, err)
	assert.Equal(t, exitIssuesFailed, exitCode(t, err))
	assert.Contains(t, out, "Mantis-2 failed")
	assert.NotContains(t, out, "Mantis-1 ")

	out, err = runCLI(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "FAILED ISSUES (1)")
	assert.Contains(t, out, "Mantis-2 at map [UnmappedStatus]")
}

func TestRetryFailedWithCleanLastRun(t *testing.T) {
	env := newCLIEnv(t, cliExport)

	_, err := runCLI(t, "migrate", "--data", env.export, "--retry-failed", "--yes")
	require.Error(t, err, "no previous run")

	_, err = runCLI(t, "migrate", "--data", env.export, "--yes")
	require.NoError(t, err)

	out, err := runCLI(t, "migrate", "--data", env.export, "--retry-failed", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "No failed issues")
}

func TestMigrateRefusesConcurrentRun(t *testing.T) {
	env := newCLIEnv(t, cliExport)

	held, err := lockfile.Acquire(filepath.Join(env.dir, "migrate.lock"), "testorg/testproj")
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = runCLI(t, "migrate", "--data", env.export, "--yes")
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrLocked)
	assert.Empty(t, env.mock.Mem.Items())

	out, err := runCLI(t, "migrate", "--data", env.export, "--dry-run")
	require.NoError(t, err, "dry runs do not take the lock")
	assert.Contains(t, out, "would create")
}

func TestMigrateNeedsInput(t *testing.T) {
	newCLIEnv(t, cliExport)

	_, err := runCLI(t, "migrate", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no legacy input")
}

func TestMigrateRejectsInvalidConfig(t *testing.T) {
	env := newCLIEnv(t, cliExport)
	t.Setenv("MANTIS2ADO_ADO_PROJECT", "")
	t.Setenv("MANTIS2ADO_ATTACHMENTS_MAX_SIZE", "lots")

	_, err := runCLI(t, "migrate", "--data", env.export, "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ado.project")
	assert.Contains(t, err.Error(), "attachments.max_size")
	assert.Empty(t, env.mock.Mem.Items())
}

func TestConfigCommands(t *testing.T) {
	newCLIEnv(t, cliExport)
	t.Setenv("MANTIS2ADO_MANTIS_DSN", "mantis:hunter2@tcp(db:3306)/bugtracker")
	t.Setenv("MANTIS2ADO_ADO_PAT", "very-secret")

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "organization: testorg")
	assert.Contains(t, out, "mantis:********@tcp(db:3306)/bugtracker")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "very-secret")

	out, err = runCLI(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	t.Setenv("MANTIS2ADO_LOG_LEVEL", "chatty")
	_, err = runCLI(t, "config", "validate")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, err.Error(), "log.level")
}

func TestAuthCommands(t *testing.T) {
	newCLIEnv(t, cliExport)
	ring := keyring.NewArrayKeyring(nil)
	old := openCredentials
	openCredentials = func() (*credential.Store, error) { return credential.NewStore(ring), nil }
	t.Cleanup(func() { openCredentials = old })

	resetFlags(rootCmd)
	rootCmd.SetIn(bytes.NewBufferString("from-stdin\n"))
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"auth", "set-pat"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "stored token for testorg")

	store := credential.NewStore(ring)
	got, err := store.Get("testorg")
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", got)

	// The keyring is the last fallback for migrate.
	pat, err := keyringTokens{}.Get("testorg")
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", pat)

	_, err = runCLI(t, "auth", "clear")
	require.NoError(t, err)
	_, err = store.Get("testorg")
	assert.True(t, errors.Is(err, credential.ErrNotFound))
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mantis2ado version "+Version)
}
