package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mantis2ado/mantis2ado/internal/attachments"
	"github.com/mantis2ado/mantis2ado/internal/config"
	"github.com/mantis2ado/mantis2ado/internal/debug"
	"github.com/mantis2ado/mantis2ado/internal/ledger"
	"github.com/mantis2ado/mantis2ado/internal/lockfile"
	"github.com/mantis2ado/mantis2ado/internal/mantis"
	"github.com/mantis2ado/mantis2ado/internal/tracker"
	_ "github.com/mantis2ado/mantis2ado/internal/tracker/azuredevops"
	"github.com/mantis2ado/mantis2ado/internal/types"
	"github.com/mantis2ado/mantis2ado/internal/ui"
)

// exitIssuesFailed is the exit code of a run that finished with failed issues.
const exitIssuesFailed = 2

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "migrate",
	Short:   "Migrate Mantis issues into Azure DevOps",
	Long: `Migrate Mantis issues into Azure DevOps work items.

Issues are read from a JSON export (--data) or directly from the Mantis MySQL
database (--db-dsn). Each issue is matched to its work item by the Mantis-<id>
tag: missing items are created, existing items only get the comments,
metadata and attachments a previous run left out. --force-update also
overwrites the mapped fields and re-evaluates the state.

Examples:
  mantis2ado migrate --data export/mantis_data.json --attachments-dir export/attachments
  mantis2ado migrate --data export.json --project-filter Web --limit 10 --dry-run
  mantis2ado migrate --db-dsn 'mantis:secret@tcp(db:3306)/bugtracker' --bug-id 1234
  mantis2ado migrate --data export.json --retry-failed --yes`,
	RunE: runMigrate,
}

func init() {
	f := migrateCmd.Flags()
	f.String("data", "", "Path to the Mantis JSON export (overrides mantis.data)")
	f.String("db-dsn", "", "Read issues from a Mantis MySQL database instead of an export (overrides mantis.dsn)")
	f.String("attachments-dir", "", "Directory holding exported attachment files (overrides mantis.attachments_dir)")
	f.Int("bug-id", 0, "Migrate a single Mantis issue")
	f.String("project-filter", "", "Only migrate issues of this Mantis project (case-insensitive)")
	f.Bool("force-update", false, "Overwrite fields and state of work items that already exist")
	f.Int("limit", 0, "Migrate at most this many issues")
	f.Bool("retry-failed", false, "Only migrate issues that failed in the previous run")
	f.Bool("dry-run", false, "Resolve, map and locate only; write nothing")
	f.BoolP("yes", "y", false, "Skip the confirmation prompt")
	f.Bool("json", false, "Print the run summary as JSON")

	rootCmd.AddCommand(migrateCmd)
}

// migrateFlags are the parsed migrate options.
type migrateFlags struct {
	filter      types.Filter
	forceUpdate bool
	retryFailed bool
	dryRun      bool
	yes         bool
	jsonOut     bool
}

func parseMigrateFlags(cmd *cobra.Command, c *config.Config) migrateFlags {
	f := cmd.Flags()
	if v, _ := f.GetString("data"); v != "" {
		c.Mantis.Data = v
	}
	if v, _ := f.GetString("db-dsn"); v != "" {
		c.Mantis.DSN = v
	}
	if v, _ := f.GetString("attachments-dir"); v != "" {
		c.Mantis.AttachmentsDir = v
	}

	var m migrateFlags
	m.filter.IssueID, _ = f.GetInt("bug-id")
	m.filter.Project, _ = f.GetString("project-filter")
	m.filter.Limit, _ = f.GetInt("limit")
	m.forceUpdate, _ = f.GetBool("force-update")
	m.retryFailed, _ = f.GetBool("retry-failed")
	m.dryRun, _ = f.GetBool("dry-run")
	m.yes, _ = f.GetBool("yes")
	m.jsonOut, _ = f.GetBool("json")
	return m
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := rootCtx
	out := cmd.OutOrStdout()
	opts := parseMigrateFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%s", formatValidation(err))
	}

	if !opts.dryRun {
		lock, err := lockfile.Acquire(runLockPath(cfg), cfg.ADO.Organization+"/"+cfg.ADO.Project)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	var journal *ledger.Ledger
	if !cfg.Ledger.Disabled {
		var err error
		journal, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			if opts.retryFailed {
				return err
			}
			log.Warn().Err(err).Str("path", cfg.Ledger.Path).Msg("run ledger unavailable")
		} else {
			defer journal.Close()
		}
	}
	if opts.retryFailed {
		if journal == nil {
			return errors.New("--retry-failed needs the run ledger (ledger.disabled is set)")
		}
		only, last, err := journal.FailedIDs(ctx, cfg.ADO.Organization, cfg.ADO.Project)
		if err != nil {
			return err
		}
		if len(only) == 0 {
			debug.PrintNormal("%s No failed issues in run %s.\n", ui.RenderPassIcon(), last.ID)
			return nil
		}
		opts.filter.Only = only
		debug.Logf("retrying %d failed issues from run %s\n", len(only), last.ID)
	}

	issues, loader, closeSource, err := openSource(ctx, cfg, opts.filter)
	if err != nil {
		return err
	}
	defer closeSource()

	selected := opts.filter.Apply(issues)
	if len(selected) == 0 {
		debug.PrintNormal("No Mantis issues match the selection.\n")
		return nil
	}

	pat, source, err := cfg.ResolvePAT(keyringTokens{})
	if err != nil {
		return err
	}
	debug.Logf("using personal access token from %s\n", source)

	target, err := tracker.NewTarget("azuredevops", cfg.Connection(pat))
	if err != nil {
		return err
	}
	target = tracker.WrapTarget(target)
	mapper, err := cfg.Mapper()
	if err != nil {
		return err
	}
	attOpts, err := cfg.AttachmentOptions()
	if err != nil {
		return err
	}

	if !opts.dryRun && !opts.yes && ui.IsInteractive() {
		ok, err := confirmMigration(len(selected), attOpts)
		if err != nil {
			return err
		}
		if !ok {
			debug.PrintNormal("Migration cancelled.\n")
			return nil
		}
	}

	engine := tracker.NewEngine(target, target, mapper)
	engine.Logger = log.Logger
	engine.Attachments.Loader = loader
	engine.Attachments.Options = attOpts
	engine.OnMessage = func(msg string) { debug.Logf("-> %s\n", msg) }
	engine.OnWarning = func(msg string) { log.Debug().Msg(msg) }

	var run *ledger.Run
	if journal != nil && !opts.dryRun {
		run, err = journal.StartRun(ctx, ledger.RunInfo{
			Organization: cfg.ADO.Organization,
			Project:      cfg.ADO.Project,
			Source:       sourceName(cfg),
			ForceUpdate:  opts.forceUpdate,
		})
		if err != nil {
			log.Warn().Err(err).Msg("could not record run")
		}
	}

	engine.OnResult = func(r *tracker.IssueResult) {
		if !opts.jsonOut && (!debug.IsQuiet() || r.Failed()) {
			fmt.Fprintln(out, ui.IssueLine(r))
		}
		if run != nil {
			// The ledger write must land even when the run is being canceled.
			if err := journal.RecordIssue(context.WithoutCancel(ctx), run.ID, r); err != nil {
				log.Warn().Err(err).Int("legacy_id", r.LegacyID).Msg("could not record issue result")
			}
		}
	}

	summary, migrateErr := engine.Migrate(ctx, selected, tracker.MigrateOptions{
		ForceUpdate: opts.forceUpdate,
		DryRun:      opts.dryRun,
	})
	if summary != nil && run != nil {
		if err := journal.FinishRun(context.WithoutCancel(ctx), run.ID, summary); err != nil {
			log.Warn().Err(err).Msg("could not record run summary")
		}
	}
	if summary != nil {
		if err := printSummary(out, summary, opts.jsonOut); err != nil {
			return err
		}
	}

	if migrateErr != nil {
		if tracker.IsCanceled(migrateErr) {
			return &exitError{code: 130, msg: "Migration canceled."}
		}
		return migrateErr
	}
	if summary.Failed > 0 {
		return &exitError{code: exitIssuesFailed, msg: fmt.Sprintf("%d issue(s) failed; rerun with --retry-failed after fixing the cause.", summary.Failed)}
	}
	return nil
}

// openSource loads the legacy issues and picks the attachment loader.
func openSource(ctx context.Context, c *config.Config, filter types.Filter) ([]types.LegacyIssue, attachments.Loader, func(), error) {
	noop := func() {}
	var disk attachments.Loader
	if c.Mantis.AttachmentsDir != "" {
		disk = mantis.NewContentLoader(c.Mantis.AttachmentsDir)
	}

	if c.Mantis.DSN != "" {
		db, err := mantis.OpenDB(ctx, c.Mantis.DSN)
		if err != nil {
			return nil, nil, noop, err
		}
		schema := mantis.Schema{Prefix: c.Mantis.TablePrefix, Suffix: c.Mantis.TableSuffix}
		reader := &mantis.Reader{DB: db, Schema: schema}
		issues, err := reader.ReadIssues(ctx, filter)
		if err != nil {
			_ = db.Close()
			return nil, nil, noop, err
		}
		loader := &mantis.DBLoader{DB: db, Schema: schema, Fallback: disk}
		return issues, loader, func() { _ = db.Close() }, nil
	}

	if c.Mantis.Data == "" {
		return nil, nil, noop, errors.New("no legacy input: set --data (or mantis.data) or --db-dsn (or mantis.dsn)")
	}
	src := mantis.Source{ExportPath: c.Mantis.Data, AttachmentsDir: c.Mantis.AttachmentsDir}
	issues, err := src.Load(ctx)
	if err != nil {
		return nil, nil, noop, err
	}
	return issues, disk, noop, nil
}

func sourceName(c *config.Config) string {
	if c.Mantis.DSN != "" {
		return "mysql"
	}
	return c.Mantis.Data
}

// keyringTokens opens the OS keyring only when the token is not found in
// the config or the environment.
type keyringTokens struct{}

func (keyringTokens) Get(organization string) (string, error) {
	store, err := openCredentials()
	if err != nil {
		debug.Logf("keyring unavailable: %v\n", err)
		return "", err
	}
	return store.Get(organization)
}

func confirmMigration(n int, attOpts attachments.Options) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Migrate %d Mantis issue(s) into %s/%s?", n, cfg.ADO.Organization, cfg.ADO.Project)).
				Description(fmt.Sprintf("Attachments up to %s will be uploaded.", ui.FormatSize(attOpts.MaxSize))).
				Affirmative("Migrate").
				Negative("Cancel").
				Value(&ok),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func printSummary(w io.Writer, s *tracker.RunSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	if debug.IsQuiet() {
		return nil
	}
	ui.WriteSummary(w, s, ui.TerminalWidth())
	return nil
}

// formatValidation renders config validation errors one per line.
func formatValidation(err error) string {
	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		return "  " + ui.RenderFailIcon() + " " + err.Error()
	}
	lines := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		lines = append(lines, fmt.Sprintf("  %s %s: %v", ui.RenderFailIcon(), fe.Field, fe.Err))
	}
	return strings.Join(lines, "\n")
}

// runLockPath is the migration lock beside the ledger.
func runLockPath(c *config.Config) string {
	return filepath.Join(filepath.Dir(c.Ledger.Path), "migrate.lock")
}
