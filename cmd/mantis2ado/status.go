package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mantis2ado/mantis2ado/internal/ledger"
	"github.com/mantis2ado/mantis2ado/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "migrate",
	Short:   "Show recent migration runs from the local ledger",
	Long: `Show recent migration runs recorded in the local run ledger and the
issues that failed in the last one.

The ledger is informational. Work items are always matched by their
Mantis-<id> tag, so deleting the ledger never causes duplicates.

Examples:
  mantis2ado status
  mantis2ado status --runs 20
  mantis2ado status --bug-id 1234`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Int("runs", 5, "Number of runs to list")
	statusCmd.Flags().Int("bug-id", 0, "Show the recorded history of one Mantis issue")
	statusCmd.Flags().Bool("all-targets", false, "List runs for every organization and project")
	statusCmd.Flags().Bool("json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := rootCtx
	out := cmd.OutOrStdout()
	limit, _ := cmd.Flags().GetInt("runs")
	bugID, _ := cmd.Flags().GetInt("bug-id")
	allTargets, _ := cmd.Flags().GetBool("all-targets")
	asJSON, _ := cmd.Flags().GetBool("json")

	if cfg.Ledger.Disabled {
		return errors.New("the run ledger is disabled (ledger.disabled)")
	}
	journal, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	if bugID != 0 {
		history, err := journal.History(ctx, bugID)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd, history)
		}
		printHistory(cmd, bugID, history)
		return nil
	}

	org, project := cfg.ADO.Organization, cfg.ADO.Project
	if allTargets {
		org, project = "", ""
	}
	runs, err := journal.Runs(ctx, org, project, limit)
	if err != nil {
		return err
	}

	var results []ledger.Result
	last, err := journal.LastRun(ctx, org, project)
	switch {
	case errors.Is(err, ledger.ErrNoRuns):
	case err != nil:
		return err
	default:
		results, err = journal.Results(ctx, last.ID)
		if err != nil {
			return err
		}
	}

	if asJSON {
		return writeJSON(cmd, map[string]interface{}{
			"ledger":   cfg.Ledger.Path,
			"runs":     runs,
			"last_run": last,
			"results":  results,
		})
	}

	fmt.Fprintf(out, "%s %s\n\n", ui.RenderMuted("Ledger:"), cfg.Ledger.Path)
	ui.WriteRuns(out, runs, time.Now())
	if last != nil {
		fmt.Fprintf(out, "\n%s %s\n", ui.RenderMuted("Last run:"), last.ID)
		ui.WriteResults(out, results, ui.TerminalWidth())
	}
	return nil
}

func printHistory(cmd *cobra.Command, bugID int, history []ledger.Result) {
	out := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintf(out, "No recorded results for Mantis-%d.\n", bugID)
		return
	}
	fmt.Fprintln(out, ui.RenderCategory(fmt.Sprintf("Mantis-%d", bugID)))
	for _, r := range history {
		line := fmt.Sprintf("%s  run %s  %s", r.RecordedAt.Local().Format(time.DateTime), shortRun(r.RunID), r.Outcome)
		if r.WorkItemID != 0 {
			line += fmt.Sprintf("  #%d", r.WorkItemID)
		}
		if r.Error != "" {
			line += ui.RenderFail(fmt.Sprintf("  %s [%s]: %s", r.Stage, r.Kind, r.Error))
		}
		fmt.Fprintln(out, line)
	}
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
