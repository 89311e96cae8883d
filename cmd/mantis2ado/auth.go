package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mantis2ado/mantis2ado/internal/credential"
	"github.com/mantis2ado/mantis2ado/internal/ui"
)

// openCredentials is swapped out in tests.
var openCredentials = func() (*credential.Store, error) {
	return credential.Open()
}

var authCmd = &cobra.Command{
	Use:     "auth",
	GroupID: "setup",
	Short:   "Manage the Azure DevOps personal access token",
	Long: `Store the Azure DevOps personal access token in the OS keyring.

The token is looked up in this order: ado.pat in the config file,
the AZURE_DEVOPS_PAT environment variable, then the keyring entry for the
configured organization.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set-pat",
	Short: "Save a personal access token for the configured organization",
	Long: `Save a personal access token for the configured organization.

The token is prompted for on a terminal, or read from standard input:
  echo "$PAT" | mantis2ado auth set-pat`,
	RunE: runAuthSet,
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token for the configured organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := authOrganization()
		if err != nil {
			return err
		}
		store, err := openCredentials()
		if err != nil {
			return err
		}
		if err := store.Delete(org); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s removed stored token for %s\n", ui.RenderPassIcon(), org)
		return nil
	},
}

func init() {
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authClearCmd)
	rootCmd.AddCommand(authCmd)
}

func authOrganization() (string, error) {
	org := strings.TrimSpace(cfg.ADO.Organization)
	if org == "" {
		return "", errors.New("ado.organization is not set")
	}
	return org, nil
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	org, err := authOrganization()
	if err != nil {
		return err
	}

	var token string
	if ui.IsInteractive() {
		err := huh.NewInput().
			Title(fmt.Sprintf("Personal access token for %s", org)).
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("token is required")
				}
				return nil
			}).
			Value(&token).
			Run()
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
	} else {
		token, err = readToken(cmd)
		if err != nil {
			return err
		}
	}

	store, err := openCredentials()
	if err != nil {
		return err
	}
	if err := store.Set(org, strings.TrimSpace(token)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s stored token for %s in the keyring\n", ui.RenderPassIcon(), org)
	return nil
}

func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if in == nil {
		in = os.Stdin
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	token := strings.TrimSpace(line)
	if token == "" {
		if err != nil {
			return "", fmt.Errorf("reading token from stdin: %w", err)
		}
		return "", errors.New("empty token on stdin")
	}
	return token, nil
}
