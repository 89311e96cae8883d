package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mantis2ado/mantis2ado/internal/config"
	"github.com/mantis2ado/mantis2ado/internal/debug"
	"github.com/mantis2ado/mantis2ado/internal/logging"
	"github.com/mantis2ado/mantis2ado/internal/telemetry"
	"github.com/mantis2ado/mantis2ado/internal/ui"
)

var (
	configPath   string
	verboseFlag  bool
	quietFlag    bool
	logLevelFlag string
	logFileFlag  string

	rootCtx    context.Context
	rootCancel context.CancelFunc = func() {}
	cfg        *config.Config
	logCloser  = func() {}
)

// exitError carries a process exit code without printing "Error:".
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./mantis2ado.yaml, then the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Structured log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Write structured JSON logs to this file (default: stderr)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "migrate", Title: "Migration:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:   "mantis2ado",
	Short: "mantis2ado - migrate MantisBT issues into Azure DevOps",
	Long: `Migrate MantisBT issues into Azure DevOps work items, preserving comments,
attachments, relationships and metadata. Runs are safe to repeat: every work
item carries a Mantis-<id> tag and existing items are healed, not duplicated.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersion(cmd.OutOrStdout())
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupSignalContext()
		applyVerbosityFlags()
		ui.ApplyColorProfile()

		if isNoConfigCommand(cmd) {
			return nil
		}
		if err := loadConfig(); err != nil {
			return err
		}
		if err := setupLogging(); err != nil {
			return err
		}
		return initTelemetry()
	},
}

// shutdown flushes telemetry and closes the log file. It runs after Execute
// because cobra skips post-run hooks when a command fails.
func shutdown() {
	if err := telemetry.Shutdown(context.Background()); err != nil {
		log.Debug().Err(err).Msg("telemetry flush failed")
	}
	logCloser()
	logCloser = func() {}
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package.
func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

func isNoConfigCommand(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "completion", "mantis2ado":
		return true
	}
	return false
}

func loadConfig() error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	if cfg.File != "" {
		debug.Logf("using config %s\n", cfg.File)
	}
	return nil
}

// setupLogging installs the global zerolog logger. --verbose tees events to
// a readable console writer.
func setupLogging() error {
	level := cfg.Log.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	if debug.Enabled() {
		level = "debug"
	}
	file := cfg.Log.File
	if logFileFlag != "" {
		file = logFileFlag
	}

	if file == "" && term.IsTerminal(int(os.Stderr.Fd())) {
		// Interactive runs print per-issue lines; keep the log to warnings
		// unless asked for more.
		floor := zerolog.WarnLevel
		if debug.Enabled() {
			floor = zerolog.DebugLevel
		}
		logger, err := logging.NewConsole(level, floor, os.Stderr)
		if err != nil {
			return fmt.Errorf("setup logger: %w", err)
		}
		log.Logger = logger
		return nil
	}

	var console io.Writer
	if file != "" {
		console = debug.ConsoleWriter()
	}
	logger, closer, err := logging.New(level, file, console)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	log.Logger = logger
	logCloser = closer
	return nil
}

// initTelemetry starts OpenTelemetry from the telemetry config section.
// Exporter failures only disable telemetry.
func initTelemetry() error {
	t := cfg.Telemetry
	err := telemetry.Init(rootCtx, telemetry.Options{
		ServiceName: "mantis2ado",
		Version:     Version,
		Enabled:     t.Enabled,
		Stdout:      t.Stdout,
		Endpoint:    t.Endpoint,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled")
	}
	return nil
}

func main() {
	rootCmd.InitDefaultHelpCmd()

	err := rootCmd.Execute()
	shutdown()
	rootCancel()
	if err == nil {
		return
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			fmt.Fprintln(os.Stderr, exit.msg)
		}
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
	os.Exit(1)
}
