// Package debug holds the console verbosity switches shared by all commands.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	enabled     = os.Getenv("MANTIS2ADO_DEBUG") != ""
	verboseMode = false
	quietMode   = false

	mu     sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// SetOutput redirects console output. Nil keeps the current writer.
func SetOutput(out, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

func Logf(format string, args ...interface{}) {
	if Enabled() {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(stderr, format, args...)
	}
}

func Printf(format string, args ...interface{}) {
	if Enabled() {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(stdout, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(stdout, format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(stdout, args...)
	}
}

// Warnf always prints to stderr, even in quiet mode.
func Warnf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stderr, format, args...)
}

// ConsoleWriter returns a human-readable stderr writer for zerolog when
// debug output is enabled, or nil otherwise.
func ConsoleWriter() io.Writer {
	if !Enabled() {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	return zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05", NoColor: true}
}
