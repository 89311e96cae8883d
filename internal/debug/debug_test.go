package debug

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture swaps the console writers and mode switches for one test.
func capture(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	oldOut, oldErr := stdout, stderr
	oldEnabled, oldVerbose, oldQuiet := enabled, verboseMode, quietMode
	t.Cleanup(func() {
		stdout, stderr = oldOut, oldErr
		enabled, verboseMode, quietMode = oldEnabled, oldVerbose, oldQuiet
	})
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	SetOutput(out, errOut)
	enabled, verboseMode, quietMode = false, false, false
	return out, errOut
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name    string
		env     bool
		verbose bool
		want    bool
	}{
		{"env set", true, false, true},
		{"verbose flag", false, true, true},
		{"neither", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture(t)
			enabled = tt.env
			SetVerbose(tt.verbose)
			assert.Equal(t, tt.want, Enabled())
		})
	}
}

func TestLogfAndPrintf(t *testing.T) {
	out, errOut := capture(t)

	Logf("hidden %d\n", 1)
	Printf("hidden %d\n", 2)
	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())

	SetVerbose(true)
	Logf("querying tag %s\n", "Mantis-7")
	Printf("debug: %d\n", 42)
	assert.Equal(t, "querying tag Mantis-7\n", errOut.String())
	assert.Equal(t, "debug: 42\n", out.String())
}

func TestSetQuietAndIsQuiet(t *testing.T) {
	capture(t)
	assert.False(t, IsQuiet())
	SetQuiet(true)
	assert.True(t, IsQuiet())
	SetQuiet(false)
	assert.False(t, IsQuiet())
}

func TestPrintNormal(t *testing.T) {
	tests := []struct {
		name  string
		quiet bool
		want  string
	}{
		{"outputs when not quiet", false, "migrated 3 issues\nhello world\n"},
		{"no output when quiet", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := capture(t)
			SetQuiet(tt.quiet)
			PrintNormal("migrated %d issues\n", 3)
			PrintlnNormal("hello", "world")
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestWarnfIgnoresQuiet(t *testing.T) {
	_, errOut := capture(t)
	SetQuiet(true)
	Warnf("warning: %s\n", "priority clamped")
	assert.Equal(t, "warning: priority clamped\n", errOut.String())
}

func TestConsoleWriter(t *testing.T) {
	_, errOut := capture(t)
	assert.Nil(t, ConsoleWriter())

	SetVerbose(true)
	w := ConsoleWriter()
	require.NotNil(t, w)

	logger := zerolog.New(w)
	logger.Info().Int("legacy_id", 12).Msg("created")
	assert.Contains(t, errOut.String(), "created")
	assert.Contains(t, errOut.String(), "legacy_id=12")
}
