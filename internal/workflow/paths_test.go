package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

func TestNarrow(t *testing.T) {
	paths := DefaultPaths()
	assert.Equal(t, types.StateClosed, paths.Narrow(types.TypeTask, types.StateResolved))
	assert.Equal(t, types.StateResolved, paths.Narrow(types.TypeBug, types.StateResolved))
	assert.Equal(t, types.StateActive, paths.Narrow(types.TypeTask, types.StateActive))

	paths[types.TypeTask] = []types.State{types.StateNew, types.StateActive}
	assert.Equal(t, types.StateActive, paths.Narrow(types.TypeTask, types.StateResolved))
}

func TestBehind(t *testing.T) {
	paths := DefaultPaths()
	assert.True(t, paths.Behind(types.TypeBug, types.StateActive, types.StateClosed))
	assert.True(t, paths.Behind(types.TypeBug, "", types.StateActive))
	assert.False(t, paths.Behind(types.TypeBug, types.StateClosed, types.StateClosed))
	assert.False(t, paths.Behind(types.TypeBug, types.StateClosed, types.StateActive))
	assert.False(t, paths.Behind(types.TypeTask, types.StateActive, types.StateResolved))
	assert.False(t, paths.Behind(types.TypeTask, "Removed", types.StateClosed))
}

func TestInitialState(t *testing.T) {
	paths := Paths{types.TypeBug: {"Proposed", types.StateActive}}
	assert.Equal(t, types.State("Proposed"), paths.InitialState(types.TypeBug))
	assert.Equal(t, types.StateNew, paths.InitialState(types.TypeTask))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPaths().Validate())

	bad := Paths{types.TypeBug: {types.StateNew, types.StateActive, "active"}}
	require.Error(t, bad.Validate())

	require.Error(t, Paths{}.Validate())
	require.Error(t, Paths{types.TypeTask: nil}.Validate())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "process.yaml")
	content := "paths:\n  task: [New, Active, Resolved, Closed]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	paths, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []types.State{types.StateNew, types.StateActive, types.StateResolved, types.StateClosed}, paths.Path(types.TypeTask))
	// Types missing from the file keep their defaults.
	assert.Equal(t, DefaultPaths().Path(types.TypeBug), paths.Path(types.TypeBug))
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "process.toml")
	content := "[paths]\nBug = [\"New\", \"Committed\", \"Done\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	paths, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []types.State{types.StateNew, "Committed", "Done"}, paths.Path(types.TypeBug))

	hops, err := paths.Plan(types.TypeBug, types.StateNew, "Done")
	require.NoError(t, err)
	assert.Equal(t, []types.State{"Committed", "Done"}, hops)
}

func TestLoadRejectsUnknownTypeAndFormat(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "p.yml")
	require.NoError(t, os.WriteFile(unknown, []byte("paths:\n  Epic: [New]\n"), 0o600))
	_, err := Load(unknown)
	require.Error(t, err)

	other := filepath.Join(dir, "p.json")
	require.NoError(t, os.WriteFile(other, []byte("{}"), 0o600))
	_, err = Load(other)
	require.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestString(t *testing.T) {
	paths := Paths{types.TypeTask: {types.StateNew, types.StateClosed}}
	assert.Equal(t, "Task: New -> Closed\n", paths.String())
}
