package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

type recordingSetter struct {
	calls  []types.State
	reject types.State
}

func (r *recordingSetter) SetState(_ context.Context, _ int, state types.State) error {
	if state == r.reject {
		return errors.New("transition refused by rule")
	}
	r.calls = append(r.calls, state)
	return nil
}

func TestTransitionToWalksEveryHop(t *testing.T) {
	tests := []struct {
		typ  types.WorkItemType
		to   types.State
		want []types.State
	}{
		{types.TypeBug, types.StateClosed, []types.State{types.StateActive, types.StateResolved, types.StateClosed}},
		{types.TypeBug, types.StateResolved, []types.State{types.StateActive, types.StateResolved}},
		{types.TypeTask, types.StateClosed, []types.State{types.StateActive, types.StateClosed}},
		{types.TypeFeature, types.StateClosed, []types.State{types.StateActive, types.StateResolved, types.StateClosed}},
		{types.TypeFeature, types.StateActive, []types.State{types.StateActive}},
	}

	paths := DefaultPaths()
	for _, tt := range tests {
		t.Run(string(tt.typ)+"->"+string(tt.to), func(t *testing.T) {
			setter := &recordingSetter{}
			item := &types.WorkItem{ID: 1, Type: tt.typ, State: paths.InitialState(tt.typ)}

			require.NoError(t, paths.TransitionTo(context.Background(), setter, item, tt.to))
			assert.Equal(t, tt.want, setter.calls)
			assert.Equal(t, tt.to, item.State)
		})
	}
}

func TestTransitionToCurrentStateIsNoop(t *testing.T) {
	setter := &recordingSetter{}
	item := &types.WorkItem{ID: 1, Type: types.TypeBug, State: types.StateActive}

	require.NoError(t, DefaultPaths().TransitionTo(context.Background(), setter, item, types.StateActive))
	assert.Empty(t, setter.calls)
}

func TestTransitionToEmptyStateStartsAtInitial(t *testing.T) {
	setter := &recordingSetter{}
	item := &types.WorkItem{ID: 1, Type: types.TypeTask}

	require.NoError(t, DefaultPaths().TransitionTo(context.Background(), setter, item, types.StateNew))
	assert.Empty(t, setter.calls)
	assert.Equal(t, types.StateNew, item.State)
}

func TestTransitionToBackwardIsSingleHop(t *testing.T) {
	setter := &recordingSetter{}
	item := &types.WorkItem{ID: 1, Type: types.TypeBug, State: types.StateClosed}

	require.NoError(t, DefaultPaths().TransitionTo(context.Background(), setter, item, types.StateActive))
	assert.Equal(t, []types.State{types.StateActive}, setter.calls)
}

func TestTransitionToReportsReachedAndBlocked(t *testing.T) {
	setter := &recordingSetter{reject: types.StateClosed}
	item := &types.WorkItem{ID: 7, Type: types.TypeBug, State: types.StateNew}

	err := DefaultPaths().TransitionTo(context.Background(), setter, item, types.StateClosed)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.StateResolved, terr.Reached)
	assert.Equal(t, types.StateClosed, terr.Blocked)
	assert.Equal(t, types.StateResolved, item.State)
	assert.Equal(t, []types.State{types.StateActive, types.StateResolved}, setter.calls)
}

func TestTransitionToStateOffPathMakesNoCalls(t *testing.T) {
	setter := &recordingSetter{}
	item := &types.WorkItem{ID: 1, Type: types.TypeTask, State: types.StateNew}

	err := DefaultPaths().TransitionTo(context.Background(), setter, item, types.StateResolved)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, ErrNotOnPath)
	assert.Empty(t, terr.Blocked)
	assert.Empty(t, setter.calls)
}

func TestTransitionToHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	setter := &recordingSetter{}
	item := &types.WorkItem{ID: 1, Type: types.TypeBug, State: types.StateNew}

	err := DefaultPaths().TransitionTo(ctx, setter, item, types.StateClosed)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, setter.calls)
}
