package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// StateSetter applies a single state change to a target work item.
type StateSetter interface {
	SetState(ctx context.Context, id int, state types.State) error
}

// TransitionError reports a state progression that stopped part way.
// Reached is the last state the item is known to be in; Blocked is the hop
// that was refused (empty when the request was rejected before any call).
type TransitionError struct {
	ItemID  int
	Type    types.WorkItemType
	Target  types.State
	Reached types.State
	Blocked types.State
	Err     error
}

func (e *TransitionError) Error() string {
	if e.Blocked == "" {
		return fmt.Sprintf("work item %d: cannot move %s to %s: %v", e.ItemID, e.Type, e.Target, e.Err)
	}
	return fmt.Sprintf("work item %d: transition to %s blocked at %s -> %s: %v",
		e.ItemID, e.Target, e.Reached, e.Blocked, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// ErrNotOnPath is wrapped by TransitionError when a state is absent from the
// type's path.
var ErrNotOnPath = errors.New("state not on workflow path")

// Plan returns the hops needed to move an item of typ from one state to
// another. Forward moves visit every intermediate state; backward moves are a
// single direct hop. An empty plan means the item is already there.
func (p Paths) Plan(typ types.WorkItemType, from, to types.State) ([]types.State, error) {
	if from == "" {
		from = p.InitialState(typ)
	}
	ti := p.index(typ, to)
	if ti < 0 {
		return nil, fmt.Errorf("%w: %s has no state %q", ErrNotOnPath, typ, to)
	}
	fi := p.index(typ, from)
	if fi < 0 {
		return nil, fmt.Errorf("%w: %s has no state %q", ErrNotOnPath, typ, from)
	}

	path := p[typ]
	switch {
	case fi == ti:
		return nil, nil
	case fi > ti:
		return []types.State{path[ti]}, nil
	default:
		hops := make([]types.State, 0, ti-fi)
		hops = append(hops, path[fi+1:ti+1]...)
		return hops, nil
	}
}

// TransitionTo walks item to target, one hop per call to setter. The item's
// State is updated after each accepted hop, so on failure it reflects the
// state actually reached.
func (p Paths) TransitionTo(ctx context.Context, setter StateSetter, item *types.WorkItem, target types.State) error {
	if item.State == "" {
		item.State = p.InitialState(item.Type)
	}

	hops, err := p.Plan(item.Type, item.State, target)
	if err != nil {
		return &TransitionError{
			ItemID:  item.ID,
			Type:    item.Type,
			Target:  target,
			Reached: item.State,
			Err:     err,
		}
	}

	for _, hop := range hops {
		if err := ctx.Err(); err != nil {
			return &TransitionError{ItemID: item.ID, Type: item.Type, Target: target, Reached: item.State, Blocked: hop, Err: err}
		}
		if err := setter.SetState(ctx, item.ID, hop); err != nil {
			return &TransitionError{
				ItemID:  item.ID,
				Type:    item.Type,
				Target:  target,
				Reached: item.State,
				Blocked: hop,
				Err:     err,
			}
		}
		item.State = hop
	}
	return nil
}
