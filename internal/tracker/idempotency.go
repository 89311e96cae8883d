package tracker

import (
	"context"
	"fmt"
	"sort"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// ExactTag keeps only the items that carry tag exactly. The service-side tag
// query is a substring match, so Mantis-1 would otherwise match Mantis-10.
func ExactTag(items []types.WorkItem, tag string) []types.WorkItem {
	var out []types.WorkItem
	for _, item := range items {
		if item.HasTag(tag) {
			out = append(out, item)
		}
	}
	return out
}

// newest sorts items by descending ID and returns the first.
func newest(items []types.WorkItem) types.WorkItem {
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items[0]
}

func ids(items []types.WorkItem) []int {
	out := make([]int, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	sort.Ints(out)
	return out
}

// locate queries the target for a migration tag. When several items carry
// the tag the newest one wins and a DuplicateCreationRaceError is returned
// alongside it as a warning.
func (e *Engine) locate(ctx context.Context, legacyID int) (*types.WorkItem, *DuplicateCreationRaceError, error) {
	tag := types.MigrationTag(legacyID)
	items, err := e.Target.FindByTag(ctx, tag)
	if err != nil {
		return nil, nil, fmt.Errorf("querying for %s: %w", tag, err)
	}
	matches := ExactTag(items, tag)
	if len(matches) == 0 {
		return nil, nil, nil
	}

	var dup *DuplicateCreationRaceError
	chosen := newest(matches)
	if len(matches) > 1 {
		dup = &DuplicateCreationRaceError{LegacyID: legacyID, Tag: tag, IDs: ids(matches), Authoritative: chosen.ID}
	}
	e.cache().PutItem(tag, chosen)
	return &chosen, dup, nil
}

// FindExisting returns the work item that carries the issue's migration tag,
// or nil when the issue has not been migrated. The tag query is
// authoritative; when it finds nothing, an item created earlier in the run
// and not yet indexed by the query service is served from the run cache.
func (e *Engine) FindExisting(ctx context.Context, legacyID int) (*types.WorkItem, *DuplicateCreationRaceError, error) {
	item, dup, err := e.locate(ctx, legacyID)
	if err != nil || item != nil {
		return item, dup, err
	}
	if cached, ok := e.cache().Item(types.MigrationTag(legacyID)); ok {
		return &cached, nil, nil
	}
	return nil, nil, nil
}

// route decides what to do with an issue given the located item.
func route(existing *types.WorkItem, forceUpdate bool) Route {
	switch {
	case existing == nil:
		return RouteCreate
	case forceUpdate:
		return RouteUpdate
	default:
		return RouteSkip
	}
}

// create makes a new work item and re-queries the tag to detect a racing
// creator. If the service rejects the assignee, creation is retried
// unassigned and assigneeRejected is set.
func (e *Engine) create(ctx context.Context, issue *types.LegacyIssue, typ types.WorkItemType, fields types.WorkItemFields) (item *types.WorkItem, dup *DuplicateCreationRaceError, assigneeRejected bool, err error) {
	item, err = e.Target.CreateWorkItem(ctx, typ, fields)
	if err != nil && fields.AssignedTo != "" && IsUnknownIdentity(err) {
		e.warn("Mantis-%d: assignee %s rejected, creating unassigned", issue.ID, fields.AssignedTo)
		fields.AssignedTo = ""
		assigneeRejected = true
		item, err = e.Target.CreateWorkItem(ctx, typ, fields)
	}
	if err != nil {
		return nil, nil, assigneeRejected, fmt.Errorf("creating %s for Mantis-%d: %w", typ, issue.ID, err)
	}
	if item.Type == "" {
		item.Type = typ
	}
	if item.State == "" {
		item.State = fields.State
	}

	found, dup, verr := e.locate(ctx, issue.ID)
	switch {
	case verr != nil:
		e.warn("Mantis-%d: could not verify creation of work item %d: %v", issue.ID, item.ID, verr)
		e.cache().PutItem(issue.Tag(), *item)
	case found != nil && found.ID != item.ID:
		// Another process created a newer item; it is authoritative.
		if found.Type == "" {
			found.Type = typ
		}
		item = found
	case found == nil:
		// Not yet indexed by the query service.
		e.cache().PutItem(issue.Tag(), *item)
	}
	return item, dup, assigneeRejected, nil
}
