package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mantis2ado/mantis2ado/internal/attachments"
	"github.com/mantis2ado/mantis2ado/internal/identity"
	"github.com/mantis2ado/mantis2ado/internal/mapping"
	"github.com/mantis2ado/mantis2ado/internal/telemetry"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

const engineScopeName = "github.com/mantis2ado/mantis2ado/engine"

// StageUpdate records a failed force-update field overwrite. The item is
// still healed by the later stages.
const StageUpdate Stage = "update"

// Engine migrates legacy issues into a Target, one issue at a time.
type Engine struct {
	Target      Target
	Mapper      *mapping.Mapper
	Resolver    *identity.Resolver
	Attachments *attachments.Synchronizer
	Cache       *RunCache
	Logger      zerolog.Logger

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
	OnResult  func(r *IssueResult)

	tracer  trace.Tracer
	metrics engineMetrics
}

type engineMetrics struct {
	issues      metric.Int64Counter
	comments    metric.Int64Counter
	attachments metric.Int64Counter
}

// NewEngine creates an engine with a fresh run cache. dir may be nil, in
// which case every identity is left unresolved.
func NewEngine(target Target, dir identity.Directory, mapper *mapping.Mapper) *Engine {
	if mapper == nil {
		mapper = mapping.Default()
	}
	e := &Engine{
		Target: target,
		Mapper: mapper,
		Cache:  NewRunCache(),
		Logger: zerolog.Nop(),
		tracer: telemetry.Tracer(engineScopeName),
	}
	e.Resolver = &identity.Resolver{Directory: dir, Cache: e.Cache.Identities, OnWarning: e.warn}
	e.Attachments = &attachments.Synchronizer{Target: target, OnMessage: e.msg}

	m := telemetry.Meter(engineScopeName)
	e.metrics.issues, _ = m.Int64Counter("mantis2ado.issues",
		metric.WithDescription("Legacy issues processed, by outcome"),
	)
	e.metrics.comments, _ = m.Int64Counter("mantis2ado.comments.added",
		metric.WithDescription("Comments appended to work items"),
	)
	e.metrics.attachments, _ = m.Int64Counter("mantis2ado.attachments",
		metric.WithDescription("Attachments processed, by result"),
	)
	return e
}

func (e *Engine) cache() *RunCache {
	if e.Cache == nil {
		e.Cache = NewRunCache()
	}
	return e.Cache
}

// Migrate runs the pipeline for every issue selected by opts.Filter, in
// legacy ID order. Per-issue failures are recorded in the summary and never
// stop the run; cancellation is honored between issues.
func (e *Engine) Migrate(ctx context.Context, issues []types.LegacyIssue, opts MigrateOptions) (*RunSummary, error) {
	summary := &RunSummary{StartedAt: time.Now().UTC(), DryRun: opts.DryRun}
	selected := opts.Filter.Apply(issues)

	e.Logger.Info().
		Int("selected", len(selected)).
		Int("total", len(issues)).
		Bool("force_update", opts.ForceUpdate).
		Bool("dry_run", opts.DryRun).
		Msg("migration started")

	for i := range selected {
		if err := ctx.Err(); err != nil {
			summary.Canceled = true
			summary.FinishedAt = time.Now().UTC()
			e.Logger.Warn().Int("processed", summary.Total()).Msg("migration canceled")
			return summary, err
		}
		res := e.MigrateIssue(ctx, &selected[i], opts)
		summary.Add(res)
		if e.OnResult != nil {
			e.OnResult(res)
		}
	}

	summary.FinishedAt = time.Now().UTC()
	e.Logger.Info().
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration()).
		Msg("migration finished")
	return summary, nil
}

// MigrateIssue runs the per-issue pipeline: resolve identities, map fields,
// create or locate, transition, comments, metadata, attachments. Failures
// before an item is located end the issue; later failures are recorded and
// the remaining stages still run.
func (e *Engine) MigrateIssue(ctx context.Context, issue *types.LegacyIssue, opts MigrateOptions) *IssueResult {
	ctx, span := e.tracer.Start(ctx, "migrate.issue",
		trace.WithAttributes(attribute.Int("mantis.id", issue.ID)),
	)
	res := &IssueResult{LegacyID: issue.ID, DryRun: opts.DryRun}
	defer func() {
		e.finish(ctx, span, res)
	}()

	if err := issue.Validate(); err != nil {
		e.stageFailed(res, StageMap, fmt.Errorf("%w: %v", errInvalidIssue, err))
		return res
	}

	// 1. identities
	reporter := e.Resolver.Resolve(ctx, &issue.Reporter)
	assignee := e.Resolver.Resolve(ctx, issue.Handler)

	// 2. fields
	mapped, err := e.Mapper.Map(issue)
	if err != nil {
		e.stageFailed(res, StageMap, err)
		return res
	}
	if mapped.PriorityClamped {
		e.warn("Mantis-%d: priority %s outside 10..60, clamped to %d", issue.ID, issue.Priority.String(), mapped.Priority)
		res.Warnings = append(res.Warnings, "priority clamped")
	}
	res.Type = mapped.Type
	res.State = mapped.State
	fields := mapped.Fields
	fields.AssignedTo = identity.AssignedTo(assignee)

	// 3. create or locate
	existing, dup, err := e.FindExisting(ctx, issue.ID)
	if err != nil {
		e.stageFailed(res, StageLocate, err)
		return res
	}
	e.noteDuplicate(res, dup)
	res.Route = route(existing, opts.ForceUpdate)
	if existing != nil {
		res.WorkItemID = existing.ID
	}

	if opts.DryRun {
		res.Outcome = plannedOutcome(res.Route)
		e.msg("Mantis-%d: would %s %s", issue.ID, res.Route, describeItem(existing, mapped.Type))
		return res
	}

	var item *types.WorkItem
	switch res.Route {
	case RouteCreate:
		created, dup, rejected, err := e.create(ctx, issue, mapped.Type, fields)
		if err != nil {
			e.stageFailed(res, StageLocate, err)
			return res
		}
		e.noteDuplicate(res, dup)
		if rejected {
			assignee = identity.Unresolved{Original: assignee.Label(), Reason: "rejected by target"}
		}
		item = created
		res.Outcome = OutcomeCreated
		e.msg("Mantis-%d: created %s %d", issue.ID, item.Type, item.ID)

	case RouteUpdate:
		item = existing
		res.Outcome = OutcomeUpdated
		if assignee, err = e.update(ctx, item, fields, assignee); err != nil {
			e.stageFailed(res, StageUpdate, err)
		} else {
			e.msg("Mantis-%d: updated work item %d", issue.ID, item.ID)
		}

	default:
		item = existing
		res.Outcome = OutcomeSkipped
		e.msg("Mantis-%d: work item %d exists, healing only", issue.ID, item.ID)
	}
	res.WorkItemID = item.ID
	if item.Type == "" {
		item.Type = mapped.Type
	}

	// 4. state, narrowed to what the item's own type can hold. A skipped item
	// is only walked forward, resuming a progression a previous run left part
	// way.
	paths := e.Mapper.Paths()
	want := paths.Narrow(item.Type, mapped.State)
	res.State = want
	if res.Route != RouteSkip || paths.Behind(item.Type, item.State, want) {
		if res.Route == RouteSkip {
			e.msg("Mantis-%d: resuming transition of work item %d from %s to %s", issue.ID, item.ID, item.State, want)
		}
		if err := paths.TransitionTo(ctx, e.Target, item, want); err != nil {
			e.stageFailed(res, StageTransition, err)
		}
	}
	e.cache().PutItem(issue.Tag(), *item)

	// 5 and 6. comments, then the metadata record
	existingComments, err := e.Target.ListComments(ctx, item.ID)
	if err != nil {
		e.stageFailed(res, StageComments, fmt.Errorf("listing comments of work item %d: %w", item.ID, err))
	} else {
		e.syncComments(ctx, issue, item, existingComments, res)
		e.syncMetadata(ctx, issue, item, existingComments, Metadata{
			Issue:    issue,
			Reporter: reporter,
			Assignee: assignee,
			State:    want,
		}, res)
	}

	// 7. attachments
	e.syncAttachments(ctx, issue, item, res)
	return res
}

// update overwrites the mapped fields of an existing item, retrying without
// the assignee if the service rejects it. The returned resolution reflects
// whether the assignee was actually applied.
func (e *Engine) update(ctx context.Context, item *types.WorkItem, fields types.WorkItemFields, assignee identity.Resolution) (identity.Resolution, error) {
	fields.State = ""
	updated, err := e.Target.UpdateWorkItem(ctx, item.ID, fields)
	if err != nil && fields.AssignedTo != "" && IsUnknownIdentity(err) {
		e.warn("work item %d: assignee %s rejected, updating unassigned", item.ID, fields.AssignedTo)
		fields.AssignedTo = ""
		assignee = identity.Unresolved{Original: assignee.Label(), Reason: "rejected by target"}
		updated, err = e.Target.UpdateWorkItem(ctx, item.ID, fields)
	}
	if err != nil {
		return assignee, fmt.Errorf("updating work item %d: %w", item.ID, err)
	}
	if updated != nil {
		item.Title = updated.Title
		item.Priority = updated.Priority
		item.Tags = updated.Tags
		item.AssignedTo = updated.AssignedTo
		item.Rev = updated.Rev
		if updated.State != "" {
			item.State = updated.State
		}
	}
	return assignee, nil
}

// syncComments appends missing legacy comments in timestamp order. The first
// failed append stops the stage so a later run can resume in order.
func (e *Engine) syncComments(ctx context.Context, issue *types.LegacyIssue, item *types.WorkItem, existing []types.Comment, res *IssueResult) {
	missing, gap := MissingComments(issue.Comments, existing)
	if len(missing) == 0 {
		return
	}
	if gap {
		e.warn("Mantis-%d: %d comments missing between existing ones; appending at the end", issue.ID, len(missing))
		res.Warnings = append(res.Warnings, "comment order gap")
	}

	for _, c := range missing {
		if err := ctx.Err(); err != nil {
			e.stageFailed(res, StageComments, err)
			return
		}
		if _, err := e.Target.AddComment(ctx, item.ID, FormatComment(c)); err != nil {
			e.stageFailed(res, StageComments, fmt.Errorf("adding comment %d of %d: %w", res.CommentsAdded+1, len(missing), err))
			return
		}
		res.CommentsAdded++
		e.metrics.comments.Add(ctx, 1)
	}
	e.msg("Mantis-%d: added %d comments", issue.ID, res.CommentsAdded)
}

func (e *Engine) syncMetadata(ctx context.Context, issue *types.LegacyIssue, item *types.WorkItem, existing []types.Comment, md Metadata, res *IssueResult) {
	if HasMetadata(existing) {
		return
	}
	if _, err := e.Target.AddComment(ctx, item.ID, FormatMetadata(md)); err != nil {
		e.stageFailed(res, StageMetadata, fmt.Errorf("adding metadata record: %w", err))
		return
	}
	res.MetadataAdded = true
	e.msg("Mantis-%d: added metadata record", issue.ID)
}

func (e *Engine) syncAttachments(ctx context.Context, issue *types.LegacyIssue, item *types.WorkItem, res *IssueResult) {
	if len(issue.Attachments) == 0 || e.Attachments == nil {
		return
	}
	out, err := e.Attachments.Sync(ctx, issue.ID, item.ID, issue.Attachments)
	if out != nil {
		res.AttachmentsUploaded = out.Uploaded
		res.AttachmentsSkipped = out.Skipped + out.Excluded
		res.AttachmentsFailed = out.Failed()
		e.metrics.attachments.Add(ctx, int64(out.Uploaded), metric.WithAttributes(attribute.String("result", "uploaded")))
		e.metrics.attachments.Add(ctx, int64(out.Skipped), metric.WithAttributes(attribute.String("result", "skipped")))
		e.metrics.attachments.Add(ctx, int64(out.Failed()), metric.WithAttributes(attribute.String("result", "failed")))
	}
	if err != nil {
		e.stageFailed(res, StageAttachments, err)
		return
	}
	if aerr := out.Err(); aerr != nil {
		e.stageFailed(res, StageAttachments, aerr)
	}
}

func (e *Engine) noteDuplicate(res *IssueResult, dup *DuplicateCreationRaceError) {
	if dup == nil {
		return
	}
	e.warn("%v", dup)
	e.Logger.Warn().
		Int("legacy_id", dup.LegacyID).
		Ints("work_item_ids", dup.IDs).
		Int("work_item_id", dup.Authoritative).
		Str("kind", string(KindDuplicateCreationRace)).
		Msg("duplicate migration tag")
	res.Warnings = append(res.Warnings, dup.Error())
}

func (e *Engine) stageFailed(res *IssueResult, stage Stage, err error) {
	res.fail(stage, err)
	last := res.Errors[len(res.Errors)-1]
	e.Logger.Error().
		Err(err).
		Int("legacy_id", res.LegacyID).
		Int("work_item_id", res.WorkItemID).
		Str("stage", string(stage)).
		Str("kind", string(last.Kind)).
		Msg("stage failed")
	e.warn("Mantis-%d: %s failed: %v", res.LegacyID, stage, err)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, res *IssueResult) {
	span.SetAttributes(
		attribute.Int("work_item.id", res.WorkItemID),
		attribute.String("outcome", string(res.Outcome)),
		attribute.String("route", string(res.Route)),
	)
	if err := res.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.SummaryLine())
	}
	span.End()

	if !res.DryRun {
		e.metrics.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	}
	e.Logger.Info().
		Int("legacy_id", res.LegacyID).
		Int("work_item_id", res.WorkItemID).
		Str("outcome", string(res.Outcome)).
		Str("route", string(res.Route)).
		Int("comments_added", res.CommentsAdded).
		Int("attachments_uploaded", res.AttachmentsUploaded).
		Bool("dry_run", res.DryRun).
		Msg("issue processed")
}

func plannedOutcome(r Route) Outcome {
	switch r {
	case RouteCreate:
		return OutcomeCreated
	case RouteUpdate:
		return OutcomeUpdated
	}
	return OutcomeSkipped
}

func describeItem(existing *types.WorkItem, typ types.WorkItemType) string {
	if existing == nil {
		return string(typ)
	}
	return fmt.Sprintf("work item %d", existing.ID)
}

// IsCanceled reports whether err came from run cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (e *Engine) msg(format string, args ...interface{}) {
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(format string, args ...interface{}) {
	if e.OnWarning != nil {
		e.OnWarning(fmt.Sprintf(format, args...))
	}
}
