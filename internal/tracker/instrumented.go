package tracker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mantis2ado/mantis2ado/internal/telemetry"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

const targetScopeName = "github.com/mantis2ado/mantis2ado/target"

// InstrumentedTarget wraps a DirectoryTarget with OTel tracing and metrics.
// Every call gets a span and is counted in mantis2ado.target.* metrics.
type InstrumentedTarget struct {
	inner  DirectoryTarget
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapTarget returns t decorated with OTel instrumentation.
// When telemetry is disabled, t is returned as-is.
func WrapTarget(t DirectoryTarget) DirectoryTarget {
	if !telemetry.Enabled() {
		return t
	}
	m := telemetry.Meter(targetScopeName)
	ops, _ := m.Int64Counter("mantis2ado.target.operations",
		metric.WithDescription("Total target service operations executed"),
	)
	dur, _ := m.Float64Histogram("mantis2ado.target.operation.duration",
		metric.WithDescription("Target service operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("mantis2ado.target.errors",
		metric.WithDescription("Total target service operation errors"),
	)
	return &InstrumentedTarget{
		inner:  t,
		tracer: telemetry.Tracer(targetScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (s *InstrumentedTarget) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("target.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "target."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedTarget) done(ctx context.Context, span trace.Span, start time.Time, err error) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attribute.String("error.kind", string(KindOf(err)))))
	}
	span.End()
}

func (s *InstrumentedTarget) Name() string { return s.inner.Name() }

func (s *InstrumentedTarget) FindByTag(ctx context.Context, tag string) ([]types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "FindByTag", attribute.String("tag", tag))
	items, err := s.inner.FindByTag(ctx, tag)
	span.SetAttributes(attribute.Int("result.count", len(items)))
	s.done(ctx, span, t, err)
	return items, err
}

func (s *InstrumentedTarget) CreateWorkItem(ctx context.Context, typ types.WorkItemType, fields types.WorkItemFields) (*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "CreateWorkItem", attribute.String("work_item.type", string(typ)))
	item, err := s.inner.CreateWorkItem(ctx, typ, fields)
	s.done(ctx, span, t, err)
	return item, err
}

func (s *InstrumentedTarget) UpdateWorkItem(ctx context.Context, id int, fields types.WorkItemFields) (*types.WorkItem, error) {
	ctx, span, t := s.op(ctx, "UpdateWorkItem", attribute.Int("work_item.id", id))
	item, err := s.inner.UpdateWorkItem(ctx, id, fields)
	s.done(ctx, span, t, err)
	return item, err
}

func (s *InstrumentedTarget) SetState(ctx context.Context, id int, state types.State) error {
	ctx, span, t := s.op(ctx, "SetState", attribute.Int("work_item.id", id), attribute.String("state", string(state)))
	err := s.inner.SetState(ctx, id, state)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedTarget) ListComments(ctx context.Context, id int) ([]types.Comment, error) {
	ctx, span, t := s.op(ctx, "ListComments", attribute.Int("work_item.id", id))
	comments, err := s.inner.ListComments(ctx, id)
	s.done(ctx, span, t, err)
	return comments, err
}

func (s *InstrumentedTarget) AddComment(ctx context.Context, id int, text string) (*types.Comment, error) {
	ctx, span, t := s.op(ctx, "AddComment", attribute.Int("work_item.id", id))
	c, err := s.inner.AddComment(ctx, id, text)
	s.done(ctx, span, t, err)
	return c, err
}

func (s *InstrumentedTarget) ListAttachments(ctx context.Context, id int) ([]types.Attachment, error) {
	ctx, span, t := s.op(ctx, "ListAttachments", attribute.Int("work_item.id", id))
	atts, err := s.inner.ListAttachments(ctx, id)
	s.done(ctx, span, t, err)
	return atts, err
}

func (s *InstrumentedTarget) AddAttachment(ctx context.Context, id int, name string, content []byte, comment string) (*types.Attachment, error) {
	ctx, span, t := s.op(ctx, "AddAttachment",
		attribute.Int("work_item.id", id),
		attribute.Int("attachment.size", len(content)),
	)
	a, err := s.inner.AddAttachment(ctx, id, name, content, comment)
	s.done(ctx, span, t, err)
	return a, err
}

func (s *InstrumentedTarget) LookupUserByEmail(ctx context.Context, email string) (*types.TargetUser, error) {
	ctx, span, t := s.op(ctx, "LookupUserByEmail")
	u, err := s.inner.LookupUserByEmail(ctx, email)
	s.done(ctx, span, t, err)
	return u, err
}
