package mapping

import (
	"fmt"
	"html"
	"math"
	"sort"
	"strings"

	"github.com/mantis2ado/mantis2ado/internal/types"
	"github.com/mantis2ado/mantis2ado/internal/workflow"
)

// Priority bounds on both sides.
const (
	LegacyPriorityMin = 10
	LegacyPriorityMax = 60
	TargetPriorityMin = 1
	TargetPriorityMax = 4
)

// UnmappedStatusError is returned for a legacy status outside the table.
type UnmappedStatusError struct {
	LegacyID int
	Status   string
}

func (e *UnmappedStatusError) Error() string {
	if e.LegacyID != 0 {
		return fmt.Sprintf("issue %d: unmapped status %q", e.LegacyID, e.Status)
	}
	return fmt.Sprintf("unmapped status %q", e.Status)
}

// UnmappedTypeError is returned when a configured type mapping names a work
// item type the migration cannot create.
type UnmappedTypeError struct {
	Severity string
	Type     string
}

func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf("severity %q maps to unknown work item type %q", e.Severity, e.Type)
}

// MapStatus maps a status label using the default table.
func MapStatus(label string) (types.State, error) {
	if state, ok := statusStates[normalize(label)]; ok {
		return state, nil
	}
	return "", &UnmappedStatusError{Status: label}
}

// MapPriority maps Mantis priority 10..60 onto 4..1. Values outside the range
// are clamped and reported with clamped=true.
func MapPriority(code int) (priority int, clamped bool) {
	p := code
	if p < LegacyPriorityMin {
		p, clamped = LegacyPriorityMin, true
	}
	if p > LegacyPriorityMax {
		p, clamped = LegacyPriorityMax, true
	}
	step := math.Round(float64(p-LegacyPriorityMin) * 3 / float64(LegacyPriorityMax-LegacyPriorityMin))
	return TargetPriorityMax - int(step), clamped
}

// MapWorkItemType maps a severity label using the default table.
func MapWorkItemType(severity string) types.WorkItemType {
	if typ, ok := severityTypes[normalize(severity)]; ok {
		return typ
	}
	return types.TypeBug
}

// Overrides are operator supplied additions to the default tables, keyed by
// legacy label.
type Overrides struct {
	Status map[string]string `mapstructure:"status" yaml:"status"`
	Type   map[string]string `mapstructure:"type" yaml:"type"`
}

// Mapper holds the effective lookup tables for one run.
type Mapper struct {
	status map[string]types.State
	kinds  map[string]types.WorkItemType
	paths  workflow.Paths
}

// Default returns a Mapper with the built-in tables and workflow paths.
func Default() *Mapper {
	m, _ := New(workflow.DefaultPaths(), Overrides{})
	return m
}

// New builds a Mapper from the defaults plus overrides. An override naming a
// state absent from every workflow path fails with UnmappedStatusError, and
// one naming an unknown type fails with UnmappedTypeError.
func New(paths workflow.Paths, o Overrides) (*Mapper, error) {
	if paths == nil {
		paths = workflow.DefaultPaths()
	}
	m := &Mapper{
		status: make(map[string]types.State, len(statusStates)+len(o.Status)),
		kinds:  make(map[string]types.WorkItemType, len(severityTypes)+len(o.Type)),
		paths:  paths,
	}
	for k, v := range statusStates {
		m.status[k] = v
	}
	for k, v := range severityTypes {
		m.kinds[k] = v
	}

	for label, name := range o.Status {
		state, known := types.ParseState(name)
		if !known && !m.onAnyPath(state) {
			return nil, &UnmappedStatusError{Status: fmt.Sprintf("%s -> %s", label, name)}
		}
		m.status[normalize(label)] = state
	}
	for severity, name := range o.Type {
		typ, ok := types.ParseWorkItemType(name)
		if !ok {
			return nil, &UnmappedTypeError{Severity: severity, Type: name}
		}
		m.kinds[normalize(severity)] = typ
	}
	return m, nil
}

func (m *Mapper) onAnyPath(state types.State) bool {
	for typ := range m.paths {
		if m.paths.Allows(typ, state) {
			return true
		}
	}
	return false
}

// Paths returns the workflow table the mapper narrows against.
func (m *Mapper) Paths() workflow.Paths {
	return m.paths
}

// MapStatus maps a status label with overrides applied.
func (m *Mapper) MapStatus(label string) (types.State, error) {
	if state, ok := m.status[normalize(label)]; ok {
		return state, nil
	}
	return "", &UnmappedStatusError{Status: label}
}

// MapWorkItemType maps a severity label with overrides applied.
func (m *Mapper) MapWorkItemType(severity string) types.WorkItemType {
	if typ, ok := m.kinds[normalize(severity)]; ok {
		return typ
	}
	return types.TypeBug
}

// Result is the mapped form of one legacy issue.
type Result struct {
	Type            types.WorkItemType
	State           types.State
	Priority        int
	PriorityClamped bool
	Fields          types.WorkItemFields
}

// Map converts an issue into its target type, state, priority and fields.
// The status is narrowed to a state the mapped type can hold.
func (m *Mapper) Map(issue *types.LegacyIssue) (*Result, error) {
	typ := m.MapWorkItemType(SeverityLabel(issue.Severity))

	label := StatusLabel(issue.Status)
	state, err := m.MapStatus(label)
	if err != nil {
		status := label
		if status == "" {
			status = issue.Status.String()
		}
		return nil, &UnmappedStatusError{LegacyID: issue.ID, Status: status}
	}
	state = m.paths.Narrow(typ, state)

	priority, clamped := MapPriority(PriorityCode(issue.Priority))
	fields := BuildFields(issue, typ, priority)
	fields.State = m.paths.InitialState(typ)

	return &Result{
		Type:            typ,
		State:           state,
		Priority:        priority,
		PriorityClamped: clamped,
		Fields:          fields,
	}, nil
}

// BuildTags returns the target tags for an issue in a fixed order: the
// migration tag, project, category, then Mantis tags sorted by name.
func BuildTags(issue *types.LegacyIssue) []string {
	tags := []string{issue.Tag()}
	if p := tagValue(issue.Project); p != "" {
		tags = append(tags, "project-"+p)
	}
	if c := tagValue(issue.Category); c != "" {
		tags = append(tags, "category-"+c)
	}

	seen := make(map[string]bool)
	var extra []string
	for _, name := range issue.Tags {
		v := tagValue(name)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		extra = append(extra, "mantis-tag-"+v)
	}
	sort.Strings(extra)
	return append(tags, extra...)
}

// tagValue strips the separator Azure DevOps uses between tags.
func tagValue(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, ";", ","))
}

// FormatHTML escapes text and converts newlines to <br>.
func FormatHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

// BuildFields maps the text fields of an issue. Bugs carry the steps to
// reproduce in their own field; other types fold them into the description.
func BuildFields(issue *types.LegacyIssue, typ types.WorkItemType, priority int) types.WorkItemFields {
	var desc strings.Builder
	desc.WriteString(FormatHTML(issue.Description))

	section := func(heading, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		if desc.Len() > 0 {
			desc.WriteString("<br><br>")
		}
		fmt.Fprintf(&desc, "<strong>%s:</strong><br>%s", heading, FormatHTML(body))
	}

	fields := types.WorkItemFields{
		Title:    issue.Title(),
		Priority: priority,
		Tags:     BuildTags(issue),
	}
	if typ == types.TypeBug {
		fields.ReproSteps = FormatHTML(issue.StepsToReproduce)
	} else {
		section("Steps to Reproduce", issue.StepsToReproduce)
	}
	section("Additional Information", issue.AdditionalInformation)
	fields.Description = desc.String()
	return fields
}
