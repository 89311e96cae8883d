// Package mapping converts Mantis field values into the Azure DevOps taxonomy.
// All lookups are driven by immutable tables; the Mapper layers configured
// overrides on top of the defaults.
package mapping

import (
	"strings"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// statusStates is the default Mantis status label to target state table.
var statusStates = map[string]types.State{
	"new":          types.StateNew,
	"feedback":     types.StateNew,
	"acknowledged": types.StateNew,
	"confirmed":    types.StateActive,
	"assigned":     types.StateActive,
	"resolved":     types.StateResolved,
	"delivered":    types.StateResolved,
	"closed":       types.StateClosed,
}

// statusCodes resolves numeric statuses when the export carried no label.
var statusCodes = map[int]string{
	10: "new",
	20: "feedback",
	30: "acknowledged",
	40: "confirmed",
	50: "assigned",
	80: "resolved",
	85: "delivered",
	90: "closed",
}

var severityCodes = map[int]string{
	10: "feature",
	20: "trivial",
	30: "text",
	40: "tweak",
	50: "minor",
	60: "major",
	70: "crash",
	80: "block",
}

var severityTypes = map[string]types.WorkItemType{
	"feature": types.TypeFeature,
	"text":    types.TypeTask,
}

var priorityLabels = map[string]int{
	"none":      10,
	"low":       20,
	"normal":    30,
	"high":      40,
	"urgent":    50,
	"immediate": 60,
}

// StatusLabels returns the known default status labels.
func StatusLabels() []string {
	out := make([]string, 0, len(statusStates))
	for _, code := range []int{10, 20, 30, 40, 50, 80, 85, 90} {
		out = append(out, statusCodes[code])
	}
	return out
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// StatusLabel normalizes a legacy status. The exported label wins; otherwise
// the default Mantis code table is consulted. Unknown codes yield "".
func StatusLabel(status types.CodeLabel) string {
	if l := normalize(status.Label); l != "" {
		return l
	}
	return statusCodes[status.Code]
}

// SeverityLabel normalizes a legacy severity the same way as StatusLabel.
func SeverityLabel(severity types.CodeLabel) string {
	if l := normalize(severity.Label); l != "" {
		return l
	}
	return severityCodes[severity.Code]
}

// PriorityCode returns the numeric Mantis priority, falling back to the
// default label table when the export carried only a label.
func PriorityCode(priority types.CodeLabel) int {
	if priority.Code != 0 {
		return priority.Code
	}
	return priorityLabels[normalize(priority.Label)]
}
