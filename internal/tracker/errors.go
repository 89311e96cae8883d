package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mantis2ado/mantis2ado/internal/attachments"
	"github.com/mantis2ado/mantis2ado/internal/mapping"
	"github.com/mantis2ado/mantis2ado/internal/workflow"
)

// ErrorKind classifies migration failures for reporting.
type ErrorKind string

// Error kinds.
const (
	KindNone                  ErrorKind = ""
	KindUnmappedStatus        ErrorKind = "UnmappedStatus"
	KindUnmappedType          ErrorKind = "UnmappedType"
	KindTransition            ErrorKind = "TransitionError"
	KindAttachment            ErrorKind = "AttachmentError"
	KindTransientService      ErrorKind = "TransientServiceError"
	KindDuplicateCreationRace ErrorKind = "DuplicateCreationRace"
	KindService               ErrorKind = "ServiceError"
	KindCanceled              ErrorKind = "Canceled"
	KindInvalidIssue          ErrorKind = "InvalidIssue"
)

// ServiceError is a failed call to the target service.
type ServiceError struct {
	Op         string // e.g. "create work item"
	StatusCode int    // zero for transport failures
	Message    string
	Transient  bool // rate limited, timed out, or 5xx; retries were exhausted
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsUnknownIdentity reports whether the service rejected a write because an
// identity field named a user it does not know.
func IsUnknownIdentity(err error) bool {
	var se *ServiceError
	if !errors.As(err, &se) {
		return false
	}
	msg := strings.ToLower(se.Message)
	return strings.Contains(msg, "unknown identity") || strings.Contains(msg, "tf401320")
}

// DuplicateCreationRaceError records that more than one work item carries a
// migration tag. It is reported as a warning; Authoritative is used.
type DuplicateCreationRaceError struct {
	LegacyID      int
	Tag           string
	IDs           []int
	Authoritative int
}

func (e *DuplicateCreationRaceError) Error() string {
	return fmt.Sprintf("issue %d: %d work items carry tag %s (%v); using %d",
		e.LegacyID, len(e.IDs), e.Tag, e.IDs, e.Authoritative)
}

// KindOf classifies err. A nil error has KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var (
		unmappedStatus *mapping.UnmappedStatusError
		unmappedType   *mapping.UnmappedTypeError
		transition     *workflow.TransitionError
		attachment     *attachments.AttachmentError
		duplicate      *DuplicateCreationRaceError
		service        *ServiceError
	)
	switch {
	case errors.As(err, &unmappedStatus):
		return KindUnmappedStatus
	case errors.As(err, &unmappedType):
		return KindUnmappedType
	case errors.As(err, &transition):
		return KindTransition
	case errors.As(err, &attachment):
		return KindAttachment
	case errors.As(err, &duplicate):
		return KindDuplicateCreationRace
	case errors.As(err, &service):
		if service.Transient {
			return KindTransientService
		}
		return KindService
	case errors.Is(err, errInvalidIssue):
		return KindInvalidIssue
	}
	return KindService
}

var errInvalidIssue = errors.New("invalid legacy issue")
