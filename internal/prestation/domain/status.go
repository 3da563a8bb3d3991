package domain

import (
	"strings"

	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

// Status is the lifecycle state of a service delivery
type Status string

const (
	StatusPlanned   Status = "PLANNED"
	StatusPerformed Status = "PERFORMED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusPerformed, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", errors.Validation(map[string]string{
			"status": "must be one of: PLANNED, PERFORMED, PAID, CANCELLED",
		})
	}
	return s, nil
}

// StockAction is the stock effect of a status change
type StockAction int

const (
	StockNone StockAction = iota
	StockApply
	StockRevert
)

func (a StockAction) String() string {
	switch a {
	case StockApply:
		return "apply"
	case StockRevert:
		return "revert"
	default:
		return "none"
	}
}

// StockActionFor returns what a change from one status to another does to
// stock. Payment never touches stock, and nothing done to a PAID delivery
// gives its consumption back.
//
//	from \ to   PLANNED   PERFORMED  PAID   CANCELLED
//	PLANNED     -         apply      x      revert
//	PERFORMED   revert    -          -      revert
//	PAID        x         x          -      -
//
// Cells marked x are not allowed by CanTransition.
//
// Apply and revert are themselves no-ops when the delivery's stock impact is
// already in the requested state.
func StockActionFor(from, to Status) StockAction {
	switch {
	case from == to:
		return StockNone
	case to == StatusPaid:
		return StockNone
	case from == StatusPaid:
		return StockNone
	case to == StatusPerformed:
		return StockApply
	case to == StatusPlanned, to == StatusCancelled:
		return StockRevert
	default:
		return StockNone
	}
}

// A delivery is paid only once performed, so every PAID delivery has
// consumed its stock. PAID -> CANCELLED is an administrative override.
var transitions = map[Status][]Status{
	StatusPlanned:   {StatusPerformed, StatusCancelled},
	StatusPerformed: {StatusPlanned, StatusPaid, StatusCancelled},
	StatusPaid:      {StatusCancelled},
	StatusCancelled: {},
}

// CanTransition reports whether a delivery may move from one status to
// another. Staying in place is always allowed; CANCELLED is terminal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PathTo lists the statuses a new PLANNED delivery passes through to reach
// to, in order
func PathTo(to Status) []Status {
	switch to {
	case StatusPerformed, StatusCancelled:
		return []Status{to}
	case StatusPaid:
		return []Status{StatusPerformed, StatusPaid}
	default:
		return nil
	}
}
