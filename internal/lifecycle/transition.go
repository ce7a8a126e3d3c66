// Package lifecycle holds the booking state machine and the payment status
// tracker. Everything here is pure: functions take the prior booking and return
// the next one together with the effects an orchestrator has to execute.
package lifecycle

import (
	"fmt"
	"strings"

	"krushilink/internal/models"
)

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

var actions = []Action{ActionAccept, ActionReject, ActionStart, ActionComplete, ActionCancel}

func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, raw)
}

// Actor is whoever asks for a change.
type Actor struct {
	UserID string
	Role   models.Role
}

// Transition maps (status, role, action) to the next status. Every status is
// listed explicitly so adding one to models forces a decision here.
func Transition(from models.BookingStatus, role models.Role, action Action) (models.BookingStatus, error) {
	switch from {
	case models.StatusRequested:
		switch {
		case action == ActionAccept && role == models.RoleDriver:
			return models.StatusAccepted, nil
		case action == ActionReject && role == models.RoleDriver:
			return models.StatusRejected, nil
		case action == ActionCancel && role == models.RoleFarmer:
			return models.StatusCanceled, nil
		}
	case models.StatusAccepted:
		switch {
		case action == ActionStart && role == models.RoleDriver:
			return models.StatusInProgress, nil
		case action == ActionCancel && role == models.RoleDriver:
			return models.StatusCanceled, nil
		}
	case models.StatusInProgress:
		if action == ActionComplete && role == models.RoleDriver {
			return models.StatusCompleted, nil
		}
	case models.StatusRejected, models.StatusCanceled, models.StatusCompleted:
		// terminal
	case models.StatusAwaitingPayment:
		// recognised but unreachable; no transitions in or out
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	return "", &TransitionError{From: from, Role: role, Action: action}
}

// AvailableActions lists what role may do from status, in a stable order.
func AvailableActions(status models.BookingStatus, role models.Role) []Action {
	var out []Action
	for _, a := range actions {
		if _, err := Transition(status, role, a); err == nil {
			out = append(out, a)
		}
	}
	return out
}
