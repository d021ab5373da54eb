package repairs

import "fmt"

// State is a step of the warranty decision workflow.
type State string

const (
	StateIdle               State = "IDLE"
	StateCheckingDuplicates State = "CHECKING_DUPLICATES"
	StateHistoryReview      State = "HISTORY_REVIEW"
	StateConfirmation       State = "CONFIRMATION"
	StateLocked             State = "LOCKED"
	StateNCRequired         State = "NC_REQUIRED"
	// StateNCAcknowledge waits for the user to dismiss the notice shown after
	// a valid NC report was entered.
	StateNCAcknowledge State = "NC_ACKNOWLEDGE"
	StateDeclined      State = "DECLINED"
	StateSaving        State = "SAVING"
	StateSaved         State = "SAVED"
	StateBlocked       State = "BLOCKED"
	StateAbandoned     State = "ABANDONED"
)

// Terminal reports whether no further event is accepted.
func (s State) Terminal() bool {
	return s == StateSaved || s == StateBlocked || s == StateAbandoned
}

// EventKind names a workflow input.
type EventKind string

const (
	// EventSave starts a save attempt. Eligible selects the duplicate check.
	EventSave EventKind = "save"
	// EventHistoryResolved reports the resolver result through HasHistory.
	EventHistoryResolved EventKind = "history_resolved"
	EventBlock           EventKind = "block"
	// EventContinue requires CanProceed.
	EventContinue EventKind = "continue"
	EventDismiss  EventKind = "dismiss"
	EventAccept   EventKind = "accept"
	EventDecline  EventKind = "decline"
	// EventLockApplied follows acceptance; HasNC skips the NC step.
	EventLockApplied EventKind = "lock_applied"
	// EventSubmitNC carries the validation outcome in Valid.
	EventSubmitNC      EventKind = "submit_nc"
	EventAcknowledge   EventKind = "acknowledge"
	EventProceed       EventKind = "proceed"
	EventNCNotOpened   EventKind = "nc_not_opened"
	EventSaveSucceeded EventKind = "save_succeeded"
	// EventSaveFailed returns to Prior.
	EventSaveFailed EventKind = "save_failed"
)

// Event is one transition attempt.
type Event struct {
	Kind       EventKind
	Eligible   bool
	HasHistory bool
	CanProceed bool
	HasNC      bool
	Valid      bool
	Prior      State
}

// Transition computes the next state. Events that are not valid in from are
// rejected with ErrInvalidTransition and leave the state unchanged.
func Transition(from State, ev Event) (State, error) {
	next, ok := step(from, ev)
	if !ok {
		return from, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev.Kind, from)
	}
	return next, nil
}

func step(from State, ev Event) (State, bool) {
	switch from {
	case StateIdle:
		if ev.Kind == EventSave {
			if ev.Eligible {
				return StateCheckingDuplicates, true
			}
			return StateSaving, true
		}
	case StateCheckingDuplicates:
		if ev.Kind == EventHistoryResolved {
			if ev.HasHistory {
				return StateHistoryReview, true
			}
			return StateConfirmation, true
		}
	case StateHistoryReview:
		switch ev.Kind {
		case EventBlock:
			return StateBlocked, true
		case EventContinue:
			if ev.CanProceed {
				return StateConfirmation, true
			}
		case EventDismiss:
			return StateAbandoned, true
		}
	case StateConfirmation:
		switch ev.Kind {
		case EventAccept:
			return StateLocked, true
		case EventDecline:
			return StateDeclined, true
		case EventDismiss:
			return StateAbandoned, true
		}
	case StateLocked:
		if ev.Kind == EventLockApplied {
			if ev.HasNC {
				return StateSaving, true
			}
			return StateNCRequired, true
		}
	case StateNCRequired:
		switch ev.Kind {
		case EventSubmitNC:
			if ev.Valid {
				return StateNCAcknowledge, true
			}
			return StateNCRequired, true
		case EventNCNotOpened:
			return StateAbandoned, true
		}
	case StateNCAcknowledge:
		if ev.Kind == EventAcknowledge {
			return StateSaving, true
		}
	case StateDeclined:
		if ev.Kind == EventProceed {
			return StateSaving, true
		}
	case StateSaving:
		switch ev.Kind {
		case EventSaveSucceeded:
			return StateSaved, true
		case EventSaveFailed:
			if savingPredecessor(ev.Prior) {
				return ev.Prior, true
			}
		}
	}
	return from, false
}

func savingPredecessor(s State) bool {
	switch s {
	case StateIdle, StateLocked, StateNCAcknowledge, StateDeclined:
		return true
	default:
		return false
	}
}
