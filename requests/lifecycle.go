package requests

// =============================================================================
// LIFECYCLE - Allowed status transitions
// =============================================================================
//
//   pending ──▶ in_progress ──▶ approved
//      │              │
//      │              └──────▶ rejected
//      ├──────────────────────▶ approved
//      └──────────────────────▶ rejected
//
// approved and rejected are terminal. Day-off auto-approval moves a freshly
// inserted row from pending to approved inside the creating transaction, so
// no other reader ever observes the pending state.

var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected, StatusInProgress},
	StatusInProgress: {StatusApproved, StatusRejected},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError when from -> to is not allowed.
func ValidateTransition(requestID string, from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{RequestID: requestID, From: from, To: to}
	}
	return nil
}

// NextStatuses lists the statuses reachable from s.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}
