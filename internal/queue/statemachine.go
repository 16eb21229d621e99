package queue

// statemachine.go — delivery lifecycle state transition rules.
//
// State diagram:
//
//	PENDING ──────────────► IN_PROGRESS
//	   ▲                        │
//	   │         ┌──────────────┼─────────────────────┐
//	   │         ▼              ▼                     ▼
//	   │     SUCCEEDED   FAILED_RETRYABLE      FAILED_TERMINAL
//	   │                        │              (attempts exhausted)
//	   └────────────────────────┘
//	     (after backoff delay)

// ValidTransition reports whether the transition from → to is a legal
// state change for a queued item. Production code drives transitions through
// the worker pool and Lanes methods (Lease, Ack, Requeue), which already
// enforce these rules.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		// PENDING can only move to IN_PROGRESS (via Lease).
		return to == StatusInProgress
	case StatusInProgress:
		// IN_PROGRESS can:
		//   → SUCCEEDED        — handler returned nil
		//   → FAILED_RETRYABLE — handler failed, attempts remain
		//   → FAILED_TERMINAL  — handler failed, attempts exhausted
		return to == StatusSucceeded || to == StatusFailedRetryable || to == StatusFailedTerminal
	case StatusFailedRetryable:
		// FAILED_RETRYABLE returns to PENDING when the backoff delay expires.
		return to == StatusPending
	case StatusSucceeded, StatusFailedTerminal:
		// Terminal states.
		return false
	}
	return false
}
