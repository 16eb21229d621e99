// Package queue implements the three priority lanes that carry canonical
// messages from the dispatcher to the delivery workers.
//
// Domain types (Message, Lane, Status, Attempt) live in internal/types to
// break the import cycle between the dispatch and worker packages. This file
// re-exports them as aliases so callers can use queue.Message / queue.Lane
// without conversion.
package queue

import "github.com/warelay/warelay/internal/types"

// Re-export core domain types from the types package.
// Using Go type aliases (=) so queue.Message IS types.Message.
type Message = types.Message
type Lane = types.Lane
type Status = types.Status
type Attempt = types.Attempt

// Re-export lane and status constants.
const (
	LaneHigh    = types.LaneHigh
	LaneDefault = types.LaneDefault
	LaneLow     = types.LaneLow

	StatusPending         = types.StatusPending
	StatusInProgress      = types.StatusInProgress
	StatusSucceeded       = types.StatusSucceeded
	StatusFailedRetryable = types.StatusFailedRetryable
	StatusFailedTerminal  = types.StatusFailedTerminal
)

// AllLanes re-exports the lane draining order alongside the Lane constants.
var AllLanes = types.AllLanes
