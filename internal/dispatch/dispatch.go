// Package dispatch classifies canonical message records into priority lanes
// and enqueues them for asynchronous delivery. Classification is a pure
// function of the message type and never fails — normalization has already
// guaranteed well-formedness, so unknown types simply take the default lane.
package dispatch

import (
	"log/slog"
	"time"

	"github.com/warelay/warelay/internal/metrics"
	"github.com/warelay/warelay/internal/queue"
	"github.com/warelay/warelay/internal/types"
)

// laneByType is the exhaustive classification table. Types absent from the
// table route to the default lane.
var laneByType = map[string]types.Lane{
	"text":     types.LaneHigh,
	"reaction": types.LaneHigh,
	"image":    types.LaneDefault,
	"audio":    types.LaneDefault,
	"video":    types.LaneLow,
	"document": types.LaneLow,
}

// Classify returns the priority lane for a message type.
func Classify(msgType string) types.Lane {
	if lane, ok := laneByType[msgType]; ok {
		return lane
	}
	return types.LaneDefault
}

// LaneAssignment reports where a dispatched record landed.
type LaneAssignment struct {
	Lane  types.Lane
	Depth int // lane depth immediately after the enqueue
}

// Dispatcher enqueues records onto the shared lanes with a fresh delivery
// attempt state.
type Dispatcher struct {
	lanes       *queue.Lanes
	maxAttempts int
	backoff     []time.Duration

	metrics *metrics.Registry
	log     *slog.Logger
}

// New creates a Dispatcher. backoff carries one delay per retry.
func New(lanes *queue.Lanes, maxAttempts int, backoff []time.Duration, reg *metrics.Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		lanes:       lanes,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		metrics:     reg,
		log:         log,
	}
}

// Dispatch classifies msg, wraps it with a fresh attempt state
// (attempts_made = 0, status pending), and enqueues it. Always succeeds.
func (d *Dispatcher) Dispatch(msg *types.Message) LaneAssignment {
	lane := Classify(msg.Type)

	item := &queue.Item{
		Msg:  msg,
		Lane: lane,
		Attempt: types.Attempt{
			AttemptsMade: 0,
			MaxAttempts:  d.maxAttempts,
			Backoff:      d.backoff,
			Status:       types.StatusPending,
		},
	}
	d.lanes.Enqueue(item)
	d.metrics.Dispatched.Inc(lane.String())

	d.log.Debug("dispatched",
		"id", msg.ID,
		"type", msg.Type,
		"lane", lane.String(),
	)
	return LaneAssignment{Lane: lane, Depth: d.lanes.Depth(lane)}
}
