// Package types contains the core domain types shared across all warelay
// internal packages. It deliberately has zero imports of other warelay
// packages so that the queue, dispatch, and transport layers can all import
// from it without creating import cycles.
package types

import (
	"time"
)

// Lane is one of the three priority queues a message is classified into.
type Lane uint8

const (
	// LaneHigh carries human-visible conversational traffic (text, reactions).
	LaneHigh Lane = iota
	// LaneDefault carries everything that is neither clearly urgent nor bulk.
	LaneDefault
	// LaneLow carries bulk media (video, documents).
	LaneLow
)

// String returns the lane name used in logs, metrics, and API responses.
func (l Lane) String() string {
	switch l {
	case LaneHigh:
		return "high"
	case LaneDefault:
		return "default"
	case LaneLow:
		return "low"
	default:
		return "unknown"
	}
}

// AllLanes lists every lane in strict draining order: workers poll high
// before default before low.
var AllLanes = [3]Lane{LaneHigh, LaneDefault, LaneLow}

// Status is the delivery lifecycle state of a queued message.
type Status uint8

const (
	// StatusPending means the item is sitting in a lane waiting for a worker.
	StatusPending Status = iota
	// StatusInProgress means a worker holds the item and the downstream
	// handler is being invoked.
	StatusInProgress
	// StatusSucceeded means the handler returned without error. Terminal.
	StatusSucceeded
	// StatusFailedRetryable means the handler failed but attempts remain; the
	// item returns to Pending after its backoff delay expires.
	StatusFailedRetryable
	// StatusFailedTerminal means the handler failed and retries are exhausted.
	// The item is reported and dropped. Terminal.
	StatusFailedTerminal
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailedRetryable:
		return "failed_retryable"
	case StatusFailedTerminal:
		return "failed_terminal"
	default:
		return "unknown"
	}
}

// Message is the canonical record produced by normalization from any accepted
// inbound payload shape. It is immutable once constructed: workers never
// modify it across retries — only the Attempt state beside it changes.
//
// All optional structured sub-objects (ContextInfo, QuotedMessage, PollData)
// are carried opaquely; warelay never interprets their internals.
type Message struct {
	// ID uniquely identifies this record inside warelay. Generated at
	// normalization time; distinct from the upstream MessageID.
	ID string `json:"id"`

	// Sender and Chat are the normalized party identifiers. Chat defaults to
	// Sender when the inbound payload carries no chat-like field. At least one
	// of the two was present in the input — normalization fails otherwise.
	Sender string `json:"sender"`
	Chat   string `json:"chat"`

	// Type selects the priority lane and downstream semantics
	// (text, image, video, audio, document, reaction, poll_update, ...).
	// Always non-empty; unrecognized values route to the default lane.
	Type string `json:"type"`

	// Content is the optional message body.
	Content string `json:"content,omitempty"`

	// SendingTime is always set: the input value when present, otherwise the
	// normalization-time clock reading.
	SendingTime time.Time `json:"sending_time"`

	// Attachment descriptors. Consistent only when Type implies media.
	Media     string `json:"media,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	MediaSize int64  `json:"media_size,omitempty"`

	// MessageID is the upstream identifier, preserved unchanged for
	// idempotency/dedup by downstream collaborators.
	MessageID string `json:"message_id,omitempty"`

	IsGroup bool `json:"is_group"`

	// Reaction-only fields.
	ReactedMessageID string `json:"reacted_message_id,omitempty"`
	Emoji            string `json:"emoji,omitempty"`

	// Optional sender metadata carried through for downstream enrichment.
	SenderJID               string `json:"sender_jid,omitempty"`
	SenderProfilePictureURL string `json:"sender_pfp,omitempty"`
	SenderBio               string `json:"sender_bio,omitempty"`

	// Opaque structured passthrough.
	ContextInfo   map[string]any `json:"context_info,omitempty"`
	QuotedMessage map[string]any `json:"quoted_message,omitempty"`
	PollData      map[string]any `json:"poll_data,omitempty"`
}

// Clone returns a shallow copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// maxTagChatLen caps the chat portion of the chat tag so that very long JIDs
// do not blow up label cardinality in downstream grouping.
const maxTagChatLen = 12

// Tags returns the observability tags attached to every processing attempt:
// the system name, the message type, and a truncated chat identifier.
// Metadata only — never used for routing decisions.
func (m *Message) Tags(system string) []string {
	chat := m.Chat
	if len(chat) > maxTagChatLen {
		chat = chat[:maxTagChatLen]
	}
	return []string{system, "type:" + m.Type, "chat:" + chat}
}

// Attempt tracks delivery progress for one queued item. It travels with the
// item through the lane, the worker, and the backoff timer — there is no
// global attempt table.
type Attempt struct {
	// AttemptsMade counts handler invocations so far. Starts at 0;
	// incremented when a worker transitions the item to in_progress.
	AttemptsMade int `json:"attempts_made"`

	// MaxAttempts is fixed at enqueue time.
	MaxAttempts int `json:"max_attempts"`

	// Backoff holds one wait duration per retry: Backoff[n-1] is the delay
	// applied after the n-th failed attempt.
	Backoff []time.Duration `json:"-"`

	Status Status `json:"status"`

	// LastError is the most recent handler failure, kept for the terminal
	// failure report.
	LastError string `json:"last_error,omitempty"`
}

// Exhausted reports whether no further retries remain.
func (a *Attempt) Exhausted() bool {
	return a.AttemptsMade >= a.MaxAttempts
}

// NextDelay returns the backoff delay to wait before the next retry, based on
// the number of attempts already made. Falls back to the last schedule entry
// when attempts outrun the schedule length.
func (a *Attempt) NextDelay() time.Duration {
	if len(a.Backoff) == 0 {
		return 0
	}
	idx := a.AttemptsMade - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(a.Backoff) {
		idx = len(a.Backoff) - 1
	}
	return a.Backoff[idx]
}
