// Package normalize maps loosely-shaped inbound receiver payloads into the
// one canonical message record the rest of the pipeline operates on.
//
// The inbound schema is intentionally permissive: the two upstream services
// use different field names for the same data, so every canonical field is
// resolved through an ordered list of candidate keys (primary name, then
// alternate, then a computed default). A value present under either name is
// never silently dropped.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warelay/warelay/internal/ident"
	"github.com/warelay/warelay/internal/sanitize"
	"github.com/warelay/warelay/internal/types"
)

// Candidate key tables, primary name first. Kept as package vars so the
// fallback order is auditable in one place.
var (
	senderKeys    = []string{"sender", "from"}
	chatKeys      = []string{"chat", "chat_id"}
	contentKeys   = []string{"message", "content"}
	timeKeys      = []string{"timestamp", "sending_time"}
	messageIDKeys = []string{"message_id", "id"}
	mediaKeys     = []string{"media", "media_url"}
	mimeKeys      = []string{"mime_type", "mimetype"}
	fileNameKeys  = []string{"file_name", "filename"}
	mediaSizeKeys = []string{"media_size", "file_size"}
	senderPfpKeys = []string{"sender_pfp", "sender_profile_picture"}
)

// defaultType is assigned when the payload carries no type tag. The
// classifier routes it to the high lane like any other text message.
const defaultType = "text"

// MissingFieldError reports that a required canonical field could not be
// resolved from any of its candidate keys.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("normalize: missing required field %q", e.Field)
}

// Normalizer converts raw payloads into canonical records. The zero value is
// not usable; construct with New.
type Normalizer struct {
	// now supplies the clock used when the payload carries no timestamp,
	// injected so normalization is deterministic in tests.
	now func() time.Time
}

// New returns a Normalizer using the real clock.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock returns a Normalizer with an injected clock.
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize resolves payload into a canonical message record.
//
// It fails with *MissingFieldError only when no sender-like field survives
// the fallback chain — chat falls back to the sender, and every other field
// has a usable default. The returned record is complete: sender and chat set,
// type non-empty, sending time always populated.
func (n *Normalizer) Normalize(payload map[string]any) (*types.Message, error) {
	sender := sanitize.Identifier(firstString(payload, senderKeys...))
	if sender == "" {
		return nil, &MissingFieldError{Field: "sender"}
	}
	chat := sanitize.Identifier(firstString(payload, chatKeys...))
	if chat == "" {
		chat = sender
	}

	msgType := strings.TrimSpace(strings.ToLower(firstString(payload, "type")))
	if msgType == "" {
		msgType = defaultType
	}

	m := &types.Message{
		ID:          ident.MustNewID(),
		Sender:      sender,
		Chat:        chat,
		Type:        msgType,
		Content:     sanitize.Text(firstString(payload, contentKeys...)),
		SendingTime: n.resolveTime(payload),
		MessageID:   sanitize.Identifier(firstString(payload, messageIDKeys...)),
		Media:       sanitize.Text(firstString(payload, mediaKeys...)),
		MimeType:    sanitize.Text(firstString(payload, mimeKeys...)),
		FileName:    sanitize.FileName(firstString(payload, fileNameKeys...)),
		MediaSize:   firstInt(payload, mediaSizeKeys...),
		IsGroup:     truthy(payload["is_group"]),

		ReactedMessageID: sanitize.Identifier(firstString(payload, "reacted_message_id")),
		Emoji:            sanitize.Text(firstString(payload, "emoji")),

		SenderJID:               sanitize.Identifier(firstString(payload, "sender_jid")),
		SenderProfilePictureURL: sanitize.Text(firstString(payload, senderPfpKeys...)),
		SenderBio:               sanitize.Text(firstString(payload, "sender_bio")),

		ContextInfo:   opaqueMap(payload["context_info"]),
		QuotedMessage: opaqueMap(payload["quoted_message"]),
		PollData:      opaqueMap(payload["poll_data"]),
	}
	return m, nil
}

// resolveTime applies the timestamp fallback chain: primary key, alternate
// key, then the injected clock.
func (n *Normalizer) resolveTime(payload map[string]any) time.Time {
	for _, key := range timeKeys {
		if ts, ok := parseTime(payload[key]); ok {
			return ts
		}
	}
	return n.now()
}

// ─── value coercion helpers ──────────────────────────────────────────────────

// firstString returns the first non-empty string value found under keys.
// Numeric values are rendered to their decimal string form — upstream
// emitters are known to send numeric chat IDs.
func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(v, 10)
		case int:
			return strconv.Itoa(v)
		}
	}
	return ""
}

// firstInt returns the first value under keys coercible to int64.
func firstInt(payload map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		case int:
			return int64(v)
		case string:
			if iv, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return iv
			}
		}
	}
	return 0
}

// truthy coerces v to a boolean, defaulting false for anything unrecognized.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

// parseTime accepts the timestamp shapes the upstream services emit:
// unix seconds (number or digit string), unix milliseconds, and RFC 3339.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return fromUnix(int64(t)), true
	case int64:
		return fromUnix(t), true
	case int:
		return fromUnix(int64(t)), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if iv, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromUnix(iv), true
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// fromUnix interprets v as unix milliseconds when it is too large to be a
// plausible seconds value (past the year 33658 in seconds).
func fromUnix(v int64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

// opaqueMap passes a structured sub-object through untouched. Anything that
// is not a JSON object is discarded rather than guessed at.
func opaqueMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
