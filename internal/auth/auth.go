// Package auth implements the credential gate applied to inbound requests
// before anything else runs. Two independently configured gate instances
// protect the pipeline: one for the webhook-origin shared secret, one for the
// receiver-service API key. Each compares credentials in constant time and
// each "fails open" only outside production when no secret is configured —
// a deliberate migration escape hatch, not a security property.
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// Decision is the gate's verdict for one request.
type Decision uint8

const (
	// Reject denies the request (bad or missing credential).
	Reject Decision = iota
	// Allow admits the request silently.
	Allow
	// AllowWithWarning admits the request because no secret is configured and
	// the deployment is not production. Always logged at error level.
	AllowWithWarning
)

// String returns the decision name used in logs.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Reject:
		return "reject"
	case AllowWithWarning:
		return "allow_with_warning"
	default:
		return "unknown"
	}
}

// ErrNoSecret is returned alongside Reject when no secret is configured in a
// production deployment. The transport layer maps it to 503 rather than 401.
var ErrNoSecret = errors.New("auth: no secret configured")

// bearerPrefix is stripped from Authorization header values.
const bearerPrefix = "Bearer "

// Gate validates a shared secret carried by inbound requests.
//
// Credential extraction precedence is fixed: the named header first, then
// Authorization: Bearer, then (webhook variant only) the body field. The
// first non-empty candidate is the one compared — later locations are not
// consulted as fallbacks for a wrong value.
type Gate struct {
	name       string // gate identity in logs: "webhook" or "receiver"
	secret     string
	production bool

	headerName string // primary credential header, e.g. "X-API-Key"
	bodyField  string // optional body field name; "" disables body extraction
	log        *slog.Logger
}

// NewReceiverGate returns the gate protecting the receiver-service API
// endpoint. The credential is accepted from X-API-Key or Authorization: Bearer.
func NewReceiverGate(secret string, production bool, log *slog.Logger) *Gate {
	return &Gate{
		name:       "receiver",
		secret:     secret,
		production: production,
		headerName: "X-API-Key",
		log:        log,
	}
}

// NewWebhookGate returns the gate protecting the webhook endpoint. The
// credential is additionally accepted from the X-Webhook-Secret header and
// the webhook_secret body field for upstreams that cannot set headers.
func NewWebhookGate(secret string, production bool, log *slog.Logger) *Gate {
	return &Gate{
		name:       "webhook",
		secret:     secret,
		production: production,
		headerName: "X-Webhook-Secret",
		bodyField:  "webhook_secret",
		log:        log,
	}
}

// Name returns the gate's log identity.
func (g *Gate) Name() string { return g.name }

// BodyField returns the body field the gate reads its credential from, or ""
// when body extraction is disabled for this gate.
func (g *Gate) BodyField() string { return g.bodyField }

// Check decides whether the request may proceed. bodyCredential is the value
// of the gate's body field, already extracted by the transport layer ("" when
// absent or not applicable).
//
// Returns ErrNoSecret with Reject when no secret is configured in production.
func (g *Gate) Check(r *http.Request, bodyCredential string) (Decision, error) {
	if g.secret == "" {
		if g.production {
			g.log.Error("auth: no secret configured in production, rejecting",
				"gate", g.name, "url", r.URL.Path)
			return Reject, ErrNoSecret
		}
		g.log.Error("auth: no secret configured, allowing request",
			"gate", g.name, "url", r.URL.Path)
		return AllowWithWarning, nil
	}

	credential := g.extract(r, bodyCredential)
	if credential == "" {
		g.logReject(r, "missing credential")
		return Reject, nil
	}

	// ConstantTimeCompare returns 1 only when lengths and contents match.
	if subtle.ConstantTimeCompare([]byte(credential), []byte(g.secret)) != 1 {
		g.logReject(r, "bad credential")
		return Reject, nil
	}
	return Allow, nil
}

// extract pulls the credential from the first populated accepted location.
func (g *Gate) extract(r *http.Request, bodyCredential string) string {
	if v := r.Header.Get(g.headerName); v != "" {
		return v
	}
	if v := r.Header.Get("Authorization"); v != "" {
		if strings.HasPrefix(v, bearerPrefix) {
			return v[len(bearerPrefix):]
		}
		return v
	}
	if g.bodyField != "" && bodyCredential != "" {
		return bodyCredential
	}
	return ""
}

// logReject emits the warning for a denied request: caller IP, user agent,
// and URL. The credential value itself is never logged.
func (g *Gate) logReject(r *http.Request, reason string) {
	g.log.Warn("auth: request rejected",
		"gate", g.name,
		"reason", reason,
		"ip", callerIP(r),
		"user_agent", r.UserAgent(),
		"url", r.URL.Path,
	)
}

// callerIP extracts the real client IP, preferring the first address in
// X-Forwarded-For (set by reverse proxies) and falling back to RemoteAddr.
func callerIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
