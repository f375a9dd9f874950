// Package offline defines core types shared across the offline worker subsystems.
package offline

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"
)

// Purpose names the single job a cache tier serves.
type Purpose string

// Tier purposes. Exactly one tier is active per purpose.
const (
	PurposeShell Purpose = "shell"
	PurposeImage Purpose = "image"
	PurposeJSON  Purpose = "json"
)

// Purposes lists every tier purpose in activation order.
var Purposes = []Purpose{PurposeShell, PurposeImage, PurposeJSON}

// Category is the classification of an inbound resource request.
type Category string

// Request categories, in rule priority order.
const (
	CategoryBypass     Category = "bypass"
	CategoryVideo      Category = "video"
	CategoryNavigation Category = "navigation"
	CategoryImage      Category = "image"
	CategoryJSON       Category = "json"
	CategoryStatic     Category = "static"
)

// Mode mirrors the request mode a client attaches to a fetch.
type Mode string

// Request modes.
const (
	ModeNavigate   Mode = "navigate"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
	ModeSameOrigin Mode = "same-origin"
)

// ResponseType distinguishes readable responses from cross-origin opaque ones.
type ResponseType string

// Response types.
const (
	ResponseBasic     ResponseType = "basic"
	ResponseOpaque    ResponseType = "opaque"
	ResponseSynthetic ResponseType = "synthetic"
)

// Request captures everything needed to classify and fulfil a resource fetch.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Mode        Mode
	Destination string
	Body        []byte
	// Stream asks the network fetcher to hand back the live body instead of buffering it.
	Stream bool
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	out := r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Accepts reports whether the Accept header mentions the media type.
func (r Request) Accepts(mediaType string) bool {
	if r.Header == nil {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), mediaType)
}

// Response is a fulfilled fetch, either from the network or a stored snapshot.
type Response struct {
	URL        string       `json:"url"`
	StatusCode int          `json:"status"`
	Header     http.Header  `json:"header"`
	Body       []byte       `json:"body"`
	Type       ResponseType `json:"type"`
	StoredAt   time.Time    `json:"stored_at,omitempty"`
	// Stream carries an unread network body; streamed responses are never stored.
	Stream io.ReadCloser `json:"-"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Cacheable reports whether the response counts as a success for tier writes.
func (r *Response) Cacheable() bool {
	if r == nil || r.Stream != nil {
		return false
	}
	return r.OK() || r.Type == ResponseOpaque
}

// ContentType returns the lower-cased Content-Type header.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
}

// Clone returns a deep copy. Streamed bodies are not duplicated.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	out.Stream = nil
	return &out
}

// BodyReader returns a reader over the buffered body or the live stream.
func (r *Response) BodyReader() io.Reader {
	if r.Stream != nil {
		return r.Stream
	}
	return bytes.NewReader(r.Body)
}

// NotificationData is the deep-link context attached to a notification.
type NotificationData struct {
	Slug string `json:"slug,omitempty"`
	URL  string `json:"url,omitempty"`
}

// NotificationAction is a button rendered alongside a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// NotificationPayload is the immutable content of a notification.
type NotificationPayload struct {
	Title   string               `json:"title"`
	Body    string               `json:"body,omitempty"`
	Image   string               `json:"image,omitempty"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Tag     string               `json:"tag,omitempty"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// QueuedNotification is a persisted notification awaiting display.
type QueuedNotification struct {
	ID            string              `json:"id"`
	Payload       NotificationPayload `json:"payload"`
	CreatedAt     time.Time           `json:"created_at"`
	SentAt        *time.Time          `json:"sent_at"`
	Attempts      int                 `json:"attempts"`
	NextAttemptAt *time.Time          `json:"next_attempt_at,omitempty"`
}

// Sent reports whether the record reached its terminal state.
func (q QueuedNotification) Sent() bool {
	return q.SentAt != nil
}

// Due reports whether an unsent record may be attempted at now.
func (q QueuedNotification) Due(now time.Time) bool {
	if q.Sent() {
		return false
	}
	return q.NextAttemptAt == nil || !q.NextAttemptAt.After(now)
}

// NotificationOptions is the platform shape handed to a display surface.
type NotificationOptions struct {
	Body     string               `json:"body"`
	Icon     string               `json:"icon"`
	Badge    string               `json:"badge"`
	Image    string               `json:"image,omitempty"`
	Tag      string               `json:"tag"`
	Renotify bool                 `json:"renotify"`
	Data     NotificationData     `json:"data"`
	Actions  []NotificationAction `json:"actions,omitempty"`
}

// DisplayedNotification is a notification currently visible on a surface.
type DisplayedNotification struct {
	Title   string              `json:"title"`
	Options NotificationOptions `json:"options"`
	ShownAt time.Time           `json:"shown_at"`
}

// Message is the envelope exchanged with client sessions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}
