package domain

import "time"

// EventType identifies the kind of telemetry event a device reports.
type EventType string

// Telemetry event types.
const (
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventPageTurn     EventType = "page_turn"
)

// Valid reports whether the event type is one the ingestion engine understands.
func (t EventType) Valid() bool {
	switch t {
	case EventSessionStart, EventSessionEnd, EventPageTurn:
		return true
	}
	return false
}

// Event is the canonical wire record for reading telemetry. A sync batch is an
// array of these; a single event is also accepted. Earlier device firmware
// used a separate "book + page_stats" batch shape; that shape is expressed
// here as a run of page_turn events for the same book.
type Event struct {
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	// Book identity material, best-effort. Title is always required;
	// MD5 and ISBN improve identity stability when present.
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
	MD5    string `json:"md5,omitempty"`

	// Position.
	CurrentPage int      `json:"current_page,omitempty"`
	TotalPages  int      `json:"total_pages,omitempty"`
	Progress    *float64 `json:"progress,omitempty"` // percent, 0-100

	// Session boundary events carry the device-generated session id.
	SessionID string `json:"session_id,omitempty"`

	// Page dwell in seconds, set on page_turn events when the device
	// accepted the dwell sample.
	Duration *int `json:"duration,omitempty"`
}

// IdentityKey derives the stable book identity key for this event.
func (e *Event) IdentityKey() string {
	return IdentityKey(e.MD5, e.ISBN, e.Title, e.Author)
}
