// Package model holds the motion event types shared by the store, the
// broadcast hub, and the notification queue.
package model

import (
	"strings"
	"time"
)

// MessageTypeMotionEvent tags broadcast and notification envelopes that carry an Event.
const (
	MessageTypeMotionEvent = "motion_event"
	MessageTypeInfo        = "info"
)

// BoundingBox is a rectangle normalised to [0,1] in frame coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is a single object-detector result attached to an event.
type Detection struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	BBox       *BoundingBox `json:"bbox"`
}

// Event is one motion detection record. ID is zero until the store assigns it.
type Event struct {
	ID             int64       `json:"id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Source         string      `json:"source"`
	Message        string      `json:"message"`
	Severity       string      `json:"severity,omitempty"`
	Zone           string      `json:"zone,omitempty"`
	ThumbnailURL   string      `json:"thumbnailUrl,omitempty"`
	FrameTimestamp *time.Time  `json:"frameTimestamp,omitempty"`
	Detections     []Detection `json:"detections"`

	// SnapshotPath is the blob key of the stored snapshot. Clients only ever
	// see the derived ThumbnailURL.
	SnapshotPath string `json:"-"`
}

// HasSeverity reports whether the event severity matches tag, ignoring case.
func (e *Event) HasSeverity(tag string) bool {
	return tag != "" && strings.EqualFold(strings.TrimSpace(e.Severity), tag)
}

// Clone returns a deep copy so queued or broadcast values never alias the original.
func (e *Event) Clone() Event {
	out := *e
	if e.FrameTimestamp != nil {
		ts := *e.FrameTimestamp
		out.FrameTimestamp = &ts
	}
	if e.Detections != nil {
		out.Detections = make([]Detection, len(e.Detections))
		for i, d := range e.Detections {
			out.Detections[i] = d
			if d.BBox != nil {
				box := *d.BBox
				out.Detections[i].BBox = &box
			}
		}
	}
	return out
}

// Message is the envelope pushed to live subscribers and notification sinks.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// MotionMessage wraps an event for fanout.
func MotionMessage(ev Event) Message {
	return Message{Type: MessageTypeMotionEvent, Payload: ev}
}

// InfoMessage builds the informational greeting sent to new subscribers.
func InfoMessage(text string) Message {
	return Message{Type: MessageTypeInfo, Message: text}
}
