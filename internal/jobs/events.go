package jobs

import (
	"sync"
	"time"

	"asset-packer/internal/domain"
	"asset-packer/internal/events"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
	EventTypeSize   EventType = "size"
	EventTypeResult EventType = "result"
	EventTypeError  EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq        int64            `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"jobId"`
	Type       EventType        `json:"type"`
	Status     domain.JobStatus `json:"status,omitempty"`
	Level      string           `json:"level,omitempty"`
	Message    string           `json:"message,omitempty"`
	Stage      string           `json:"stage,omitempty"`
	Action     string           `json:"action,omitempty"`
	StartSize  int              `json:"startSize,omitempty"`
	EndSize    int              `json:"endSize,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
	DurationMS float64          `json:"durationMs,omitempty"`
}

// FromWorker converts a worker event into a bus event for jobID. The binary
// payload of a packreport is dropped; the UI only needs the path.
func FromWorker(jobID string, e events.Event) Event {
	out := Event{JobID: jobID}
	switch e.Type {
	case events.TypeLogging:
		out.Type = EventTypeLog
		out.Level = e.Verbosity.String()
		out.Message = e.Text
	case events.TypeSizeReport:
		out.Type = EventTypeSize
		out.Action = e.Action
		out.StartSize = e.StartSize
		out.EndSize = e.EndSize
	case events.TypePackReport:
		out.Type = EventTypeResult
		out.Status = domain.JobStatusDone
		out.DurationMS = e.Time
		if e.File != nil {
			out.Message = e.File.Name
			out.OutputPath = e.File.Path
			out.EndSize = len(e.File.Binary)
		}
	case events.TypeErrorReport:
		out.Type = EventTypeError
		out.Status = domain.JobStatusFailed
		out.DurationMS = e.Time
		out.Message = e.ErrorMessage
		if e.Error != nil {
			out.Stage = e.Error.Stage
			if out.Message == "" {
				out.Message = e.Error.Message
			}
		}
	default:
		out.Type = EventTypeLog
		out.Message = e.Text
	}
	return out
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
