// Package events defines the messages a pack worker streams to its host and
// the emitters that carry them.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Type classifies one worker message.
type Type string

const (
	TypeLogging     Type = "logging"
	TypeSizeReport  Type = "sizereport"
	TypePackReport  Type = "packreport"
	TypeErrorReport Type = "errorreport"
)

// IsTerminal reports whether the type ends a job.
func (t Type) IsTerminal() bool {
	return t == TypePackReport || t == TypeErrorReport
}

// PackedFile is the artifact carried by a packreport.
type PackedFile struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Binary []byte `json:"binary"`
}

// ErrorInfo is the structured error carried by an errorreport.
type ErrorInfo struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// Event is a single worker message. Only the fields relevant to Type are
// serialized.
type Event struct {
	Type         Type
	Verbosity    Level
	Text         string
	Action       string
	StartSize    int
	EndSize      int
	File         *PackedFile
	Error        *ErrorInfo
	ErrorMessage string
	Time         float64
}

type loggingWire struct {
	Type      Type   `json:"type"`
	Verbosity Level  `json:"verbosity"`
	Text      string `json:"text"`
}

type sizeReportWire struct {
	Type      Type   `json:"type"`
	Action    string `json:"action"`
	StartSize int    `json:"startSize"`
	EndSize   int    `json:"endSize"`
}

type packReportWire struct {
	Type Type        `json:"type"`
	File *PackedFile `json:"file"`
	Time float64     `json:"time"`
}

type errorReportWire struct {
	Type         Type       `json:"type"`
	Error        *ErrorInfo `json:"error"`
	ErrorMessage string     `json:"errorMessage"`
	Time         float64    `json:"time"`
}

type anyWire struct {
	Type         Type        `json:"type"`
	Verbosity    Level       `json:"verbosity"`
	Text         string      `json:"text"`
	Action       string      `json:"action"`
	StartSize    int         `json:"startSize"`
	EndSize      int         `json:"endSize"`
	File         *PackedFile `json:"file"`
	Error        *ErrorInfo  `json:"error"`
	ErrorMessage string      `json:"errorMessage"`
	Time         float64     `json:"time"`
}

// MarshalJSON writes the wire shape for the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeLogging:
		return json.Marshal(loggingWire{Type: e.Type, Verbosity: e.Verbosity, Text: e.Text})
	case TypeSizeReport:
		return json.Marshal(sizeReportWire{Type: e.Type, Action: e.Action, StartSize: e.StartSize, EndSize: e.EndSize})
	case TypePackReport:
		return json.Marshal(packReportWire{Type: e.Type, File: e.File, Time: e.Time})
	case TypeErrorReport:
		return json.Marshal(errorReportWire{Type: e.Type, Error: e.Error, ErrorMessage: e.ErrorMessage, Time: e.Time})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON reads any wire shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w anyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event(w)
	return nil
}

// Emitter delivers events to the host boundary. Implementations must be safe
// for concurrent use and must not fail loudly.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f.
func (f EmitterFunc) Emit(e Event) {
	f(e)
}

// JSONLEmitter writes one JSON object per line.
type JSONLEmitter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *zap.Logger
}

// NewJSONLEmitter creates an emitter writing to w. Encoding failures are
// reported to logger and otherwise ignored.
func NewJSONLEmitter(w io.Writer, logger *zap.Logger) *JSONLEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLEmitter{enc: json.NewEncoder(w), logger: logger}
}

// Emit encodes e as a single line.
func (j *JSONLEmitter) Emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(e); err != nil {
		j.logger.Warn("emit event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of type t in emission order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ReportSize emits a sizereport for one executed stage.
func ReportSize(e Emitter, action string, startSize, endSize int) {
	if e == nil {
		return
	}
	e.Emit(Event{Type: TypeSizeReport, Action: action, StartSize: startSize, EndSize: endSize})
}
