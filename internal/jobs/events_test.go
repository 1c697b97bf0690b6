package jobs

import (
	"testing"

	"asset-packer/internal/domain"
	"asset-packer/internal/events"
)

// TestEventBusSince verifies incremental event reads by sequence.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventTypeStatus, Message: "1"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "2"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "3"})

	got := bus.Since(1)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", got)
	}
}

// TestEventBusCapsHistory verifies buffer limit trimming behavior.
func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	got := bus.Since(0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message != "2" || got[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

// TestFromWorkerMapsEveryType checks worker events become bus events.
func TestFromWorkerMapsEveryType(t *testing.T) {
	logEvent := FromWorker("job-1", events.Event{Type: events.TypeLogging, Verbosity: events.LevelWarn, Text: "careful"})
	if logEvent.Type != EventTypeLog || logEvent.Level != "warn" || logEvent.Message != "careful" || logEvent.JobID != "job-1" {
		t.Fatalf("log = %+v", logEvent)
	}

	size := FromWorker("job-1", events.Event{Type: events.TypeSizeReport, Action: "weld", StartSize: 100, EndSize: 80})
	if size.Type != EventTypeSize || size.Action != "weld" || size.StartSize != 100 || size.EndSize != 80 {
		t.Fatalf("size = %+v", size)
	}

	result := FromWorker("job-1", events.Event{
		Type: events.TypePackReport,
		File: &events.PackedFile{Name: "cube_packed.glb", Path: "/out/cube_packed.glb", Binary: []byte("glTF")},
		Time: 12.5,
	})
	if result.Type != EventTypeResult || result.Status != domain.JobStatusDone || result.OutputPath != "/out/cube_packed.glb" {
		t.Fatalf("result = %+v", result)
	}
	if result.EndSize != 4 || result.DurationMS != 12.5 {
		t.Fatalf("result = %+v", result)
	}

	failure := FromWorker("job-1", events.Event{
		Type:  events.TypeErrorReport,
		Error: &events.ErrorInfo{Stage: "read", Message: "cannot read cube.glb"},
	})
	if failure.Type != EventTypeError || failure.Stage != "read" || failure.Message != "cannot read cube.glb" {
		t.Fatalf("failure = %+v", failure)
	}
}
