package jobs

import "testing"

// TestEventBusSince verifies incremental event reads by sequence.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventTypeStatus, Message: "1"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "2"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "3"})

	events := bus.Since(1)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", events)
	}
}

// TestEventBusCapsHistory verifies buffer limit trimming behavior.
func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "2" || events[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestEventBusSinceJobFiltersByID verifies per-job incremental reads.
func TestEventBusSinceJobFiltersByID(t *testing.T) {
	bus := NewEventBus(10)
	bus.Publish(Event{JobID: "a", Type: EventTypeLog, Line: "a line"})
	bus.Publish(Event{JobID: "b", Type: EventTypeLog, Line: "b line"})
	bus.Publish(Event{JobID: "a", Type: EventTypeStatus, Message: "a status"})

	events := bus.SinceJob("a", 0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	for _, event := range events {
		if event.JobID != "a" {
			t.Fatalf("unexpected job id: %+v", event)
		}
	}

	tail := bus.SinceJob("a", events[0].Seq)
	if len(tail) != 1 || tail[0].Message != "a status" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}
