package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got []Event
	eb.On(EventReplySent, func(e Event) { got = append(got, e) })

	eb.Emit(Event{Type: EventReplySent, ConversationID: "C1", Payload: map[string]any{"lines": 2}})
	eb.Emit(Event{Type: EventDedupeHit, ConversationID: "C1"})

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ConversationID != "C1" || got[0].Payload["lines"] != 2 {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestEventBus_WildcardAfterSpecific(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var order []string
	eb.On("*", func(e Event) { order = append(order, "wild:"+e.Type) })
	eb.On("a", func(e Event) { order = append(order, "a") })

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})

	want := []string{"a", "wild:a", "wild:b"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	count := 0
	id := eb.On("test.event", func(e Event) { count++ })
	other := 0
	eb.On("test.event", func(e Event) { other++ })

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if count != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
	if other != 2 {
		t.Errorf("remaining handler should still fire, got %d", other)
	}
}

func TestEventBus_HandlerIDsUnique(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	a := eb.On("x", func(Event) {})
	eb.Off("x", a)
	b := eb.On("x", func(Event) {})
	if a == b {
		t.Errorf("expected fresh handler IDs, both were %q", a)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: EventPassCompleted, Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: EventPassCompleted})
	eb.Emit(Event{Type: EventReplySent})

	if n := len(eb.Replay(EventPassCompleted, time.Time{})); n != 2 {
		t.Errorf("expected 2 pass events, got %d", n)
	}
	if n := len(eb.Replay("*", threshold)); n != 2 {
		t.Errorf("expected 2 events since threshold, got %d", n)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "test"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	reached := false
	eb.On("panic", func(e Event) { panic("test panic") })
	eb.On("panic", func(e Event) { reached = true })

	eb.Emit(Event{Type: "panic"})
	if !reached {
		t.Error("handlers after a panicking one should still run")
	}
}

func TestEventBus_NilSafe(t *testing.T) {
	var eb *EventBus
	eb.Emit(Event{Type: "ignored"})
}
