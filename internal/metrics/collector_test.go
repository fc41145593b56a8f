package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"autopilot/internal/bus"
)

func scrape(r *Registry) string {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestRegistry_RendersSeries(t *testing.T) {
	r := NewRegistry()
	r.Counter("test_total", "A test counter").Add(3)
	r.Gauge("test_depth", "A test gauge").Set(2)
	h := r.Histogram("test_seconds", "A test histogram", []float64{5, 1})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(7)

	body := scrape(r)
	for _, want := range []string{
		"# TYPE test_total counter",
		"test_total 3",
		"# TYPE test_depth gauge",
		"test_depth 2",
		`test_seconds_bucket{le="1"} 1`,
		`test_seconds_bucket{le="5"} 2`,
		`test_seconds_bucket{le="+Inf"} 3`,
		"test_seconds_sum 10.5",
		"test_seconds_count 3",
		"autopilot_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
	if strings.Index(body, "test_total") > strings.Index(body, "test_depth") {
		t.Error("series should render in registration order")
	}
}

func TestRegistry_LabelledFamilyDescribedOnce(t *testing.T) {
	r := NewRegistry()
	r.Counter("hits_total", "Hits", "tier", "short").Inc()
	r.Counter("hits_total", "Hits", "tier", "long").Add(2)

	body := scrape(r)
	if n := strings.Count(body, "# TYPE hits_total counter"); n != 1 {
		t.Errorf("expected one TYPE line, got %d:\n%s", n, body)
	}
	for _, want := range []string{`hits_total{tier="short"} 1`, `hits_total{tier="long"} 2`} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestRegistry_SeriesAreShared(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("same", "", "kind", "x")
	b := r.Counter("same", "", "kind", "x")
	a.Inc()
	if b.Value() != 1 {
		t.Errorf("expected the same counter instance, got %d", b.Value())
	}
}

func TestRegistry_GaugeFuncSampledOnScrape(t *testing.T) {
	r := NewRegistry()
	n := int64(1)
	r.GaugeFunc("sampled", "Sampled value", func() int64 { return n }, "tier", "short")
	if body := scrape(r); !strings.Contains(body, `sampled{tier="short"} 1`) {
		t.Fatalf("unexpected output:\n%s", body)
	}
	n = 4
	if body := scrape(r); !strings.Contains(body, `sampled{tier="short"} 4`) {
		t.Fatalf("gauge should be read at scrape time:\n%s", body)
	}
}

func TestTrackMemory(t *testing.T) {
	sizes := map[string]int{"short": 3, "long": 1}
	TrackMemory([]string{"short", "long"}, func() map[string]int { return sizes })

	body := scrape(Default)
	for _, want := range []string{`autopilot_memory_entries{tier="short"} 3`, `autopilot_memory_entries{tier="long"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestAttach_CountsEvents(t *testing.T) {
	eb := bus.NewEventBus(nil)
	Attach(eb)

	replies := RepliesSent.Value()
	sent := MessagesSent.Value()
	searches := Searches.Value()
	dropped := DroppedSegments.Value()
	owner := OwnerCommands.Value()

	eb.Emit(bus.Event{Type: bus.EventReplySent, Payload: map[string]any{"messages": 3, "searches": 1}})
	eb.Emit(bus.Event{Type: bus.EventSegmentDropped, Payload: map[string]any{"count": 2}})
	eb.Emit(bus.Event{Type: bus.EventOwnerCommand})
	eb.Emit(bus.Event{Type: "unrelated"})

	if got := RepliesSent.Value() - replies; got != 1 {
		t.Errorf("expected 1 reply counted, got %d", got)
	}
	if got := MessagesSent.Value() - sent; got != 3 {
		t.Errorf("expected 3 messages counted, got %d", got)
	}
	if got := Searches.Value() - searches; got != 1 {
		t.Errorf("expected 1 search counted, got %d", got)
	}
	if got := DroppedSegments.Value() - dropped; got != 2 {
		t.Errorf("expected 2 dropped segments, got %d", got)
	}
	if got := OwnerCommands.Value() - owner; got != 1 {
		t.Errorf("expected 1 owner command, got %d", got)
	}
}
