// Package metrics counts what the agent does and serves it in the
// Prometheus text format. Engine events reach the counters through Attach.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry holds the agent's series and renders them in registration order.
type Registry struct {
	mu      sync.Mutex
	series  []series
	byKey   map[string]series
	started time.Time
}

// series is one labelled time series of a family.
type series interface {
	family() family
	write(sb *strings.Builder)
}

// family is the shared name, help text and type of a group of series.
type family struct {
	name string
	help string
	kind string
}

// NewRegistry returns a registry that reports its own uptime.
func NewRegistry() *Registry {
	r := &Registry{byKey: make(map[string]series), started: time.Now()}
	r.GaugeFunc("autopilot_uptime_seconds", "Seconds since the agent started", func() int64 {
		return int64(time.Since(r.started).Seconds())
	})
	return r
}

// Default is the registry served by Serve.
var Default = NewRegistry()

// labelSet renders key/value pairs as `k1="v1",k2="v2"`. A trailing key
// without a value is ignored.
func labelSet(pairs []string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", pairs[i], pairs[i+1]))
	}
	return strings.Join(parts, ",")
}

func seriesName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// register returns the series already stored under name and labels, or
// stores the one built by mk.
func (r *Registry) register(name, labels string, mk func() series) series {
	key := seriesName(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byKey[key]; ok {
		return s
	}
	s := mk()
	r.byKey[key] = s
	r.series = append(r.series, s)
	return s
}

// Counter only goes up.
type Counter struct {
	fam    family
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()           { c.value.Add(1) }
func (c *Counter) Add(n int64)    { c.value.Add(n) }
func (c *Counter) Value() int64   { return c.value.Load() }
func (c *Counter) family() family { return c.fam }

func (c *Counter) write(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s %d\n", seriesName(c.fam.name, c.labels), c.Value())
}

// Counter returns the counter for name and label pairs, creating it once.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	ls := labelSet(labels)
	return r.register(name, ls, func() series {
		return &Counter{fam: family{name, help, "counter"}, labels: ls}
	}).(*Counter)
}

// Gauge holds a value set by the agent.
type Gauge struct {
	fam    family
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)    { g.value.Store(v) }
func (g *Gauge) Value() int64   { return g.value.Load() }
func (g *Gauge) family() family { return g.fam }

func (g *Gauge) write(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s %d\n", seriesName(g.fam.name, g.labels), g.Value())
}

// Gauge returns the gauge for name and label pairs, creating it once.
func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	ls := labelSet(labels)
	return r.register(name, ls, func() series {
		return &Gauge{fam: family{name, help, "gauge"}, labels: ls}
	}).(*Gauge)
}

// gaugeFunc is sampled on every scrape.
type gaugeFunc struct {
	fam    family
	labels string
	fn     func() int64
}

func (g *gaugeFunc) family() family { return g.fam }

func (g *gaugeFunc) write(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s %d\n", seriesName(g.fam.name, g.labels), g.fn())
}

// GaugeFunc registers a gauge read from fn at scrape time. Registering the
// same series again keeps the first function.
func (r *Registry) GaugeFunc(name, help string, fn func() int64, labels ...string) {
	ls := labelSet(labels)
	r.register(name, ls, func() series {
		return &gaugeFunc{fam: family{name, help, "gauge"}, labels: ls, fn: fn}
	})
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	fam    family
	labels string

	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) family() family { return h.fam }

func (h *Histogram) write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	withLE := func(le string) string {
		if h.labels == "" {
			return fmt.Sprintf("le=%q", le)
		}
		return h.labels + fmt.Sprintf(",le=%q", le)
	}
	for i, b := range h.bounds {
		le := fmt.Sprintf("%g", b)
		if math.IsInf(b, 1) {
			le = "+Inf"
		}
		fmt.Fprintf(sb, "%s %d\n", seriesName(h.fam.name+"_bucket", withLE(le)), h.counts[i])
	}
	if len(h.bounds) == 0 || !math.IsInf(h.bounds[len(h.bounds)-1], 1) {
		fmt.Fprintf(sb, "%s %d\n", seriesName(h.fam.name+"_bucket", withLE("+Inf")), h.count)
	}
	fmt.Fprintf(sb, "%s %g\n", seriesName(h.fam.name+"_sum", h.labels), h.sum)
	fmt.Fprintf(sb, "%s %d\n", seriesName(h.fam.name+"_count", h.labels), h.count)
}

// Histogram returns the histogram for name and label pairs. Bounds are
// sorted; a +Inf bucket is always rendered.
func (r *Registry) Histogram(name, help string, bounds []float64, labels ...string) *Histogram {
	ls := labelSet(labels)
	return r.register(name, ls, func() series {
		b := append([]float64(nil), bounds...)
		sort.Float64s(b)
		return &Histogram{fam: family{name, help, "histogram"}, labels: ls, bounds: b, counts: make([]int64, len(b))}
	}).(*Histogram)
}

// ServeHTTP renders every series, with HELP and TYPE once per family.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	all := append([]series(nil), r.series...)
	r.mu.Unlock()

	var sb strings.Builder
	described := make(map[string]bool)
	for _, s := range all {
		fam := s.family()
		if !described[fam.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", fam.name, fam.help, fam.name, fam.kind)
			described[fam.name] = true
		}
		s.write(&sb)
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprint(w, sb.String())
}

var (
	MessagesReceived  = Default.Counter("autopilot_messages_received_total", "Inbound messages stored after filtering")
	DedupeHits        = Default.Counter("autopilot_dedupe_hits_total", "Inbound messages dropped as duplicates")
	FloodDropped      = Default.Counter("autopilot_flood_dropped_total", "Inbound messages dropped by the per-author limiter")
	OwnerCommands     = Default.Counter("autopilot_owner_commands_total", "Owner commands handled")
	RepliesSent       = Default.Counter("autopilot_replies_sent_total", "Replies delivered")
	MessagesSent      = Default.Counter("autopilot_messages_sent_total", "Outbound messages delivered, counting each line and chunk")
	FallbackReplies   = Default.Counter("autopilot_fallback_replies_total", "Replies replaced by the static fallback")
	RepliesSuppressed = Default.Counter("autopilot_replies_suppressed_total", "Replies suppressed by /noresponse")
	Searches          = Default.Counter("autopilot_searches_total", "Search directives executed")
	QueueDrops        = Default.Counter("autopilot_queue_drops_total", "Queued requests dropped as already answered")
	SummaryPasses     = Default.Counter("autopilot_summary_passes_total", "Completed summarization passes")
	DroppedSegments   = Default.Counter("autopilot_dropped_segments_total", "Summary segments dropped after a model failure")
	ProactiveTriggers = Default.Counter("autopilot_proactive_triggers_total", "Proactive check-ins started")
	QueueDepth        = Default.Gauge("autopilot_queue_depth", "Requests waiting in the reply queue")

	LLMLatency = Default.Histogram("autopilot_llm_latency_seconds", "Reply model latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)

// TrackMemory exposes the size of each memory tier, read from sizes on
// every scrape.
func TrackMemory(tiers []string, sizes func() map[string]int) {
	for _, tier := range tiers {
		Default.GaugeFunc("autopilot_memory_entries", "Entries held per memory tier", func() int64 {
			return int64(sizes()[tier])
		}, "tier", tier)
	}
}
