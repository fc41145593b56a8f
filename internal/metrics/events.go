package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"autopilot/internal/bus"
)

// Attach maps engine events onto the predefined counters.
func Attach(eb *bus.EventBus) {
	counters := map[string]*Counter{
		bus.EventMessageReceived:  MessagesReceived,
		bus.EventDedupeHit:        DedupeHits,
		bus.EventFloodDropped:     FloodDropped,
		bus.EventOwnerCommand:     OwnerCommands,
		bus.EventReplySent:        RepliesSent,
		bus.EventReplyFallback:    FallbackReplies,
		bus.EventReplySuppressed:  RepliesSuppressed,
		bus.EventQueueDropped:     QueueDrops,
		bus.EventPassCompleted:    SummaryPasses,
		bus.EventProactiveTrigger: ProactiveTriggers,
	}
	eb.On("*", func(e bus.Event) {
		if c, ok := counters[e.Type]; ok {
			c.Inc()
		}
		switch e.Type {
		case bus.EventReplySent:
			addCount(MessagesSent, e.Payload["messages"])
			addCount(Searches, e.Payload["searches"])
		case bus.EventSegmentDropped:
			addCount(DroppedSegments, e.Payload["count"])
		}
	})
}

func addCount(c *Counter, v any) {
	if n, ok := v.(int); ok && n > 0 {
		c.Add(int64(n))
	}
}

// Serve exposes the collector on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Default)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
