package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"autopilot/internal/domain"
)

// Router fronts every started channel. It learns which transport owns a
// conversation from inbound traffic, sends through that transport and then
// reports the send on the bus so observers can record it.
type Router struct {
	bus      domain.MessageBus
	logger   *slog.Logger
	channels map[string]domain.Channel
	order    []string

	mu     sync.RWMutex
	routes map[string]string // conversation -> channel name
}

// NewRouter wraps bus. Channels must be registered before they start.
func NewRouter(bus domain.MessageBus, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		bus:      bus,
		logger:   logger,
		channels: make(map[string]domain.Channel),
		routes:   make(map[string]string),
	}
}

// Register adds a channel. The first registered channel is the default
// route for conversations never seen inbound.
func (r *Router) Register(ch domain.Channel) {
	if _, ok := r.channels[ch.Name()]; !ok {
		r.order = append(r.order, ch.Name())
	}
	r.channels[ch.Name()] = ch
}

// Channels returns the registered channels in registration order.
func (r *Router) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.channels[name])
	}
	return out
}

// Route pins a conversation to a channel.
func (r *Router) Route(conversationID, channel string) {
	r.mu.Lock()
	r.routes[conversationID] = channel
	r.mu.Unlock()
}

// Bus returns the bus handed to channels; publishing through it records
// the route.
func (r *Router) Bus() domain.MessageBus { return &routingBus{MessageBus: r.bus, router: r} }

func (r *Router) lookup(conversationID string) (domain.Channel, bool) {
	r.mu.RLock()
	name, ok := r.routes[conversationID]
	r.mu.RUnlock()
	if ok {
		ch, found := r.channels[name]
		return ch, found
	}
	if len(r.order) == 0 {
		return nil, false
	}
	return r.channels[r.order[0]], true
}

// Send implements domain.Sender.
func (r *Router) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.channelFor(msg)
	if !ok {
		return fmt.Errorf("no channel for conversation %s", msg.ConversationID)
	}
	if err := ch.Send(ctx, msg.ConversationID, msg.Content); err != nil {
		return fmt.Errorf("%s: %w", ch.Name(), err)
	}
	msg.Channel = ch.Name()
	r.bus.SendOutbound(msg)
	return nil
}

func (r *Router) channelFor(msg domain.OutboundMessage) (domain.Channel, bool) {
	if msg.Channel != "" {
		ch, ok := r.channels[msg.Channel]
		return ch, ok
	}
	return r.lookup(msg.ConversationID)
}

// StartTyping implements domain.Typer for channels that support it.
func (r *Router) StartTyping(ctx context.Context, conversationID string) error {
	if t, ok := r.typer(conversationID); ok {
		return t.StartTyping(ctx, conversationID)
	}
	return nil
}

func (r *Router) StopTyping(ctx context.Context, conversationID string) error {
	if t, ok := r.typer(conversationID); ok {
		return t.StopTyping(ctx, conversationID)
	}
	return nil
}

func (r *Router) typer(conversationID string) (domain.Typer, bool) {
	ch, ok := r.lookup(conversationID)
	if !ok {
		return nil, false
	}
	t, ok := ch.(domain.Typer)
	return t, ok
}

// ChannelType implements domain.ContextLookup.
func (r *Router) ChannelType(ctx context.Context, conversationID string) domain.ChannelType {
	ch, ok := r.lookup(conversationID)
	if !ok {
		return domain.ChannelUnknown
	}
	if l, ok := ch.(domain.ContextLookup); ok {
		return l.ChannelType(ctx, conversationID)
	}
	return domain.ChannelUnknown
}

// Presence reports the first non-empty presence among the channels.
func (r *Router) Presence(ctx context.Context) string {
	for _, name := range r.order {
		if l, ok := r.channels[name].(domain.ContextLookup); ok {
			if p := l.Presence(ctx); p != "" {
				return p
			}
		}
	}
	return ""
}

// routingBus records the owning channel of each published conversation.
type routingBus struct {
	domain.MessageBus
	router *Router
}

func (b *routingBus) Publish(msg domain.InboundMessage) {
	if msg.Channel != "" && msg.ConversationID != "" {
		b.router.Route(msg.ConversationID, msg.Channel)
	}
	b.MessageBus.Publish(msg)
}
