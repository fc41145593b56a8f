package domain

import "context"

// Channel is the interface for a chat transport (Discord, Telegram, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, conversationID string, content string) error
}

// Sender delivers a message to a conversation and notifies outbound
// observers once the transport accepted it.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// Identity is implemented by channels that know the account they run as.
type Identity interface {
	Self() (id, name string)
}

// Typer is implemented by channels that can show a typing indicator.
type Typer interface {
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
}

// ContextLookup is implemented by channels that can describe the operator's
// presence and classify a conversation.
type ContextLookup interface {
	Presence(ctx context.Context) string
	ChannelType(ctx context.Context, conversationID string) ChannelType
}

type ChannelType int

const (
	ChannelUnknown ChannelType = iota
	ChannelDM
	ChannelGroupDM
	ChannelServerText
)

// Describe returns the sentence placed in the reply preamble.
func (t ChannelType) Describe() string {
	switch t {
	case ChannelDM:
		return "This is a direct message (DM)."
	case ChannelGroupDM:
		return "This is a group DM."
	case ChannelServerText:
		return "This is a text channel in a server."
	default:
		return "Channel type unknown."
	}
}

// NoPresence is reported when the transport has no activity data.
const NoPresence = "streaming nothing, playing nothing, and listening to nothing"
