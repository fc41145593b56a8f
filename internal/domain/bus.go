package domain

// MessageBus routes inbound messages to the engine and fans completed sends
// out to observers.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(name string, handler func(OutboundMessage))
	Close()
}
