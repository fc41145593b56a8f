package domain

import "time"

// Attachment is a file attached to an inbound message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

type InboundMessage struct {
	Channel        string // transport name: discord | telegram | cli
	ConversationID string
	AuthorID       string
	AuthorName     string
	Content        string
	Attachments    []Attachment
	Mentions       []string // user IDs mentioned in the message
	MessageID      string
	Timestamp      time.Time
}

type OutboundMessage struct {
	Channel        string
	ConversationID string
	Content        string
	// SkipMemory keeps the send out of short-term memory (owner command acks).
	SkipMemory bool
}
