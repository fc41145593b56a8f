package domain

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EntryKind distinguishes raw messages from derived entries.
type EntryKind string

const (
	KindMessage       EntryKind = "message"
	KindImage         EntryKind = "image"
	KindMediumSummary EntryKind = "medium_summary"
	KindLongSummary   EntryKind = "long_summary"
	KindGlobal        EntryKind = "global"
	KindPersonality   EntryKind = "personality"
	KindImportant     EntryKind = "important"
)

// MemoryEntry is the unit stored in every memory tier.
type MemoryEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AuthorID       string    `json:"author_id,omitempty"`
	AuthorName     string    `json:"author_name,omitempty"`
	Role           Role      `json:"role,omitempty"`
	Kind           EntryKind `json:"kind,omitempty"`
	Content        string    `json:"content"`
	ImageURL       string    `json:"image_url,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            uint64    `json:"seq"`
	Ephemeral      bool      `json:"ephemeral,omitempty"`
	Embedding      []float64 `json:"embedding,omitempty"`
	GroupID        string    `json:"group_id,omitempty"`
	SegmentNumber  int       `json:"segment_number,omitempty"`
}

// HasEmbedding reports whether the entry carries a usable vector.
func (e MemoryEntry) HasEmbedding() bool { return len(e.Embedding) > 0 }

// SnapshotStore persists whole snapshots keyed by name.
type SnapshotStore interface {
	Load(ctx context.Context, key string, v any) (bool, error)
	Save(ctx context.Context, key string, v any) error
	Close() error
}
