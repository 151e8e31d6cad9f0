// Package model holds the entity types shared by the local store, the remote
// store and the sync engine. Every syncable entity carries two identities: a
// local id assigned by the SQLite store on insert, and a remote id (UUID)
// assigned by Postgres once the record has been pushed.
package model

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Attachment types.
const (
	AttachmentImage    = "image"
	AttachmentPDF      = "pdf"
	AttachmentDocument = "document"
)

// DefaultChatTitle is used until the first exchange completes.
const DefaultChatTitle = "New Chat"

// ChatSettings holds per-chat generation parameters.
type ChatSettings struct {
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// User represents a user.
type User struct {
	ID int64
	// RemoteID is set once an authenticated session links it.
	RemoteID          string
	Email             string
	Name              string
	AvatarURL         string
	CreationTimestamp int64
}

// Chat represents a chat.
type Chat struct {
	ID                int64
	RemoteID          string
	UserID            int64
	Title             string
	Model             string
	Settings          ChatSettings
	IsShared          bool
	ShareID           string
	CreationTimestamp int64
	UpdateTimestamp   int64
	// Synced is false whenever the local copy has changes the remote store
	// has not seen. An unsynced freshly-created chat has no RemoteID yet.
	Synced bool
}

// Message represents a single message within a chat.
type Message struct {
	ID       int64
	RemoteID string
	// ChatID is the local id of the owning chat.
	ChatID  int64
	Content string
	// Role is immutable after creation.
	Role        string
	Model       string
	Tokens      int
	Cost        float64
	Attachments []*Attachment
	ParentID    int64
	BranchID    int64
	// Error marks an assistant message persisted after a provider failure.
	Error             bool
	Streaming         bool
	CreationTimestamp int64
	Synced            bool
}

// Attachment belongs to a message and is deleted with it.
type Attachment struct {
	ID            int64
	RemoteID      string
	MessageID     int64
	Filename      string
	URL           string
	Type          string
	Size          int64
	ExtractedText string
	Analysis      string
}

// Branch represents an alternative conversation path forked off a message.
type Branch struct {
	ID                int64
	ChatID            int64
	ParentMessageID   int64
	Title             string
	CreationTimestamp int64
}
