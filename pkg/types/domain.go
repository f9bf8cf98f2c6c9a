package types

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a message. It is fixed at creation time.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// ModelFile describes an importable GGUF model on disk.
type ModelFile struct {
	// Stable identifier for the model.
	ID uuid.UUID `json:"id"`
	// Human-friendly name derived from the filename.
	// example: TinyLlama.Q4_K_M
	DisplayName string `json:"display_name" example:"TinyLlama.Q4_K_M"`
	// Handle sufficient to reopen the file; resolved to a readable path at load time.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// File size in bytes.
	// example: 668788096
	SizeBytes int64 `json:"size_bytes" example:"668788096"`
	// Time the model was first imported.
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a titled, ordered sequence of messages bound to at most one model.
// UpdatedAt never precedes CreatedAt and advances on any message mutation.
type Conversation struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title" example:"Plan a road trip"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ModelID   *uuid.UUID `json:"model_id,omitempty"`
}

// Message is a single entry in a conversation. Messages are owned by exactly
// one conversation and ordered by Position, a gap-free 0-based index.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	Role           Role       `json:"role" example:"user"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	// Outdated marks a message invalidated by an earlier edit. It stays
	// addressable until explicitly deleted.
	Outdated bool `json:"outdated"`
	Position int  `json:"position"`
}

// GenerationConfig controls a single generation stream.
type GenerationConfig struct {
	// Hard cap on emitted tokens.
	// example: 512
	MaxTokens int `json:"max_tokens" example:"512"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p" example:"0.9"`
	// Generation stops, without error, when trailing output matches any sequence.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// DefaultGenerationConfig returns the stock sampling configuration.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{MaxTokens: 512, Temperature: 0.7, TopP: 0.9}
}
