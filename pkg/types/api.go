package types

import "github.com/google/uuid"

// SendRequest triggers a generation turn in a conversation.
type SendRequest struct {
	// User input. Whitespace-only text is a no-op.
	// example: Write a haiku about the ocean.
	Text string `json:"text" validate:"required" example:"Write a haiku about the ocean."`
}

// CreateConversationRequest creates a new conversation.
type CreateConversationRequest struct {
	// Optional title; a placeholder is used when empty and replaced by the
	// first user message.
	Title string `json:"title,omitempty" example:"New Chat"`
	// Optional model to bind at creation time.
	ModelID *uuid.UUID `json:"model_id,omitempty"`
}

// RenameConversationRequest renames an existing conversation.
type RenameConversationRequest struct {
	Title string `json:"title" validate:"required" example:"Plan a road trip"`
}

// SelectModelRequest binds a model to a conversation. A null model_id
// clears the binding.
type SelectModelRequest struct {
	ModelID *uuid.UUID `json:"model_id"`
}

// EditMessageRequest replaces a message's text. Later messages in the same
// conversation are marked outdated.
type EditMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelFile `json:"models"`
}

// ConversationsResponse wraps the conversation list.
type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// MessagesResponse wraps the ordered message history of one conversation.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// SessionStatus reports the generation state of one conversation.
type SessionStatus struct {
	// Current session state (idle, sending, streaming, finalizing).
	// example: streaming
	State string `json:"state" example:"streaming"`
	// Last generation error for this conversation, if any.
	LastError string `json:"last_error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: conversation not found
	Error string `json:"error" example:"conversation not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
