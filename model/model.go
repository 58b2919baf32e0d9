// Package model defines the minimal LLM abstraction used by the
// orchestrator for intent classification and planning.
package model

import (
	"context"
)

// Role is the author role of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Request is a content generation request.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is the generated content.
type Response struct {
	Content string
}

// Info describes a model implementation.
type Info struct {
	Name string
}

// Model generates content from chat messages. Every call is an
// external-I/O boundary: implementations bound retries and time out
// rather than block the turn.
type Model interface {
	Info() Info
	GenerateContent(ctx context.Context, req *Request) (*Response, error)
}
