// Package domain contains core domain types for the assistant relay.
package domain

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message submitted by the visitor.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the remote assistant.
	RoleAssistant Role = "assistant"
)

// Message is one chat message as returned to clients, in chronological order.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
