// Package llm defines the OpenAI-style chat completion wire types the proxy
// interprets. Only the fields the proxy needs are parsed; the original body
// is always forwarded upstream untouched so that passthrough fields survive.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Roles the proxy recognizes in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var validRoles = map[string]struct{}{
	RoleSystem:    {},
	RoleUser:      {},
	RoleAssistant: {},
}

// Message is a single conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the parsed view of an inbound chat completion request.
// RawBody preserves the exact bytes received from the client, including any
// fields the proxy does not interpret.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`

	RawBody json.RawMessage `json:"-"`
}

// ParseChatRequest decodes a chat completion request body. A JSON decode
// failure is returned as-is; field-level validation is left to Validate so
// callers can distinguish the two if they care.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding chat request: %w", err)
	}
	req.RawBody = body
	return &req, nil
}

// Validate checks the fields the proxy requires before forwarding.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, msg := range r.Messages {
		if _, ok := validRoles[msg.Role]; !ok {
			return fmt.Errorf("messages[%d]: unknown role %q", i, msg.Role)
		}
	}
	return nil
}
