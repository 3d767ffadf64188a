package llm

import (
	"context"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call. Temperature doubles as
// the determinism knob the cache eligibility policy keys on.
type CompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// CompletionResponse is the provider's answer to a CompletionRequest.
type CompletionResponse struct {
	ID           string    `json:"id,omitempty"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        Usage     `json:"usage,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// StreamChunk is one increment of a streamed completion. The final chunk
// carries the finish reason; a failed stream carries Err.
type StreamChunk struct {
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
	Err          error  `json:"-"`
}

// HealthStatus reports provider liveness.
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	ErrorRate float64           `json:"error_rate"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Provider is the call-provider contract. The execution core never
// implements a provider itself; it only consumes this interface.
type Provider interface {
	// Name identifies the provider, used to namespace cache keys.
	Name() string

	// Complete performs one completion call.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream performs a streaming completion. The returned channel is
	// closed after the final chunk.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)

	// CheckHealth reports whether the provider is reachable and responsive.
	CheckHealth(ctx context.Context) (*HealthStatus, error)
}
