// Package llms provides the chat-completions client used for answering,
// intent classification, query rewriting, and entity extraction.
package llms

import "context"

// Role labels one side of a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Options tune a single generation.
type Options struct {
	// Temperature overrides the configured default when non-nil.
	Temperature *float64
	// MaxTokens overrides the configured default when > 0.
	MaxTokens int
	// JSONMode asks the provider for a JSON object response.
	JSONMode bool
}

// StreamChunk is one unit of a streamed generation. A stream ends with
// exactly one "done" or one "error" chunk.
type StreamChunk struct {
	Type   string
	Text   string
	Tokens int
	Err    error
}

const (
	ChunkText  = "text"
	ChunkDone  = "done"
	ChunkError = "error"
)

// LLM generates completions. GenerateStreaming returns a channel the
// implementation closes after the terminal chunk; cancelling ctx abandons
// the stream.
type LLM interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, int, error)
	GenerateStreaming(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)
	ModelName() string
	Close() error
}
