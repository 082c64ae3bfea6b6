// Package provider defines the two configured LLM backends and the
// OpenAI-compatible chat-completions call they share.
//
// Both backends speak the same wire format (model + messages + stream),
// so there is one client implementation. What differs between them (the
// persona wording, and whether a caller may pick the model) lives in the
// Variant attached to each Provider.
package provider

// ---------------------------------------------------------------------------
// Unified request types
// ---------------------------------------------------------------------------

// Message roles accepted by the chat-completions endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the chat-completion request body sent upstream.
// Stream is always false; it is still serialized because the upstream
// APIs expect the field.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`

	// RequestID is forwarded as X-Request-Id for correlating upstream logs.
	RequestID string `json:"-"`
}

// Message is a single message in the conversation.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // the message text
}

// ---------------------------------------------------------------------------
// Unified response types
// ---------------------------------------------------------------------------

// ChatResponse is the normalized result of a chat completion.
type ChatResponse struct {
	ID      string // unique response ID from the provider
	Model   string // the model that actually generated the response
	Content string // the first choice's message content
	Usage   Usage
}

// Usage holds token counts as reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
