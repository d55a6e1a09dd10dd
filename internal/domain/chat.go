package domain

// ChatMessage is the provider-agnostic chat message shape passed to LLM
// integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
