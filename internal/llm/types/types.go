package types

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`    // user, assistant, system
	Content string `json:"content"` // message text
}

// Roles used in messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options tunes a single completion.
type Options struct {
	MaxTokens   int     // 0 selects the provider default
	Temperature float64 // sampling temperature
	JSON        bool    // ask the provider for a JSON object response when supported
}

// SplitSystem separates the system prompt from the conversation. Several
// system messages are joined with blank lines.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	filtered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		filtered = append(filtered, m)
	}
	return system, filtered
}
