package groupchat

// DefaultContextWindow is used for models missing from LLMMaxTokens.
const DefaultContextWindow = 8192

// LLMMaxTokens maps model names to their context window in tokens.
var LLMMaxTokens = map[string]int{
	"DEFAULT": DefaultContextWindow,

	"gpt-4":              8192,
	"gpt-4-32k":          32768,
	"gpt-4-1106-preview": 128000,
	"gpt-4-0613":         8192,
	"gpt-4-32k-0613":     32768,
	"gpt-4-0314":         8192,
	"gpt-4-32k-0314":     32768,

	"gpt-3.5-turbo":          4096,
	"gpt-3.5-turbo-1106":     16385,
	"gpt-3.5-turbo-16k":      16385,
	"gpt-3.5-turbo-0613":     4096,
	"gpt-3.5-turbo-16k-0613": 16385,
	"gpt-3.5-turbo-0301":     4096,
}

// ContextWindowFor returns the context window for model, falling back to the
// "DEFAULT" entry.
func ContextWindowFor(model string) int {
	if n, ok := LLMMaxTokens[model]; ok {
		return n
	}
	return LLMMaxTokens["DEFAULT"]
}
