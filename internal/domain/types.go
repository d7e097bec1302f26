package domain

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Sampling defaults applied when the caller omits a parameter.
const (
	DefaultTemperature      = 0.7
	DefaultTopP             = 1.0
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0
)

// CompletionRequest is the inbound chat-completion request. Provider and
// sampling parameters are optional; ApplyDefaults fills them in.
type CompletionRequest struct {
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      *float64  `json:"temperature,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	Stop             []string  `json:"stop,omitempty"`
	Stream           bool      `json:"stream,omitempty"`

	// UserAgent is the User-Agent header from the incoming request,
	// forwarded upstream for traceability.
	UserAgent string `json:"-"`
}

// ApplyDefaults fills unset sampling parameters with their documented
// defaults. MaxTokens and Stop stay unset when omitted.
func (r *CompletionRequest) ApplyDefaults() {
	if r.Provider == "" {
		r.Provider = "openai"
	}
	if r.Temperature == nil {
		r.Temperature = f64(DefaultTemperature)
	}
	if r.TopP == nil {
		r.TopP = f64(DefaultTopP)
	}
	if r.FrequencyPenalty == nil {
		r.FrequencyPenalty = f64(DefaultFrequencyPenalty)
	}
	if r.PresencePenalty == nil {
		r.PresencePenalty = f64(DefaultPresencePenalty)
	}
}

func f64(v float64) *float64 { return &v }

// Usage represents token usage reported by the upstream provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// CompletionResponse is the normalized non-streaming completion response.
type CompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// StreamEvent is one element of a streaming completion. The channel carrying
// events MUST be closed by the producer when the upstream stream ends.
type StreamEvent struct {
	Role         string
	ContentDelta string
	FinishReason string
	Usage        *Usage
	Err          error
}
