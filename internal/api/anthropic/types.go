// Package anthropic provides types and an HTTP client for the Anthropic
// Messages API.
package anthropic

import "encoding/json"

// Message is a single message in the conversation. Content is a plain
// string; the Messages API accepts that form directly.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesRequest is the request body for POST /v1/messages.
type MessagesRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	System        string    `json:"system,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

// ContentPart is one block of response content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessagesResponse is the non-streaming response body.
type MessagesResponse struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Role       string        `json:"role"`
	Model      string        `json:"model"`
	Content    []ContentPart `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      Usage         `json:"usage"`
}

// Text returns the concatenated text content of the response.
func (r *MessagesResponse) Text() string {
	var out string
	for _, part := range r.Content {
		if part.Type == "text" || part.Type == "" {
			out += part.Text
		}
	}
	return out
}

// Usage reports token consumption in Anthropic's input/output terms.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is one parsed SSE event of a streaming response.
type StreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message *struct {
		Role  string `json:"role"`
		Usage Usage  `json:"usage"`
	} `json:"message,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// ErrorResponse is the error envelope returned on non-2xx statuses.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseErrorMessage extracts the upstream error message from a non-2xx body.
func ParseErrorMessage(body []byte) string {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error.Message
}
