package openai

import (
	"context"
	"os"
	"testing"

	"github.com/metergate/metergate/internal/testutil"
)

// Runs against a recorded cassette; re-record with VCR_MODE=record and a real
// OPENAI_API_KEY.
func TestCreateChatCompletionRecorded(t *testing.T) {
	testutil.RequireCassette(t, "chat_completion")

	r, cleanup := testutil.NewVCRRecorder(t, "chat_completion")
	defer cleanup()

	client := NewClient(os.Getenv("OPENAI_API_KEY"), WithHTTPClient(testutil.VCRHTTPClient(r)))

	resp, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatCompletionMessage{{Role: "user", Content: "Say hello in one word."}},
	}, nil)
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		t.Errorf("empty completion: %+v", resp)
	}
}
