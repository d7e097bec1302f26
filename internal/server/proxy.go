package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	openaiapi "github.com/metergate/metergate/internal/api/openai"
	"github.com/metergate/metergate/internal/domain"
)

// maxRelayBodyBytes caps buffered relay request bodies.
const maxRelayBodyBytes = 10 << 20

// requireAccessKey authenticates the api_key query parameter and consumes one
// use of the key. Unknown, inactive, expired, and exhausted keys are
// indistinguishable from the caller's side.
func (h *handlers) requireAccessKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("api_key")

		ok, err := h.keys.ValidateAndConsume(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if h.metrics != nil {
			h.metrics.RecordKeyValidation(ok)
		}
		if !ok {
			writeError(w, r, domain.ErrUnauthorized("invalid or expired API key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *handlers) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req domain.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	req.UserAgent = r.Header.Get("User-Agent")

	AddLogField(r.Context(), "model", req.Model)

	if req.Stream {
		h.streamCompletion(w, r, &req)
		return
	}

	resp, err := h.gateway.Dispatch(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// streamCompletion relays upstream stream events as OpenAI-style SSE chunks.
// Chunks go out in arrival order without buffering the full response.
func (h *handlers) streamCompletion(w http.ResponseWriter, r *http.Request, req *domain.CompletionRequest) {
	events, err := h.gateway.DispatchStream(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, domain.ErrServer("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	for event := range events {
		if event.Err != nil {
			// Headers are already sent; nothing useful can be written
			// except ending the stream.
			AddError(r.Context(), event.Err)
			break
		}

		chunk := openaiapi.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
		}

		if event.Usage != nil {
			chunk.Choices = []openaiapi.ChunkChoice{}
			chunk.Usage = &openaiapi.Usage{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		} else {
			choice := openaiapi.ChunkChoice{
				Delta: openaiapi.Delta{Role: event.Role, Content: event.ContentDelta},
			}
			if event.FinishReason != "" {
				reason := event.FinishReason
				choice.FinishReason = &reason
			}
			chunk.Choices = []openaiapi.ChunkChoice{choice}
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			AddError(r.Context(), err)
			break
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleRelay forwards any unmapped /v1 request verbatim to the upstream
// provider and relays the response unchanged, status and headers included.
func (h *handlers) handleRelay(w http.ResponseWriter, r *http.Request) {
	// Reading one byte past the cap distinguishes an oversize body from one
	// that is exactly at it.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBodyBytes+1))
	if err != nil {
		writeError(w, r, domain.ErrValidation("reading request body: %v", err))
		return
	}
	if len(body) > maxRelayBodyBytes {
		writeError(w, r, domain.ErrValidation("request body exceeds %d bytes", maxRelayBodyBytes))
		return
	}

	// The gateway's own authentication parameters never go upstream.
	query := r.URL.Query()
	provider := query.Get("provider")
	query.Del("api_key")
	query.Del("provider")

	// Only the remainder after the /v1 route prefix is forwarded; the relay
	// applies each family's own version prefix.
	relayReq := &domain.RelayRequest{
		Provider: provider,
		Method:   r.Method,
		Path:     chi.URLParam(r, "*"),
		Query:    query.Encode(),
		Header:   r.Header,
		Body:     body,
	}

	AddLogField(r.Context(), "relay_path", relayReq.Path)

	resp, err := h.gateway.Relay(r.Context(), relayReq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
