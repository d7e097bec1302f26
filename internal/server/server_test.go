package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	openaiapi "github.com/metergate/metergate/internal/api/openai"
	"github.com/metergate/metergate/internal/apikey"
	"github.com/metergate/metergate/internal/gateway"
	"github.com/metergate/metergate/internal/identity"
	"github.com/metergate/metergate/internal/metrics"
	"github.com/metergate/metergate/internal/provider"
	"github.com/metergate/metergate/internal/router"
	"github.com/metergate/metergate/internal/session"
	"github.com/metergate/metergate/internal/storage/memory"
)

type testEnv struct {
	srv      *httptest.Server
	upstream *httptest.Server
}

// newTestEnv wires the full HTTP surface over a memory store, with every
// provider family pointed at the given upstream handler.
func newTestEnv(t *testing.T, upstreamHandler http.HandlerFunc) *testEnv {
	t.Helper()

	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	registry := provider.NewRegistry([]provider.Family{
		{Name: "openai", Wire: provider.WireOpenAI, BaseURL: upstream.URL, CredentialEnv: "TEST_UPSTREAM_KEY"},
		{Name: "anthropic", Wire: provider.WireAnthropic, BaseURL: upstream.URL, CredentialEnv: "TEST_UPSTREAM_KEY"},
	},
		provider.WithHTTPClient(upstream.Client()),
		provider.WithLookupEnv(func(name string) string {
			if name == "TEST_UPSTREAM_KEY" {
				return "sk-upstream"
			}
			return ""
		}),
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()

	sessions, err := session.NewIssuer("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	gw := gateway.New(
		router.New(nil),
		registry,
		provider.NewRelay(registry, upstream.Client()),
		logger,
		gateway.WithUpstreamTimeout(5*time.Second),
	)

	s := New(0, logger, Deps{
		Identity: identity.NewService(store),
		Sessions: sessions,
		Keys:     apikey.NewRegistry(store),
		Gateway:  gw,
		Metrics:  metrics.NewCollector(),
	})

	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, upstream: upstream}
}

func (e *testEnv) signup(t *testing.T, username, password string) *http.Response {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"email":"%s@example.com","password":%q}`, username, username, password)
	resp, err := http.Post(e.srv.URL+"/signup", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	return resp
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	resp, err := http.PostForm(e.srv.URL+"/token", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if body.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", body.TokenType)
	}
	return body.AccessToken
}

func (e *testEnv) authedDo(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) createKey(t *testing.T, token, query string) string {
	t.Helper()
	resp := e.authedDo(t, http.MethodPost, "/api-keys"+query, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("create key status = %d, body %s", resp.StatusCode, body)
	}
	var view struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode key: %v", err)
	}
	return view.Key
}

func completionUpstream(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-upstream" {
			t.Errorf("upstream Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(openaiapi.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4",
			Choices: []openaiapi.Choice{{
				Message:      openaiapi.ChatCompletionMessage{Role: "assistant", Content: "hello"},
				FinishReason: "stop",
			}},
		})
	}
}

func TestSignupLoginMe(t *testing.T) {
	env := newTestEnv(t, completionUpstream(t))

	resp := env.signup(t, "alice", "pw123")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	var created struct {
		Username string `json:"username"`
		Disabled bool   `json:"disabled"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.Username != "alice" || created.Disabled {
		t.Errorf("created = %+v", created)
	}

	// Duplicate username is a validation failure.
	dup := env.signup(t, "alice", "other")
	if dup.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate signup status = %d, want 400", dup.StatusCode)
	}
	dup.Body.Close()

	// Wrong password is rejected with a uniform message.
	form := url.Values{"username": {"alice"}, "password": {"wrong"}}
	bad, err := http.PostForm(env.srv.URL+"/token", form)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if bad.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", bad.StatusCode)
	}
	bad.Body.Close()

	token := env.login(t, "alice", "pw123")

	me := env.authedDo(t, http.MethodGet, "/users/me", token)
	defer me.Body.Close()
	if me.StatusCode != http.StatusOK {
		t.Fatalf("/users/me status = %d", me.StatusCode)
	}
	var meBody struct {
		Username string `json:"username"`
	}
	json.NewDecoder(me.Body).Decode(&meBody)
	if meBody.Username != "alice" {
		t.Errorf("/users/me username = %q", meBody.Username)
	}

	// No token and a garbage token both fail closed.
	anon, _ := http.Get(env.srv.URL + "/users/me")
	if anon.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous /users/me status = %d, want 401", anon.StatusCode)
	}
	anon.Body.Close()

	forged := env.authedDo(t, http.MethodGet, "/users/me", "not.a.token")
	if forged.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged /users/me status = %d, want 401", forged.StatusCode)
	}
	forged.Body.Close()
}

func TestKeyLifecycle(t *testing.T) {
	env := newTestEnv(t, completionUpstream(t))

	env.signup(t, "alice", "pw").Body.Close()
	env.signup(t, "bob", "pw").Body.Close()
	alice := env.login(t, "alice", "pw")
	bob := env.login(t, "bob", "pw")

	key := env.createKey(t, alice, "?days_valid=7&max_usage=10")

	list := env.authedDo(t, http.MethodGet, "/api-keys", alice)
	var keys []struct {
		Key      string `json:"key"`
		IsActive bool   `json:"is_active"`
		MaxUsage *int   `json:"max_usage"`
	}
	json.NewDecoder(list.Body).Decode(&keys)
	list.Body.Close()
	if len(keys) != 1 || keys[0].Key != key || !keys[0].IsActive {
		t.Fatalf("list = %+v", keys)
	}
	if keys[0].MaxUsage == nil || *keys[0].MaxUsage != 10 {
		t.Errorf("max_usage = %v, want 10", keys[0].MaxUsage)
	}

	// Another user cannot revoke it.
	foreign := env.authedDo(t, http.MethodDelete, "/api-keys/"+key, bob)
	if foreign.StatusCode != http.StatusForbidden {
		t.Errorf("foreign revoke status = %d, want 403", foreign.StatusCode)
	}
	foreign.Body.Close()

	revoke := env.authedDo(t, http.MethodDelete, "/api-keys/"+key, alice)
	if revoke.StatusCode != http.StatusOK {
		t.Errorf("revoke status = %d, want 200", revoke.StatusCode)
	}
	revoke.Body.Close()

	// Revoked keys vanish from the registry's view.
	again := env.authedDo(t, http.MethodDelete, "/api-keys/"+key, alice)
	if again.StatusCode != http.StatusNotFound {
		t.Errorf("double revoke status = %d, want 404", again.StatusCode)
	}
	again.Body.Close()

	empty := env.authedDo(t, http.MethodGet, "/api-keys", alice)
	keys = nil
	json.NewDecoder(empty.Body).Decode(&keys)
	empty.Body.Close()
	if len(keys) != 0 {
		t.Errorf("list after revoke = %+v, want empty", keys)
	}
}

func TestCreateKeyValidation(t *testing.T) {
	env := newTestEnv(t, completionUpstream(t))
	env.signup(t, "alice", "pw").Body.Close()
	alice := env.login(t, "alice", "pw")

	for _, query := range []string{"?days_valid=0", "?days_valid=31", "?days_valid=abc", "?max_usage=-1"} {
		resp := env.authedDo(t, http.MethodPost, "/api-keys"+query, alice)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("create key %s status = %d, want 400", query, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// max_usage=0 means unlimited, same as omitting it.
	resp := env.authedDo(t, http.MethodPost, "/api-keys?max_usage=0", alice)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key max_usage=0 status = %d", resp.StatusCode)
	}
	var view struct {
		MaxUsage *int `json:"max_usage"`
	}
	json.NewDecoder(resp.Body).Decode(&view)
	if view.MaxUsage != nil {
		t.Errorf("max_usage = %v, want null", view.MaxUsage)
	}
}

func TestCompletionMetering(t *testing.T) {
	env := newTestEnv(t, completionUpstream(t))
	env.signup(t, "alice", "pw").Body.Close()
	alice := env.login(t, "alice", "pw")
	key := env.createKey(t, alice, "?max_usage=1")

	complete := func(apiKey string) *http.Response {
		body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
		resp, err := http.Post(env.srv.URL+"/v1/chat/completions?api_key="+apiKey, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("completion: %v", err)
		}
		return resp
	}

	first := complete(key)
	if first.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(first.Body)
		t.Fatalf("first completion status = %d, body %s", first.StatusCode, raw)
	}
	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	json.NewDecoder(first.Body).Decode(&completion)
	first.Body.Close()
	if len(completion.Choices) != 1 || completion.Choices[0].Message.Content != "hello" {
		t.Errorf("completion = %+v", completion)
	}

	// Quota of one is spent; exhaustion looks exactly like a bad key.
	second := complete(key)
	if second.StatusCode != http.StatusUnauthorized {
		t.Errorf("second completion status = %d, want 401", second.StatusCode)
	}
	second.Body.Close()

	missing := complete("")
	if missing.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", missing.StatusCode)
	}
	missing.Body.Close()

	unknown := complete("mg_bogus")
	if unknown.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown key status = %d, want 401", unknown.StatusCode)
	}
	unknown.Body.Close()
}

func TestCompletionStreaming(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"str\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"eam\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	env.signup(t, "alice", "pw").Body.Close()
	alice := env.login(t, "alice", "pw")
	key := env.createKey(t, alice, "")

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"stream":true}`
	resp, err := http.Post(env.srv.URL+"/v1/chat/completions?api_key="+key, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	out := string(raw)

	var content string
	for _, line := range strings.Split(out, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[DONE]" {
			continue
		}
		var chunk openaiapi.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("chunk object = %q", chunk.Object)
		}
		if len(chunk.Choices) > 0 {
			content += chunk.Choices[0].Delta.Content
		}
	}

	if content != "stream" {
		t.Errorf("streamed content = %q, want stream", content)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "data: [DONE]") {
		t.Errorf("stream missing [DONE] terminator: %q", out)
	}
}

func TestRelayPassthrough(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-upstream" {
			t.Errorf("upstream Authorization = %q", got)
		}
		if r.URL.Query().Get("api_key") != "" {
			t.Error("api_key leaked upstream")
		}
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down"}}`)
	})
	env.signup(t, "alice", "pw").Body.Close()
	alice := env.login(t, "alice", "pw")
	key := env.createKey(t, alice, "")

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/models?api_key="+key, nil)
	req.Header.Set("Authorization", "Bearer mg_caller_secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("relay request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("relay status = %d, want upstream 429 passed through", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != `{"error":{"message":"slow down"}}` {
		t.Errorf("relay body = %q", raw)
	}
}

func TestRelayOversizeBodyRejected(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversize body must not reach the upstream")
	})
	env.signup(t, "alice", "pw").Body.Close()
	alice := env.login(t, "alice", "pw")
	key := env.createKey(t, alice, "")

	body := bytes.Repeat([]byte("a"), 10<<20+1)
	resp, err := http.Post(env.srv.URL+"/v1/embeddings?api_key="+key, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("relay request: %v", err)
	}
	defer resp.Body.Close()

	// Rejected outright, not silently truncated.
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRelayRequiresKey(t *testing.T) {
	env := newTestEnv(t, completionUpstream(t))

	resp, err := http.Get(env.srv.URL + "/v1/models")
	if err != nil {
		t.Fatalf("relay request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	env := newTestEnv(t, completionUpstream(t))

	health, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", health.StatusCode)
	}

	scrape, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer scrape.Body.Close()
	if scrape.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", scrape.StatusCode)
	}
	raw, _ := io.ReadAll(scrape.Body)
	if !strings.Contains(string(raw), "metergate_http_requests_total") {
		t.Error("scrape output missing request counter")
	}
}
