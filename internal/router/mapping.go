// Package router maps caller-supplied (provider, model) pairs to canonical
// provider-qualified model identifiers.
package router

import "strings"

// DefaultProvider is assumed when the caller names no provider.
const DefaultProvider = "openai"

// defaultTable maps short model aliases to fully qualified upstream
// identifiers.
var defaultTable = map[string]string{
	"gpt-3.5-turbo":   "openai/gpt-3.5-turbo",
	"gpt-4":           "openai/gpt-4",
	"claude-3-opus":   "anthropic/claude-3-opus-20240229",
	"claude-3-sonnet": "anthropic/claude-3-sonnet-20240229",
	"claude-3-haiku":  "anthropic/claude-3-haiku-20240307",
	"gemini-pro":      "google/gemini-pro",
	"mistral-small":   "mistral/mistral-small-latest",
	"mistral-medium":  "mistral/mistral-medium-latest",
	"mistral-large":   "mistral/mistral-large-latest",
	"claude-instant":  "bedrock/anthropic.claude-instant-v1",
	"llama2":          "bedrock/meta.llama2-13b-chat-v1",
}

// Router resolves model names against the mapping table.
type Router struct {
	table map[string]string
}

// New creates a router with the built-in table plus any overrides. Overrides
// win on alias collision.
func New(overrides map[string]string) *Router {
	table := make(map[string]string, len(defaultTable)+len(overrides))
	for alias, id := range defaultTable {
		table[alias] = id
	}
	for alias, id := range overrides {
		table[alias] = id
	}
	return &Router{table: table}
}

// Resolve returns the canonical provider-qualified model identifier. It
// never fails: table hits win; an already qualified "provider/model" passes
// through; anything else is synthesized from the caller's provider (or the
// default) so unknown models reach the upstream verbatim and are rejected
// there.
func (r *Router) Resolve(provider, model string) string {
	if mapped, ok := r.table[model]; ok {
		return mapped
	}
	if strings.Contains(model, "/") {
		return model
	}
	if provider == "" {
		provider = DefaultProvider
	}
	return provider + "/" + model
}

// Split breaks a canonical identifier into its provider and bare model
// parts. Identifiers without a separator belong to the default provider.
func Split(canonical string) (provider, model string) {
	if idx := strings.Index(canonical, "/"); idx != -1 {
		return canonical[:idx], canonical[idx+1:]
	}
	return DefaultProvider, canonical
}
