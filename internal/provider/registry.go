// Package provider selects and constructs upstream provider implementations
// by provider family, and relays raw requests for unmapped endpoints.
package provider

import (
	"net/http"
	"os"

	anthropicprovider "github.com/metergate/metergate/internal/provider/anthropic"
	openaiprovider "github.com/metergate/metergate/internal/provider/openai"

	"github.com/metergate/metergate/internal/domain"
)

// Wire identifies the protocol a provider family speaks.
type Wire string

const (
	WireOpenAI    Wire = "openai"
	WireAnthropic Wire = "anthropic"
)

// Family describes one upstream provider: its wire protocol, endpoint, and
// the environment variable holding the gateway's upstream credential.
type Family struct {
	Name          string
	Wire          Wire
	BaseURL       string
	CredentialEnv string
}

// builtinFamilies covers the providers the gateway can dispatch to without
// configuration. Google is reached through its OpenAI-compatible endpoint.
var builtinFamilies = map[string]Family{
	"openai": {
		Name:          "openai",
		Wire:          WireOpenAI,
		BaseURL:       "https://api.openai.com/v1",
		CredentialEnv: "OPENAI_API_KEY",
	},
	"anthropic": {
		Name:          "anthropic",
		Wire:          WireAnthropic,
		BaseURL:       "https://api.anthropic.com",
		CredentialEnv: "ANTHROPIC_API_KEY",
	},
	"mistral": {
		Name:          "mistral",
		Wire:          WireOpenAI,
		BaseURL:       "https://api.mistral.ai/v1",
		CredentialEnv: "MISTRAL_API_KEY",
	},
	"google": {
		Name:          "google",
		Wire:          WireOpenAI,
		BaseURL:       "https://generativelanguage.googleapis.com/v1beta/openai",
		CredentialEnv: "GOOGLE_API_KEY",
	},
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithHTTPClient sets the HTTP client used by constructed providers.
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(r *Registry) {
		r.httpClient = client
	}
}

// WithLookupEnv overrides environment lookup, for tests.
func WithLookupEnv(lookup func(string) string) RegistryOption {
	return func(r *Registry) {
		r.lookupEnv = lookup
	}
}

// Registry resolves provider names to Provider implementations. Credentials
// are read from the process environment at call time, so a key rotated in
// the environment takes effect without a restart.
type Registry struct {
	families   map[string]Family
	httpClient *http.Client
	lookupEnv  func(string) string
}

// NewRegistry creates a registry with the builtin families plus overrides.
// An override with the same name replaces the builtin entry, letting config
// repoint a family at a different endpoint or credential variable.
func NewRegistry(overrides []Family, opts ...RegistryOption) *Registry {
	families := make(map[string]Family, len(builtinFamilies)+len(overrides))
	for name, f := range builtinFamilies {
		families[name] = f
	}
	for _, f := range overrides {
		if f.Wire == "" {
			f.Wire = WireOpenAI
		}
		families[f.Name] = f
	}

	r := &Registry{
		families:  families,
		lookupEnv: os.Getenv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Family returns the family descriptor for a provider name.
func (r *Registry) Family(name string) (Family, bool) {
	f, ok := r.families[name]
	return f, ok
}

// Credential returns the upstream credential for a family, or a
// configuration error when the environment variable is unset.
func (r *Registry) Credential(f Family) (string, error) {
	key := r.lookupEnv(f.CredentialEnv)
	if key == "" {
		return "", domain.ErrConfiguration("%s API key not configured (set %s)", f.Name, f.CredentialEnv)
	}
	return key, nil
}

// Get constructs a provider for the named family. Unknown families and
// missing credentials surface as gateway errors, never as panics or raw
// transport failures.
func (r *Registry) Get(name string) (domain.Provider, error) {
	f, ok := r.families[name]
	if !ok {
		return nil, domain.ErrUpstream("unsupported provider: %s", name)
	}

	apiKey, err := r.Credential(f)
	if err != nil {
		return nil, err
	}

	switch f.Wire {
	case WireAnthropic:
		opts := []anthropicprovider.ProviderOption{anthropicprovider.WithBaseURL(f.BaseURL)}
		if r.httpClient != nil {
			opts = append(opts, anthropicprovider.WithHTTPClient(r.httpClient))
		}
		return anthropicprovider.New(apiKey, opts...), nil
	case WireOpenAI:
		opts := []openaiprovider.ProviderOption{openaiprovider.WithBaseURL(f.BaseURL)}
		if r.httpClient != nil {
			opts = append(opts, openaiprovider.WithHTTPClient(r.httpClient))
		}
		return openaiprovider.New(f.Name, apiKey, opts...), nil
	default:
		return nil, domain.ErrUpstream("unsupported provider wire: %s", f.Wire)
	}
}
