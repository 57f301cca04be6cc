package engine

import (
	"context"
	"fmt"

	"github.com/mirelabs/conductor/pkg/toolset"
)

// CompletionRequest is one model call. Tools is nil on follow-up calls:
// tools are not offered again within the same turn.
type CompletionRequest struct {
	Model           string
	Messages        []Message
	Tools           []toolset.Descriptor
	Temperature     float64
	MaxOutputTokens int
}

// CompletionResponse is the reconstructed assistant message from one call,
// identical in shape for buffered and streamed modes.
type CompletionResponse struct {
	Text      string
	ToolCalls []ToolCallRequest
	Usage     Usage
}

// Provider issues completion calls against one model service.
type Provider interface {
	// Name identifies the provider for logging and metrics.
	Name() string

	// Complete issues one buffered call and returns the full assistant
	// message including any tool-call requests.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream issues one streamed call, pushing each content fragment to
	// onText as it arrives, and returns the same reconstructed response
	// Complete would have. Tool-call fragments are accumulated internally
	// and parsed only once the stream is exhausted.
	Stream(ctx context.Context, req CompletionRequest, onText func(string)) (*CompletionResponse, error)
}

// ProviderFactory creates providers by name.
type ProviderFactory interface {
	NewProvider(name string) (Provider, error)
}

// APIProviderFactory builds real SDK-backed providers from a provider
// name → API key map.
type APIProviderFactory struct {
	keys map[string]string
}

// NewAPIProviderFactory creates a factory over the given credentials.
func NewAPIProviderFactory(keys map[string]string) *APIProviderFactory {
	if keys == nil {
		keys = map[string]string{}
	}
	return &APIProviderFactory{keys: keys}
}

// NewProvider returns a provider for the named service.
func (f *APIProviderFactory) NewProvider(name string) (Provider, error) {
	apiKey, ok := f.keys[name]
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", name)
	}

	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
