package ai

import (
	"context"
	"sync"
)

// StreamFunc is a provider's full streaming entry point.
type StreamFunc func(ctx context.Context, model *Model, llmCtx *Context, opts *StreamOptions) (*AssistantMessageEventStream, error)

// SimpleStreamFunc is a provider's reasoning-level streaming entry point.
type SimpleStreamFunc func(ctx context.Context, model *Model, llmCtx *Context, opts *SimpleStreamOptions) (*AssistantMessageEventStream, error)

// APIProvider implements one backend wire protocol, keyed by its api tag.
type APIProvider struct {
	API          string
	Stream       StreamFunc
	StreamSimple SimpleStreamFunc
}

type registeredProvider struct {
	provider *APIProvider
	sourceID string
}

var (
	providerMu       sync.RWMutex
	providerRegistry = map[string]registeredProvider{}
)

// RegisterAPIProvider registers an API provider implementation. Registering
// the same api again replaces the prior entry.
func RegisterAPIProvider(provider *APIProvider) {
	RegisterAPIProviderScoped(provider, "")
}

// RegisterAPIProviderScoped registers a provider tagged with a source ID so
// tests can remove their ad-hoc providers with UnregisterAPIProviders.
func RegisterAPIProviderScoped(provider *APIProvider, sourceID string) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[provider.API] = registeredProvider{provider: provider, sourceID: sourceID}
}

// GetAPIProvider returns the registered provider for an api tag, or nil.
func GetAPIProvider(api string) *APIProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if entry, ok := providerRegistry[api]; ok {
		return entry.provider
	}
	return nil
}

// GetAPIProviders returns all registered providers.
func GetAPIProviders() []*APIProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	providers := make([]*APIProvider, 0, len(providerRegistry))
	for _, entry := range providerRegistry {
		providers = append(providers, entry.provider)
	}
	return providers
}

// UnregisterAPIProviders removes every provider registered with the given
// source ID.
func UnregisterAPIProviders(sourceID string) {
	providerMu.Lock()
	defer providerMu.Unlock()
	for api, entry := range providerRegistry {
		if entry.sourceID == sourceID {
			delete(providerRegistry, api)
		}
	}
}
