package router

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/router/adapters"
	"github.com/af-corp/inkwell/internal/types"
)

// Registry holds provider adapters keyed by provider id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapters.ProviderAdapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]adapters.ProviderAdapter),
	}
}

func (r *Registry) Register(name string, adapter adapters.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

func (r *Registry) Get(name string) (adapters.ProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered provider ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReplaceAll swaps in the adapters of other, used on config reload.
func (r *Registry) ReplaceAll(other *Registry) {
	other.mu.RLock()
	next := make(map[string]adapters.ProviderAdapter, len(other.adapters))
	for k, v := range other.adapters {
		next[k] = v
	}
	other.mu.RUnlock()

	r.mu.Lock()
	r.adapters = next
	r.mu.Unlock()
}

// BuildFromConfig builds provider adapters from the providers config.
func BuildFromConfig(provCfg *config.ProvidersConfig) (*Registry, error) {
	registry := NewRegistry()
	for name, cfg := range provCfg.Providers {
		maxConns := cfg.MaxConcurrent
		if maxConns <= 0 {
			maxConns = 16
		}
		client := &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxConns,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		var adapter adapters.ProviderAdapter
		switch cfg.Type {
		case "openai", "":
			adapter = adapters.NewOpenAIAdapter(name, cfg, client)
		case "anthropic":
			adapter = adapters.NewAnthropicAdapter(name, cfg, client)
		case "echo":
			adapter = adapters.NewEchoAdapter(name)
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", name, cfg.Type)
		}
		registry.Register(name, adapter)
	}
	return registry, nil
}

// Route is the ordered set of providers one request may use.
type Route struct {
	Primary  adapters.ProviderAdapter
	Fallback adapters.ProviderAdapter
}

// ResolveRoute picks the primary provider (the hint, else the default) and the
// configured fallback. The fallback is dropped when it equals the primary.
func ResolveRoute(registry *Registry, hint, defaultProvider, fallbackProvider string) (Route, error) {
	primaryName := defaultProvider
	if hint != "" {
		primaryName = hint
	}
	primary, ok := registry.Get(primaryName)
	if !ok {
		if hint != "" {
			return Route{}, &types.InvalidParameterError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", hint)}
		}
		return Route{}, fmt.Errorf("default provider %q is not registered", primaryName)
	}

	route := Route{Primary: primary}
	if fallbackProvider != "" && fallbackProvider != primaryName {
		if fb, ok := registry.Get(fallbackProvider); ok {
			route.Fallback = fb
		}
	}
	return route, nil
}
