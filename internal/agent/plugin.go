package agent

import (
	"context"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Plugin is the minimal hook interface for observing the agent event stream.
// Implementations must be fast; long operations should be async or honor ctx.
//
// Example usage:
//
//	runtime.Use(&LoggerPlugin{})
//	runtime.Use(&TracerPlugin{outputPath: "trace.jsonl"})
type Plugin interface {
	// OnEvent is called for each agent event during processing.
	// Implementations should not block or panic.
	OnEvent(ctx context.Context, e models.AgentEvent)
}

// PluginFunc is an adapter to allow ordinary functions to be used as plugins.
type PluginFunc func(ctx context.Context, e models.AgentEvent)

// OnEvent calls the function.
func (f PluginFunc) OnEvent(ctx context.Context, e models.AgentEvent) {
	f(ctx, e)
}

// PluginRegistry manages registered plugins and dispatches events.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewPluginRegistry creates a new plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins: make([]Plugin, 0),
	}
}

// Use registers a plugin. Plugins are called in registration order.
func (r *PluginRegistry) Use(p Plugin) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Emit dispatches an event to all registered plugins.
// Plugins are called synchronously in registration order.
// Panics in plugins are recovered and logged but do not stop dispatch.
func (r *PluginRegistry) Emit(ctx context.Context, e models.AgentEvent) {
	r.mu.RLock()
	plugins := make([]Plugin, len(r.plugins))
	copy(plugins, r.plugins)
	r.mu.RUnlock()

	for _, p := range plugins {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					// Plugin panicked - log and continue
					// In production, you'd log this properly
				}
			}()
			p.OnEvent(ctx, e)
		}()
	}
}

// Count returns the number of registered plugins.
func (r *PluginRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Clear removes all registered plugins.
func (r *PluginRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = r.plugins[:0]
}
