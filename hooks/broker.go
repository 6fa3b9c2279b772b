package hooks

import (
	"sync"

	"github.com/Readm/cluster_pm/core"
)

// PluginCategory represents the high-level role of a plugin.
type PluginCategory string

const (
	// PluginCategoryInstrumentation covers metrics and diagnostics.
	PluginCategoryInstrumentation PluginCategory = "instrumentation"
	// PluginCategoryTracing covers event timelines.
	PluginCategoryTracing PluginCategory = "tracing"
	// PluginCategoryFault covers fault and race injection used by tests.
	PluginCategoryFault PluginCategory = "fault"
)

// PluginDescriptor describes a plugin registered with the broker.
type PluginDescriptor struct {
	Name        string
	Category    PluginCategory
	Description string
}

// StageContext carries the state of a power request at one stage.
// Stages emitted while the sequencer lock is free may call back into the
// sequencer; that is how tests inject races.
type StageContext struct {
	RequestID     string
	Core          core.CoreID
	Stage         core.PowerEventType
	UseCount      int
	ClusterActive int
	LastMan       bool
	SkipSuspend   bool
	Scope         core.TeardownScope
	Err           error
}

// StageHook observes one stage of a power request.
type StageHook func(ctx *StageContext) error

// HookBundle groups the hook handlers that belong to one plugin.
type HookBundle struct {
	// Stages maps a stage to the hooks run for it.
	Stages map[core.PowerEventType][]StageHook
	// Any runs for every stage, after the stage-specific hooks.
	Any []StageHook
}

// PluginBroker coordinates hook registration and triggering.
type PluginBroker struct {
	mu sync.RWMutex

	stageHooks map[core.PowerEventType][]StageHook
	anyHooks   []StageHook

	pluginCatalog map[PluginCategory][]PluginDescriptor
	pluginIndex   map[string]PluginDescriptor
}

// NewPluginBroker creates an empty broker instance.
func NewPluginBroker() *PluginBroker {
	return &PluginBroker{
		stageHooks:    make(map[core.PowerEventType][]StageHook),
		pluginCatalog: make(map[PluginCategory][]PluginDescriptor),
		pluginIndex:   make(map[string]PluginDescriptor),
	}
}

// RegisterStage adds a hook for a single stage.
func (p *PluginBroker) RegisterStage(stage core.PowerEventType, h StageHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stageHooks[stage] = append(p.stageHooks[stage], h)
}

// RegisterAny adds a hook run for every stage.
func (p *PluginBroker) RegisterAny(h StageHook) {
	if p == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anyHooks = append(p.anyHooks, h)
}

// Emit runs the hooks for ctx.Stage. The first error stops processing.
func (p *PluginBroker) Emit(ctx *StageContext) error {
	if p == nil || ctx == nil {
		return nil
	}
	p.mu.RLock()
	staged := p.stageHooks[ctx.Stage]
	handlers := make([]StageHook, 0, len(staged)+len(p.anyHooks))
	handlers = append(handlers, staged...)
	handlers = append(handlers, p.anyHooks...)
	p.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBundle registers a plugin descriptor together with all hook handlers.
func (p *PluginBroker) RegisterBundle(desc PluginDescriptor, bundle HookBundle) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.registerDescriptorLocked(desc)
	for stage, hs := range bundle.Stages {
		p.stageHooks[stage] = append(p.stageHooks[stage], hs...)
	}
	if len(bundle.Any) > 0 {
		p.anyHooks = append(p.anyHooks, bundle.Any...)
	}
}

// RegisterPluginMetadata stores plugin metadata without registering hooks.
func (p *PluginBroker) RegisterPluginMetadata(desc PluginDescriptor) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registerDescriptorLocked(desc)
}

// ListPlugins returns descriptors for plugins in the requested category.
func (p *PluginBroker) ListPlugins(category PluginCategory) []PluginDescriptor {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	catalog := p.pluginCatalog[category]
	if len(catalog) == 0 {
		return nil
	}
	out := make([]PluginDescriptor, len(catalog))
	copy(out, catalog)
	return out
}

// ListAllPlugins returns descriptors of every registered plugin.
func (p *PluginBroker) ListAllPlugins() []PluginDescriptor {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PluginDescriptor, 0, len(p.pluginIndex))
	for _, desc := range p.pluginIndex {
		out = append(out, desc)
	}
	return out
}

func (p *PluginBroker) registerDescriptorLocked(desc PluginDescriptor) {
	if desc.Name == "" {
		return
	}
	if _, exists := p.pluginIndex[desc.Name]; exists {
		return
	}
	p.pluginIndex[desc.Name] = desc
	p.pluginCatalog[desc.Category] = append(p.pluginCatalog[desc.Category], desc)
}
