package extension

import (
	"fmt"

	"github.com/spirefy/go-extension-engine/types"
)

// PluginID identifies a plugin.
type PluginID string

// CorePluginID owns the points every area declares for itself.
const CorePluginID PluginID = "core"

// PluginDescriptor is the registry's view of a loaded plugin: an identity and a way to resolve the class names
// its declarations use.
type PluginDescriptor interface {
	ClassResolver
	PluginID() PluginID
}

// PluginAware is implemented by extensions that want to know the plugin that contributed them. It is called once,
// right after the instance is materialized.
type PluginAware interface {
	SetPluginDescriptor(PluginDescriptor)
}

// Plugin is the descriptor of a plugin whose classes are Go types known to a ClassResolver, usually a
// ClassLoader populated by the host application.
type Plugin struct {
	// Details is the manifest the plugin was loaded from, if any.
	Details *types.Plugin

	id       PluginID
	resolver ClassResolver
}

// NewPlugin creates a descriptor for id resolving classes through resolver.
func NewPlugin(id PluginID, resolver ClassResolver) *Plugin {
	return &Plugin{id: id, resolver: resolver}
}

// NewPluginFromDetails creates a descriptor for a parsed manifest.
func NewPluginFromDetails(details *types.Plugin, resolver ClassResolver) *Plugin {
	return &Plugin{Details: details, id: PluginID(details.Id), resolver: resolver}
}

// PluginID implements PluginDescriptor.
func (p *Plugin) PluginID() PluginID {
	return p.id
}

// ResolveClass implements ClassResolver.
func (p *Plugin) ResolveClass(name string) (Class, error) {
	if nil == p.resolver {
		return nil, fmt.Errorf("%w: %s (plugin has no class resolver)", ErrClassNotFound, name)
	}
	return p.resolver.ResolveClass(name)
}

func (p *Plugin) String() string {
	return string(p.id)
}

// pluginID tolerates a nil descriptor in log fields.
func pluginID(p PluginDescriptor) string {
	if nil == p {
		return ""
	}
	return string(p.PluginID())
}
