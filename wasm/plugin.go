package wasm

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"

	extism "github.com/extism/go-sdk"

	"github.com/spirefy/go-extension-engine/extension"
	"github.com/spirefy/go-extension-engine/types"
)

// InvokerClassName is the class name the engine registers Invoker under, for points that accept WebAssembly
// extensions.
const InvokerClassName = "wasm.Invoker"

// Invoker is implemented by every WebAssembly extension instance.
type Invoker interface {
	Invoke(input []byte) ([]byte, error)
}

var functionType = reflect.TypeOf((*Function)(nil))

// Plugin is a plugin descriptor backed by one Extism plugin instance.
//
// Extism plugins are not safe for concurrent calls; every call holds the plugin mutex. A module calling back into
// itself through callExtension is rejected.
type Plugin struct {
	id      extension.PluginID
	details *types.Plugin
	path    string
	runtime *Runtime

	mu       sync.Mutex
	instance *extism.Plugin
	closed   atomic.Bool
}

// PluginID implements extension.PluginDescriptor.
func (p *Plugin) PluginID() extension.PluginID { return p.id }

// Details returns the plugin description, from its manifest or its registerPlugin call.
func (p *Plugin) Details() *types.Plugin { return p.details }

// Path returns the module file.
func (p *Plugin) Path() string { return p.path }

// Dir returns the directory of the module file.
func (p *Plugin) Dir() string { return filepath.Dir(p.path) }

// ResolveClass implements extension.ClassResolver. Exported functions are classes; other names go to the
// runtime's parent resolver.
func (p *Plugin) ResolveClass(name string) (extension.Class, error) {
	if p.HasFunction(name) {
		return &FunctionClass{plugin: p, name: name}, nil
	}
	if nil != p.runtime && nil != p.runtime.parent {
		return p.runtime.parent.ResolveClass(name)
	}
	return nil, fmt.Errorf("%w: %s is not exported by %s", extension.ErrClassNotFound, name, p.path)
}

// HasFunction reports whether the module exports name.
func (p *Plugin) HasFunction(name string) bool {
	return !p.closed.Load() && p.instance.FunctionExists(name)
}

// Call invokes an exported function.
func (p *Plugin) Call(name string, input []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return nil, ErrClosed
	}

	rc, out, err := p.instance.Call(name, input)
	if err != nil {
		return nil, fmt.Errorf("wasm %s.%s: %w", p.id, name, err)
	}
	if rc != 0 {
		return nil, fmt.Errorf("wasm %s.%s returned %d", p.id, name, rc)
	}
	// the output buffer belongs to the plugin memory
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func (p *Plugin) start() error {
	if !p.HasFunction(StartFunction) {
		return nil
	}
	_, err := p.Call(StartFunction, nil)
	return err
}

// Close releases the plugin instance. Calling it again has no effect.
func (p *Plugin) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}

	// the Extism Close signature gained a context in later releases
	switch c := any(p.instance).(type) {
	case interface{ Close(context.Context) error }:
		return c.Close(ctx)
	case interface{ Close() error }:
		return c.Close()
	}
	return nil
}

func (p *Plugin) String() string {
	return string(p.id)
}

// FunctionClass is an exported function used as an implementation class.
type FunctionClass struct {
	plugin *Plugin
	name   string
}

// Name implements extension.Class.
func (c *FunctionClass) Name() string { return c.name }

// Type implements extension.Class.
func (c *FunctionClass) Type() reflect.Type { return functionType }

// NewInstance implements extension.Instantiator.
func (c *FunctionClass) NewInstance() (any, error) {
	return &Function{plugin: c.plugin, name: c.name}, nil
}

// Function is an extension implemented by an exported function. Declaration attributes are kept in Params.
type Function struct {
	Params map[string]any `yaml:",inline"`

	plugin *Plugin
	name   string
}

// Name returns the exported function name.
func (f *Function) Name() string { return f.name }

// Plugin returns the plugin exporting the function.
func (f *Function) Plugin() *Plugin { return f.plugin }

// Invoke implements Invoker.
func (f *Function) Invoke(input []byte) ([]byte, error) {
	return f.plugin.Call(f.name, input)
}

func (f *Function) String() string {
	return fmt.Sprintf("wasm function %s of %s", f.name, f.plugin.id)
}
