// Package lua runs plugin implementations written in Lua.
//
// A Lua plugin is a script whose globals are its classes. A global function is a constructor: every instance is
// the table it returns. A global table with a "new" function is a prototype: new is called with the table as self.
// Any other global table is a singleton shared by all its extensions.
//
//	Greeter = {}
//	function Greeter.new(self)
//	  return setmetatable({ greeting = "hello" }, { __index = self })
//	end
//	function Greeter:greet(name)
//	  return self.greeting .. ", " .. name
//	end
//
// Instances reach Go code as *Object values. Declaration attributes are decoded onto the instance table, so the
// declaration `greeting: hi` overrides the field set by the constructor.
package lua

import (
	"fmt"
	"reflect"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/spirefy/go-extension-engine/extension"
	"github.com/spirefy/go-extension-engine/types"
)

// CallableClassName is the class name the engine registers Callable under, for points that accept Lua
// extensions.
const CallableClassName = "lua.Callable"

// Callable is implemented by every Lua extension instance.
type Callable interface {
	Call(method string, args ...any) ([]any, error)
}

var objectType = reflect.TypeOf((*Object)(nil))

// Plugin is a plugin descriptor backed by one Lua state.
//
// gopher-lua states are not goroutine-safe: every access to the state, including calls on the objects it
// created, holds the plugin mutex.
type Plugin struct {
	id      extension.PluginID
	details *types.Plugin
	parent  extension.ClassResolver

	mu      sync.Mutex
	L       *lua.LState
	objects map[*lua.LTable]*Object
	closed  bool
}

// NewPlugin creates a plugin with an empty state that has only the base, table, string and math libraries.
// Class names that are not Lua globals are resolved through parent, which may be nil.
func NewPlugin(id extension.PluginID, details *types.Plugin, parent extension.ClassResolver) *Plugin {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	return &Plugin{
		id:      id,
		details: details,
		parent:  parent,
		L:       L,
		objects: make(map[*lua.LTable]*Object),
	}
}

// Load creates a plugin and runs its main script.
func Load(id extension.PluginID, details *types.Plugin, path string, parent extension.ClassResolver) (*Plugin, error) {
	p := NewPlugin(id, details, parent)
	if err := p.DoFile(path); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// DoFile executes a Lua file.
func (p *Plugin) DoFile(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.L.DoFile(path); err != nil {
		return fmt.Errorf("lua plugin %s: %w", p.id, err)
	}
	return nil
}

// DoString executes a Lua chunk.
func (p *Plugin) DoString(code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.L.DoString(code); err != nil {
		return fmt.Errorf("lua plugin %s: %w", p.id, err)
	}
	return nil
}

// PluginID implements extension.PluginDescriptor.
func (p *Plugin) PluginID() extension.PluginID { return p.id }

// Details returns the manifest the plugin was loaded from.
func (p *Plugin) Details() *types.Plugin { return p.details }

// ResolveClass implements extension.ClassResolver. A global table or function is a class; other names go to
// the parent resolver.
func (p *Plugin) ResolveClass(name string) (extension.Class, error) {
	p.mu.Lock()
	var kind lua.LValueType = lua.LTNil
	if !p.closed {
		kind = p.L.GetGlobal(name).Type()
	}
	p.mu.Unlock()

	switch kind {
	case lua.LTTable, lua.LTFunction:
		return &Class{plugin: p, name: name}, nil
	}
	if nil != p.parent {
		return p.parent.ResolveClass(name)
	}
	return nil, fmt.Errorf("%w: %s is not a Lua table or function", extension.ErrClassNotFound, name)
}

// Close releases the Lua state. Objects created by the plugin fail afterwards.
func (p *Plugin) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.L.Close()
}

func (p *Plugin) String() string {
	return string(p.id)
}

// Class is a Lua global used as an implementation class.
type Class struct {
	plugin *Plugin
	name   string
}

// Name implements extension.Class.
func (c *Class) Name() string { return c.name }

// Type implements extension.Class. All Lua instances are *Object.
func (c *Class) Type() reflect.Type { return objectType }

// NewInstance implements extension.Instantiator.
func (c *Class) NewInstance() (any, error) {
	p := c.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	L := p.L
	global := L.GetGlobal(c.name)

	var table *lua.LTable
	switch g := global.(type) {
	case *lua.LFunction:
		t, err := callConstructor(L, g)
		if err != nil {
			return nil, fmt.Errorf("%s(): %w", c.name, err)
		}
		table = t
	case *lua.LTable:
		if ctor, ok := g.RawGetString("new").(*lua.LFunction); ok {
			t, err := callConstructor(L, ctor, g)
			if err != nil {
				return nil, fmt.Errorf("%s:new(): %w", c.name, err)
			}
			table = t
		} else {
			table = g
		}
	default:
		return nil, fmt.Errorf("%w: %s is no longer a table or function", extension.ErrClassNotFound, c.name)
	}

	if obj, ok := p.objects[table]; ok {
		return obj, nil
	}
	obj := &Object{plugin: p, class: c.name, table: table}
	p.objects[table] = obj
	return obj, nil
}

func (c *Class) String() string {
	return fmt.Sprintf("%s(lua %s)", c.name, c.plugin.id)
}

// callConstructor calls fn with args and returns its table result. The caller holds the plugin lock.
func callConstructor(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) (*lua.LTable, error) {
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)

	t, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("constructor returned %s, not a table", ret.Type())
	}
	return t, nil
}
