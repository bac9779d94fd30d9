package lua

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
)

// Lua runtime errors.
var (
	// ErrClosed is returned when the plugin state was closed.
	ErrClosed = errors.New("lua plugin is closed")

	// ErrNoMethod is returned when an object has no function under the called name.
	ErrNoMethod = errors.New("lua object has no such method")
)

// Object is an extension instance implemented by a Lua table.
type Object struct {
	plugin *Plugin
	class  string
	table  *lua.LTable
}

// Class returns the name of the global the object was created from.
func (o *Object) Class() string { return o.class }

// Call invokes the method with the object as self and returns its results converted to Go values.
func (o *Object) Call(method string, args ...any) ([]any, error) {
	p := o.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	L := p.L
	fn, ok := L.GetField(o.table, method).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoMethod, o.class, method)
	}

	top := L.GetTop()
	L.Push(fn)
	L.Push(o.table)
	for _, a := range args {
		L.Push(toLua(L, a))
	}
	if err := L.PCall(len(args)+1, lua.MultRet, nil); err != nil {
		L.SetTop(top)
		return nil, fmt.Errorf("%s.%s: %w", o.class, method, err)
	}

	n := L.GetTop() - top
	results := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		results = append(results, toGo(L.Get(top+i), make(map[*lua.LTable]bool)))
	}
	L.SetTop(top)
	return results, nil
}

// Get returns a field of the object as a Go value, looking through its metatable.
func (o *Object) Get(field string) any {
	p := o.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return toGo(p.L.GetField(o.table, field), make(map[*lua.LTable]bool))
}

// UnmarshalYAML sets the fields of a declaration on the object table.
func (o *Object) UnmarshalYAML(node *yaml.Node) error {
	p := o.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("cannot decode %v node onto lua object %s", node.Kind, o.class)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		value, err := nodeToLua(p.L, node.Content[i+1])
		if err != nil {
			return err
		}
		o.table.RawSetString(node.Content[i].Value, value)
	}
	return nil
}

func (o *Object) String() string {
	return fmt.Sprintf("lua object %s of %s", o.class, o.plugin.id)
}

func nodeToLua(L *lua.LState, n *yaml.Node) (lua.LValue, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return nodeToLua(L, n.Alias)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return lua.LNil, err
		}
		return toLua(L, v), nil
	case yaml.SequenceNode:
		t := L.NewTable()
		for _, item := range n.Content {
			v, err := nodeToLua(L, item)
			if err != nil {
				return lua.LNil, err
			}
			t.Append(v)
		}
		return t, nil
	case yaml.MappingNode:
		t := L.NewTable()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeToLua(L, n.Content[i+1])
			if err != nil {
				return lua.LNil, err
			}
			t.RawSetString(n.Content[i].Value, v)
		}
		return t, nil
	default:
		return lua.LNil, fmt.Errorf("unsupported yaml node kind %v", n.Kind)
	}
}

// toLua converts a Go value to a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case *Object:
		return x.table
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case []byte:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []any:
		t := L.NewTable()
		for _, item := range x {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, item := range x {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range x {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, item := range x {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// toGo converts a Lua value to a Go value. Tables with keys 1..n become slices, other tables maps.
func toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGo(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = toGo(v, visited)
	})
	return m
}
