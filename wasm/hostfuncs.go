package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	extism "github.com/extism/go-sdk"

	"github.com/spirefy/go-extension-engine/extension"
	"github.com/spirefy/go-extension-engine/manifest"
)

// ExtensionInfo is the JSON description of one extension returned by the getExtensions host function.
type ExtensionInfo struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Plugin   string `json:"plugin,omitempty"`
	Function string `json:"function,omitempty"`
}

// DescribeExtensions describes a built extension list for modules.
func DescribeExtensions(list []any) []ExtensionInfo {
	infos := make([]ExtensionInfo, 0, len(list))
	for i, v := range list {
		info := ExtensionInfo{Index: i, Type: fmt.Sprintf("%T", v)}
		if f, ok := v.(*Function); ok {
			info.Plugin = string(f.plugin.id)
			info.Function = f.name
		}
		infos = append(infos, info)
	}
	return infos
}

// FindInvoker returns the extension addressed by ref in list: the first Invoker for "", the Function of that
// name otherwise.
func FindInvoker(list []any, function string) (Invoker, error) {
	for _, v := range list {
		inv, ok := v.(Invoker)
		if !ok {
			continue
		}
		if function == "" {
			return inv, nil
		}
		if f, ok := v.(*Function); ok && f.name == function {
			return inv, nil
		}
	}
	return nil, fmt.Errorf("no invocable extension %q", function)
}

// splitRef splits "point#function" into its parts.
func splitRef(ref string) (string, string) {
	point, function, _ := strings.Cut(ref, "#")
	return point, function
}

// registerPlugin
//
// Receives the JSON manifest of a standalone module from its start export.
func (r *Runtime) registerPlugin(reg *registration) extism.HostFunction {
	ret := extism.NewHostFunctionWithStack(
		"registerPlugin",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			data, err := p.ReadBytes(stack[0])
			if nil != err {
				reg.set(nil, fmt.Errorf("registerPlugin: %w", err))
				stack[0] = 0
				return
			}

			details, err := manifest.Parse(data, manifest.FormatJSON)
			reg.set(details, err)
			if nil != err {
				r.log.Error().Err(err).Msg("module registration rejected")
			}
			stack[0] = 0
		},
		[]extism.ValueType{extism.ValueTypeI64}, []extism.ValueType{extism.ValueTypeI64},
	)
	ret.SetNamespace(HostNamespace)

	return ret
}

// readFile
//
// Returns the contents of a file of the module's own directory. Paths leaving the directory are refused.
func (r *Runtime) readFile(plugin *Plugin) extism.HostFunction {
	ret := extism.NewHostFunctionWithStack(
		"readFile",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			name, err := p.ReadString(stack[0])
			if nil != err {
				r.log.Error().Err(err).Str("plugin", string(plugin.id)).Msg("readFile: cannot read argument")
				stack[0] = 0
				return
			}

			fileData, err := readPluginFile(plugin.Dir(), name)
			if err != nil {
				r.log.Warn().Err(err).Str("plugin", string(plugin.id)).Str("file", name).Msg("readFile failed")
				stack[0] = 0
				return
			}

			// write it back out to the calling plugin, so it can get it as a response to the host func call
			ff, err := p.WriteBytes(fileData)
			if err != nil {
				r.log.Error().Err(err).Msg("readFile: cannot write result")
				stack[0] = 0
				return
			}
			stack[0] = ff
		},
		[]extism.ValueType{extism.ValueTypeI64}, []extism.ValueType{extism.ValueTypeI64},
	)
	ret.SetNamespace(HostNamespace)

	return ret
}

func readPluginFile(dir, name string) ([]byte, error) {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if !fs.ValidPath(name) || name == "." {
		return nil, fmt.Errorf("invalid plugin file %q", name)
	}
	return fs.ReadFile(os.DirFS(dir), name)
}

// getExtensions
//
// Returns the JSON description of the extension list of a point, building it if needed. An unknown point or a
// runtime without area yields no data.
func (r *Runtime) getExtensions() extism.HostFunction {
	ret := extism.NewHostFunctionWithStack(
		"getExtensions",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			point, err := p.ReadString(stack[0])
			if nil != err {
				r.log.Error().Err(err).Msg("getExtensions: cannot read argument")
				stack[0] = 0
				return
			}

			area := r.currentArea()
			if nil == area {
				stack[0] = 0
				return
			}

			list, err := area.ExtensionPointOrEmpty(point).Extensions(ctx)
			if nil != err {
				stack[0] = 0
				return
			}

			jsonBytes, err := json.Marshal(DescribeExtensions(list))
			if err != nil {
				stack[0] = 0
				return
			}

			ff, err := p.WriteBytes(jsonBytes)
			if err != nil {
				r.log.Error().Err(err).Msg("getExtensions: cannot write result")
				stack[0] = 0
				return
			}
			stack[0] = ff
		},
		[]extism.ValueType{extism.ValueTypeI64}, []extism.ValueType{extism.ValueTypeI64},
	)
	ret.SetNamespace(HostNamespace)

	return ret
}

// callExtension
//
// Invokes an extension of a point with the given input. The reference is "point" for the first invocable
// extension or "point#function" for a specific exported function. A module cannot call into itself.
func (r *Runtime) callExtension(caller *Plugin) extism.HostFunction {
	ret := extism.NewHostFunctionWithStack(
		"callExtension",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			ref, err := p.ReadString(stack[0])
			if nil != err {
				r.log.Error().Err(err).Msg("callExtension: cannot read reference")
				stack[0] = 0
				return
			}
			data, err := p.ReadBytes(stack[1])
			if nil != err {
				r.log.Error().Err(err).Msg("callExtension: cannot read input")
				stack[0] = 0
				return
			}

			out, err := r.invoke(ctx, caller, ref, data)
			if err != nil {
				if !extension.IsCanceled(err) {
					r.log.Error().Err(err).Str("ref", ref).Str("plugin", string(caller.id)).Msg("callExtension failed")
				}
				stack[0] = 0
				return
			}

			ff, err := p.WriteBytes(out)
			if err != nil {
				r.log.Error().Err(err).Msg("callExtension: cannot write result")
				stack[0] = 0
				return
			}
			stack[0] = ff
		},
		[]extism.ValueType{extism.ValueTypeI64, extism.ValueTypeI64}, []extism.ValueType{extism.ValueTypeI64},
	)
	ret.SetNamespace(HostNamespace)

	return ret
}

var errReentrant = errors.New("a wasm module cannot call its own extensions")

func (r *Runtime) invoke(ctx context.Context, caller *Plugin, ref string, data []byte) ([]byte, error) {
	area := r.currentArea()
	if nil == area {
		return nil, errors.New("no extensions area")
	}

	point, function := splitRef(ref)
	ep, err := area.ExtensionPoint(point)
	if err != nil {
		return nil, err
	}
	list, err := ep.Extensions(ctx)
	if err != nil {
		return nil, err
	}

	inv, err := FindInvoker(list, function)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", point, err)
	}
	if f, ok := inv.(*Function); ok && f.plugin == caller {
		return nil, errReentrant
	}
	return inv.Invoke(data)
}

func (r *Runtime) currentArea() *extension.Area {
	if nil == r.area {
		return nil
	}
	return r.area()
}
