// Package wasm runs plugin implementations compiled to WebAssembly through Extism.
//
// Every exported function of a module is a class whose instances are *Function values. A module loaded on its own,
// without a manifest, describes itself by calling the registerPlugin host function from its start export.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	extism "github.com/extism/go-sdk"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"

	"github.com/spirefy/go-extension-engine/extension"
	"github.com/spirefy/go-extension-engine/internal/logx"
	"github.com/spirefy/go-extension-engine/types"
)

// StartFunction is the export called once after a module is instantiated.
const StartFunction = "start"

// HostNamespace is the import module of the host functions.
const HostNamespace = "extism:host/user"

// WebAssembly runtime errors.
var (
	// ErrNotRegistered is returned when a standalone module did not call registerPlugin from its start export.
	ErrNotRegistered = errors.New("wasm module did not register itself")

	// ErrClosed is returned when calling into a closed plugin.
	ErrClosed = errors.New("wasm plugin is closed")
)

// Runtime instantiates WebAssembly plugins. Modules share one compilation cache.
type Runtime struct {
	cache     wazero.CompilationCache
	wasi      bool
	hostFuncs []extism.HostFunction
	area      func() *extension.Area
	parent    extension.ClassResolver
	log       zerolog.Logger

	mu      sync.Mutex
	plugins []*Plugin
}

// Option configures a Runtime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	wasi      bool
	cacheDir  string
	hostFuncs []extism.HostFunction
	area      func() *extension.Area
	parent    extension.ClassResolver
	log       zerolog.Logger
}

// WithWASI enables WASI for every module.
func WithWASI(enabled bool) Option {
	return func(o *runtimeOptions) { o.wasi = enabled }
}

// WithCacheDir persists compiled modules in dir.
func WithCacheDir(dir string) Option {
	return func(o *runtimeOptions) { o.cacheDir = dir }
}

// WithHostFunctions adds application host functions to every module.
func WithHostFunctions(funcs ...extism.HostFunction) Option {
	return func(o *runtimeOptions) { o.hostFuncs = append(o.hostFuncs, funcs...) }
}

// WithArea exposes the area returned by area to modules through the getExtensions and callExtension host
// functions.
func WithArea(area func() *extension.Area) Option {
	return func(o *runtimeOptions) { o.area = area }
}

// WithParentResolver resolves class names that are not exports of a module, such as contract classes.
func WithParentResolver(parent extension.ClassResolver) Option {
	return func(o *runtimeOptions) { o.parent = parent }
}

// WithLogger sets the logger module log output and host function failures go to.
func WithLogger(l zerolog.Logger) Option {
	return func(o *runtimeOptions) { o.log = l }
}

// NewRuntime creates a runtime.
func NewRuntime(opts ...Option) (*Runtime, error) {
	o := runtimeOptions{log: logx.Log}
	for _, opt := range opts {
		opt(&o)
	}

	var cache wazero.CompilationCache
	if o.cacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(o.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("wasm compilation cache: %w", err)
		}
		cache = c
	} else {
		cache = wazero.NewCompilationCache()
	}

	r := &Runtime{
		cache:     cache,
		wasi:      o.wasi,
		hostFuncs: o.hostFuncs,
		area:      o.area,
		parent:    o.parent,
		log:       o.log.With().Str("runtime", types.RuntimeWasm).Logger(),
	}
	return r, nil
}

func (r *Runtime) pluginConfig() extism.PluginConfig {
	return extism.PluginConfig{
		EnableWasi:    r.wasi,
		ModuleConfig:  wazero.NewModuleConfig(),
		RuntimeConfig: wazero.NewRuntimeConfig().WithCompilationCache(r.cache),
	}
}

// Load instantiates the module at path for a plugin described by a manifest. The start export is called when the
// module has one; a registerPlugin call from it is ignored because the manifest already describes the plugin.
func (r *Runtime) Load(ctx context.Context, details *types.Plugin, path string) (*Plugin, error) {
	reg := &registration{}
	p, err := r.instantiate(ctx, extension.PluginID(details.Id), path, reg)
	if err != nil {
		return nil, err
	}
	p.details = details
	if err := p.start(); err != nil {
		p.Close(ctx)
		return nil, err
	}
	return p, nil
}

// LoadModule instantiates a standalone module. Its start export must call registerPlugin with the JSON form of a
// types.Plugin.
func (r *Runtime) LoadModule(ctx context.Context, path string) (*Plugin, error) {
	reg := &registration{}
	p, err := r.instantiate(ctx, "", path, reg)
	if err != nil {
		return nil, err
	}
	if err := p.start(); err != nil {
		p.Close(ctx)
		return nil, err
	}

	details, err := reg.result()
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if details.Runtime == "" {
		details.Runtime = types.RuntimeWasm
	}
	p.id = extension.PluginID(details.Id)
	p.details = details
	return p, nil
}

func (r *Runtime) instantiate(ctx context.Context, id extension.PluginID, path string, reg *registration) (*Plugin, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("wasm module: %w", err)
	}

	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmFile{
				Path: path,
			},
		},
	}

	p := &Plugin{id: id, path: path, runtime: r}

	funcs := make([]extism.HostFunction, 0, len(r.hostFuncs)+4)
	funcs = append(funcs, r.hostFuncs...)
	funcs = append(funcs, r.registerPlugin(reg), r.readFile(p), r.getExtensions(), r.callExtension(p))

	instance, err := extism.NewPlugin(ctx, manifest, r.pluginConfig(), funcs)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize wasm plugin %s: %w", path, err)
	}
	instance.SetLogger(func(level extism.LogLevel, msg string) {
		r.log.Debug().Str("module", path).Str("level", fmt.Sprint(level)).Msg(msg)
	})
	p.instance = instance

	r.mu.Lock()
	r.plugins = append(r.plugins, p)
	r.mu.Unlock()
	return p, nil
}

// Close closes every plugin and the compilation cache.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	plugins := r.plugins
	r.plugins = nil
	r.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// registration receives the registerPlugin call of one load.
type registration struct {
	mu      sync.Mutex
	details *types.Plugin
	err     error
}

func (reg *registration) set(details *types.Plugin, err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.details, reg.err = details, err
}

func (reg *registration) result() (*types.Plugin, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if nil != reg.err {
		return nil, reg.err
	}
	if nil == reg.details {
		return nil, ErrNotRegistered
	}
	return reg.details, nil
}
