// Package extensionengine loads plugins from disk and registers their extension points and extensions with an
// application extensions area.
//
// Plugins are described by manifests (plugin.yaml, plugin.json or plugin.toml) or, for WebAssembly, by a
// standalone module that registers itself. The runtime of a plugin decides how its implementation names are
// resolved: Go types registered with the engine class loader, Lua globals or WebAssembly exports.
package extensionengine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	extism "github.com/extism/go-sdk"
	"github.com/rs/zerolog"

	"github.com/spirefy/go-extension-engine/config"
	"github.com/spirefy/go-extension-engine/extension"
	"github.com/spirefy/go-extension-engine/internal/logx"
	"github.com/spirefy/go-extension-engine/lua"
	"github.com/spirefy/go-extension-engine/manifest"
	"github.com/spirefy/go-extension-engine/types"
	"github.com/spirefy/go-extension-engine/wasm"
)

// HostPluginID owns the extension points and extensions the host application registers itself.
const HostPluginID extension.PluginID = "host"

// Engine errors.
var (
	ErrPluginLoaded = errors.New("plugin already loaded")
	ErrEngineClosed = errors.New("engine is closed")
)

type (
	// Plugin is a loaded plugin: its manifest and the descriptor its declarations resolve classes through.
	Plugin struct {
		Details    *types.Plugin
		Descriptor extension.PluginDescriptor

		// Path is the manifest file, or the module file of a self registered WebAssembly plugin.
		Path string

		// Resolved is true once every extension of the plugin was handed to its extension point.
		Resolved bool
	}

	// Listener receives engine events. Listeners are called synchronously and must not block.
	Listener func(types.Event)

	// Recorder observes registry activity and plugin loads. metrics.Recorder implements it.
	Recorder interface {
		extension.Recorder
		PluginLoaded(runtime string, ok bool)
	}

	pendingExtension struct {
		plugin *Plugin
		decl   *types.Element
	}

	Engine struct {
		cfg       *config.Config
		log       zerolog.Logger
		recorder  Recorder
		classes   *extension.ClassLoader
		host      *extension.Plugin
		hostFuncs []extism.HostFunction
		area      *extension.Area

		// serializes Load, Lock and Close
		loadMu sync.Mutex

		mu            sync.Mutex
		plugins       map[string]*Plugin
		unresolved    []*pendingExtension
		projectPoints map[string]bool
		projectExts   []*pendingExtension
		projects      map[string]*extension.Area
		listeners     []Listener
		luaPlugins    []*lua.Plugin
		wasmRuntime   *wasm.Runtime
		closed        bool
	}
)

type nopRecorder struct{}

func (nopRecorder) ExtensionPointBuilt(string, int, time.Duration) {}
func (nopRecorder) ExtensionFailed(string, string)                 {}
func (nopRecorder) RegistrationRejected(string, string)            {}
func (nopRecorder) PluginLoaded(string, bool)                      {}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Unset values take their defaults.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger of the engine and of every area it creates.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRecorder reports registry activity and plugin loads to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClassLoader resolves the implementation names of Go plugins through l instead of a fresh loader.
func WithClassLoader(l *extension.ClassLoader) Option {
	return func(e *Engine) { e.classes = l }
}

// WithHostFunctions adds application host functions to every WebAssembly plugin, next to the engine's own.
func WithHostFunctions(funcs ...extism.HostFunction) Option {
	return func(e *Engine) { e.hostFuncs = append(e.hostFuncs, funcs...) }
}

// New creates an engine with an empty, unlocked application area.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:           logx.Log,
		recorder:      nopRecorder{},
		plugins:       make(map[string]*Plugin),
		projectPoints: make(map[string]bool),
		projects:      make(map[string]*extension.Area),
	}
	for _, opt := range opts {
		opt(e)
	}

	if nil == e.cfg {
		e.cfg = &config.Config{}
	}
	e.cfg.SetDefaults()

	if nil == e.classes {
		e.classes = extension.NewClassLoader(nil)
	}
	extension.RegisterType[lua.Callable](e.classes, lua.CallableClassName)
	extension.RegisterType[wasm.Invoker](e.classes, wasm.InvokerClassName)

	e.host = extension.NewPlugin(HostPluginID, e.classes)
	e.area = extension.NewArea(extension.ScopeApplication, types.AreaApplication, e.areaOptions()...)
	return e
}

func (e *Engine) areaOptions() []extension.AreaOption {
	return []extension.AreaOption{
		extension.WithLogger(e.log),
		extension.WithRecorder(e.recorder),
	}
}

// Classes returns the class loader Go plugins resolve implementation names through. Register host types with it
// before loading plugins that name them.
func (e *Engine) Classes() *extension.ClassLoader { return e.classes }

// Area returns the application extensions area.
func (e *Engine) Area() *extension.Area { return e.area }

// Config returns the effective configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Subscribe registers a listener for engine events.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) emit(events ...types.Event) {
	e.mu.Lock()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			e.notify(l, ev)
		}
	}
}

func (e *Engine) notify(l Listener, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("event", ev.Id).Msg("event listener panicked")
		}
	}()
	l(ev)
}

// Load discovers and loads the plugins under paths, or under the configured plugin paths when none are given,
// then registers every extension whose point is known. Plugins that fail to load are reported in the returned
// error; the others stay loaded.
func (e *Engine) Load(ctx context.Context, paths ...string) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.isClosed() {
		return ErrEngineClosed
	}
	if e.area.IsLocked() {
		return fmt.Errorf("%w: cannot load plugins", extension.ErrLocked)
	}

	if len(paths) == 0 {
		paths = e.cfg.PluginPaths
	}

	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		roots = append(roots, abs)
	}

	found, err := manifest.Discover(roots...)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}

	for _, file := range found.Manifests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.loadManifest(ctx, file); err != nil {
			errs = append(errs, err)
		}
	}
	for _, file := range found.Modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.loadModule(ctx, file); err != nil {
			errs = append(errs, err)
		}
	}

	e.resolve()
	return errors.Join(errs...)
}

func (e *Engine) loadManifest(ctx context.Context, file string) error {
	m, err := manifest.LoadFile(file)
	if err != nil {
		e.failed("", file, types.RuntimeGo, err)
		return err
	}

	details := m.Plugin
	if e.cfg.IsDisabled(details.Id) {
		e.log.Info().Str("plugin", details.Id).Msg("plugin disabled, skipping")
		return nil
	}
	if e.isLoaded(details.Id) {
		err := fmt.Errorf("%w: %s (%s)", ErrPluginLoaded, details.Id, file)
		e.failed(details.Id, file, details.Runtime, err)
		return err
	}

	id := extension.PluginID(details.Id)
	var descriptor extension.PluginDescriptor

	switch details.Runtime {
	case types.RuntimeGo:
		descriptor = extension.NewPluginFromDetails(details, e.classes)
	case types.RuntimeLua:
		lp, err := lua.Load(id, details, m.MainPath(), e.classes)
		if err != nil {
			e.failed(details.Id, file, details.Runtime, err)
			return err
		}
		e.mu.Lock()
		e.luaPlugins = append(e.luaPlugins, lp)
		e.mu.Unlock()
		descriptor = lp
	case types.RuntimeWasm:
		rt, err := e.wasmRuntimeOnce()
		if err != nil {
			e.failed(details.Id, file, details.Runtime, err)
			return err
		}
		wp, err := rt.Load(ctx, details, m.MainPath())
		if err != nil {
			e.failed(details.Id, file, details.Runtime, err)
			return err
		}
		descriptor = wp
	default:
		err := fmt.Errorf("%w: %q", manifest.ErrUnknownRuntime, details.Runtime)
		e.failed(details.Id, file, details.Runtime, err)
		return err
	}

	e.addPlugin(&Plugin{Details: details, Descriptor: descriptor, Path: file})
	return nil
}

func (e *Engine) loadModule(ctx context.Context, file string) error {
	rt, err := e.wasmRuntimeOnce()
	if err != nil {
		e.failed("", file, types.RuntimeWasm, err)
		return err
	}

	wp, err := rt.LoadModule(ctx, file)
	if err != nil {
		e.failed("", file, types.RuntimeWasm, err)
		return err
	}

	details := wp.Details()
	if e.cfg.IsDisabled(details.Id) {
		e.log.Info().Str("plugin", details.Id).Msg("plugin disabled, skipping")
		return wp.Close(ctx)
	}
	if e.isLoaded(details.Id) {
		err := fmt.Errorf("%w: %s (%s)", ErrPluginLoaded, details.Id, file)
		_ = wp.Close(ctx)
		e.failed(details.Id, file, types.RuntimeWasm, err)
		return err
	}

	e.addPlugin(&Plugin{Details: details, Descriptor: wp, Path: file})
	return nil
}

func (e *Engine) failed(id, file, runtime string, err error) {
	e.log.Error().Err(err).Str("plugin", id).Str("path", file).Msg("failed to load plugin")
	e.recorder.PluginLoaded(runtime, false)
	e.emit(types.Event{Id: types.EventPluginFailed, Data: []byte(err.Error()), Source: id, Target: file})
}

// wasmRuntimeOnce returns the WebAssembly runtime, creating it for the first wasm plugin.
func (e *Engine) wasmRuntimeOnce() (*wasm.Runtime, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if nil != e.wasmRuntime {
		return e.wasmRuntime, nil
	}

	rt, err := wasm.NewRuntime(
		wasm.WithWASI(e.cfg.WasmWASI),
		wasm.WithCacheDir(e.cfg.WasmCacheDir),
		wasm.WithHostFunctions(e.hostFuncs...),
		wasm.WithArea(e.Area),
		wasm.WithParentResolver(e.classes),
		wasm.WithLogger(e.log),
	)
	if err != nil {
		return nil, err
	}
	e.wasmRuntime = rt
	return rt, nil
}

func (e *Engine) isLoaded(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.plugins[id]
	return ok
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// addPlugin
//
// Declares the application extension points of the plugin and queues its extensions. A call to resolve() then
// hands every queued extension whose point is declared to that point, so extensions may name points of plugins
// loaded after their own.
func (e *Engine) addPlugin(p *Plugin) {
	id := p.Details.Id

	e.mu.Lock()
	e.plugins[id] = p
	for _, ep := range p.Details.ExtensionPoints {
		if types.NormalizeArea(ep.Area) == types.AreaProject {
			e.projectPoints[ep.FullName(id)] = true
		}
	}
	for i := range p.Details.Extensions {
		e.unresolved = append(e.unresolved, &pendingExtension{
			plugin: p,
			decl:   p.Details.Extensions[i].Declaration(),
		})
	}
	e.mu.Unlock()

	e.declareExtensionPoints(e.area, p, types.AreaApplication)

	e.log.Info().
		Str("plugin", id).
		Str("version", p.Details.Version).
		Str("runtime", p.Details.Runtime).
		Msg("plugin loaded")
	e.recorder.PluginLoaded(p.Details.Runtime, true)
	e.emit(types.Event{Id: types.EventPluginLoaded, Source: id, Target: p.Path})
}

// declareExtensionPoints declares the points of p that belong to area. A malformed point is logged and skipped;
// duplicates are rejected and logged by the area, so the first declaration stays.
func (e *Engine) declareExtensionPoints(area *extension.Area, p *Plugin, areaName string) {
	id := p.Details.Id
	for _, ep := range p.Details.ExtensionPointsFor(areaName) {
		if err := manifest.ValidatePoint(id, ep); err != nil {
			e.log.Warn().
				Err(err).
				Str("plugin", id).
				Msg("extension point skipped")
			e.recorder.RegistrationRejected(ep.FullName(id), id)
			continue
		}
		kind := extension.KindInterface
		if ep.BeanClass != "" {
			kind = extension.KindBeanClass
		}
		_ = area.RegisterExtensionPoint(ep.FullName(id), ep.ClassName(), p.Descriptor, kind)
	}
}

// resolve
//
// Registers every queued extension whose point is declared in the application area. Extensions of project points
// are kept for project areas; the rest stay queued for plugins loaded later. A plugin is resolved once none of
// its extensions is left in the queue.
func (e *Engine) resolve() {
	e.mu.Lock()
	pending := e.unresolved
	e.unresolved = nil
	e.mu.Unlock()

	var leftover []*pendingExtension
	var events []types.Event
	waiting := make(map[*Plugin]bool)

	for _, pe := range pending {
		target := pe.decl.Name
		switch {
		case e.area.HasExtensionPoint(target):
			// a rejected declaration is logged by the area and dropped
			_ = e.area.RegisterExtension(pe.plugin.Descriptor, pe.decl)
		case e.isProjectPoint(target):
			e.mu.Lock()
			e.projectExts = append(e.projectExts, pe)
			e.mu.Unlock()
		default:
			e.log.Debug().
				Str("plugin", pe.plugin.Details.Id).
				Str("extensionPoint", target).
				Msg("extension point not yet loaded")
			leftover = append(leftover, pe)
			waiting[pe.plugin] = true
			events = append(events, types.Event{Id: types.EventExtensionUnresolved, Source: pe.plugin.Details.Id, Target: target})
		}
	}

	e.mu.Lock()
	e.unresolved = append(leftover, e.unresolved...)
	for _, p := range e.plugins {
		p.Resolved = !waiting[p]
	}
	e.mu.Unlock()

	e.emit(events...)
}

func (e *Engine) isProjectPoint(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectPoints[name]
}

// Lock resolves what is still queued, locks the application area and builds the extension points declared with
// startOnLoad. Extensions still unresolved are logged and dropped from the queue.
func (e *Engine) Lock(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.area.IsLocked() {
		return nil
	}

	e.resolve()

	e.mu.Lock()
	unresolved := e.unresolved
	e.unresolved = nil
	plugins := e.sortedPluginsLocked()
	e.mu.Unlock()

	for _, pe := range unresolved {
		e.log.Warn().
			Str("plugin", pe.plugin.Details.Id).
			Str("extensionPoint", pe.decl.Name).
			Msg("extension of unknown extension point dropped")
	}

	e.area.SetLocked()
	e.emit(types.Event{Id: types.EventAreaLocked, Target: e.area.Name()})

	for _, p := range plugins {
		for _, ep := range p.Details.ExtensionPointsFor(types.AreaApplication) {
			if !ep.StartOnLoad {
				continue
			}
			point, err := e.area.ExtensionPoint(ep.FullName(p.Details.Id))
			if err != nil {
				continue
			}
			if _, err := point.Extensions(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegisterHostExtensionPoint
//
// Declares an extension point owned by the host application. The contract is usually a Go interface, see
// extension.ClassOf. Plugins contribute to it by naming it in their extensions.
func (e *Engine) RegisterHostExtensionPoint(name string, contract extension.Class, kind extension.Kind) error {
	return e.area.RegisterExtensionPointClass(name, contract, e.host, kind)
}

// RegisterExtension registers an extension instance created by the host application.
func (e *Engine) RegisterExtension(point string, instance any, order, id string) error {
	return e.area.RegisterExtensionInstance(e.host, point, instance, order, id)
}

// Extensions returns the built extension list of a point of the application area.
func (e *Engine) Extensions(ctx context.Context, point string) ([]any, error) {
	p, err := e.area.ExtensionPoint(point)
	if err != nil {
		return nil, err
	}
	return p.Extensions(ctx)
}

// CallExtension invokes an invocable extension of a point: the first one for "point", the exported function for
// "point#function".
func (e *Engine) CallExtension(ctx context.Context, point, function string, data []byte) ([]byte, error) {
	list, err := e.Extensions(ctx, point)
	if err != nil {
		return nil, err
	}
	inv, err := wasm.FindInvoker(list, function)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", point, err)
	}
	return inv.Invoke(data)
}

// NewProjectArea returns the project area called name, creating it with the project scoped extension points of
// every loaded plugin and their extensions. The area is left unlocked for the caller to add its own.
func (e *Engine) NewProjectArea(name string) (*extension.Area, error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if area, ok := e.projects[name]; ok {
		e.mu.Unlock()
		return area, nil
	}
	plugins := e.sortedPluginsLocked()
	exts := append([]*pendingExtension(nil), e.projectExts...)
	e.mu.Unlock()

	area := extension.NewArea(extension.ScopeProject, name, e.areaOptions()...)
	for _, p := range plugins {
		e.declareExtensionPoints(area, p, types.AreaProject)
	}
	for _, pe := range exts {
		_ = area.RegisterExtension(pe.plugin.Descriptor, pe.decl)
	}

	e.mu.Lock()
	e.projects[name] = area
	e.mu.Unlock()
	return area, nil
}

// GetPlugins returns the loaded plugins by id.
func (e *Engine) GetPlugins() map[string]*Plugin {
	e.mu.Lock()
	defer e.mu.Unlock()
	plugins := make(map[string]*Plugin, len(e.plugins))
	for id, p := range e.plugins {
		plugins[id] = p
	}
	return plugins
}

// GetPlugin returns a loaded plugin.
func (e *Engine) GetPlugin(id string) (*Plugin, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plugins[id]
	return p, ok
}

// Unresolved returns the extensions still waiting for their extension point, as "plugin -> point" pairs.
func (e *Engine) Unresolved() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.unresolved))
	for _, pe := range e.unresolved {
		out = append(out, pe.plugin.Details.Id+" -> "+pe.decl.Name)
	}
	return out
}

func (e *Engine) sortedPluginsLocked() []*Plugin {
	plugins := make([]*Plugin, 0, len(e.plugins))
	for _, p := range e.plugins {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Details.Id < plugins[j].Details.Id
	})
	return plugins
}

// Close releases the Lua states and WebAssembly instances of every plugin. Extensions already handed out must
// not be used afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	luaPlugins := e.luaPlugins
	rt := e.wasmRuntime
	e.luaPlugins, e.wasmRuntime = nil, nil
	e.mu.Unlock()

	for _, lp := range luaPlugins {
		lp.Close()
	}
	if nil != rt {
		return rt.Close(ctx)
	}
	return nil
}
