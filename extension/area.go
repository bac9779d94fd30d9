package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spirefy/go-extension-engine/internal/logx"
	"github.com/spirefy/go-extension-engine/types"
)

// Scope is the component scope an area belongs to.
type Scope string

// Scopes.
const (
	ScopeApplication Scope = "application"
	ScopeProject     Scope = "project"
)

// CancelProbe reports a pending cancellation by returning a non-nil error, usually ErrCanceled.
type CancelProbe func() error

// Recorder observes builds and failures. See the metrics package for a Prometheus implementation.
type Recorder interface {
	ExtensionPointBuilt(point string, extensions int, took time.Duration)
	ExtensionFailed(point, plugin string)
	RegistrationRejected(point, plugin string)
}

type nopRecorder struct{}

func (nopRecorder) ExtensionPointBuilt(string, int, time.Duration) {}
func (nopRecorder) ExtensionFailed(string, string)                 {}
func (nopRecorder) RegistrationRejected(string, string)            {}

// Area owns the extension points of one component scope.
//
// Points and extensions are registered while the scope starts up, from a single goroutine; SetLocked then
// freezes the area. Reading extension lists is safe from any number of goroutines at any time.
type Area struct {
	id    string
	scope Scope
	name  string

	log          zerolog.Logger
	factory      InstanceFactory
	deserializer Deserializer
	probe        CancelProbe
	recorder     Recorder

	mu     sync.RWMutex
	points map[string]*ExtensionPoint
	locked atomic.Bool
}

// AreaOption configures an Area.
type AreaOption func(*Area)

// WithLogger sets the logger registration and build failures are reported to.
func WithLogger(l zerolog.Logger) AreaOption {
	return func(a *Area) {
		a.log = l
	}
}

// WithInstanceFactory replaces NewInstance, for example with a dependency injection container.
func WithInstanceFactory(f InstanceFactory) AreaOption {
	return func(a *Area) {
		a.factory = f
	}
}

// WithDeserializer replaces DecodeElement.
func WithDeserializer(d Deserializer) AreaOption {
	return func(a *Area) {
		a.deserializer = d
	}
}

// WithCancelProbe sets a probe consulted, next to the context, before and after each materialization.
func WithCancelProbe(p CancelProbe) AreaOption {
	return func(a *Area) {
		a.probe = p
	}
}

// WithRecorder sets the build and failure observer.
func WithRecorder(r Recorder) AreaOption {
	return func(a *Area) {
		if nil != r {
			a.recorder = r
		}
	}
}

var coreClasses = func() *ClassLoader {
	l := NewClassLoader(nil)
	RegisterType[Extender](l, ExtenderClassName)
	return l
}()

var corePlugin = NewPlugin(CorePluginID, coreClasses)

// NewArea creates an unlocked area. Every area declares the extender point itself.
func NewArea(scope Scope, name string, opts ...AreaOption) *Area {
	a := &Area{
		id:           uuid.NewString(),
		scope:        scope,
		name:         name,
		log:          logx.Log,
		factory:      NewInstance,
		deserializer: DecodeElement,
		recorder:     nopRecorder{},
		points:       make(map[string]*ExtensionPoint),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.log = a.log.With().Str("area", name).Str("areaId", a.id).Str("scope", string(scope)).Logger()

	extenderClass, _ := coreClasses.ResolveClass(ExtenderClassName)
	a.points[ExtenderPointName] = newExtensionPoint(a, ExtenderPointName, ExtenderClassName, corePlugin, KindInterface, extenderClass)

	return a
}

// ID returns the unique id of this area instance.
func (a *Area) ID() string { return a.id }

// Scope returns the component scope.
func (a *Area) Scope() Scope { return a.scope }

// Name returns the area name, such as a project name.
func (a *Area) Name() string { return a.name }

// Logger returns the area logger.
func (a *Area) Logger() zerolog.Logger { return a.log }

// IsLocked reports whether the area was locked.
func (a *Area) IsLocked() bool { return a.locked.Load() }

// RegisterExtensionPoint declares a point whose contract class is resolved through plugin when the point is
// first built. A name that is already declared is rejected and the existing point is kept.
func (a *Area) RegisterExtensionPoint(name, contractClassName string, plugin PluginDescriptor, kind Kind) error {
	return a.declare(name, contractClassName, plugin, kind, nil)
}

// RegisterExtensionPointClass declares a point with an already resolved contract, typically a host application
// interface.
func (a *Area) RegisterExtensionPointClass(name string, contract Class, plugin PluginDescriptor, kind Kind) error {
	if nil == plugin {
		plugin = corePlugin
	}
	return a.declare(name, contract.Name(), plugin, kind, contract)
}

func (a *Area) declare(name, className string, plugin PluginDescriptor, kind Kind, contract Class) error {
	if a.locked.Load() {
		err := fmt.Errorf("%w: cannot declare %s", ErrLocked, name)
		a.reject(err, name, plugin, "extension point declared after lock")
		return err
	}

	a.mu.Lock()
	existing, exists := a.points[name]
	if !exists {
		a.points[name] = newExtensionPoint(a, name, className, plugin, kind, contract)
	}
	a.mu.Unlock()

	if exists {
		err := fmt.Errorf("%w: %s (declared by %s)", ErrDuplicateExtensionPoint, name, pluginID(existing.plugin))
		a.reject(err, name, plugin, "duplicate extension point")
		return err
	}

	a.log.Debug().
		Str("extensionPoint", name).
		Str("plugin", pluginID(plugin)).
		Str("kind", kind.String()).
		Msg("extension point declared")
	return nil
}

// RegisterExtension registers a declaration with the point named by el.Name. Declarations that cannot be
// registered are logged and dropped; the error is returned for callers that want to report it.
func (a *Area) RegisterExtension(plugin PluginDescriptor, el *types.Element) error {
	if nil == el {
		return fmt.Errorf("%w: nil declaration", ErrUnknownExtensionPoint)
	}
	name := el.Name

	if a.locked.Load() {
		err := fmt.Errorf("%w: cannot register extension of %s", ErrLocked, name)
		a.reject(err, name, plugin, "extension registered after lock")
		return err
	}

	p, ok := a.lookup(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownExtensionPoint, name)
		a.reject(err, name, plugin, "extension of unknown extension point")
		return err
	}

	if err := p.RegisterExtension(plugin, el); err != nil {
		a.reject(err, name, plugin, "cannot register extension")
		return err
	}
	return nil
}

// RegisterExtensionInstance registers an already created extension with the named point.
func (a *Area) RegisterExtensionInstance(plugin PluginDescriptor, point string, instance any, order, id string) error {
	if a.locked.Load() {
		err := fmt.Errorf("%w: cannot register extension of %s", ErrLocked, point)
		a.reject(err, point, plugin, "extension registered after lock")
		return err
	}
	if nil == instance {
		err := fmt.Errorf("nil extension instance for %s", point)
		a.reject(err, point, plugin, "cannot register extension")
		return err
	}

	p, ok := a.lookup(point)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownExtensionPoint, point)
		a.reject(err, point, plugin, "extension of unknown extension point")
		return err
	}

	if err := p.RegisterAdapter(NewInstanceAdapter(plugin, instance, id, ParseLoadingOrder(order))); err != nil {
		a.reject(err, point, plugin, "cannot register extension")
		return err
	}
	return nil
}

func (a *Area) reject(err error, point string, plugin PluginDescriptor, msg string) {
	a.log.Error().Err(err).
		Str("extensionPoint", point).
		Str("plugin", pluginID(plugin)).
		Msg(msg)
	a.recorder.RegistrationRejected(point, pluginID(plugin))
}

// SetLocked freezes the area and every point declared so far.
func (a *Area) SetLocked() {
	a.locked.Store(true)

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.points {
		p.SetLocked()
	}
}

func (a *Area) lookup(name string) (*ExtensionPoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.points[name]
	return p, ok
}

// HasExtensionPoint reports whether name is declared.
func (a *Area) HasExtensionPoint(name string) bool {
	_, ok := a.lookup(name)
	return ok
}

// ExtensionPoint returns the named point or ErrUnknownExtensionPoint.
func (a *Area) ExtensionPoint(name string) (*ExtensionPoint, error) {
	p, ok := a.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtensionPoint, name)
	}
	return p, nil
}

// MustExtensionPoint returns the named point and panics if it is not declared. Use it for points the platform
// itself declares, where a missing point is a bug.
func (a *Area) MustExtensionPoint(name string) *ExtensionPoint {
	p, err := a.ExtensionPoint(name)
	if err != nil {
		panic(err)
	}
	return p
}

// ExtensionPointOrEmpty returns the named point or, when it is not declared, logs the problem and returns a
// locked point without extensions.
func (a *Area) ExtensionPointOrEmpty(name string) *ExtensionPoint {
	if p, ok := a.lookup(name); ok {
		return p
	}
	a.log.Error().Str("extensionPoint", name).Msg("unknown extension point, using an empty one")

	p := newExtensionPoint(a, name, "", nil, KindInterface, nil)
	p.cache.Store(builtSnapshot(nil))
	p.SetLocked()
	return p
}

// ExtensionPoints returns every declared point, sorted by name.
func (a *Area) ExtensionPoints() []*ExtensionPoint {
	a.mu.RLock()
	points := make([]*ExtensionPoint, 0, len(a.points))
	for _, p := range a.points {
		points = append(points, p)
	}
	a.mu.RUnlock()

	sort.Slice(points, func(i, j int) bool {
		return points[i].name < points[j].name
	})
	return points
}

func (a *Area) checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if nil != a.probe {
		return a.probe()
	}
	return nil
}

// extendersFor returns the extenders contributing to the named point.
func (a *Area) extendersFor(ctx context.Context, name string) ([]Extender, error) {
	ep, ok := a.lookup(ExtenderPointName)
	if !ok {
		return nil, nil
	}
	list, err := ep.Extensions(ctx)
	if err != nil {
		return nil, err
	}

	var extenders []Extender
	for _, v := range list {
		if ext, ok := v.(Extender); ok && ext.Target() == name {
			extenders = append(extenders, ext)
		}
	}
	return extenders, nil
}

func (a *Area) hasExtenders(ctx context.Context, name string) (bool, error) {
	extenders, err := a.extendersFor(ctx, name)
	if err != nil {
		return false, err
	}
	return len(extenders) > 0, nil
}

func (a *Area) String() string {
	return fmt.Sprintf("%s area %s", a.scope, a.name)
}
