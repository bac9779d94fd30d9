package extension

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spirefy/go-extension-engine/types"
)

// Kind is the kind of contract an extension point declares.
type Kind int

const (
	// KindInterface points declare an interface; each extension names its own implementation class.
	KindInterface Kind = iota

	// KindBeanClass points declare a concrete class; every extension is an instance of it configured from the
	// declaration.
	KindBeanClass
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInterface:
		return "interface"
	case KindBeanClass:
		return "bean"
	default:
		return "unknown"
	}
}

// snapshot is the immutable cache state of a point. Exactly one of extensions and adapters is non-nil: a built
// point has its list (and a lookup cache that lives and dies with it), a buildable point has its adapters.
type snapshot struct {
	extensions []any
	adapters   []*Adapter
	lookup     *sync.Map
}

func (s *snapshot) built() bool {
	return nil != s.extensions
}

func builtSnapshot(list []any) *snapshot {
	if nil == list {
		list = make([]any, 0)
	}
	return &snapshot{extensions: list, lookup: &sync.Map{}}
}

// missing is the lookup cache entry for "no extension of this type".
type missing struct{}

// ExtensionPoint is one named extensibility slot of an area.
//
// Adapters are appended while the application starts. The first call to Extensions sorts them by loading order,
// materializes them and caches the resulting list; from then on the point only serves the cached list. Reads take
// no locks: the cache is a single atomically swapped snapshot and racing first builds produce equivalent lists.
type ExtensionPoint struct {
	name      string
	className string
	plugin    PluginDescriptor
	kind      Kind
	area      *Area

	contract atomic.Pointer[classBox]
	cache    atomic.Pointer[snapshot]
	locked   atomic.Bool
}

func newExtensionPoint(area *Area, name, className string, plugin PluginDescriptor, kind Kind, contract Class) *ExtensionPoint {
	p := &ExtensionPoint{
		name:      name,
		className: className,
		plugin:    plugin,
		kind:      kind,
		area:      area,
	}
	if nil != contract {
		p.contract.Store(&classBox{class: contract})
	}
	p.cache.Store(&snapshot{adapters: make([]*Adapter, 0)})
	return p
}

// Name returns the qualified name.
func (p *ExtensionPoint) Name() string { return p.name }

// Kind returns the contract kind.
func (p *ExtensionPoint) Kind() Kind { return p.kind }

// Plugin returns the declaring plugin.
func (p *ExtensionPoint) Plugin() PluginDescriptor { return p.plugin }

// ContractClassName returns the declared contract class name.
func (p *ExtensionPoint) ContractClassName() string { return p.className }

// Area returns the owning area.
func (p *ExtensionPoint) Area() *Area { return p.area }

// IsLocked reports whether adapters can no longer be registered.
func (p *ExtensionPoint) IsLocked() bool { return p.locked.Load() }

// IsBuilt reports whether the extension list is cached.
func (p *ExtensionPoint) IsBuilt() bool { return p.cache.Load().built() }

// SetLocked forbids further adapter registration. Calling it again has no effect.
func (p *ExtensionPoint) SetLocked() {
	p.locked.Store(true)
}

// Contract resolves the contract class through the declaring plugin, once.
func (p *ExtensionPoint) Contract() (Class, error) {
	if box := p.contract.Load(); nil != box {
		return box.class, nil
	}
	if nil == p.plugin {
		return nil, &ClassResolutionError{ClassName: p.className, Err: ErrClassNotFound}
	}
	c, err := p.plugin.ResolveClass(p.className)
	if err != nil {
		return nil, &ClassResolutionError{ClassName: p.className, PluginID: p.plugin.PluginID(), Err: err}
	}
	p.contract.CompareAndSwap(nil, &classBox{class: c})
	return p.contract.Load().class, nil
}

// ResolveClass resolves the bean class of the point; bean extensions are created through it.
func (p *ExtensionPoint) ResolveClass(string) (Class, error) {
	return p.Contract()
}

// RegisterAdapter appends an adapter. It fails with ErrLocked once the point is locked and with ErrAlreadyBuilt
// once the list has been built.
func (p *ExtensionPoint) RegisterAdapter(a *Adapter) error {
	if p.locked.Load() {
		return fmt.Errorf("%w: %s", ErrLocked, p.name)
	}
	for {
		s := p.cache.Load()
		if s.built() {
			return fmt.Errorf("%w: %s", ErrAlreadyBuilt, p.name)
		}
		adapters := make([]*Adapter, len(s.adapters), len(s.adapters)+1)
		copy(adapters, s.adapters)
		adapters = append(adapters, a)
		if p.cache.CompareAndSwap(s, &snapshot{adapters: adapters}) {
			return nil
		}
	}
}

// Adapters returns the registered adapters in loading order, or nil once the point is built.
func (p *ExtensionPoint) Adapters() []*Adapter {
	s := p.cache.Load()
	if s.built() {
		return nil
	}
	return SortByLoadingOrder(s.adapters)
}

// Extensions returns the extension list, building and caching it on first use.
//
// The returned slice is shared by every caller and must not be modified. The only error is a cancellation signal
// from ctx or the area's CancelProbe; the build is then abandoned and the next call starts over.
func (p *ExtensionPoint) Extensions(ctx context.Context) ([]any, error) {
	for {
		s := p.cache.Load()
		if s.built() {
			return s.extensions, nil
		}

		start := time.Now()
		list, err := p.build(ctx, s.adapters)
		if err != nil {
			return nil, err
		}

		if p.cache.CompareAndSwap(s, builtSnapshot(list)) {
			p.area.recorder.ExtensionPointBuilt(p.name, len(list), time.Since(start))
			return list, nil
		}
		// lost to a concurrent build or registration: use or rebuild from the newer state
	}
}

func (p *ExtensionPoint) build(ctx context.Context, adapters []*Adapter) ([]any, error) {
	a := p.area
	if err := a.checkCanceled(ctx); err != nil {
		return nil, err
	}

	contract, err := p.Contract()
	if err != nil {
		a.log.Error().Err(err).
			Str("extensionPoint", p.name).
			Str("plugin", pluginID(p.plugin)).
			Msg("cannot resolve extension point contract, point has no extensions")
		return make([]any, 0), nil
	}

	sorted := SortByLoadingOrder(adapters)
	result := make([]any, 0, len(sorted))
	seen := newIdentitySet()

	for _, adapter := range sorted {
		if err := a.checkCanceled(ctx); err != nil {
			return nil, err
		}

		instance, err := adapter.Materialize(a.factory, a.deserializer)
		if err != nil {
			if IsCanceled(err) {
				return nil, err
			}
			p.logFailure(adapter, err, "cannot create extension")
			continue
		}

		if !assignable(instance, contract.Type()) {
			p.logFailure(adapter, fmt.Errorf("%T does not implement %s", instance, contract.Type()), "extension does not match contract")
			continue
		}

		if !seen.add(instance) {
			p.logFailure(adapter, fmt.Errorf("%T already registered", instance), "duplicate extension")
			continue
		}

		result = append(result, instance)

		if err := a.checkCanceled(ctx); err != nil {
			return nil, err
		}
	}

	if p.name == ExtenderPointName {
		return result, nil
	}

	extenders, err := a.extendersFor(ctx, p.name)
	if err != nil {
		return nil, err
	}
	for _, ext := range extenders {
		if err := p.extend(ext, &result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// extend runs one extender. A panicking extender contributes nothing.
func (p *ExtensionPoint) extend(ext Extender, result *[]any) (err error) {
	mark := len(*result)
	defer func() {
		if r := recover(); r != nil {
			perr := recovered(r)
			*result = (*result)[:mark]
			if IsCanceled(perr) {
				err = perr
				return
			}
			p.area.log.Error().Err(perr).
				Str("extensionPoint", p.name).
				Str("extender", fmt.Sprintf("%T", ext)).
				Msg("extender failed")
			p.area.recorder.ExtensionFailed(p.name, "")
		}
	}()

	ext.Extend(p.area, func(v any) {
		if nil != v {
			*result = append(*result, v)
		}
	})
	return nil
}

func (p *ExtensionPoint) logFailure(adapter *Adapter, err error, msg string) {
	p.area.log.Error().Err(err).
		Str("extensionPoint", p.name).
		Str("plugin", pluginID(adapter.plugin)).
		Str("implementation", adapter.implementation).
		Msg(msg)
	p.area.recorder.ExtensionFailed(p.name, pluginID(adapter.plugin))
}

// HasAnyExtensions reports whether the point has extensions, building it only when that cannot be avoided:
// a built point answers from its list, a point targeted by an extender has to be built, and any other point
// answers from its registered adapters.
func (p *ExtensionPoint) HasAnyExtensions(ctx context.Context) (bool, error) {
	s := p.cache.Load()
	if s.built() {
		return len(s.extensions) > 0, nil
	}

	if p.name != ExtenderPointName {
		extended, err := p.area.hasExtenders(ctx, p.name)
		if err != nil {
			return false, err
		}
		if extended {
			list, err := p.Extensions(ctx)
			if err != nil {
				return false, err
			}
			return len(list) > 0, nil
		}
	}

	return len(s.adapters) > 0, nil
}

// FindExtension returns the first extension assignable to subtype, or nil. Answers, including misses, are
// memoized until the list is replaced.
func (p *ExtensionPoint) FindExtension(ctx context.Context, subtype reflect.Type) (any, error) {
	if _, err := p.Extensions(ctx); err != nil {
		return nil, err
	}
	s := p.cache.Load()

	if v, ok := s.lookup.Load(subtype); ok {
		if _, miss := v.(missing); miss {
			return nil, nil
		}
		return v, nil
	}

	var found any = missing{}
	for _, e := range s.extensions {
		if t := reflect.TypeOf(e); nil != t && t.AssignableTo(subtype) {
			found = e
			break
		}
	}

	v, _ := s.lookup.LoadOrStore(subtype, found)
	if _, miss := v.(missing); miss {
		return nil, nil
	}
	return v, nil
}

// SetExtensionCache installs a list computed elsewhere, dropping the adapters as a build would.
func (p *ExtensionPoint) SetExtensionCache(list []any) {
	cached := make([]any, len(list))
	copy(cached, list)
	p.cache.Store(builtSnapshot(cached))
}

// RegisterExtension wraps a declaration into an adapter and registers it. The point's kind decides the
// implementation class: interface points read it from the declaration, bean points use their own class.
func (p *ExtensionPoint) RegisterExtension(plugin PluginDescriptor, el *types.Element) error {
	var adapter *Adapter
	switch p.kind {
	case KindBeanClass:
		adapter = NewAdapter(p.className, plugin, el, el.Attr(AttrID), ParseLoadingOrder(el.Attr(AttrOrder)))
		adapter.resolver = p
	default:
		impl := el.Attr(AttrImplementation)
		if impl == "" {
			return fmt.Errorf("%w: extension of %s", ErrMissingImplementation, p.name)
		}
		adapter = NewAdapter(impl, plugin, el, el.Attr(AttrID), ParseLoadingOrder(el.Attr(AttrOrder)))
	}
	return p.RegisterAdapter(adapter)
}

func (p *ExtensionPoint) String() string {
	return fmt.Sprintf("%s (%s %s)", p.name, p.kind, p.className)
}

// identitySet detects reference duplicates. Only reference-like values have an identity. Pointers to zero-sized
// values of one type may share an address and collapse into one entry.
type identitySet struct {
	seen map[identity]struct{}
}

type identity struct {
	t reflect.Type
	p uintptr
}

func newIdentitySet() *identitySet {
	return &identitySet{seen: make(map[identity]struct{})}
}

// add records v and reports false if v was already recorded.
func (s *identitySet) add(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
	default:
		return true
	}
	key := identity{t: rv.Type(), p: rv.Pointer()}
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}
