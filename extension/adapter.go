package extension

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/spirefy/go-extension-engine/types"
)

// Reserved declaration attributes. Any other attribute, or any child content, makes a declaration carry data
// that has to be decoded onto the created instance.
const (
	AttrImplementation = "implementation"
	AttrID             = "id"
	AttrOrder          = "order"
)

var reservedAttributes = map[string]bool{
	AttrImplementation: true,
	AttrID:             true,
	AttrOrder:          true,
}

// NeedsDeserialization reports whether a declaration carries anything beyond the reserved bookkeeping
// attributes. Marker declarations skip decoding entirely.
func NeedsDeserialization(el *types.Element) bool {
	if nil == el {
		return false
	}
	if len(el.Children) > 0 || el.Text != "" {
		return true
	}
	for k := range el.Attributes {
		if !reservedAttributes[k] {
			return true
		}
	}
	return false
}

type classBox struct{ class Class }

type instanceBox struct{ instance any }

// Adapter is the lazy handle to one registered extension. It resolves the implementation class and creates the
// instance on first use, then keeps the instance for the lifetime of the area.
type Adapter struct {
	implementation string
	plugin         PluginDescriptor
	resolver       ClassResolver
	element        *types.Element
	orderID        string
	order          LoadingOrder
	decode         bool

	class    atomic.Pointer[classBox]
	instance atomic.Pointer[instanceBox]
}

// NewAdapter creates an adapter for a declaration of plugin. The implementation class is resolved through the
// plugin itself.
func NewAdapter(implementation string, plugin PluginDescriptor, el *types.Element, orderID string, order LoadingOrder) *Adapter {
	return &Adapter{
		implementation: implementation,
		plugin:         plugin,
		resolver:       plugin,
		element:        el,
		orderID:        orderID,
		order:          order,
		decode:         NeedsDeserialization(el),
	}
}

// NewInstanceAdapter wraps an already created extension. The adapter starts materialized.
func NewInstanceAdapter(plugin PluginDescriptor, instance any, orderID string, order LoadingOrder) *Adapter {
	t := reflect.TypeOf(instance)
	a := &Adapter{
		implementation: fmt.Sprint(t),
		plugin:         plugin,
		resolver:       plugin,
		orderID:        orderID,
		order:          order,
	}
	a.class.Store(&classBox{class: NewClass(a.implementation, t)})
	a.instance.Store(&instanceBox{instance: instance})
	return a
}

// Implementation returns the implementation class name.
func (a *Adapter) Implementation() string { return a.implementation }

// Plugin returns the declaring plugin.
func (a *Adapter) Plugin() PluginDescriptor { return a.plugin }

// Element returns the raw declaration, nil for instance adapters.
func (a *Adapter) Element() *types.Element { return a.element }

// OrderID implements Orderable.
func (a *Adapter) OrderID() string { return a.orderID }

// LoadingOrder implements Orderable.
func (a *Adapter) LoadingOrder() LoadingOrder { return a.order }

// NeedsDeserialization reports whether materialization decodes the declaration onto the instance.
func (a *Adapter) NeedsDeserialization() bool { return a.decode }

// IsMaterialized reports whether the instance has been created.
func (a *Adapter) IsMaterialized() bool { return nil != a.instance.Load() }

// ImplementationClass resolves the implementation class, once. A failure is returned as a
// *ClassResolutionError and is not remembered, so a later call tries again.
func (a *Adapter) ImplementationClass() (Class, error) {
	if box := a.class.Load(); nil != box {
		return box.class, nil
	}
	if nil == a.resolver {
		return nil, &ClassResolutionError{ClassName: a.implementation, PluginID: PluginID(pluginID(a.plugin)), Err: ErrClassNotFound}
	}
	c, err := a.resolver.ResolveClass(a.implementation)
	if err != nil {
		return nil, &ClassResolutionError{ClassName: a.implementation, PluginID: PluginID(pluginID(a.plugin)), Err: err}
	}
	a.class.CompareAndSwap(nil, &classBox{class: c})
	return a.class.Load().class, nil
}

// Materialize returns the extension instance, creating it on first use.
//
// Creation resolves the implementation class, asks factory for an unbound instance and, when the declaration
// carries data, applies it with decode. A class that is the declaration type itself yields the declaration. Any
// failure, including a panic, comes back as an *InitializationError; a cancellation error comes back unwrapped.
// Nothing is kept on failure. Concurrent first calls may both create an instance; the first one published wins
// and is returned to every caller.
func (a *Adapter) Materialize(factory InstanceFactory, decode Deserializer) (any, error) {
	if box := a.instance.Load(); nil != box {
		return box.instance, nil
	}

	instance, err := a.create(factory, decode)
	if err != nil {
		return nil, err
	}

	if aware, ok := instance.(PluginAware); ok && nil != a.plugin {
		aware.SetPluginDescriptor(a.plugin)
	}

	if !a.instance.CompareAndSwap(nil, &instanceBox{instance: instance}) {
		return a.instance.Load().instance, nil
	}
	return instance, nil
}

func (a *Adapter) create(factory InstanceFactory, decode Deserializer) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := recovered(r)
			if IsCanceled(perr) {
				instance, err = nil, perr
				return
			}
			instance, err = nil, a.initError(perr)
		}
	}()

	class, err := a.ImplementationClass()
	if err != nil {
		return nil, a.initError(err)
	}

	if class.Type() == elementType && nil != a.element {
		return a.element, nil
	}

	if nil == factory {
		factory = NewInstance
	}
	instance, err = factory(class)
	if err != nil {
		if IsCanceled(err) {
			return nil, err
		}
		return nil, a.initError(err)
	}
	if nil == instance {
		return nil, a.initError(fmt.Errorf("instance factory returned nil for %s", class.Name()))
	}

	if a.decode && nil != decode {
		if err := decode(instance, a.element); err != nil {
			if IsCanceled(err) {
				return nil, err
			}
			return nil, a.initError(fmt.Errorf("decode declaration: %w", err))
		}
	}

	return instance, nil
}

func (a *Adapter) initError(err error) error {
	return &InitializationError{
		PluginID:       PluginID(pluginID(a.plugin)),
		Implementation: a.implementation,
		Err:            err,
	}
}

func (a *Adapter) String() string {
	return fmt.Sprintf("%s (plugin %s, order %s)", a.implementation, pluginID(a.plugin), a.order)
}
