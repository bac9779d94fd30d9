package extension

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/spirefy/go-extension-engine/types"
)

// ElementClassName is the class name under which every ClassLoader knows the raw declaration type. A bean point
// declared with it receives each declaration element verbatim.
const ElementClassName = "extension.Element"

var elementType = reflect.TypeOf((*types.Element)(nil))

// Class is a resolved implementation or contract type.
type Class interface {
	Name() string
	Type() reflect.Type
}

// Instantiator is implemented by classes that construct their own instances, such as script-backed classes
// whose instances all share one Go type.
type Instantiator interface {
	NewInstance() (any, error)
}

// ClassResolver turns class names into classes. Each plugin descriptor is one.
type ClassResolver interface {
	ResolveClass(name string) (Class, error)
}

// InstanceFactory creates an unbound instance of a class.
type InstanceFactory func(Class) (any, error)

// Deserializer applies the values of a declaration onto a freshly created instance.
type Deserializer func(instance any, el *types.Element) error

type goClass struct {
	name string
	typ  reflect.Type
}

func (c goClass) Name() string       { return c.name }
func (c goClass) Type() reflect.Type { return c.typ }

func (c goClass) String() string {
	return fmt.Sprintf("%s(%s)", c.name, c.typ)
}

// NewClass returns a class backed by a Go type.
func NewClass(name string, t reflect.Type) Class {
	return goClass{name: name, typ: t}
}

// ClassOf returns the class of T. Use a pointer type for implementations and beans, an interface type for
// contracts.
func ClassOf[T any](name string) Class {
	return goClass{name: name, typ: reflect.TypeOf((*T)(nil)).Elem()}
}

// ElementClass is the class of the raw declaration payload.
func ElementClass() Class {
	return goClass{name: ElementClassName, typ: elementType}
}

// ClassLoader resolves names registered by the host application to Go types. A loader may delegate names it does
// not know to a parent.
type ClassLoader struct {
	mu      sync.RWMutex
	classes map[string]Class
	parent  ClassResolver
}

// NewClassLoader creates a loader that falls back to parent, which may be nil.
func NewClassLoader(parent ClassResolver) *ClassLoader {
	l := &ClassLoader{
		classes: make(map[string]Class),
		parent:  parent,
	}
	l.classes[ElementClassName] = ElementClass()
	return l
}

// RegisterClass makes c resolvable by its name, replacing any previous class of that name.
func (l *ClassLoader) RegisterClass(c Class) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.classes[c.Name()] = c
}

// Register makes the dynamic type of sample resolvable under name.
func (l *ClassLoader) Register(name string, sample any) {
	l.RegisterClass(NewClass(name, reflect.TypeOf(sample)))
}

// RegisterType makes T resolvable under name.
func RegisterType[T any](l *ClassLoader, name string) {
	l.RegisterClass(ClassOf[T](name))
}

// ResolveClass implements ClassResolver.
func (l *ClassLoader) ResolveClass(name string) (Class, error) {
	l.mu.RLock()
	c, ok := l.classes[name]
	l.mu.RUnlock()
	if ok {
		return c, nil
	}
	if nil != l.parent {
		return l.parent.ResolveClass(name)
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

// Names returns the names registered directly on this loader, sorted.
func (l *ClassLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.classes))
	for name := range l.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewInstance is the default InstanceFactory. Classes implementing Instantiator construct themselves; otherwise
// a pointer class yields a pointer to a new zero value and any other concrete class yields its zero value.
func NewInstance(c Class) (any, error) {
	if in, ok := c.(Instantiator); ok {
		return in.NewInstance()
	}
	t := c.Type()
	if nil == t {
		return nil, fmt.Errorf("%w: %s has no type", ErrNotInstantiable, c.Name())
	}
	switch t.Kind() {
	case reflect.Pointer:
		return reflect.New(t.Elem()).Interface(), nil
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotInstantiable, c.Name(), t)
	default:
		return reflect.New(t).Elem().Interface(), nil
	}
}

// DecodeElement is the default Deserializer. It decodes the declaration onto instance through its yaml node form,
// so implementation types configure themselves with ordinary yaml struct tags.
func DecodeElement(instance any, el *types.Element) error {
	if reflect.ValueOf(instance).Kind() != reflect.Pointer {
		return fmt.Errorf("cannot decode declaration onto non-pointer %T", instance)
	}
	return el.Decode(instance)
}

// assignable reports whether instance satisfies the contract type.
func assignable(instance any, contract reflect.Type) bool {
	if nil == instance {
		return false
	}
	if nil == contract {
		return true
	}
	return reflect.TypeOf(instance).AssignableTo(contract)
}
