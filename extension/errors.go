package extension

import (
	"context"
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrLocked is returned when registering into a locked area or extension point.
	ErrLocked = errors.New("extensions area is locked")

	// ErrAlreadyBuilt is returned when registering an adapter on a point whose list was already built.
	ErrAlreadyBuilt = errors.New("extension point is already built")

	// ErrDuplicateExtensionPoint is returned when a point name is declared twice; the first declaration wins.
	ErrDuplicateExtensionPoint = errors.New("extension point already registered")

	// ErrUnknownExtensionPoint is returned when a name does not match any declared point.
	ErrUnknownExtensionPoint = errors.New("unknown extension point")

	// ErrMissingImplementation is returned when an interface point declaration has no implementation attribute.
	ErrMissingImplementation = errors.New("extension declaration has no implementation")

	// ErrClassNotFound is returned by class resolvers that do not know a name.
	ErrClassNotFound = errors.New("class not found")

	// ErrNotInstantiable is returned by the default instance factory for classes it cannot construct.
	ErrNotInstantiable = errors.New("class cannot be instantiated")

	// ErrCanceled is the cancellation signal a CancelProbe returns.
	ErrCanceled = errors.New("extension build canceled")
)

// IsCanceled reports whether err is a cooperative cancellation signal. Such errors are never wrapped or logged
// as failures by the registry.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ClassResolutionError reports a class name that a plugin could not resolve.
type ClassResolutionError struct {
	ClassName string
	PluginID  PluginID
	Err       error
}

func (e *ClassResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve class %q in plugin %s: %v", e.ClassName, e.PluginID, e.Err)
}

func (e *ClassResolutionError) Unwrap() error {
	return e.Err
}

// InitializationError wraps any failure while materializing an extension: class resolution, construction,
// decoding or a recovered panic.
type InitializationError struct {
	PluginID       PluginID
	Implementation string
	Err            error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("cannot create extension %q of plugin %s: %v", e.Implementation, e.PluginID, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// recovered turns a recovered panic value into an error.
func recovered(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
