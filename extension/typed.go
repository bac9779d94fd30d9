package extension

import (
	"context"
	"fmt"
	"reflect"
)

// ExtensionsOf returns the extensions of p that are a T. Elements that are not (an extender may contribute
// anything) are skipped with a warning.
func ExtensionsOf[T any](ctx context.Context, p *ExtensionPoint) ([]T, error) {
	list, err := p.Extensions(ctx)
	if err != nil {
		return nil, err
	}

	typed := make([]T, 0, len(list))
	for _, v := range list {
		t, ok := v.(T)
		if !ok {
			p.area.log.Warn().
				Str("extensionPoint", p.name).
				Str("type", fmt.Sprintf("%T", v)).
				Msg("skipping extension of unexpected type")
			continue
		}
		typed = append(typed, t)
	}
	return typed, nil
}

// FindOf returns the first extension of p that is a T.
func FindOf[T any](ctx context.Context, p *ExtensionPoint) (T, bool, error) {
	var zero T
	v, err := p.FindExtension(ctx, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil || nil == v {
		return zero, false, err
	}
	t, ok := v.(T)
	return t, ok, nil
}

// Extensions returns the extensions of the named point of a as T, tolerating an undeclared point.
func Extensions[T any](ctx context.Context, a *Area, name string) ([]T, error) {
	return ExtensionsOf[T](ctx, a.ExtensionPointOrEmpty(name))
}
