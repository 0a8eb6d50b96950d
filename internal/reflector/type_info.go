// Package reflector derives stable type names for registered event types.
// Reflection is used only at registration time to compute a name; runtime
// dispatch in the engine works on pre-registered matchers.
package reflector

import (
	"reflect"
	"sync"
)

var (
	mu    sync.RWMutex
	cache = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	// Name is the fully qualified type name, e.g. "example.com/pkg.Deposited".
	Name string
	Type reflect.Type
}

func TypeInfoFor[T any]() TypeInfo {
	return typeInfo(reflect.TypeOf((*T)(nil)).Elem())
}

func TypeInfoOf(x any) TypeInfo {
	return typeInfo(reflect.TypeOf(x))
}

func typeInfo(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}

	mu.RLock()
	ti, ok := cache[t]
	mu.RUnlock()
	if ok {
		return ti
	}

	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}

	ti = TypeInfo{
		Name: base.PkgPath() + "." + base.Name(),
		Type: base,
	}

	mu.Lock()
	cache[t] = ti
	mu.Unlock()
	return ti
}
