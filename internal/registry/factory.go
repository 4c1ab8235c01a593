package registry

import (
	"reflect"
	"sync"
)

// Factory produces fresh zero-value pointer instances of registered schemas.
// The construction strategy is memoized per type, since replay of a long
// stream constructs one instance per event.
type Factory struct {
	makers sync.Map // reflect.Type -> func() any
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{}
}

// New returns a new *T for the given struct type T.
func (f *Factory) New(typ reflect.Type) any {
	if m, ok := f.makers.Load(typ); ok {
		return m.(func() any)()
	}
	maker := func() any { return reflect.New(typ).Interface() }
	m, _ := f.makers.LoadOrStore(typ, maker)
	return m.(func() any)()
}
