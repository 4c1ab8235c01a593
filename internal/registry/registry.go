// Package registry maps logical (name, version) keys to concrete event and
// aggregate schemas. A registry is populated once at process start by
// explicit Register calls and is read-only thereafter; concurrent readers
// need no synchronization after initialization.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/lucabriguglia/Memoria-sub001/internal/domain"
)

// ErrNotRegistered is returned when a type key has no registry entry. It
// signals a deployment/configuration defect, not bad data, and is fatal for
// the operation that hit it.
var ErrNotRegistered = errors.New("type not registered")

// Codec is an explicit (de)serialization function pair for one schema.
// Construction always goes through the instance factory first; Decode then
// populates the fresh instance, so no serializer visibility rules apply.
type Codec struct {
	Encode func(v any) ([]byte, error)
	Decode func(data []byte, v any) error
}

// JSONCodec is the default codec.
var JSONCodec = Codec{
	Encode: func(v any) ([]byte, error) { return json.Marshal(v) },
	Decode: func(data []byte, v any) error { return json.Unmarshal(data, v) },
}

type entry struct {
	key   domain.TypeKey
	typ   reflect.Type // concrete struct type, not a pointer
	codec Codec
}

// Option customizes a registration.
type Option func(*entry)

// WithCodec overrides the default JSON codec for one schema.
func WithCodec(c Codec) Option {
	return func(e *entry) { e.codec = c }
}

// Registry resolves type keys to schemas for both events and aggregates.
type Registry struct {
	events        map[domain.TypeKey]*entry
	eventKeys     map[reflect.Type]domain.TypeKey
	aggregates    map[domain.TypeKey]*entry
	aggregateKeys map[reflect.Type]domain.TypeKey
	factory       *Factory
}

// New returns an empty registry. Register all schemas before handing it to
// the domain service; registration is not safe concurrently with reads.
func New() *Registry {
	return &Registry{
		events:        map[domain.TypeKey]*entry{},
		eventKeys:     map[reflect.Type]domain.TypeKey{},
		aggregates:    map[domain.TypeKey]*entry{},
		aggregateKeys: map[reflect.Type]domain.TypeKey{},
		factory:       NewFactory(),
	}
}

// RegisterEvent binds an event schema to (name, version). The prototype may
// be a value or a pointer; only its type is retained. Registering the same
// key or type twice panics, since that is a process-start programming error.
func (r *Registry) RegisterEvent(name string, version int, prototype any, opts ...Option) {
	r.register(r.events, r.eventKeys, name, version, prototype, opts)
}

// RegisterAggregate binds an aggregate schema to (name, version). The
// prototype must implement domain.Aggregate.
func (r *Registry) RegisterAggregate(name string, version int, prototype domain.Aggregate, opts ...Option) {
	r.register(r.aggregates, r.aggregateKeys, name, version, prototype, opts)
}

func (r *Registry) register(byKey map[domain.TypeKey]*entry, byType map[reflect.Type]domain.TypeKey, name string, version int, prototype any, opts []Option) {
	key := domain.NewTypeKey(name, version)
	if !key.Valid() {
		panic(fmt.Sprintf("registry: invalid type key %q", key))
	}
	typ := structTypeOf(prototype)
	if _, dup := byKey[key]; dup {
		panic(fmt.Sprintf("registry: duplicate registration for %s", key))
	}
	if _, dup := byType[typ]; dup {
		panic(fmt.Sprintf("registry: type %s already registered", typ))
	}
	e := &entry{key: key, typ: typ, codec: JSONCodec}
	for _, opt := range opts {
		opt(e)
	}
	byKey[key] = e
	byType[typ] = key
}

func structTypeOf(prototype any) reflect.Type {
	t := reflect.TypeOf(prototype)
	if t == nil {
		panic("registry: nil prototype")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// NewEvent produces a fresh pointer instance of the event schema for key.
func (r *Registry) NewEvent(key domain.TypeKey) (any, error) {
	e, ok := r.events[key]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", ErrNotRegistered, key)
	}
	return r.factory.New(e.typ), nil
}

// DecodeEvent resolves key to its schema, constructs a fresh instance and
// populates it from the serialized payload.
func (r *Registry) DecodeEvent(key domain.TypeKey, payload []byte) (any, error) {
	e, ok := r.events[key]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", ErrNotRegistered, key)
	}
	v := r.factory.New(e.typ)
	if len(payload) > 0 {
		if err := e.codec.Decode(payload, v); err != nil {
			return nil, fmt.Errorf("decoding event %s: %w", key, err)
		}
	}
	return v, nil
}

// EncodeEvent serializes an event payload and returns its registered key.
func (r *Registry) EncodeEvent(payload any) (domain.TypeKey, []byte, error) {
	key, ok := r.eventKeys[structTypeOf(payload)]
	if !ok {
		return "", nil, fmt.Errorf("%w: event type %T", ErrNotRegistered, payload)
	}
	data, err := r.events[key].codec.Encode(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encoding event %s: %w", key, err)
	}
	return key, data, nil
}

// EventKeyFor returns the registered key for an event payload's type.
func (r *Registry) EventKeyFor(payload any) (domain.TypeKey, bool) {
	key, ok := r.eventKeys[structTypeOf(payload)]
	return key, ok
}

// NewAggregate produces a fresh aggregate instance for key.
func (r *Registry) NewAggregate(key domain.TypeKey) (domain.Aggregate, error) {
	e, ok := r.aggregates[key]
	if !ok {
		return nil, fmt.Errorf("%w: aggregate %s", ErrNotRegistered, key)
	}
	agg, ok := r.factory.New(e.typ).(domain.Aggregate)
	if !ok {
		return nil, fmt.Errorf("registered aggregate %s does not implement domain.Aggregate", key)
	}
	return agg, nil
}

// DecodeAggregate constructs a fresh aggregate for key and populates its
// state from a serialized snapshot.
func (r *Registry) DecodeAggregate(key domain.TypeKey, state []byte) (domain.Aggregate, error) {
	agg, err := r.NewAggregate(key)
	if err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := r.aggregates[key].codec.Decode(state, agg); err != nil {
			return nil, fmt.Errorf("decoding aggregate %s: %w", key, err)
		}
	}
	return agg, nil
}

// EncodeAggregate serializes an aggregate's state and returns its key.
func (r *Registry) EncodeAggregate(agg domain.Aggregate) (domain.TypeKey, []byte, error) {
	key, ok := r.aggregateKeys[structTypeOf(agg)]
	if !ok {
		return "", nil, fmt.Errorf("%w: aggregate type %T", ErrNotRegistered, agg)
	}
	data, err := r.aggregates[key].codec.Encode(agg)
	if err != nil {
		return "", nil, fmt.Errorf("encoding aggregate %s: %w", key, err)
	}
	return key, data, nil
}

// AggregateKeyFor returns the registered key for an aggregate's type.
func (r *Registry) AggregateKeyFor(agg domain.Aggregate) (domain.TypeKey, bool) {
	key, ok := r.aggregateKeys[structTypeOf(agg)]
	return key, ok
}
