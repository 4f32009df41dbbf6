package state

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/loomlab/loom/pkg/schema"
)

// Container is the typed key-value store backing a workflow instance.
//
// Every key is declared in the schema up front. After Init, every declared
// key holds a value (possibly the type's zero value), so nodes may read any
// schema key without existence checks. Keys flagged as history keys append
// on write instead of overwriting, preserving full provenance.
//
// A Container is owned by a single workflow instance and is not safe for
// concurrent use; the execution loop serializes all access.
type Container struct {
	schema  schema.Schema
	history map[string]struct{}
	values  map[string]any
}

// New creates an uninitialized container for the given schema.
// historyKeys flags the subset of keys whose writes append.
func New(s schema.Schema, historyKeys []string) *Container {
	hist := make(map[string]struct{}, len(historyKeys))
	for _, k := range historyKeys {
		hist[k] = struct{}{}
	}
	return &Container{
		schema:  s,
		history: hist,
		values:  nil,
	}
}

// Init populates every schema key with its zero value, then merges the
// caller-supplied initial values over it. Supplying an undeclared key or a
// mistyped value fails with SchemaViolationError; nil values keep the
// default.
func (c *Container) Init(initial map[string]any) error {
	supplied := make(map[string]any, len(initial))
	for k, v := range initial {
		if v == nil {
			continue
		}
		supplied[k] = v
	}

	if err := schema.Validate(c.schema, supplied); err != nil {
		return &SchemaViolationError{Err: err}
	}

	values := schema.Zero(c.schema)
	for k, v := range supplied {
		values[k] = normalize(v)
	}
	c.values = values
	return nil
}

// Initialized reports whether Init or Restore has populated the container.
func (c *Container) Initialized() bool { return c.values != nil }

// Get returns the current value of a declared key.
func (c *Container) Get(key string) (any, error) {
	if _, ok := c.schema[key]; !ok {
		return nil, &UnknownKeyError{Key: key}
	}
	return c.values[key], nil
}

// Set writes a value to a declared key, appending when the key is a
// history key and overwriting otherwise.
//
// For a slice-typed history key, a value matching the element type appends
// a single entry; a value matching the slice type extends with all of its
// elements.
func (c *Container) Set(key string, value any) error {
	typ, ok := c.schema[key]
	if !ok {
		return &UnknownKeyError{Key: key}
	}

	if _, isHistory := c.history[key]; isHistory {
		if sliceType, isSlice := typ.(*schema.SliceType); isSlice {
			return c.appendHistory(key, sliceType, value)
		}
	}

	if err := typ.Validate(value); err != nil {
		return &TypeMismatchError{Key: key, Reason: err.Error()}
	}
	c.values[key] = normalize(value)
	return nil
}

func (c *Container) appendHistory(key string, typ *schema.SliceType, value any) error {
	current, _ := c.values[key].([]any)

	// Element append first; a slice value extends instead.
	if err := typ.Elem().Validate(value); err == nil {
		c.values[key] = append(current, normalize(value))
		return nil
	}
	if err := typ.Validate(value); err != nil {
		return &TypeMismatchError{Key: key, Reason: err.Error()}
	}

	normalized := normalize(value).([]any)
	c.values[key] = append(current, normalized...)
	return nil
}

// IsHistoryKey reports whether writes to key append rather than overwrite.
func (c *Container) IsHistoryKey(key string) bool {
	_, ok := c.history[key]
	return ok
}

// Has reports whether key is declared in the schema.
func (c *Container) Has(key string) bool {
	_, ok := c.schema[key]
	return ok
}

// Keys returns the declared key names in sorted order.
func (c *Container) Keys() []string {
	keys := make([]string, 0, len(c.schema))
	for k := range c.schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Schema returns the container's schema.
func (c *Container) Schema() schema.Schema { return c.schema }

// Snapshot returns a deep copy of the current values, safe to hand to a
// checkpoint store or caller without aliasing the live state.
func (c *Container) Snapshot() map[string]any {
	snap := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snap[k] = deepCopy(v)
	}
	return snap
}

// Restore atomically replaces the container contents with a snapshot.
// The snapshot must cover the schema; extra or mistyped keys fail with
// SchemaViolationError and leave the container untouched.
func (c *Container) Restore(snapshot map[string]any) error {
	if err := schema.Validate(c.schema, snapshot); err != nil {
		return &SchemaViolationError{Err: err}
	}
	for key := range c.schema {
		if _, ok := snapshot[key]; !ok {
			return &SchemaViolationError{
				Err: fmt.Errorf("snapshot missing key %q", key),
			}
		}
	}

	values := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		values[k] = normalize(deepCopy(v))
	}
	c.values = values
	return nil
}

// normalize converts arbitrary slice and map shapes into the container's
// canonical []any / map[string]any forms so that appends, snapshots, and
// JSON round-trips behave uniformly.
func normalize(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalize(e)
		}
		return out
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			for _, mk := range rv.MapKeys() {
				out[mk.String()] = normalize(rv.MapIndex(mk).Interface())
			}
			return out
		}
	}
	return value
}

// deepCopy copies canonical values. Scalars are returned as-is.
func deepCopy(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = deepCopy(e)
		}
		return out
	default:
		return normalize(v)
	}
}
