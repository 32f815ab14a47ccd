// internal/backend/registry.go
//
// Registry maps a backend type key to a factory.  main registers the kinds
// enabled in config at startup; nothing registers itself from init().
package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned for a backend record whose kind is not
// registered.  It is a configuration error.
var ErrUnknownKind = errors.New("unknown backend kind")

// Factory opens a backend record.  It validates the record's params and
// returns an error for anything malformed.
type Factory func(rec Record) (Publisher, error)

// Kind is one registered backend type.
type Kind struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Fields []Field `json:"fields"` // parameter schema
	New    Factory `json:"-"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds k.  Registering a key twice is an error.
func (r *Registry) Register(k Kind) error {
	if k.Key == "" || k.New == nil {
		return fmt.Errorf("backend kind %q: key and factory are required", k.Key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kinds[k.Key]; dup {
		return fmt.Errorf("backend kind %q registered twice", k.Key)
	}
	r.kinds[k.Key] = k
	return nil
}

// Lookup returns the kind for key.
func (r *Registry) Lookup(key string) (Kind, error) {
	r.mu.RLock()
	k, ok := r.kinds[key]
	r.mu.RUnlock()
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, key)
	}
	return k, nil
}

// Kinds lists registered kinds sorted by key.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Open builds an Instance for rec.
func (r *Registry) Open(rec Record) (*Instance, error) {
	k, err := r.Lookup(rec.Kind)
	if err != nil {
		return nil, fmt.Errorf("backend %d: %w", rec.ID, err)
	}
	pub, err := k.New(rec)
	if err != nil {
		return nil, fmt.Errorf("backend %d (%s): %w", rec.ID, rec.Kind, err)
	}
	return &Instance{Record: rec, pub: pub}, nil
}

// Instance is a backend record together with its opened publisher.
type Instance struct {
	Record Record
	pub    Publisher
}

// NewInstance wraps an already opened publisher.
func NewInstance(rec Record, pub Publisher) *Instance {
	return &Instance{Record: rec, pub: pub}
}
