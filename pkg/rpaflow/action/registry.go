package action

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps action types to handlers. Registration happens during
// initialization; after Freeze the map is read without locking.
type Registry struct {
	mu       sync.RWMutex
	frozen   atomic.Bool
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(actionType string, handler Handler) error {
	if actionType == "" {
		return errors.New("action type is required")
	}
	if handler == nil {
		return errors.New("action handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, exists := r.handlers[actionType]; exists {
		return &DuplicateActionError{ActionType: actionType}
	}
	r.handlers[actionType] = handler
	return nil
}

// MustRegister panics on registration errors; meant for wiring code.
func (r *Registry) MustRegister(actionType string, handler Handler) {
	if err := r.Register(actionType, handler); err != nil {
		panic(err)
	}
}

func (r *Registry) Resolve(actionType string) (Handler, error) {
	var (
		handler Handler
		ok      bool
	)
	if r.frozen.Load() {
		handler, ok = r.handlers[actionType]
	} else {
		r.mu.RLock()
		handler, ok = r.handlers[actionType]
		r.mu.RUnlock()
	}
	if !ok {
		return nil, &UnknownActionError{ActionType: actionType}
	}
	return handler, nil
}

// Freeze stops further registration. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Types returns the registered action types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
