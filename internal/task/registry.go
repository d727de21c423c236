package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pageforge/pageforge-api/internal/domain"
)

// Registry maps task types to their handlers. Registration happens during
// startup wiring; lookups happen on every dispatch, so the map is guarded by
// a read-write mutex.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.TaskType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.TaskType]Handler),
	}
}

// Register binds a handler to a task type. Registering the same type twice
// returns ErrTaskTypeRegistered; silently replacing a handler would hide
// wiring mistakes.
func (r *Registry) Register(taskType domain.TaskType, handler Handler) error {
	if taskType == "" {
		return domain.ErrEmptyTaskType
	}
	if handler == nil {
		return fmt.Errorf("nil handler for task type %q", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("%w: %q", ErrTaskTypeRegistered, taskType)
	}

	r.handlers[taskType] = handler
	return nil
}

// Resolve returns the handler for the given task type, or ErrTaskTypeUnknown
// when none is registered.
func (r *Registry) Resolve(taskType domain.TaskType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskTypeUnknown, taskType)
	}
	return handler, nil
}

// Types returns the registered task types in lexical order.
func (r *Registry) Types() []domain.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
