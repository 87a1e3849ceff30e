package executors

import (
	"context"
	"sort"

	"ops-gateway/internal/models"
)

// Handler performs the actual work for one task type. Validate is called
// at the enqueue boundary; Execute runs under the task's deadline.
type Handler interface {
	Validate(payload map[string]any) error
	Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error)
}

// Registry maps task types to handlers. Adding a task type means
// registering a handler; the dispatch core never inspects handler
// internals.
type Registry struct {
	handlers map[models.TaskType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.TaskType]Handler)}
}

// Register binds a handler to a task type, replacing any previous binding.
func (r *Registry) Register(taskType models.TaskType, h Handler) {
	r.handlers[taskType] = h
}

// Get returns the handler for a task type.
func (r *Registry) Get(taskType models.TaskType) (Handler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types lists the registered task types in stable order.
func (r *Registry) Types() []models.TaskType {
	types := make([]models.TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate rejects unknown task types and delegates payload shape checks
// to the registered handler. Satisfies store.Validator.
func (r *Registry) Validate(taskType models.TaskType, payload map[string]any) error {
	h, ok := r.handlers[taskType]
	if !ok {
		return models.NewValidationError("type", "unknown task type %q", taskType)
	}
	return h.Validate(payload)
}
