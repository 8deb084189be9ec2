package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// Factory produces the Runner for a job type. Factories are registered at
// startup; most close over a shared, preconfigured handler instance.
type Factory func() Runner

// Registry is the explicit job-type table. Dispatch is a map lookup, no
// reflection involved.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a factory to a job type. Re-registering a type is an error
// so wiring mistakes surface at startup.
func (r *Registry) Register(jobType string, f Factory) error {
	if jobType == "" {
		return fmt.Errorf("job type must not be empty")
	}
	if f == nil {
		return fmt.Errorf("factory for %q must not be nil", jobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[jobType]; exists {
		return fmt.Errorf("job type %q already registered", jobType)
	}
	r.factories[jobType] = f
	return nil
}

// Resolve returns a Runner for the job type. Unknown types are a fatal
// dispatch error, never retried.
func (r *Registry) Resolve(jobType string) (Runner, error) {
	r.mu.RLock()
	f, ok := r.factories[jobType]
	r.mu.RUnlock()
	if !ok {
		return nil, Fatal(fmt.Errorf("no runner registered for job type %q", jobType))
	}
	return f(), nil
}

// Types lists registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
