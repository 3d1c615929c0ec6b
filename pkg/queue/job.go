package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoJob is returned when no job handles a message type.
var ErrNoJob = errors.New("no job registered")

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// Registry routes messages to jobs by type.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		_ = r.Register(j)
	}
	return r
}

// Register fails if the type is already taken; the first job wins.
func (r *Registry) Register(j Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[j.Type()]; ok {
		return fmt.Errorf("type %s already handled by %s", j.Type(), prev.Name())
	}
	r.jobs[j.Type()] = j
	return nil
}

func (r *Registry) Lookup(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}

// Types lists the registered message types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.jobs))
	for t := range r.jobs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the job for msgType synchronously.
func (r *Registry) Dispatch(ctx context.Context, msgType string, payload interface{}) error {
	j, ok := r.Lookup(msgType)
	if !ok {
		return fmt.Errorf("%w for type %s", ErrNoJob, msgType)
	}
	return j.Handle(ctx, payload)
}
