package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
)

// Transform maps one receiving document onto warehouse calls. It runs
// inside the document's savepoint with the session attached to ctx.
type Transform func(ctx context.Context, doc *receiving.Document) (Outcome, error)

// Routine is a named, versioned transform over one receiving table.
// Bumping Revision makes every document eligible for processing again.
type Routine struct {
	Name        string
	Description string
	Table       receiving.Table
	Revision    int
	Transform   Transform
}

func (r *Routine) Tag() receiving.Tag {
	return receiving.Tag{Name: r.Name, Revision: r.Revision}
}

var ErrUnknownRoutine = errors.New("unknown routine")

// Registry maps routine names to routines.
type Registry struct {
	routines map[string]*Routine
}

func NewRegistry() *Registry {
	return &Registry{routines: make(map[string]*Routine)}
}

func (reg *Registry) Register(r *Routine) error {
	switch {
	case r.Name == "":
		return errors.New("routine name is required")
	case r.Transform == nil:
		return fmt.Errorf("routine %s has no transform", r.Name)
	case r.Revision < 1:
		return fmt.Errorf("routine %s: revision must be positive", r.Name)
	}
	if _, err := receiving.ParseTable(string(r.Table)); err != nil {
		return fmt.Errorf("routine %s: %w", r.Name, err)
	}
	if _, dup := reg.routines[r.Name]; dup {
		return fmt.Errorf("routine %s already registered", r.Name)
	}
	reg.routines[r.Name] = r
	return nil
}

// MustRegister is Register for package-level wiring.
func (reg *Registry) MustRegister(routines ...*Routine) {
	for _, r := range routines {
		if err := reg.Register(r); err != nil {
			panic(err)
		}
	}
}

func (reg *Registry) Get(name string) (*Routine, error) {
	r, ok := reg.routines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoutine, name)
	}
	return r, nil
}

// List returns the routines sorted by name.
func (reg *Registry) List() []*Routine {
	out := make([]*Routine, 0, len(reg.routines))
	for _, r := range reg.routines {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
