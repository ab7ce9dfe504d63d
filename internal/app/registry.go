package app

import (
	"fmt"

	"github.com/hylla/boardflow/internal/domain"
)

// KindSpec binds one item kind to its naming and permission rules.
type KindSpec struct {
	Kind domain.Kind
	// Label is the human-readable noun used in notification text.
	Label string
	// ArchiveAction names the capability checked before archiving.
	ArchiveAction string
}

// Registry maps item type tags to their kind specs.
type Registry struct {
	specs map[domain.Kind]KindSpec
}

// NewRegistry builds a registry from the given specs.
func NewRegistry(specs ...KindSpec) *Registry {
	r := &Registry{specs: make(map[domain.Kind]KindSpec, len(specs))}
	for _, spec := range specs {
		r.specs[spec.Kind] = spec
	}
	return r
}

// DefaultRegistry registers the built-in board item kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(
		KindSpec{Kind: domain.KindDeal, Label: "deal", ArchiveAction: "dealsArchive"},
		KindSpec{Kind: domain.KindTask, Label: "task", ArchiveAction: "tasksArchive"},
		KindSpec{Kind: domain.KindTicket, Label: "ticket", ArchiveAction: "ticketsArchive"},
	)
}

// Spec resolves one kind spec or fails for unregistered tags.
func (r *Registry) Spec(kind domain.Kind) (KindSpec, error) {
	spec, ok := r.specs[kind]
	if !ok {
		return KindSpec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return spec, nil
}

// Kinds lists the registered kind tags.
func (r *Registry) Kinds() []domain.Kind {
	out := make([]domain.Kind, 0, len(r.specs))
	for kind := range r.specs {
		out = append(out, kind)
	}
	return out
}
