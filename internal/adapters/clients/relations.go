package clients

import (
	"context"

	"github.com/hylla/boardflow/internal/app"
	"github.com/hylla/boardflow/internal/domain"
)

// RelationsService manages conformities and checklists owned by siblings.
// All calls are advisory: relation bookkeeping never blocks a mutation.
type RelationsService struct {
	caller *Caller
}

// NewRelationsService wraps a caller as the relations client.
func NewRelationsService(caller *Caller) *RelationsService {
	return &RelationsService{caller: caller}
}

// CreateConformity links an item to its customers and companies.
func (s *RelationsService) CreateConformity(ctx context.Context, subdomain string, c app.Conformity) {
	s.caller.Advisory(ctx, subdomain, "conformities.addConformities", c, nil)
}

// DestroyRelations tears down every relation of one item.
func (s *RelationsService) DestroyRelations(ctx context.Context, subdomain string, kind domain.Kind, itemID string) {
	s.caller.Advisory(ctx, subdomain, "conformities.removeConformities", map[string]any{
		"mainType":   kind,
		"mainTypeId": itemID,
	}, nil)
}

// CopyChecklists clones checklists from one item to another.
func (s *RelationsService) CopyChecklists(ctx context.Context, subdomain string, kind domain.Kind, fromID, toID, userID string) {
	s.caller.Advisory(ctx, subdomain, "checklists.copy", map[string]any{
		"contentType":     kind,
		"contentTypeId":   fromID,
		"targetContentId": toID,
		"userId":          userID,
	}, nil)
}

// CustomerIDs resolves the customers linked to one item.
func (s *RelationsService) CustomerIDs(ctx context.Context, subdomain string, kind domain.Kind, itemID string) ([]string, bool) {
	return s.savedConformity(ctx, subdomain, kind, itemID, "customer")
}

// CompanyIDs resolves the companies linked to one item.
func (s *RelationsService) CompanyIDs(ctx context.Context, subdomain string, kind domain.Kind, itemID string) ([]string, bool) {
	return s.savedConformity(ctx, subdomain, kind, itemID, "company")
}

func (s *RelationsService) savedConformity(ctx context.Context, subdomain string, kind domain.Kind, itemID, relType string) ([]string, bool) {
	var out []string
	ok := s.caller.Advisory(ctx, subdomain, "conformities.savedConformity", map[string]any{
		"mainType":   kind,
		"mainTypeId": itemID,
		"relTypes":   []string{relType},
	}, &out)
	return out, ok
}
