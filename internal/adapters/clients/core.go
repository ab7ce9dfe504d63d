package clients

import (
	"context"

	"github.com/hylla/boardflow/internal/domain"
)

// CoreService reaches the core directory service.
type CoreService struct {
	caller *Caller
}

// NewCoreService wraps a caller as the core client.
func NewCoreService(caller *Caller) *CoreService {
	return &CoreService{caller: caller}
}

// PrepareCustomFieldsData cleans raw custom field values. The call is
// advisory; on failure it reports false so callers keep their own default.
func (s *CoreService) PrepareCustomFieldsData(ctx context.Context, subdomain string, data []domain.CustomFieldValue) ([]domain.CustomFieldValue, bool) {
	var out []domain.CustomFieldValue
	ok := s.caller.Advisory(ctx, subdomain, "fields.prepareCustomFieldsData", data, &out)
	return out, ok
}

// Can checks a named capability for a user.
func (s *CoreService) Can(ctx context.Context, subdomain, action, userID string) (bool, error) {
	var allowed bool
	err := s.caller.Mandatory(ctx, subdomain, "permissions.can", map[string]string{
		"action": action,
		"userId": userID,
	}, &allowed)
	if err != nil {
		return false, err
	}
	return allowed, nil
}
