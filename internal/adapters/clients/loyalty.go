package clients

import (
	"context"

	"github.com/hylla/boardflow/internal/app"
	"github.com/hylla/boardflow/internal/domain"
)

// LoyaltyService reaches the loyalty ledger service.
type LoyaltyService struct {
	caller *Caller
}

// NewLoyaltyService wraps a caller as the loyalty client.
func NewLoyaltyService(caller *Caller) *LoyaltyService {
	return &LoyaltyService{caller: caller}
}

// ScoreCampaign resolves one campaign by id; a missing campaign is nil. The
// lookup is advisory; on failure it reports false.
func (s *LoyaltyService) ScoreCampaign(ctx context.Context, subdomain, id string) (*domain.ScoreCampaign, bool) {
	var out *domain.ScoreCampaign
	ok := s.caller.Advisory(ctx, subdomain, "scoreCampaign.findOne", map[string]string{"_id": id}, &out)
	return out, ok
}

// CheckScoreAvailableSubtract verifies the owner holds enough redeemable
// score. The action name carries a historical misspelling the loyalty
// service still routes on.
func (s *LoyaltyService) CheckScoreAvailableSubtract(ctx context.Context, subdomain string, req app.ScoreSubtractRequest) error {
	return s.caller.Mandatory(ctx, subdomain, "checkScoreAviableSubtract", req, nil)
}

// DoScoreCampaign performs the score subtraction.
func (s *LoyaltyService) DoScoreCampaign(ctx context.Context, subdomain string, req app.ScoreSubtractRequest) error {
	return s.caller.Mandatory(ctx, subdomain, "doScoreCampaign", req, nil)
}

// ConfirmLoyalties finalizes previously reserved loyalty effects. The
// confirmation is a fire-and-forget trailing step.
func (s *LoyaltyService) ConfirmLoyalties(ctx context.Context, subdomain string, req app.LoyaltyConfirmRequest) {
	s.caller.Advisory(ctx, subdomain, "confirmLoyalties", req, nil)
}
