package clients

import (
	"context"

	"github.com/hylla/boardflow/internal/app"
)

// PricingService reaches the pricing service.
type PricingService struct {
	caller *Caller
}

// NewPricingService wraps a caller as the pricing client.
func NewPricingService(caller *Caller) *PricingService {
	return &PricingService{caller: caller}
}

// CheckPricing requests discount computation for candidate lines, keyed by
// line-item id. The lookup is advisory; on failure the map stays empty.
func (s *PricingService) CheckPricing(ctx context.Context, subdomain string, req app.PricingRequest) (map[string]app.PricingDiscount, bool) {
	out := map[string]app.PricingDiscount{}
	ok := s.caller.Advisory(ctx, subdomain, "checkPricing", req, &out)
	return out, ok
}
