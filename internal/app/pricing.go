package app

import (
	"context"
	"fmt"
	"math"

	"github.com/hylla/boardflow/internal/domain"
)

// fixNum rounds to the given number of decimal places.
func fixNum(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}

// CheckPricing asks the pricing service for discounts on the item's active
// non-bonus lines and folds the result back into the product data.
//
// Candidate lines are the ticked ones that are not themselves bonus stock.
// With no candidates the input is returned untouched and no call is made.
// The pricing lookup is advisory: on failure the original data comes back
// unmodified. Bonus products referenced by any discount are re-synthesized
// as zero-price ticked lines replacing previous bonus lines.
func (s *Service) CheckPricing(ctx context.Context, subdomain string, item domain.Item) ([]domain.ProductData, error) {
	candidates := []domain.ProductData{}
	for _, pd := range item.ProductsData {
		if pd.TickUsed && pd.BonusCount == 0 {
			candidates = append(candidates, pd)
		}
	}
	if len(candidates) == 0 {
		return item.ProductsData, nil
	}

	stage, err := s.hierarchy.GetStage(ctx, item.StageID)
	if err != nil {
		return nil, fmt.Errorf("resolve stage %s: %w", item.StageID, err)
	}

	var totalAmount float64
	for _, pd := range candidates {
		totalAmount += pd.Amount
	}
	lines := make([]PricingLine, 0, len(candidates))
	for _, pd := range candidates {
		lines = append(lines, PricingLine{
			ItemID:    pd.ID,
			ProductID: pd.ProductID,
			Quantity:  pd.Quantity,
			Price:     pd.UnitPrice,
		})
	}
	pricing, ok := s.pricing.CheckPricing(ctx, subdomain, PricingRequest{
		PrioritizeRule: "exclude",
		TotalAmount:    totalAmount,
		DepartmentID:   firstID(item.DepartmentIDs),
		BranchID:       firstID(item.BranchIDs),
		PipelineID:     stage.PipelineID,
		Products:       lines,
	})
	if !ok {
		s.metrics.ObserveAdvisoryFallback("pricing.checkPricing")
		s.logger.Warn("pricing lookup failed, keeping original product data",
			"itemId", item.ID)
	}

	bonusCounts := map[string]int{}
	bonusOrder := []string{}
	priced := make(map[string]domain.ProductData, len(candidates))
	for _, pd := range candidates {
		discount, ok := pricing[pd.ID]
		if ok {
			for _, bonusProduct := range discount.BonusProducts {
				if _, seen := bonusCounts[bonusProduct]; !seen {
					bonusOrder = append(bonusOrder, bonusProduct)
				}
				bonusCounts[bonusProduct]++
			}
			unitPrice := pd.UnitPrice
			if unitPrice == 0 {
				unitPrice = 1
			}
			pd.DiscountPercent = fixNum(discount.Value*100/unitPrice, 8)
			pd.Discount = fixNum(discount.Value*pd.Quantity, 2)
			pd.Amount = fixNum((pd.UnitPrice-discount.Value)*pd.Quantity, 2)
		}
		priced[pd.ID] = pd
	}

	out := []domain.ProductData{}
	for _, pd := range item.ProductsData {
		if pd.BonusCount > 0 {
			continue
		}
		if repriced, ok := priced[pd.ID]; ok {
			pd = repriced
		}
		out = append(out, pd)
	}
	for _, productID := range bonusOrder {
		count := bonusCounts[productID]
		out = append(out, domain.ProductData{
			ID:         s.idGen(),
			ProductID:  productID,
			BonusCount: count,
			Quantity:   float64(count),
			UnitPrice:  0,
			Amount:     0,
			TickUsed:   true,
		})
	}
	return out, nil
}

// DoScoreCampaign consumes loyalty score for payment types that a campaign
// covers on the item's current stage.
//
// The availability check is a hard precondition: a shortage aborts the whole
// operation with the payment type's title in the message. Any other loyalty
// failure is re-thrown after logging.
func (s *Service) DoScoreCampaign(ctx context.Context, subdomain, itemID string, item domain.Item) error {
	if len(item.PaymentsData) == 0 {
		return nil
	}
	types := item.PaymentTypeNames()

	stage, err := s.hierarchy.GetStage(ctx, item.StageID)
	if err != nil {
		s.logger.Debug("score campaign skipped, stage not resolvable",
			"itemId", itemID, "stageId", item.StageID, "err", err)
		return nil
	}
	pipeline, err := s.hierarchy.GetPipeline(ctx, stage.PipelineID)
	if err != nil {
		s.logger.Debug("score campaign skipped, pipeline not resolvable",
			"itemId", itemID, "pipelineId", stage.PipelineID, "err", err)
		return nil
	}

	scoreTypes := pipeline.ScorePaymentTypes()
	if !anyTypeMatches(scoreTypes, types) {
		return nil
	}

	customerIDs, resolved := s.relations.CustomerIDs(ctx, subdomain, item.Kind, itemID)
	if !resolved {
		s.metrics.ObserveAdvisoryFallback("relations.customerIds")
		s.logger.Warn("customer resolution failed, skipping score campaign",
			"itemId", itemID)
		return nil
	}
	customerID := firstID(customerIDs)
	if customerID == "" {
		return nil
	}

	target := s.buildScoreTarget(item, scoreTypes)

	for _, paymentType := range types {
		pt, ok := findPaymentType(scoreTypes, paymentType)
		if !ok {
			continue
		}
		campaign, found := s.loyalty.ScoreCampaign(ctx, subdomain, pt.ScoreCampaignID)
		if !found {
			s.metrics.ObserveAdvisoryFallback("loyalties.scoreCampaign")
			s.logger.Warn("score campaign lookup failed",
				"campaignId", pt.ScoreCampaignID)
			continue
		}
		if campaign == nil || !campaign.AppliesToStage(item.StageID) {
			continue
		}

		req := ScoreSubtractRequest{
			OwnerType:  "customer",
			OwnerID:    customerID,
			CampaignID: pt.ScoreCampaignID,
			Target:     target,
			TargetID:   itemID,
		}
		if err := s.loyalty.CheckScoreAvailableSubtract(ctx, subdomain, req); err != nil {
			if err.Error() == scoreShortageMessage {
				return fmt.Errorf("%w using %s", ErrScoreShortage, pt.Title)
			}
			return err
		}
		if err := s.loyalty.DoScoreCampaign(ctx, subdomain, req); err != nil {
			s.logger.Error("score campaign subtract failed",
				"campaignId", pt.ScoreCampaignID, "itemId", itemID, "err", err)
			return err
		}
	}
	return nil
}

// ConfirmLoyalties finalizes reserved loyalty effects; every failure is
// swallowed because confirmation is a non-critical trailing step.
func (s *Service) ConfirmLoyalties(ctx context.Context, subdomain, itemID string, item domain.Item) {
	if len(item.ProductsData) == 0 {
		return
	}
	customerIDs, resolved := s.relations.CustomerIDs(ctx, subdomain, item.Kind, itemID)
	if !resolved {
		s.logger.Debug("loyalty confirm skipped, customer resolution failed",
			"itemId", itemID)
		return
	}
	s.loyalty.ConfirmLoyalties(ctx, subdomain, LoyaltyConfirmRequest{
		OwnerType:  "customer",
		OwnerID:    firstID(customerIDs),
		TargetType: "sales",
		TargetID:   itemID,
		ExtraInfo:  item.ExtraData,
	})
}

// buildScoreTarget snapshots the payment and product amounts scored by a
// campaign. excludeAmount sums payments whose type carries no campaign and
// is computed from the original payments data, before any repricing.
func (s *Service) buildScoreTarget(item domain.Item, scoreTypes []domain.PaymentType) ScoreTarget {
	target := ScoreTarget{TotalAmount: item.TotalAmount()}
	for _, name := range item.PaymentTypeNames() {
		entry := item.PaymentsData[name]
		payment := map[string]any{
			"type":   name,
			"amount": entry.Amount,
		}
		if entry.Currency != "" {
			payment["currency"] = entry.Currency
		}
		for key, value := range entry.Info {
			payment[key] = value
		}
		target.PaymentsData = append(target.PaymentsData, payment)
		if _, scored := findPaymentType(scoreTypes, name); !scored {
			target.ExcludeAmount += entry.Amount
		}
	}
	return target
}

// anyTypeMatches reports whether any campaign payment type is in use.
func anyTypeMatches(scoreTypes []domain.PaymentType, names []string) bool {
	for _, name := range names {
		if _, ok := findPaymentType(scoreTypes, name); ok {
			return true
		}
	}
	return false
}

// findPaymentType resolves one payment type entry by its type name.
func findPaymentType(types []domain.PaymentType, name string) (domain.PaymentType, bool) {
	for _, pt := range types {
		if pt.Type == name {
			return pt, true
		}
	}
	return domain.PaymentType{}, false
}

// firstID returns the first entry of an id list, or empty.
func firstID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
