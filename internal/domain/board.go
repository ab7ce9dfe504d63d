package domain

// Stage belongs to one pipeline and orders items within it.
//
// Empty member id lists mean the stage is unrestricted.
type Stage struct {
	ID               string   `json:"_id"`
	PipelineID       string   `json:"pipelineId"`
	Name             string   `json:"name"`
	Status           Status   `json:"status"`
	CanEditMemberIDs []string `json:"canEditMemberIds,omitempty"`
	CanMoveMemberIDs []string `json:"canMoveMemberIds,omitempty"`
}

// CanEdit reports whether the user may edit items in this stage.
func (s Stage) CanEdit(userID string) bool {
	return memberAllowed(s.CanEditMemberIDs, userID)
}

// CanMove reports whether the user may move items into or out of this stage.
func (s Stage) CanMove(userID string) bool {
	return memberAllowed(s.CanMoveMemberIDs, userID)
}

// memberAllowed treats an empty allowlist as unrestricted.
func memberAllowed(memberIDs []string, userID string) bool {
	if len(memberIDs) == 0 {
		return true
	}
	for _, id := range memberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PaymentType links a pipeline payment method to an optional score campaign.
type PaymentType struct {
	Type            string `json:"type"`
	Title           string `json:"title"`
	ScoreCampaignID string `json:"scoreCampaignId,omitempty"`
}

// Pipeline belongs to one board and groups stages.
type Pipeline struct {
	ID           string        `json:"_id"`
	BoardID      string        `json:"boardId"`
	Name         string        `json:"name"`
	PaymentTypes []PaymentType `json:"paymentTypes,omitempty"`
}

// ScorePaymentTypes returns payment types carrying a score campaign link.
func (p Pipeline) ScorePaymentTypes() []PaymentType {
	out := make([]PaymentType, 0, len(p.PaymentTypes))
	for _, pt := range p.PaymentTypes {
		if pt.ScoreCampaignID != "" {
			out = append(out, pt)
		}
	}
	return out
}

// Board is the top-level container, used for human-readable event text.
type Board struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// CardBasedRule scopes a score campaign to a set of stages.
type CardBasedRule struct {
	StageIDs []string `json:"stageIds"`
}

// ScoreCampaignConfig holds the stage-scoping rules of a loyalty campaign.
type ScoreCampaignConfig struct {
	CardBasedRule []CardBasedRule `json:"cardBasedRule,omitempty"`
}

// ScoreCampaign is a loyalty-points rule resolved from the loyalty service.
type ScoreCampaign struct {
	ID               string              `json:"_id"`
	Title            string              `json:"title"`
	AdditionalConfig ScoreCampaignConfig `json:"additionalConfig"`
}

// AppliesToStage reports whether any card-based rule includes the stage.
func (c ScoreCampaign) AppliesToStage(stageID string) bool {
	for _, rule := range c.AdditionalConfig.CardBasedRule {
		for _, id := range rule.StageIDs {
			if id == stageID {
				return true
			}
		}
	}
	return false
}

// User carries the minimal actor identity this service needs.
type User struct {
	ID        string `json:"_id"`
	FullName  string `json:"fullName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

// DisplayName prefers the full name and falls back to the short name or id.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.ShortName != "" {
		return u.ShortName
	}
	return u.ID
}
