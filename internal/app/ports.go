package app

import (
	"context"
	"time"

	"github.com/hylla/boardflow/internal/domain"
)

// ItemPatch is the explicit mutation shape applied through the item store.
//
// Nil fields are left unchanged. Events are built from typed items re-read
// after the patch, never from raw persisted document internals.
type ItemPatch struct {
	Name             *string
	StageID          *string
	Order            *float64
	Status           *domain.Status
	AssignedUserIDs  *[]string
	WatchedUserIDs   *[]string
	LabelIDs         *[]string
	TagIDs           *[]string
	CustomFieldsData *[]domain.CustomFieldValue
	ProductsData     *[]domain.ProductData
	PaymentsData     *map[string]domain.PaymentEntry
	StageChangedDate *time.Time
	ModifiedBy       string
	ModifiedAt       time.Time
}

// ItemStore owns item documents for every registered kind.
type ItemStore interface {
	Insert(context.Context, domain.Item) error
	Get(ctx context.Context, kind domain.Kind, id string) (domain.Item, error)
	Apply(ctx context.Context, kind domain.Kind, id string, patch ItemPatch) (domain.Item, error)
	Delete(ctx context.Context, kind domain.Kind, id string) error
	ListStageItems(ctx context.Context, kind domain.Kind, stageID string, includeArchived bool) ([]domain.Item, error)

	// MinOrder returns the smallest active order in a stage.
	MinOrder(ctx context.Context, kind domain.Kind, stageID string) (float64, bool, error)
	// NextOrder returns the smallest active order strictly greater than after.
	NextOrder(ctx context.Context, kind domain.Kind, stageID string, after float64) (float64, bool, error)
	// NearestActiveAbove returns the active item with the greatest order
	// strictly smaller than the given order.
	NearestActiveAbove(ctx context.Context, kind domain.Kind, stageID string, order float64) (domain.Item, bool, error)
	// ArchiveStageItems flips every non-archived item in the stage to
	// archived in one persistence call and reports how many rows changed.
	ArchiveStageItems(ctx context.Context, kind domain.Kind, stageID string) (int64, error)
}

// HierarchyStore resolves the read-only stage/pipeline/board containment.
type HierarchyStore interface {
	GetStage(ctx context.Context, id string) (domain.Stage, error)
	GetPipeline(ctx context.Context, id string) (domain.Pipeline, error)
	GetBoard(ctx context.Context, id string) (domain.Board, error)
}

// ActivityStore records audit-log entries.
type ActivityStore interface {
	Put(context.Context, domain.ActivityLog) error
	ListByContent(ctx context.Context, kind domain.Kind, contentID string, limit int) ([]domain.ActivityLog, error)
}

// Publisher fans one change event out to a pipeline topic.
type Publisher interface {
	Publish(context.Context, domain.PipelineEvent) error
}

// NotificationGateway hands user-facing deliveries to external transports.
// Every delivery is advisory: the gateway absorbs failures and the engine
// never learns about them.
type NotificationGateway interface {
	Send(ctx context.Context, subdomain string, n domain.Notification)
	SendMobile(ctx context.Context, subdomain string, p domain.MobilePush)
	BatchUpdate(ctx context.Context, subdomain string, u domain.NotificationLinkUpdate)
}

// CoreClient reaches the core directory service.
type CoreClient interface {
	// PrepareCustomFieldsData cleans raw custom field values. The call is
	// advisory; on failure it reports false and the caller keeps its default.
	PrepareCustomFieldsData(ctx context.Context, subdomain string, data []domain.CustomFieldValue) ([]domain.CustomFieldValue, bool)
	// Can checks a named capability for a user. Mandatory: a failed check
	// must fail the mutation, never fall open.
	Can(ctx context.Context, subdomain, action, userID string) (bool, error)
}

// Conformity links an item to its customers and companies.
type Conformity struct {
	MainType    domain.Kind `json:"mainType"`
	MainTypeID  string      `json:"mainTypeId"`
	CustomerIDs []string    `json:"customerIds,omitempty"`
	CompanyIDs  []string    `json:"companyIds,omitempty"`
}

// RelationsClient manages cross-entity relations owned by sibling services.
// All calls are advisory: writes are fire-and-forget and the id reads report
// false on failure so callers can skip the dependent side effect.
type RelationsClient interface {
	CreateConformity(ctx context.Context, subdomain string, c Conformity)
	DestroyRelations(ctx context.Context, subdomain string, kind domain.Kind, itemID string)
	CopyChecklists(ctx context.Context, subdomain string, kind domain.Kind, fromID, toID, userID string)
	CustomerIDs(ctx context.Context, subdomain string, kind domain.Kind, itemID string) ([]string, bool)
	CompanyIDs(ctx context.Context, subdomain string, kind domain.Kind, itemID string) ([]string, bool)
}

// PricingLine is one candidate line submitted for discount computation.
type PricingLine struct {
	ItemID    string  `json:"itemId"`
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
}

// PricingRequest asks the pricing service for discounts on candidate lines.
type PricingRequest struct {
	PrioritizeRule string        `json:"prioritizeRule"`
	TotalAmount    float64       `json:"totalAmount"`
	DepartmentID   string        `json:"departmentId"`
	BranchID       string        `json:"branchId"`
	PipelineID     string        `json:"pipelineId"`
	Products       []PricingLine `json:"products"`
}

// PricingDiscount is the per-line discount computed by the pricing service.
type PricingDiscount struct {
	Value         float64  `json:"value"`
	BonusProducts []string `json:"bonusProducts"`
}

// PricingClient reaches the pricing service. The lookup is advisory; on
// failure it reports false with an empty discount map.
type PricingClient interface {
	CheckPricing(ctx context.Context, subdomain string, req PricingRequest) (map[string]PricingDiscount, bool)
}

// ScoreTarget is the monetary snapshot scored by a loyalty campaign.
type ScoreTarget struct {
	PaymentsData  []map[string]any `json:"paymentsData"`
	TotalAmount   float64          `json:"totalAmount"`
	ExcludeAmount float64          `json:"excludeAmount,omitempty"`
}

// ScoreSubtractRequest identifies one campaign subtraction against an owner.
type ScoreSubtractRequest struct {
	OwnerType  string      `json:"ownerType"`
	OwnerID    string      `json:"ownerId"`
	CampaignID string      `json:"campaignId"`
	Target     ScoreTarget `json:"target"`
	TargetID   string      `json:"targetId"`
}

// LoyaltyConfirmRequest finalizes previously reserved loyalty effects.
type LoyaltyConfirmRequest struct {
	OwnerType  string         `json:"ownerType"`
	OwnerID    string         `json:"ownerId"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	ExtraInfo  map[string]any `json:"extraInfo,omitempty"`
}

// LoyaltyClient reaches the loyalty ledger service. The campaign lookup and
// the confirmation are advisory; the availability check and the subtraction
// are mandatory because a shortage must block the mutation.
type LoyaltyClient interface {
	ScoreCampaign(ctx context.Context, subdomain, id string) (*domain.ScoreCampaign, bool)
	CheckScoreAvailableSubtract(ctx context.Context, subdomain string, req ScoreSubtractRequest) error
	DoScoreCampaign(ctx context.Context, subdomain string, req ScoreSubtractRequest) error
	ConfirmLoyalties(ctx context.Context, subdomain string, req LoyaltyConfirmRequest)
}

// Enricher computes extra fields attached to outgoing item payloads.
type Enricher func(ctx context.Context, subdomain string, item domain.Item) map[string]any
