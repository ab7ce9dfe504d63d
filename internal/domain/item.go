package domain

import (
	"slices"
	"strings"
	"time"
)

// Kind tags the polymorphic board item variants.
type Kind string

// Built-in item kinds.
const (
	KindDeal   Kind = "deal"
	KindTask   Kind = "task"
	KindTicket Kind = "ticket"
)

// Status represents item lifecycle status values.
type Status string

// Item lifecycle statuses.
const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ProductData is one product line entry on an item.
//
// A line with BonusCount > 0 is system-synthesized bonus stock awarded by a
// pricing rule and is never user-entered. Lines with TickUsed set are
// excluded from totals.
type ProductData struct {
	ID              string  `json:"_id"`
	ProductID       string  `json:"productId"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unitPrice"`
	Discount        float64 `json:"discount"`
	DiscountPercent float64 `json:"discountPercent"`
	Amount          float64 `json:"amount"`
	TickUsed        bool    `json:"tickUsed"`
	BonusCount      int     `json:"bonusCount,omitempty"`
	AssignUserID    string  `json:"assignUserId,omitempty"`
}

// PaymentEntry is one payment record on an item, keyed by payment type name.
type PaymentEntry struct {
	Amount   float64        `json:"amount"`
	Currency string         `json:"currency,omitempty"`
	Info     map[string]any `json:"info,omitempty"`
}

// CustomFieldValue holds one custom field id/value pair.
type CustomFieldValue struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Item is a board-tracked business record positioned within a stage.
type Item struct {
	ID                    string                  `json:"_id"`
	Kind                  Kind                    `json:"-"`
	Name                  string                  `json:"name"`
	StageID               string                  `json:"stageId"`
	InitialStageID        string                  `json:"initialStageId"`
	Order                 float64                 `json:"order"`
	Status                Status                  `json:"status"`
	AssignedUserIDs       []string                `json:"assignedUserIds,omitempty"`
	WatchedUserIDs        []string                `json:"watchedUserIds,omitempty"`
	LabelIDs              []string                `json:"labelIds,omitempty"`
	TagIDs                []string                `json:"tagIds,omitempty"`
	BranchIDs             []string                `json:"branchIds,omitempty"`
	DepartmentIDs         []string                `json:"departmentIds,omitempty"`
	CustomFieldsData      []CustomFieldValue      `json:"customFieldsData,omitempty"`
	ProductsData          []ProductData           `json:"productsData,omitempty"`
	PaymentsData          map[string]PaymentEntry `json:"paymentsData,omitempty"`
	SourceConversationIDs []string                `json:"sourceConversationIds,omitempty"`
	ExtraData             map[string]any          `json:"extraData,omitempty"`
	StageChangedDate      *time.Time              `json:"stageChangedDate,omitempty"`
	CreatedBy             string                  `json:"userId,omitempty"`
	ModifiedBy            string                  `json:"modifiedBy,omitempty"`
	CreatedAt             time.Time               `json:"createdAt"`
	ModifiedAt            time.Time               `json:"modifiedAt"`
}

// Archived reports whether the item has been soft-removed.
func (i Item) Archived() bool {
	return i.Status == StatusArchived
}

// TotalAmount sums product line amounts, skipping lines flagged TickUsed.
func (i Item) TotalAmount() float64 {
	var total float64
	for _, pd := range i.ProductsData {
		if pd.TickUsed {
			continue
		}
		total += pd.Amount
	}
	return total
}

// PaymentTypeNames returns the payment type keys in deterministic order.
func (i Item) PaymentTypeNames() []string {
	out := make([]string, 0, len(i.PaymentsData))
	for name := range i.PaymentsData {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// CleanIDs drops empty entries from an id list while preserving order.
func CleanIDs(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		out = append(out, id)
	}
	return out
}
