package domain

import "time"

// ActivityAction describes a persisted activity operation for a board item.
type ActivityAction string

// ActivityAction values used by the activity ledger.
const (
	ActivityCreate   ActivityAction = "create"
	ActivityUpdate   ActivityAction = "update"
	ActivityDelete   ActivityAction = "delete"
	ActivityMoved    ActivityAction = "moved"
	ActivityArchive  ActivityAction = "archive"
	ActivityAssignee ActivityAction = "assignee"
)

// ActivityLog represents a single audit-log entry for a board item. Content
// is the action-specific payload: AssignmentDelta for assignee entries,
// MovementLogContent for moves, a plain map for the rest.
type ActivityLog struct {
	ID          int64
	ContentType Kind
	ContentID   string
	Action      ActivityAction
	CreatedBy   string
	Content     any
	CreatedAt   time.Time
}

// AssignmentDelta records an assignee change on an item.
type AssignmentDelta struct {
	AddedUserIDs   []string `json:"addedUserIds,omitempty"`
	RemovedUserIDs []string `json:"removedUserIds,omitempty"`
}

// Changed reports whether the delta carries any assignment change.
func (d AssignmentDelta) Changed() bool {
	return len(d.AddedUserIDs) > 0 || len(d.RemovedUserIDs) > 0
}

// MovementLogContent captures the stage transition recorded on a move log.
type MovementLogContent struct {
	OldStageID         string `json:"oldStageId"`
	DestinationStageID string `json:"destinationStageId"`
	Text               string `json:"text"`
}
