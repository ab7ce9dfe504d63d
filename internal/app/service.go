// Package app implements the pipeline item lifecycle engine behind the
// transport adapters. Every mutation flows through the Service, which owns
// ordering, permission checks, side-effect orchestration, and event fan-out.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/hylla/boardflow/internal/domain"
	"github.com/hylla/boardflow/internal/metrics"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Deps wires the ports a Service needs. Nil metrics and enricher are valid.
type Deps struct {
	Items         ItemStore
	Hierarchy     HierarchyStore
	Activity      ActivityStore
	Publisher     Publisher
	Notifications NotificationGateway
	Core          CoreClient
	Relations     RelationsClient
	Pricing       PricingClient
	Loyalty       LoyaltyClient
	Registry      *Registry
	Logger        *log.Logger
	IDGen         IDGenerator
	Clock         Clock
	Metrics       *metrics.Metrics
	Enricher      Enricher
}

// Service orchestrates the item lifecycle operations.
type Service struct {
	items         ItemStore
	hierarchy     HierarchyStore
	activity      ActivityStore
	publisher     Publisher
	notifications NotificationGateway
	core          CoreClient
	relations     RelationsClient
	pricing       PricingClient
	loyalty       LoyaltyClient
	registry      *Registry
	logger        *log.Logger
	idGen         IDGenerator
	clock         Clock
	metrics       *metrics.Metrics
	enricher      Enricher
}

// NewService constructs the lifecycle engine from its dependencies.
func NewService(deps Deps) *Service {
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.IDGen == nil {
		deps.IDGen = func() string { return "" }
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		items:         deps.Items,
		hierarchy:     deps.Hierarchy,
		activity:      deps.Activity,
		publisher:     deps.Publisher,
		notifications: deps.Notifications,
		core:          deps.Core,
		relations:     deps.Relations,
		pricing:       deps.Pricing,
		loyalty:       deps.Loyalty,
		registry:      deps.Registry,
		logger:        deps.Logger,
		idGen:         deps.IDGen,
		clock:         deps.Clock,
		metrics:       deps.Metrics,
		enricher:      deps.Enricher,
	}
}

// enrich computes the extra payload fields published alongside an item.
func (s *Service) enrich(ctx context.Context, subdomain string, item domain.Item) map[string]any {
	if s.enricher == nil {
		return nil
	}
	return s.enricher(ctx, subdomain, item)
}

// AddItemInput creates one item in a stage.
type AddItemInput struct {
	Kind       domain.Kind
	Subdomain  string
	ProcessID  string
	Actor      domain.User
	StageID    string
	Name       string
	// AboveItemID positions the new item below the referenced one.
	AboveItemID           string
	AssignedUserIDs       []string
	LabelIDs              []string
	TagIDs                []string
	BranchIDs             []string
	DepartmentIDs         []string
	CustomFieldsData      []domain.CustomFieldValue
	ProductsData          []domain.ProductData
	PaymentsData          map[string]domain.PaymentEntry
	SourceConversationIDs []string
	ExtraData             map[string]any
	CustomerIDs           []string
	CompanyIDs            []string
}

// ItemsAdd creates an item, links its relations, and announces it.
func (s *Service) ItemsAdd(ctx context.Context, in AddItemInput) (domain.Item, error) {
	spec, err := s.registry.Spec(in.Kind)
	if err != nil {
		return domain.Item{}, err
	}
	if in.StageID == "" {
		return domain.Item{}, ErrMissingStage
	}
	if in.ProcessID == "" {
		return domain.Item{}, ErrMissingProcess
	}

	stage, err := s.hierarchy.GetStage(ctx, in.StageID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: stage %s", ErrNotFound, in.StageID)
	}

	order, err := s.computeOrder(ctx, in.Kind, in.StageID, in.AboveItemID)
	if err != nil {
		s.metrics.ObserveOp("add", string(in.Kind), "error")
		return domain.Item{}, err
	}

	customFields := in.CustomFieldsData
	if len(customFields) > 0 {
		prepared, ok := s.core.PrepareCustomFieldsData(ctx, in.Subdomain, customFields)
		if !ok {
			s.metrics.ObserveAdvisoryFallback("fields.prepareCustomFieldsData")
			s.logger.Warn("custom field preparation failed, dropping values",
				"kind", in.Kind)
		}
		customFields = prepared
	}

	now := s.clock()
	item := domain.Item{
		ID:                    s.idGen(),
		Kind:                  in.Kind,
		Name:                  in.Name,
		StageID:               in.StageID,
		InitialStageID:        in.StageID,
		Order:                 order,
		Status:                domain.StatusActive,
		AssignedUserIDs:       domain.CleanIDs(in.AssignedUserIDs),
		WatchedUserIDs:        []string{in.Actor.ID},
		LabelIDs:              domain.CleanIDs(in.LabelIDs),
		TagIDs:                domain.CleanIDs(in.TagIDs),
		BranchIDs:             in.BranchIDs,
		DepartmentIDs:         in.DepartmentIDs,
		CustomFieldsData:      customFields,
		ProductsData:          in.ProductsData,
		PaymentsData:          in.PaymentsData,
		SourceConversationIDs: in.SourceConversationIDs,
		ExtraData:             in.ExtraData,
		CreatedBy:             in.Actor.ID,
		ModifiedBy:            in.Actor.ID,
		CreatedAt:             now,
		ModifiedAt:            now,
	}

	if err := s.items.Insert(ctx, item); err != nil {
		s.metrics.ObserveOp("add", string(in.Kind), "error")
		return domain.Item{}, fmt.Errorf("insert %s: %w", in.Kind, err)
	}

	if len(in.CustomerIDs) > 0 || len(in.CompanyIDs) > 0 {
		s.relations.CreateConformity(ctx, in.Subdomain, Conformity{
			MainType:    in.Kind,
			MainTypeID:  item.ID,
			CustomerIDs: in.CustomerIDs,
			CompanyIDs:  in.CompanyIDs,
		})
	}

	if in.Actor.ID != "" {
		pipeline, err := s.hierarchy.GetPipeline(ctx, stage.PipelineID)
		if err == nil {
			s.notify(ctx, in.Subdomain, boardNotification{
				item:        item,
				actor:       in.Actor,
				notifType:   string(in.Kind) + "Add",
				action:      fmt.Sprintf("invited you to the %s", pipeline.Name),
				content:     fmt.Sprintf("'%s'.", item.Name),
				contentType: in.Kind,
				link:        itemBoardLink(in.Kind, pipeline.BoardID, pipeline.ID, item.ID),
			})
		} else {
			s.logger.Warn("pipeline lookup failed, skipping add notification",
				"pipelineId", stage.PipelineID, "err", err)
		}
		s.putActivity(ctx, domain.ActivityLog{
			ContentType: in.Kind,
			ContentID:   item.ID,
			Action:      domain.ActivityCreate,
			CreatedBy:   in.Actor.ID,
			Content:     map[string]any{"name": item.Name, "stageId": item.StageID},
		})
	}

	s.publish(ctx, domain.PipelineEvent{
		PipelineID: stage.PipelineID,
		ProcessID:  in.ProcessID,
		Action:     domain.EventItemAdd,
		Data: domain.EventData{
			Item:               domain.ItemPayload{Item: item},
			AboveItemID:        in.AboveItemID,
			DestinationStageID: stage.ID,
		},
	})

	s.metrics.ObserveOp("add", string(spec.Kind), "ok")
	return item, nil
}

// EditItemInput mutates one item. Nil fields are left unchanged.
type EditItemInput struct {
	Kind      domain.Kind
	Subdomain string
	ProcessID string
	Actor     domain.User
	ItemID    string

	Name             *string
	StageID          *string
	Status           *domain.Status
	AssignedUserIDs  *[]string
	LabelIDs         *[]string
	TagIDs           *[]string
	CustomFieldsData *[]domain.CustomFieldValue
	ProductsData     *[]domain.ProductData
	PaymentsData     *map[string]domain.PaymentEntry
}

// statusOnly reports whether the edit touches nothing but the status field.
func (in EditItemInput) statusOnly() bool {
	return in.Status != nil &&
		in.Name == nil && in.StageID == nil && in.AssignedUserIDs == nil &&
		in.LabelIDs == nil && in.TagIDs == nil && in.CustomFieldsData == nil &&
		in.ProductsData == nil && in.PaymentsData == nil
}

// ItemsEdit applies field mutations with full side-effect orchestration.
//
// Stage editor restrictions gate every change except a pure archive, which
// is gated by its own capability instead. Status flips
// delegate to the archive/restore transition, assignee changes are diffed
// into an assignment log plus invite/remove notifications, and a stage
// change fans out on both affected pipeline topics when they differ.
func (s *Service) ItemsEdit(ctx context.Context, in EditItemInput) (domain.Item, error) {
	spec, err := s.registry.Spec(in.Kind)
	if err != nil {
		return domain.Item{}, err
	}
	if in.ItemID == "" {
		return domain.Item{}, ErrMissingItem
	}
	if in.ProcessID == "" {
		return domain.Item{}, ErrMissingProcess
	}

	oldItem, err := s.items.Get(ctx, in.Kind, in.ItemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: %s %s", ErrNotFound, in.Kind, in.ItemID)
	}
	stage, err := s.hierarchy.GetStage(ctx, oldItem.StageID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: stage %s", ErrNotFound, oldItem.StageID)
	}

	// Only a pure archive bypasses the stage editor list; it answers to the
	// archive capability below instead. Reactivation puts the item back into
	// the stage's active ordering, so it stays behind the editor list.
	archiveOnly := in.statusOnly() && *in.Status == domain.StatusArchived
	if !archiveOnly && !stage.CanEdit(in.Actor.ID) {
		return domain.Item{}, domain.ErrPermissionDenied
	}
	statusChanged := in.Status != nil && *in.Status != oldItem.Status
	if statusChanged && *in.Status == domain.StatusArchived {
		allowed, err := s.core.Can(ctx, in.Subdomain, spec.ArchiveAction, in.Actor.ID)
		if err != nil {
			return domain.Item{}, fmt.Errorf("capability check %s: %w", spec.ArchiveAction, err)
		}
		if !allowed {
			return domain.Item{}, domain.ErrPermissionDenied
		}
	}

	patch := ItemPatch{
		Name:            in.Name,
		StageID:         in.StageID,
		Status:          in.Status,
		AssignedUserIDs: in.AssignedUserIDs,
		PaymentsData:    in.PaymentsData,
		ModifiedBy:      in.Actor.ID,
		ModifiedAt:      s.clock(),
	}
	if in.LabelIDs != nil {
		cleaned := domain.CleanIDs(*in.LabelIDs)
		patch.LabelIDs = &cleaned
	}
	if in.TagIDs != nil {
		cleaned := domain.CleanIDs(*in.TagIDs)
		patch.TagIDs = &cleaned
	}
	if in.CustomFieldsData != nil {
		prepared, ok := s.core.PrepareCustomFieldsData(ctx, in.Subdomain, *in.CustomFieldsData)
		if !ok {
			s.metrics.ObserveAdvisoryFallback("fields.prepareCustomFieldsData")
			s.logger.Warn("custom field preparation failed, dropping values",
				"itemId", in.ItemID)
		}
		patch.CustomFieldsData = &prepared
	}
	if in.ProductsData != nil {
		assigned := oldItem.AssignedUserIDs
		if in.AssignedUserIDs != nil {
			assigned = *in.AssignedUserIDs
		}
		merged := reconcileProductAssignees(assigned, oldItem.ProductsData, *in.ProductsData)
		patch.AssignedUserIDs = &merged

		candidate := oldItem
		candidate.ProductsData = *in.ProductsData
		priced, err := s.CheckPricing(ctx, in.Subdomain, candidate)
		if err != nil {
			return domain.Item{}, err
		}
		patch.ProductsData = &priced
	}

	updatedItem, err := s.items.Apply(ctx, in.Kind, in.ItemID, patch)
	if err != nil {
		s.metrics.ObserveOp("edit", string(in.Kind), "error")
		return domain.Item{}, fmt.Errorf("apply %s %s: %w", in.Kind, in.ItemID, err)
	}

	if statusChanged {
		transition := "archived"
		if *in.Status == domain.StatusActive {
			transition = "activated"
		}
		s.putActivity(ctx, domain.ActivityLog{
			ContentType: in.Kind,
			ContentID:   updatedItem.ID,
			Action:      domain.ActivityArchive,
			CreatedBy:   in.Actor.ID,
			Content:     map[string]any{"content": transition},
		})
		if err := s.changeItemStatus(ctx, in.Subdomain, in.Actor, updatedItem, in.ProcessID, stage); err != nil {
			return domain.Item{}, err
		}
	}

	notification := boardNotification{
		item:        updatedItem,
		actor:       in.Actor,
		notifType:   string(in.Kind) + "Edit",
		action:      "has updated",
		content:     fmt.Sprintf("'%s'", updatedItem.Name),
		contentType: in.Kind,
	}
	if in.AssignedUserIDs != nil {
		delta := diffUserIDs(oldItem.AssignedUserIDs, *in.AssignedUserIDs)
		if delta.Changed() {
			s.putActivity(ctx, domain.ActivityLog{
				ContentType: in.Kind,
				ContentID:   in.ItemID,
				Action:      domain.ActivityAssignee,
				CreatedBy:   in.Actor.ID,
				Content:     delta,
			})
			notification.invitedUsers = delta.AddedUserIDs
			notification.removedUsers = delta.RemovedUserIDs
		}
	}
	s.notify(ctx, in.Subdomain, notification)

	if len(notification.invitedUsers) == 0 && len(notification.removedUsers) == 0 {
		s.pushMobile(ctx, in.Subdomain, domain.MobilePush{
			Title:       updatedItem.Name,
			Body:        fmt.Sprintf("%s has updated", in.Actor.DisplayName()),
			ReceiverIDs: updatedItem.AssignedUserIDs,
			Data:        map[string]string{"type": string(in.Kind), "id": in.ItemID},
		})
	}

	s.putActivity(ctx, domain.ActivityLog{
		ContentType: in.Kind,
		ContentID:   in.ItemID,
		Action:      domain.ActivityUpdate,
		CreatedBy:   in.Actor.ID,
		Content:     map[string]any{"name": updatedItem.Name},
	})

	updatedStage, err := s.hierarchy.GetStage(ctx, updatedItem.StageID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: stage %s", ErrNotFound, updatedItem.StageID)
	}

	if updatedStage.PipelineID != stage.PipelineID {
		s.publish(ctx, domain.PipelineEvent{
			PipelineID: stage.PipelineID,
			ProcessID:  in.ProcessID,
			Action:     domain.EventItemRemove,
			Data: domain.EventData{
				Item:       domain.ItemPayload{Item: oldItem},
				OldStageID: stage.ID,
			},
		})
		s.publish(ctx, domain.PipelineEvent{
			PipelineID: updatedStage.PipelineID,
			ProcessID:  in.ProcessID,
			Action:     domain.EventItemAdd,
			Data: domain.EventData{
				Item: domain.ItemPayload{
					Item:   updatedItem,
					Extras: s.enrich(ctx, in.Subdomain, updatedItem),
				},
				DestinationStageID: updatedStage.ID,
			},
		})
	} else {
		s.publish(ctx, domain.PipelineEvent{
			PipelineID: stage.PipelineID,
			ProcessID:  in.ProcessID,
			Action:     domain.EventItemUpdate,
			Data: domain.EventData{
				Item: domain.ItemPayload{
					Item:   updatedItem,
					Extras: s.enrich(ctx, in.Subdomain, updatedItem),
				},
			},
		})
	}

	if err := s.DoScoreCampaign(ctx, in.Subdomain, in.ItemID, updatedItem); err != nil {
		s.metrics.ObserveOp("edit", string(in.Kind), "error")
		return domain.Item{}, err
	}

	if oldItem.StageID != updatedItem.StageID {
		action, content, err := s.itemMover(ctx, in.Subdomain, in.Actor.ID, oldItem, updatedItem.StageID)
		if err != nil {
			return domain.Item{}, err
		}
		s.notify(ctx, in.Subdomain, boardNotification{
			item:        updatedItem,
			actor:       in.Actor,
			notifType:   string(in.Kind) + "Change",
			action:      action,
			content:     content,
			contentType: in.Kind,
		})
	}

	s.metrics.ObserveOp("edit", string(in.Kind), "ok")
	return updatedItem, nil
}

// MoveItemInput relocates one item within or across stages.
type MoveItemInput struct {
	Kind               domain.Kind
	Subdomain          string
	ProcessID          string
	Actor              domain.User
	ItemID             string
	AboveItemID        string
	DestinationStageID string
	SourceStageID      string
}

// ItemsChange moves an item to a new stage position.
//
// A cross-stage move checks move permission on both stages and runs the
// score-campaign precondition before anything is persisted; a campaign
// rejection aborts the move. The single orderUpdated event carries both the
// source and destination stage ids.
func (s *Service) ItemsChange(ctx context.Context, in MoveItemInput) (domain.Item, error) {
	if _, err := s.registry.Spec(in.Kind); err != nil {
		return domain.Item{}, err
	}
	if in.ItemID == "" {
		return domain.Item{}, ErrMissingItem
	}
	if in.DestinationStageID == "" {
		return domain.Item{}, ErrMissingStage
	}
	if in.ProcessID == "" {
		return domain.Item{}, ErrMissingProcess
	}

	item, err := s.items.Get(ctx, in.Kind, in.ItemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: %s %s", ErrNotFound, in.Kind, in.ItemID)
	}
	stage, err := s.hierarchy.GetStage(ctx, item.StageID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: stage %s", ErrNotFound, item.StageID)
	}

	order, err := s.computeOrder(ctx, in.Kind, in.DestinationStageID, in.AboveItemID)
	if err != nil {
		s.metrics.ObserveOp("change", string(in.Kind), "error")
		return domain.Item{}, err
	}

	patch := ItemPatch{
		StageID:    &in.DestinationStageID,
		Order:      &order,
		ModifiedBy: in.Actor.ID,
		ModifiedAt: s.clock(),
	}

	if item.StageID != in.DestinationStageID {
		if !stage.CanMove(in.Actor.ID) {
			return domain.Item{}, domain.ErrPermissionDenied
		}
		destination, err := s.hierarchy.GetStage(ctx, in.DestinationStageID)
		if err != nil {
			return domain.Item{}, fmt.Errorf("%w: stage %s", ErrNotFound, in.DestinationStageID)
		}
		if !destination.CanMove(in.Actor.ID) {
			return domain.Item{}, domain.ErrPermissionDenied
		}

		prospective := item
		prospective.StageID = in.DestinationStageID
		prospective.Order = order
		if err := s.DoScoreCampaign(ctx, in.Subdomain, in.ItemID, prospective); err != nil {
			s.metrics.ObserveOp("change", string(in.Kind), "rejected")
			return domain.Item{}, err
		}

		changed := s.clock()
		patch.StageChangedDate = &changed
	}

	updatedItem, err := s.items.Apply(ctx, in.Kind, in.ItemID, patch)
	if err != nil {
		s.metrics.ObserveOp("change", string(in.Kind), "error")
		return domain.Item{}, fmt.Errorf("apply %s %s: %w", in.Kind, in.ItemID, err)
	}

	action, content, err := s.itemMover(ctx, in.Subdomain, in.Actor.ID, item, in.DestinationStageID)
	if err != nil {
		return domain.Item{}, err
	}
	s.notify(ctx, in.Subdomain, boardNotification{
		item:        item,
		actor:       in.Actor,
		notifType:   string(in.Kind) + "Change",
		action:      action,
		content:     content,
		contentType: in.Kind,
	})
	if len(item.AssignedUserIDs) > 0 {
		s.pushMobile(ctx, in.Subdomain, domain.MobilePush{
			Title:       item.Name,
			Body:        fmt.Sprintf("%s %s%s", in.Actor.DisplayName(), action, content),
			ReceiverIDs: item.AssignedUserIDs,
			Data:        map[string]string{"type": string(in.Kind), "id": item.ID},
		})
	}

	s.putActivity(ctx, domain.ActivityLog{
		ContentType: in.Kind,
		ContentID:   in.ItemID,
		Action:      domain.ActivityUpdate,
		CreatedBy:   in.Actor.ID,
		Content:     map[string]any{"stageId": in.DestinationStageID, "order": order},
	})

	s.publish(ctx, domain.PipelineEvent{
		PipelineID: stage.PipelineID,
		ProcessID:  in.ProcessID,
		Action:     domain.EventOrderUpdated,
		Data: domain.EventData{
			Item: domain.ItemPayload{
				Item:   updatedItem,
				Extras: s.enrich(ctx, in.Subdomain, updatedItem),
			},
			AboveItemID:        in.AboveItemID,
			DestinationStageID: in.DestinationStageID,
			OldStageID:         in.SourceStageID,
		},
	})

	s.metrics.ObserveOp("change", string(in.Kind), "ok")
	return updatedItem, nil
}

// changeItemStatus handles the archive/reactivate ordering transition after
// the status field itself has been persisted.
//
// Archiving only removes the item from the active ordering. Reactivation
// re-anchors the item below its nearest still-active predecessor so it sorts
// close to its old position.
func (s *Service) changeItemStatus(ctx context.Context, subdomain string, actor domain.User, item domain.Item, processID string, stage domain.Stage) error {
	if item.Archived() {
		s.publish(ctx, domain.PipelineEvent{
			PipelineID: stage.PipelineID,
			ProcessID:  processID,
			Action:     domain.EventItemRemove,
			Data: domain.EventData{
				Item:       domain.ItemPayload{Item: item},
				OldStageID: item.StageID,
			},
		})
		return nil
	}

	aboveItemID := ""
	above, ok, err := s.items.NearestActiveAbove(ctx, item.Kind, item.StageID, item.Order)
	if err != nil {
		return fmt.Errorf("resolve reactivation anchor: %w", err)
	}
	if ok {
		aboveItemID = above.ID
	}

	order, err := s.computeOrder(ctx, item.Kind, item.StageID, aboveItemID)
	if err != nil {
		return err
	}
	updated, err := s.items.Apply(ctx, item.Kind, item.ID, ItemPatch{
		Order:      &order,
		ModifiedBy: actor.ID,
		ModifiedAt: s.clock(),
	})
	if err != nil {
		return fmt.Errorf("reorder reactivated %s %s: %w", item.Kind, item.ID, err)
	}

	s.publish(ctx, domain.PipelineEvent{
		PipelineID: stage.PipelineID,
		ProcessID:  processID,
		Action:     domain.EventItemAdd,
		Data: domain.EventData{
			Item: domain.ItemPayload{
				Item:   updated,
				Extras: s.enrich(ctx, subdomain, updated),
			},
			AboveItemID:        aboveItemID,
			DestinationStageID: item.StageID,
		},
	})
	return nil
}

// itemMover records a stage movement and rewrites stored notification links.
// It returns the action/content pair used in the change notification text.
func (s *Service) itemMover(ctx context.Context, subdomain, userID string, item domain.Item, destinationStageID string) (action, content string, err error) {
	oldStageID := item.StageID

	action = fmt.Sprintf("changed order of your %s:", item.Kind)
	content = fmt.Sprintf("'%s'", item.Name)

	if oldStageID == destinationStageID {
		return action, content, nil
	}

	var newStage, oldStage domain.Stage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		newStage, err = s.hierarchy.GetStage(gctx, destinationStageID)
		return err
	})
	g.Go(func() error {
		var err error
		oldStage, err = s.hierarchy.GetStage(gctx, oldStageID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", fmt.Errorf("%w: movement stages", ErrNotFound)
	}

	var pipeline, oldPipeline domain.Pipeline
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pipeline, err = s.hierarchy.GetPipeline(gctx, newStage.PipelineID)
		return err
	})
	g.Go(func() error {
		var err error
		oldPipeline, err = s.hierarchy.GetPipeline(gctx, oldStage.PipelineID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", fmt.Errorf("%w: movement pipelines", ErrNotFound)
	}

	var board, oldBoard domain.Board
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		board, err = s.hierarchy.GetBoard(gctx, pipeline.BoardID)
		return err
	})
	g.Go(func() error {
		var err error
		oldBoard, err = s.hierarchy.GetBoard(gctx, oldPipeline.BoardID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", fmt.Errorf("%w: movement boards", ErrNotFound)
	}

	action = fmt.Sprintf("moved '%s' from %s-%s-%s to ",
		item.Name, oldBoard.Name, oldPipeline.Name, oldStage.Name)
	content = fmt.Sprintf("%s-%s-%s", board.Name, pipeline.Name, newStage.Name)

	link := itemBoardLink(item.Kind, board.ID, pipeline.ID, item.ID)

	s.putActivity(ctx, domain.ActivityLog{
		ContentType: item.Kind,
		ContentID:   item.ID,
		Action:      domain.ActivityMoved,
		CreatedBy:   userID,
		Content: domain.MovementLogContent{
			OldStageID:         oldStageID,
			DestinationStageID: destinationStageID,
			Text:               fmt.Sprintf("%s to %s", oldStage.Name, newStage.Name),
		},
	})

	s.notifications.BatchUpdate(ctx, subdomain, domain.NotificationLinkUpdate{
		ContentType: item.Kind,
		ContentID:   item.ID,
		Link:        link,
	})

	return action, content, nil
}

// RemoveItemInput hard-deletes one item.
type RemoveItemInput struct {
	Kind      domain.Kind
	Subdomain string
	Actor     domain.User
	ItemID    string
}

// ItemsRemove notifies watchers, tears down relations, and hard-deletes.
func (s *Service) ItemsRemove(ctx context.Context, in RemoveItemInput) (domain.Item, error) {
	if _, err := s.registry.Spec(in.Kind); err != nil {
		return domain.Item{}, err
	}
	if in.ItemID == "" {
		return domain.Item{}, ErrMissingItem
	}

	item, err := s.items.Get(ctx, in.Kind, in.ItemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: %s %s", ErrNotFound, in.Kind, in.ItemID)
	}

	s.notify(ctx, in.Subdomain, boardNotification{
		item:        item,
		actor:       in.Actor,
		notifType:   string(in.Kind) + "Delete",
		action:      fmt.Sprintf("deleted %s:", in.Kind),
		content:     fmt.Sprintf("'%s'", item.Name),
		contentType: in.Kind,
	})
	if len(item.AssignedUserIDs) > 0 {
		s.pushMobile(ctx, in.Subdomain, domain.MobilePush{
			Title:       item.Name,
			Body:        fmt.Sprintf("%s deleted the %s", in.Actor.DisplayName(), in.Kind),
			ReceiverIDs: item.AssignedUserIDs,
			Data:        map[string]string{"type": string(in.Kind), "id": item.ID},
		})
	}

	s.relations.DestroyRelations(ctx, in.Subdomain, in.Kind, item.ID)

	if err := s.items.Delete(ctx, in.Kind, item.ID); err != nil {
		s.metrics.ObserveOp("remove", string(in.Kind), "error")
		return domain.Item{}, fmt.Errorf("delete %s %s: %w", in.Kind, item.ID, err)
	}

	s.putActivity(ctx, domain.ActivityLog{
		ContentType: in.Kind,
		ContentID:   item.ID,
		Action:      domain.ActivityDelete,
		CreatedBy:   in.Actor.ID,
		Content:     map[string]any{"name": item.Name},
	})

	s.metrics.ObserveOp("remove", string(in.Kind), "ok")
	return item, nil
}

// CopyItemInput clones one item within its stage.
type CopyItemInput struct {
	Kind      domain.Kind
	Subdomain string
	ProcessID string
	Actor     domain.User
	ItemID    string
}

// ItemsCopy clones an item directly below the source, regenerating its
// customer/company relations and checklists against the new id. Conversation
// linkage is never copied.
func (s *Service) ItemsCopy(ctx context.Context, in CopyItemInput) (domain.Item, error) {
	if _, err := s.registry.Spec(in.Kind); err != nil {
		return domain.Item{}, err
	}
	if in.ItemID == "" {
		return domain.Item{}, ErrMissingItem
	}
	if in.ProcessID == "" {
		return domain.Item{}, ErrMissingProcess
	}

	item, err := s.items.Get(ctx, in.Kind, in.ItemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: %s %s", ErrNotFound, in.Kind, in.ItemID)
	}

	order, err := s.computeOrder(ctx, in.Kind, item.StageID, item.ID)
	if err != nil {
		return domain.Item{}, err
	}

	now := s.clock()
	clone := item
	clone.ID = s.idGen()
	clone.Name = item.Name + "-copied"
	clone.Order = order
	clone.Status = domain.StatusActive
	clone.SourceConversationIDs = nil
	clone.WatchedUserIDs = []string{in.Actor.ID}
	clone.CreatedBy = in.Actor.ID
	clone.ModifiedBy = in.Actor.ID
	clone.CreatedAt = now
	clone.ModifiedAt = now
	clone.StageChangedDate = nil

	if err := s.items.Insert(ctx, clone); err != nil {
		s.metrics.ObserveOp("copy", string(in.Kind), "error")
		return domain.Item{}, fmt.Errorf("insert copy of %s %s: %w", in.Kind, item.ID, err)
	}

	customerIDs, okCustomers := s.relations.CustomerIDs(ctx, in.Subdomain, in.Kind, item.ID)
	companyIDs, okCompanies := s.relations.CompanyIDs(ctx, in.Subdomain, in.Kind, item.ID)
	if !okCustomers || !okCompanies {
		s.metrics.ObserveAdvisoryFallback("relations.resolveIds")
		s.logger.Warn("relation resolution failed, copying without conformities",
			"itemId", item.ID)
	} else if len(customerIDs) > 0 || len(companyIDs) > 0 {
		s.relations.CreateConformity(ctx, in.Subdomain, Conformity{
			MainType:    in.Kind,
			MainTypeID:  clone.ID,
			CustomerIDs: customerIDs,
			CompanyIDs:  companyIDs,
		})
	}

	s.relations.CopyChecklists(ctx, in.Subdomain, in.Kind, item.ID, clone.ID, in.Actor.ID)

	stage, err := s.hierarchy.GetStage(ctx, clone.StageID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: stage %s", ErrNotFound, clone.StageID)
	}

	s.publish(ctx, domain.PipelineEvent{
		PipelineID: stage.PipelineID,
		ProcessID:  in.ProcessID,
		Action:     domain.EventItemAdd,
		Data: domain.EventData{
			Item: domain.ItemPayload{
				Item:   clone,
				Extras: s.enrich(ctx, in.Subdomain, clone),
			},
			AboveItemID:        item.ID,
			DestinationStageID: stage.ID,
		},
	})
	s.publish(ctx, domain.PipelineEvent{
		PipelineID: stage.PipelineID,
		ProcessID:  s.idGen(),
		Action:     domain.EventItemOfConformitiesUpdate,
		Data: domain.EventData{
			Item: domain.ItemPayload{Item: clone},
		},
	})

	s.metrics.ObserveOp("copy", string(in.Kind), "ok")
	return clone, nil
}

// ArchiveStageInput archives every active item in one stage.
type ArchiveStageInput struct {
	Kind      domain.Kind
	Subdomain string
	ProcessID string
	Actor     domain.User
	StageID   string
}

// ItemsArchive flips every active item in the stage to archived in one
// persistence call, then fans out one audit log and one itemsRemove event
// per item. Downstream board UIs key off per-item frames, so the fan-out is
// deliberate. Returns the number of items archived.
func (s *Service) ItemsArchive(ctx context.Context, in ArchiveStageInput) (int64, error) {
	if _, err := s.registry.Spec(in.Kind); err != nil {
		return 0, err
	}
	if in.StageID == "" {
		return 0, ErrMissingStage
	}
	if in.ProcessID == "" {
		return 0, ErrMissingProcess
	}

	stage, err := s.hierarchy.GetStage(ctx, in.StageID)
	if err != nil {
		return 0, fmt.Errorf("%w: stage %s", ErrNotFound, in.StageID)
	}

	items, err := s.items.ListStageItems(ctx, in.Kind, in.StageID, false)
	if err != nil {
		return 0, fmt.Errorf("list stage %s: %w", in.StageID, err)
	}

	archived, err := s.items.ArchiveStageItems(ctx, in.Kind, in.StageID)
	if err != nil {
		s.metrics.ObserveOp("archive", string(in.Kind), "error")
		return 0, fmt.Errorf("archive stage %s: %w", in.StageID, err)
	}

	for _, item := range items {
		s.putActivity(ctx, domain.ActivityLog{
			ContentType: in.Kind,
			ContentID:   item.ID,
			Action:      domain.ActivityArchive,
			CreatedBy:   in.Actor.ID,
			Content:     map[string]any{"content": "archived"},
		})
		s.publish(ctx, domain.PipelineEvent{
			PipelineID: stage.PipelineID,
			ProcessID:  in.ProcessID,
			Action:     domain.EventItemsRemove,
			Data: domain.EventData{
				Item:               domain.ItemPayload{Item: item},
				DestinationStageID: stage.ID,
			},
		})
	}

	s.metrics.ObserveOp("archive", string(in.Kind), "ok")
	return archived, nil
}

// GetItem returns one item by kind and id.
func (s *Service) GetItem(ctx context.Context, kind domain.Kind, id string) (domain.Item, error) {
	if _, err := s.registry.Spec(kind); err != nil {
		return domain.Item{}, err
	}
	item, err := s.items.Get(ctx, kind, id)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return item, nil
}

// ListStageItems returns the items of one stage in order.
func (s *Service) ListStageItems(ctx context.Context, kind domain.Kind, stageID string, includeArchived bool) ([]domain.Item, error) {
	if _, err := s.registry.Spec(kind); err != nil {
		return nil, err
	}
	if stageID == "" {
		return nil, ErrMissingStage
	}
	return s.items.ListStageItems(ctx, kind, stageID, includeArchived)
}

// ListItemActivity returns recent audit entries for one item.
func (s *Service) ListItemActivity(ctx context.Context, kind domain.Kind, itemID string, limit int) ([]domain.ActivityLog, error) {
	if _, err := s.registry.Spec(kind); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, ErrMissingItem
	}
	return s.activity.ListByContent(ctx, kind, itemID, limit)
}

// IsPermissionDenied reports whether err is the stage/capability rejection.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, domain.ErrPermissionDenied)
}

// reconcileProductAssignees folds per-line assignee changes into the assigned
// set: users on a new line assignment are added, and users whose line
// assignment was dropped are removed, even when they were also on the item.
func reconcileProductAssignees(assigned []string, oldProducts, newProducts []domain.ProductData) []string {
	oldLines := lineAssignees(oldProducts)
	newLines := lineAssignees(newProducts)

	seen := map[string]struct{}{}
	out := []string{}
	keep := func(id string) {
		if id == "" {
			return
		}
		if _, was := oldLines[id]; was {
			if _, still := newLines[id]; !still {
				return
			}
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range assigned {
		keep(id)
	}
	for _, pd := range newProducts {
		keep(pd.AssignUserID)
	}
	return out
}

// lineAssignees collects the non-empty per-line assignee ids.
func lineAssignees(products []domain.ProductData) map[string]struct{} {
	set := map[string]struct{}{}
	for _, pd := range products {
		if pd.AssignUserID != "" {
			set[pd.AssignUserID] = struct{}{}
		}
	}
	return set
}
