package app

import (
	"context"
	"fmt"

	"github.com/hylla/boardflow/internal/domain"
)

// boardNotification collects everything one fan-out needs.
type boardNotification struct {
	item         domain.Item
	actor        domain.User
	notifType    string
	action       string
	content      string
	contentType  domain.Kind
	link         string
	invitedUsers []string
	removedUsers []string
}

// diffUserIDs splits an assignee change into added and removed sets.
func diffUserIDs(oldIDs, newIDs []string) domain.AssignmentDelta {
	oldSet := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = struct{}{}
	}
	var delta domain.AssignmentDelta
	for _, id := range newIDs {
		if _, ok := oldSet[id]; !ok {
			delta.AddedUserIDs = append(delta.AddedUserIDs, id)
		}
	}
	for _, id := range oldIDs {
		if _, ok := newSet[id]; !ok {
			delta.RemovedUserIDs = append(delta.RemovedUserIDs, id)
		}
	}
	return delta
}

// notificationReceivers merges assigned, watched, and invited users minus
// removed users and the acting user.
func notificationReceivers(n boardNotification) []string {
	seen := map[string]struct{}{}
	removed := make(map[string]struct{}, len(n.removedUsers))
	for _, id := range n.removedUsers {
		removed[id] = struct{}{}
	}
	out := []string{}
	add := func(ids []string) {
		for _, id := range ids {
			if id == "" || id == n.actor.ID {
				continue
			}
			if _, gone := removed[id]; gone {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(n.item.AssignedUserIDs)
	add(n.item.WatchedUserIDs)
	add(n.invitedUsers)
	return out
}

// notify delivers one board notification. Delivery is advisory at the
// gateway, so a failure never reaches the primary mutation.
func (s *Service) notify(ctx context.Context, subdomain string, n boardNotification) {
	receivers := notificationReceivers(n)
	if len(receivers) == 0 {
		return
	}
	s.notifications.Send(ctx, subdomain, domain.Notification{
		NotifType:   n.notifType,
		Action:      n.action,
		Content:     n.content,
		ContentType: n.contentType,
		ContentID:   n.item.ID,
		Link:        n.link,
		CreatedBy:   n.actor.ID,
		ReceiverIDs: receivers,
	})
}

// pushMobile delivers one best-effort mobile push to the given receivers.
func (s *Service) pushMobile(ctx context.Context, subdomain string, push domain.MobilePush) {
	if len(push.ReceiverIDs) == 0 {
		return
	}
	s.notifications.SendMobile(ctx, subdomain, push)
}

// putActivity persists one audit entry; failures are logged and swallowed.
func (s *Service) putActivity(ctx context.Context, entry domain.ActivityLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock()
	}
	if err := s.activity.Put(ctx, entry); err != nil {
		s.logger.Warn("activity log write failed",
			"action", entry.Action, "contentId", entry.ContentID, "err", err)
	}
}

// publish delivers one change event; failures are logged and counted, never
// propagated past the committed primary mutation.
func (s *Service) publish(ctx context.Context, event domain.PipelineEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.ObservePublishFailure()
		s.logger.Warn("change event publish failed",
			"topic", event.Topic(), "action", event.Action, "err", err)
	}
}

// itemBoardLink builds the UI deep link stored on notifications.
func itemBoardLink(kind domain.Kind, boardID, pipelineID, itemID string) string {
	return fmt.Sprintf("/%s/board?id=%s&pipelineId=%s&itemId=%s", kind, boardID, pipelineID, itemID)
}
