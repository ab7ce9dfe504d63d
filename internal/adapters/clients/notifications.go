package clients

import (
	"context"

	"github.com/hylla/boardflow/internal/domain"
)

// NotificationService reaches the notifications service. Every delivery is
// advisory: a failed send is logged by the caller and never surfaced.
type NotificationService struct {
	caller *Caller
}

// NewNotificationService wraps a caller as the notification gateway.
func NewNotificationService(caller *Caller) *NotificationService {
	return &NotificationService{caller: caller}
}

// Send delivers one user-facing notification.
func (s *NotificationService) Send(ctx context.Context, subdomain string, n domain.Notification) {
	s.caller.Advisory(ctx, subdomain, "send", n, nil)
}

// SendMobile delivers one push to device owners by user id.
func (s *NotificationService) SendMobile(ctx context.Context, subdomain string, p domain.MobilePush) {
	s.caller.Advisory(ctx, subdomain, "sendMobileNotification", p, nil)
}

// BatchUpdate rewrites the stored link of an item's notifications.
func (s *NotificationService) BatchUpdate(ctx context.Context, subdomain string, u domain.NotificationLinkUpdate) {
	s.caller.Advisory(ctx, subdomain, "batchUpdate", u, nil)
}
