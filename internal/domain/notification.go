package domain

// Notification is one user-facing delivery handed to the notifications service.
type Notification struct {
	NotifType   string   `json:"notifType"`
	Action      string   `json:"action"`
	Content     string   `json:"content"`
	ContentType Kind     `json:"contentType"`
	ContentID   string   `json:"contentTypeId"`
	Link        string   `json:"link,omitempty"`
	CreatedBy   string   `json:"createdUser"`
	ReceiverIDs []string `json:"receivers"`
}

// MobilePush is one push delivery addressed to device owners by user id.
type MobilePush struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ReceiverIDs []string          `json:"receivers"`
	Data        map[string]string `json:"data,omitempty"`
}

// NotificationLinkUpdate rewrites stored notification links after a move.
type NotificationLinkUpdate struct {
	ContentType Kind   `json:"contentType"`
	ContentID   string `json:"contentTypeId"`
	Link        string `json:"link"`
}
