package settings

import "time"

// NotificationPreferences is the user-editable view of a notification
// contact.
type NotificationPreferences struct {
	Email        string    `json:"email"`
	PushEndpoint string    `json:"push_endpoint"`
	Channels     Channels  `json:"channels"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Channels toggles the out-of-band channels. In-app and websocket delivery
// are always on.
type Channels struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

// UpdateNotificationsRequest changes only the fields that are set. An
// empty string clears the address.
type UpdateNotificationsRequest struct {
	Email        *string `json:"email" binding:"omitempty,max=254,email|len=0"`
	PushEndpoint *string `json:"push_endpoint" binding:"omitempty,max=512,startswith=arn:|len=0"`
	EmailEnabled *bool   `json:"email_enabled"`
	PushEnabled  *bool   `json:"push_enabled"`
}
