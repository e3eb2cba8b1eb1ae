package settings

import (
	"context"
	"strings"
	"time"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/internal/notifications"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
)

type Service struct {
	store notifications.Store
	now   func() time.Time
}

func NewService(store notifications.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// GetNotifications returns the actor's preferences. Users without a contact
// row get email and push switched on with no addresses.
func (s *Service) GetNotifications(ctx context.Context, actor auth.Actor) (*NotificationPreferences, error) {
	const op = "settings.GetNotifications"
	c, err := s.store.GetContact(ctx, actor.UserID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if c == nil {
		return &NotificationPreferences{Channels: Channels{Email: true, Push: true}}, nil
	}
	return toPreferences(c), nil
}

// UpdateNotifications patches the actor's contact. An empty email or
// endpoint clears it.
func (s *Service) UpdateNotifications(ctx context.Context, actor auth.Actor, req UpdateNotificationsRequest) (*NotificationPreferences, error) {
	const op = "settings.UpdateNotifications"

	c, err := s.store.GetContact(ctx, actor.UserID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if c == nil {
		c = &notifications.Contact{UserID: actor.UserID, EmailEnabled: true, PushEnabled: true}
	}

	if req.Email != nil {
		c.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.PushEndpoint != nil {
		c.PushEndpoint = strings.TrimSpace(*req.PushEndpoint)
	}
	if req.EmailEnabled != nil {
		c.EmailEnabled = *req.EmailEnabled
	}
	if req.PushEnabled != nil {
		c.PushEnabled = *req.PushEnabled
	}
	c.UpdatedAt = s.now().UTC()

	if err := s.store.SaveContact(ctx, c); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return toPreferences(c), nil
}

func toPreferences(c *notifications.Contact) *NotificationPreferences {
	return &NotificationPreferences{
		Email:        c.Email,
		PushEndpoint: c.PushEndpoint,
		Channels:     Channels{Email: c.EmailEnabled, Push: c.PushEnabled},
		UpdatedAt:    c.UpdatedAt,
	}
}
