package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studioflow/production-portal/production-portal-backend/pkg/apperr"
	"studioflow/production-portal/production-portal-backend/pkg/database"
)

// Store persists in-app notifications and reads delivery contacts.
type Store interface {
	Save(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) error
	// GetContact returns nil when the user has no contact row.
	GetContact(ctx context.Context, userID uuid.UUID) (*Contact, error)
	SaveContact(ctx context.Context, c *Contact) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Migrate creates or updates the notification tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Notification{}, &Contact{}); err != nil {
		return fmt.Errorf("failed to migrate notifications: %w", err)
	}
	return nil
}

func (s *gormStore) Save(ctx context.Context, n *Notification) error {
	if err := database.Conn(ctx, s.db).Create(n).Error; err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (s *gormStore) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	q := database.Conn(ctx, s.db).Where("recipient_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Notification
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (s *gormStore) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) error {
	res := database.Conn(ctx, s.db).Model(&Notification{}).
		Where("id = ? AND recipient_id = ?", id, userID).
		Where("read_at IS NULL").
		Update("read_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := database.Conn(ctx, s.db).Model(&Notification{}).Where("id = ? AND recipient_id = ?", id, userID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		if count == 0 {
			return apperr.NotFound("notifications.MarkRead", "notification %s not found", id)
		}
	}
	return nil
}

func (s *gormStore) GetContact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	var c Contact
	err := database.Conn(ctx, s.db).First(&c, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

func (s *gormStore) SaveContact(ctx context.Context, c *Contact) error {
	if err := database.Conn(ctx, s.db).Save(c).Error; err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// memoryStore backs the memory database driver and the tests.
type memoryStore struct {
	mu            sync.RWMutex
	notifications []Notification
	contacts      map[uuid.UUID]Contact
}

func NewMemoryStore() Store {
	return &memoryStore{contacts: make(map[uuid.UUID]Contact)}
}

func (s *memoryStore) Save(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *memoryStore) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.notifications {
		if n.RecipientID != userID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		n := &s.notifications[i]
		if n.ID == id && n.RecipientID == userID {
			if n.ReadAt == nil {
				n.ReadAt = &at
			}
			return nil
		}
	}
	return apperr.NotFound("notifications.MarkRead", "notification %s not found", id)
}

func (s *memoryStore) GetContact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memoryStore) SaveContact(ctx context.Context, c *Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.UserID] = *c
	return nil
}
