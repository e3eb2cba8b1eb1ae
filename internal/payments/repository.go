package payments

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

// Filter narrows ledger listings. Zero fields do not filter.
type Filter struct {
	ProjectIDs     []uuid.UUID
	PayeeID        *uuid.UUID
	Types          []PaymentType
	IncludeDeleted bool
}

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Update saves p if its version is current and bumps the version.
	Update(ctx context.Context, p *Payment) error
	// FindPayout returns the live payout for a work item, or nil when there
	// is none.
	FindPayout(ctx context.Context, projectID, workItemID uuid.UUID) (*Payment, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, t PaymentType) ([]Payment, error)
	List(ctx context.Context, filter Filter) ([]Payment, error)
	// PurgeExpired hard-deletes entries whose delete horizon passed. Money
	// that moved is never purged.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Migrate creates or updates the payments table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Payment{}); err != nil {
		return fmt.Errorf("failed to migrate payments: %w", err)
	}
	return nil
}

func (r *gormRepository) conn(ctx context.Context) *gorm.DB {
	return database.Conn(ctx, r.db)
}

func (r *gormRepository) Create(ctx context.Context, p *Payment) error {
	if p.Version == 0 {
		p.Version = 1
	}
	if err := r.conn(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.conn(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("payments.Get", "payment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (r *gormRepository) Update(ctx context.Context, p *Payment) error {
	expected := p.Version
	p.Version = expected + 1
	res := r.conn(ctx).Model(p).Where("version = ?", expected).Select("*").Omit("id", "created_at").Updates(p)
	if res.Error != nil {
		p.Version = expected
		return fmt.Errorf("failed to update payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		p.Version = expected
		return apperr.Conflict("payments.Update", "payment %s was modified concurrently", p.ID)
	}
	return nil
}

func (r *gormRepository) FindPayout(ctx context.Context, projectID, workItemID uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.conn(ctx).
		Where("type = ? AND project_id = ? AND work_item_id = ? AND deleted_at IS NULL", TypeEditorPayout, projectID, workItemID).
		Order("created_at ASC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payout: %w", err)
	}
	return &p, nil
}

func (r *gormRepository) ListByProject(ctx context.Context, projectID uuid.UUID, t PaymentType) ([]Payment, error) {
	var out []Payment
	err := r.conn(ctx).
		Where("project_id = ? AND type = ? AND deleted_at IS NULL", projectID, t).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return out, nil
}

func (r *gormRepository) List(ctx context.Context, filter Filter) ([]Payment, error) {
	q := r.conn(ctx).Model(&Payment{})
	if filter.ProjectIDs != nil {
		if len(filter.ProjectIDs) == 0 {
			return nil, nil
		}
		q = q.Where("project_id IN ?", filter.ProjectIDs)
	}
	if filter.PayeeID != nil {
		q = q.Where("payee_id = ?", *filter.PayeeID)
	}
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if !filter.IncludeDeleted {
		q = q.Where("deleted_at IS NULL")
	}

	var out []Payment
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return out, nil
}

func (r *gormRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.conn(ctx).
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", now).
		Where("status <> ? AND paid_at IS NULL AND received_at IS NULL", StatusPaid).
		Delete(&Payment{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge payments: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// memoryRepository backs the memory database driver and the tests.
type memoryRepository struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]Payment
}

func NewMemoryRepository() Repository {
	return &memoryRepository{payments: make(map[uuid.UUID]Payment)}
}

func (r *memoryRepository) Create(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := r.payments[p.ID]; ok {
		return fmt.Errorf("failed to create payment: duplicate id %s", p.ID)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.payments[p.ID] = *p
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, apperr.NotFound("payments.Get", "payment %s not found", id)
	}
	return &p, nil
}

func (r *memoryRepository) Update(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.payments[p.ID]
	if !ok || cur.Version != p.Version {
		return apperr.Conflict("payments.Update", "payment %s was modified concurrently", p.ID)
	}
	p.Version++
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	r.payments[p.ID] = *p
	return nil
}

func (r *memoryRepository) FindPayout(ctx context.Context, projectID, workItemID uuid.UUID) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Payment
	for _, p := range r.payments {
		if p.Type != TypeEditorPayout || p.ProjectID != projectID || p.DeletedAt != nil {
			continue
		}
		if p.WorkItemID == nil || *p.WorkItemID != workItemID {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			p := p
			found = &p
		}
	}
	return found, nil
}

func (r *memoryRepository) ListByProject(ctx context.Context, projectID uuid.UUID, t PaymentType) ([]Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Payment
	for _, p := range r.payments {
		if p.ProjectID == projectID && p.Type == t && p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) List(ctx context.Context, filter Filter) ([]Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var projects map[uuid.UUID]bool
	if filter.ProjectIDs != nil {
		projects = make(map[uuid.UUID]bool, len(filter.ProjectIDs))
		for _, id := range filter.ProjectIDs {
			projects[id] = true
		}
	}
	types := make(map[PaymentType]bool, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = true
	}

	var out []Payment
	for _, p := range r.payments {
		if projects != nil && !projects[p.ProjectID] {
			continue
		}
		if filter.PayeeID != nil && p.PayeeID != *filter.PayeeID {
			continue
		}
		if len(types) > 0 && !types[p.Type] {
			continue
		}
		if !filter.IncludeDeleted && p.DeletedAt != nil {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, p := range r.payments {
		if p.DeletedAt == nil || p.DeletedAt.After(now) || p.Settled() {
			continue
		}
		delete(r.payments, id)
		n++
	}
	return n, nil
}
