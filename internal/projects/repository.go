package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studioflow/production-portal/production-portal-backend/pkg/apperr"
	"studioflow/production-portal/production-portal-backend/pkg/database"
)

// ProjectFilter narrows project listings. Zero fields do not filter.
type ProjectFilter struct {
	ClientID   *uuid.UUID
	AssigneeID *uuid.UUID
	Status     ProjectStatus
	// VisibleAt hides projects whose hidden or deleted horizon has passed.
	VisibleAt *time.Time
}

// AcceptUpdate is applied by the accept compare-and-swap.
type AcceptUpdate struct {
	AdminID         uuid.UUID
	AllocatedBudget float64
	AcceptedAt      time.Time
}

// PurgeResult counts rows removed by a retention purge.
type PurgeResult struct {
	Projects    int64
	WorkItems   int64
	Corrections int64
}

// Repository is the project and work item store. Implementations pick an
// open transaction up from the context.
type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error)
	// UpdateProject saves p if its version is current and bumps the version.
	UpdateProject(ctx context.Context, p *Project) error
	// AcceptProject flips accepted from false to true. It reports false when
	// another caller won the race.
	AcceptProject(ctx context.Context, id uuid.UUID, upd AcceptUpdate) (bool, error)

	CreateWorkItem(ctx context.Context, w *WorkItem) error
	GetWorkItem(ctx context.Context, id uuid.UUID) (*WorkItem, error)
	ListWorkItems(ctx context.Context, projectID uuid.UUID) ([]WorkItem, error)
	UpdateWorkItem(ctx context.Context, w *WorkItem) error

	CreateCorrection(ctx context.Context, c *Correction) error
	GetCorrection(ctx context.Context, id uuid.UUID) (*Correction, error)
	ListCorrections(ctx context.Context, workItemID uuid.UUID) ([]Correction, error)
	// CompleteCorrection flips done from false to true.
	CompleteCorrection(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	ListOpenProjects(ctx context.Context) ([]Project, error)
	ListOpenWorkItems(ctx context.Context) ([]WorkItem, error)
	// RaiseWarning sets the flag for t and all milder flags, but only when
	// the flag for t is still unset. It reports whether this call set it.
	RaiseWarning(ctx context.Context, kind EntityKind, id uuid.UUID, t Threshold) (bool, error)

	PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Migrate creates or updates the tables owned by this package.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Project{}, &WorkItem{}, &Correction{}); err != nil {
		return fmt.Errorf("failed to migrate projects: %w", err)
	}
	return nil
}

func (r *gormRepository) conn(ctx context.Context) *gorm.DB {
	return database.Conn(ctx, r.db)
}

func (r *gormRepository) CreateProject(ctx context.Context, p *Project) error {
	if p.Version == 0 {
		p.Version = 1
	}
	if err := r.conn(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *gormRepository) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := r.conn(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("projects.GetProject", "project %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (r *gormRepository) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	q := r.conn(ctx).Model(&Project{})
	if filter.ClientID != nil {
		q = q.Where("client_id = ?", *filter.ClientID)
	}
	if filter.AssigneeID != nil {
		q = q.Where("id IN (?)", r.conn(ctx).Model(&WorkItem{}).Select("project_id").Where("assignee_id = ?", *filter.AssigneeID))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.VisibleAt != nil {
		q = q.Where("(hidden_at IS NULL OR hidden_at > ?) AND (deleted_at IS NULL OR deleted_at > ?)", *filter.VisibleAt, *filter.VisibleAt)
	}

	var out []Project
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

func (r *gormRepository) UpdateProject(ctx context.Context, p *Project) error {
	expected := p.Version
	p.Version = expected + 1
	res := r.conn(ctx).Model(p).Where("version = ?", expected).Select("*").Omit("id", "created_at").Updates(p)
	if res.Error != nil {
		p.Version = expected
		return fmt.Errorf("failed to update project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		p.Version = expected
		return apperr.Conflict("projects.UpdateProject", "project %s was modified concurrently", p.ID)
	}
	return nil
}

func (r *gormRepository) AcceptProject(ctx context.Context, id uuid.UUID, upd AcceptUpdate) (bool, error) {
	res := r.conn(ctx).Model(&Project{}).
		Where("id = ? AND accepted = ? AND status = ?", id, false, ProjectPending).
		Updates(map[string]interface{}{
			"accepted":         true,
			"accepted_at":      upd.AcceptedAt,
			"admin_id":         upd.AdminID,
			"allocated_budget": upd.AllocatedBudget,
			"status":           ProjectAssigned,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to accept project: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) CreateWorkItem(ctx context.Context, w *WorkItem) error {
	if w.Version == 0 {
		w.Version = 1
	}
	if err := r.conn(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

func (r *gormRepository) GetWorkItem(ctx context.Context, id uuid.UUID) (*WorkItem, error) {
	var w WorkItem
	err := r.conn(ctx).First(&w, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("projects.GetWorkItem", "work item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return &w, nil
}

func (r *gormRepository) ListWorkItems(ctx context.Context, projectID uuid.UUID) ([]WorkItem, error) {
	var out []WorkItem
	err := r.conn(ctx).Where("project_id = ?", projectID).Order("position ASC, created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	return out, nil
}

func (r *gormRepository) UpdateWorkItem(ctx context.Context, w *WorkItem) error {
	expected := w.Version
	w.Version = expected + 1
	res := r.conn(ctx).Model(w).Where("version = ?", expected).Select("*").Omit("id", "created_at").Updates(w)
	if res.Error != nil {
		w.Version = expected
		return fmt.Errorf("failed to update work item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		w.Version = expected
		return apperr.Conflict("projects.UpdateWorkItem", "work item %s was modified concurrently", w.ID)
	}
	return nil
}

func (r *gormRepository) CreateCorrection(ctx context.Context, c *Correction) error {
	if err := r.conn(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create correction: %w", err)
	}
	return nil
}

func (r *gormRepository) GetCorrection(ctx context.Context, id uuid.UUID) (*Correction, error) {
	var c Correction
	err := r.conn(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("projects.GetCorrection", "correction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction: %w", err)
	}
	return &c, nil
}

func (r *gormRepository) ListCorrections(ctx context.Context, workItemID uuid.UUID) ([]Correction, error) {
	var out []Correction
	if err := r.conn(ctx).Where("work_item_id = ?", workItemID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	return out, nil
}

func (r *gormRepository) CompleteCorrection(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.conn(ctx).Model(&Correction{}).
		Where("id = ? AND done = ?", id, false).
		Updates(map[string]interface{}{"done": true, "done_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete correction: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ListOpenProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := r.conn(ctx).
		Where("status NOT IN ?", []ProjectStatus{ProjectCompleted, ProjectClosed, ProjectRejected}).
		Where("deadline IS NOT NULL AND deleted_at IS NULL").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open projects: %w", err)
	}
	return out, nil
}

func (r *gormRepository) ListOpenWorkItems(ctx context.Context) ([]WorkItem, error) {
	var out []WorkItem
	err := r.conn(ctx).
		Where("status NOT IN ?", []WorkItemStatus{WorkItemCompleted, WorkItemDeclined}).
		Where("closed_at IS NULL AND deleted_at IS NULL").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open work items: %w", err)
	}
	return out, nil
}

func (r *gormRepository) RaiseWarning(ctx context.Context, kind EntityKind, id uuid.UUID, t Threshold) (bool, error) {
	cols := t.Columns()
	if len(cols) == 0 {
		return false, fmt.Errorf("unknown threshold %q", t)
	}

	var model interface{}
	switch kind {
	case KindProject:
		model = &Project{}
	case KindWorkItem:
		model = &WorkItem{}
	default:
		return false, fmt.Errorf("unknown entity kind %q", kind)
	}

	// bumping the version makes concurrent lifecycle saves fail instead of
	// clearing the flag again
	updates := map[string]interface{}{"version": gorm.Expr("version + 1")}
	for _, c := range cols {
		updates[c] = true
	}
	res := r.conn(ctx).Model(model).Where("id = ? AND "+t.Column()+" = ?", id, false).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to raise %s warning: %w", t, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	var result PurgeResult
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		expiredItems := tx.Model(&WorkItem{}).Select("id").Where("deleted_at IS NOT NULL AND deleted_at <= ?", now)

		res := tx.Where("work_item_id IN (?)", expiredItems).Delete(&Correction{})
		if res.Error != nil {
			return res.Error
		}
		result.Corrections = res.RowsAffected

		res = tx.Where("deleted_at IS NOT NULL AND deleted_at <= ?", now).Delete(&WorkItem{})
		if res.Error != nil {
			return res.Error
		}
		result.WorkItems = res.RowsAffected

		res = tx.Where("status = ? AND deleted_at IS NOT NULL AND deleted_at <= ?", ProjectClosed, now).Delete(&Project{})
		if res.Error != nil {
			return res.Error
		}
		result.Projects = res.RowsAffected
		return nil
	})
	if err != nil {
		return PurgeResult{}, fmt.Errorf("failed to purge expired projects: %w", err)
	}
	return result, nil
}
