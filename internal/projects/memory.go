package projects

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"studioflow/production-portal/production-portal-backend/pkg/apperr"
)

// memoryRepository keeps everything in maps guarded by one mutex. It backs
// the memory database driver and the tests.
type memoryRepository struct {
	mu          sync.RWMutex
	projects    map[uuid.UUID]Project
	items       map[uuid.UUID]WorkItem
	corrections map[uuid.UUID]Correction
	now         func() time.Time
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		projects:    make(map[uuid.UUID]Project),
		items:       make(map[uuid.UUID]WorkItem),
		corrections: make(map[uuid.UUID]Correction),
		now:         time.Now,
	}
}

func (r *memoryRepository) CreateProject(ctx context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := r.projects[p.ID]; ok {
		return fmt.Errorf("failed to create project: duplicate id %s", p.ID)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	r.stamp(&p.CreatedAt, &p.UpdatedAt)
	r.projects[p.ID] = *p
	return nil
}

func (r *memoryRepository) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, apperr.NotFound("projects.GetProject", "project %s not found", id)
	}
	return &p, nil
}

func (r *memoryRepository) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assigned := map[uuid.UUID]bool{}
	if filter.AssigneeID != nil {
		for _, w := range r.items {
			if w.AssigneeID == *filter.AssigneeID {
				assigned[w.ProjectID] = true
			}
		}
	}

	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		if filter.ClientID != nil && p.ClientID != *filter.ClientID {
			continue
		}
		if filter.AssigneeID != nil && !assigned[p.ID] {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.VisibleAt != nil && (passed(p.HiddenAt, *filter.VisibleAt) || passed(p.DeletedAt, *filter.VisibleAt)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) UpdateProject(ctx context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.projects[p.ID]
	if !ok || cur.Version != p.Version {
		return apperr.Conflict("projects.UpdateProject", "project %s was modified concurrently", p.ID)
	}
	p.Version++
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = r.now().UTC()
	r.projects[p.ID] = *p
	return nil
}

func (r *memoryRepository) AcceptProject(ctx context.Context, id uuid.UUID, upd AcceptUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok || p.Accepted || p.Status != ProjectPending {
		return false, nil
	}
	adminID := upd.AdminID
	acceptedAt := upd.AcceptedAt
	p.Accepted = true
	p.AcceptedAt = &acceptedAt
	p.AdminID = &adminID
	p.AllocatedBudget = upd.AllocatedBudget
	p.Status = ProjectAssigned
	p.Version++
	r.projects[id] = p
	return true, nil
}

func (r *memoryRepository) CreateWorkItem(ctx context.Context, w *WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if _, ok := r.items[w.ID]; ok {
		return fmt.Errorf("failed to create work item: duplicate id %s", w.ID)
	}
	if w.Version == 0 {
		w.Version = 1
	}
	r.stamp(&w.CreatedAt, &w.UpdatedAt)
	r.items[w.ID] = *w
	return nil
}

func (r *memoryRepository) GetWorkItem(ctx context.Context, id uuid.UUID) (*WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("projects.GetWorkItem", "work item %s not found", id)
	}
	return &w, nil
}

func (r *memoryRepository) ListWorkItems(ctx context.Context, projectID uuid.UUID) ([]WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WorkItem
	for _, w := range r.items {
		if w.ProjectID == projectID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) UpdateWorkItem(ctx context.Context, w *WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[w.ID]
	if !ok || cur.Version != w.Version {
		return apperr.Conflict("projects.UpdateWorkItem", "work item %s was modified concurrently", w.ID)
	}
	w.Version++
	w.CreatedAt = cur.CreatedAt
	w.UpdatedAt = r.now().UTC()
	r.items[w.ID] = *w
	return nil
}

func (r *memoryRepository) CreateCorrection(ctx context.Context, c *Correction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now().UTC()
	}
	r.corrections[c.ID] = *c
	return nil
}

func (r *memoryRepository) GetCorrection(ctx context.Context, id uuid.UUID) (*Correction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.corrections[id]
	if !ok {
		return nil, apperr.NotFound("projects.GetCorrection", "correction %s not found", id)
	}
	return &c, nil
}

func (r *memoryRepository) ListCorrections(ctx context.Context, workItemID uuid.UUID) ([]Correction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Correction
	for _, c := range r.corrections {
		if c.WorkItemID == workItemID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) CompleteCorrection(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.corrections[id]
	if !ok || c.Done {
		return false, nil
	}
	c.Done = true
	c.DoneAt = &at
	r.corrections[id] = c
	return true, nil
}

func (r *memoryRepository) ListOpenProjects(ctx context.Context) ([]Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Project
	for _, p := range r.projects {
		if p.IsOpen() && p.Deadline != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepository) ListOpenWorkItems(ctx context.Context) ([]WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WorkItem
	for _, w := range r.items {
		if w.IsOpen() {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memoryRepository) RaiseWarning(ctx context.Context, kind EntityKind, id uuid.UUID, t Threshold) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case KindProject:
		p, ok := r.projects[id]
		if !ok || p.Warnings.IsSet(t) {
			return false, nil
		}
		p.Warnings.Raise(t)
		p.Version++
		r.projects[id] = p
		return true, nil
	case KindWorkItem:
		w, ok := r.items[id]
		if !ok || w.Warnings.IsSet(t) {
			return false, nil
		}
		w.Warnings.Raise(t)
		w.Version++
		r.items[id] = w
		return true, nil
	}
	return false, fmt.Errorf("unknown entity kind %q", kind)
}

func (r *memoryRepository) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result PurgeResult
	for id, w := range r.items {
		if !passed(w.DeletedAt, now) {
			continue
		}
		for cid, c := range r.corrections {
			if c.WorkItemID == id {
				delete(r.corrections, cid)
				result.Corrections++
			}
		}
		delete(r.items, id)
		result.WorkItems++
	}
	for id, p := range r.projects {
		if p.Status == ProjectClosed && passed(p.DeletedAt, now) {
			delete(r.projects, id)
			result.Projects++
		}
	}
	return result, nil
}

func (r *memoryRepository) stamp(created, updated *time.Time) {
	now := r.now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

// passed reports whether the horizon t is set and not after now.
func passed(t *time.Time, now time.Time) bool {
	return t != nil && !t.After(now)
}
