package projects

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/internal/notifications"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
	"studioflow/production-portal/production-portal-backend/pkg/database"
	"studioflow/production-portal/production-portal-backend/pkg/storage"
)

// declineWindow is the share of the delivery window that must still remain
// for an assignee to decline.
const declineWindow = 0.8

// Ledger keeps payment records in step with lifecycle transitions. Calls
// run inside the transition's transaction.
type Ledger interface {
	UpsertPayout(ctx context.Context, item *WorkItem) error
	FinalizeOnApproval(ctx context.Context, item *WorkItem, approvedAt time.Time) error
	SyncPayeeOnReassignment(ctx context.Context, item *WorkItem, newAssignee uuid.UUID) error
	SettleProjectClosure(ctx context.Context, project *Project) error
}

// Notifier is the fire-and-forget event sink.
type Notifier interface {
	Notify(ctx context.Context, recipient uuid.UUID, kind notifications.Type, title, message string, related uuid.UUID)
}

// Requests

type CreateProjectRequest struct {
	Title        string     `json:"title" binding:"required,max=255"`
	Description  string     `json:"description" binding:"max=5000"`
	Currency     string     `json:"currency" binding:"omitempty,alpha,len=3"`
	ClientAmount float64    `json:"client_amount" binding:"gte=0"`
	Deadline     *time.Time `json:"deadline"`
}

type WorkItemInput struct {
	Title            string    `json:"title" binding:"required,max=255"`
	Description      string    `json:"description" binding:"max=5000"`
	AssigneeID       uuid.UUID `json:"assignee_id" binding:"required"`
	Deadline         time.Time `json:"deadline" binding:"required"`
	Percentage       float64   `json:"percentage" binding:"gt=0,lte=100"`
	RequiresApproval *bool     `json:"requires_approval"`
}

type AcceptProjectRequest struct {
	AllocatedBudget float64         `json:"allocated_budget" binding:"gte=0"`
	Items           []WorkItemInput `json:"items" binding:"dive"`
}

type UpdateTermsRequest struct {
	Title       *string    `json:"title" binding:"omitempty,min=1,max=255"`
	Description *string    `json:"description" binding:"omitempty,max=5000"`
	Percentage  *float64   `json:"percentage" binding:"omitempty,gt=0,lte=100"`
	Budget      *float64   `json:"budget" binding:"omitempty,gte=0"`
	Deadline    *time.Time `json:"deadline"`
}

type SubmitWorkRequest struct {
	File     []byte `json:"-"`
	FileKind string `json:"file_kind" binding:"max=32"`
	URL      string `json:"url" binding:"omitempty,url,max=2048"`
	Note     string `json:"note" binding:"max=2000"`
}

// ServiceConfig carries the retention horizons and the clock.
type ServiceConfig struct {
	HideAfter   time.Duration
	DeleteAfter time.Duration
	Now         func() time.Time
}

// Service is the task lifecycle controller.
type Service struct {
	repo     Repository
	tx       database.TxManager
	ledger   Ledger
	notifier Notifier
	uploader storage.Uploader
	logger   *zap.Logger
	cfg      ServiceConfig
}

func NewService(
	repo Repository,
	tx database.TxManager,
	ledger Ledger,
	notifier Notifier,
	uploader storage.Uploader,
	logger *zap.Logger,
	cfg ServiceConfig,
) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		ledger:   ledger,
		notifier: notifier,
		uploader: uploader,
		logger:   logger,
		cfg:      cfg,
	}
}

func (s *Service) now() time.Time {
	return s.cfg.Now().UTC()
}

// notice is a notification queued during a transition and sent after commit.
type notice struct {
	recipient uuid.UUID
	kind      notifications.Type
	title     string
	message   string
	related   uuid.UUID
}

type outbox struct {
	notices []notice
}

func (o *outbox) add(recipient uuid.UUID, kind notifications.Type, title, message string, related uuid.UUID) {
	if recipient == uuid.Nil {
		return
	}
	o.notices = append(o.notices, notice{recipient, kind, title, message, related})
}

// transition runs fn in one transaction and dispatches the queued notices
// only once it committed.
func (s *Service) transition(ctx context.Context, op string, fn func(ctx context.Context, out *outbox) error) error {
	out := &outbox{}
	if err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, out)
	}); err != nil {
		return apperr.Internal(op, err)
	}
	for _, n := range out.notices {
		s.notifier.Notify(ctx, n.recipient, n.kind, n.title, n.message, n.related)
	}
	return nil
}

func adminOf(p *Project) uuid.UUID {
	if p.AdminID == nil {
		return uuid.Nil
	}
	return *p.AdminID
}

// CreateProject opens a request on behalf of a client.
func (s *Service) CreateProject(ctx context.Context, actor auth.Actor, req CreateProjectRequest) (*Project, error) {
	const op = "projects.CreateProject"
	if err := actor.Require(op, auth.CapProjectCreate); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	now := s.now()
	if req.Deadline != nil && !req.Deadline.After(now) {
		return nil, apperr.Validation(op, "deadline must be in the future")
	}

	project := &Project{
		ID:           uuid.New(),
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		ClientID:     actor.UserID,
		Status:       ProjectPending,
		Currency:     currency,
		ClientAmount: req.ClientAmount,
		Deadline:     req.Deadline,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return nil, apperr.Internal(op, err)
	}

	s.logger.Info("Project created", zap.String("project_id", project.ID.String()), zap.String("client_id", actor.UserID.String()))
	return project, nil
}

// RejectProject declines a pending request.
func (s *Service) RejectProject(ctx context.Context, actor auth.Actor, projectID uuid.UUID, reason string) (*Project, error) {
	const op = "projects.RejectProject"
	if err := actor.Require(op, auth.CapProjectReject); err != nil {
		return nil, err
	}

	var project *Project
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		p, err := s.repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.Status, err = ProjectMachine.Transition(p.Status, ProjectRejected); err != nil {
			return apperr.Precondition(op, "%v", err)
		}
		if err := s.repo.UpdateProject(ctx, p); err != nil {
			return err
		}
		msg := fmt.Sprintf("Your project %q was rejected.", p.Title)
		if reason != "" {
			msg += " Reason: " + reason
		}
		out.add(p.ClientID, notifications.TypeProjectRejected, "Project rejected", msg, p.ID)
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// validateItemInput enforces the allocation rules. Field shape is checked
// by request binding.
func (s *Service) validateItemInput(op string, in WorkItemInput, now time.Time) error {
	if in.AssigneeID == uuid.Nil {
		return apperr.Validation(op, "work item %q needs an assignee", in.Title)
	}
	if in.Percentage <= 0 || in.Percentage > 100 || math.IsNaN(in.Percentage) {
		return apperr.Validation(op, "work item %q percentage must be in (0, 100]", in.Title)
	}
	if !in.Deadline.After(now) {
		return apperr.Validation(op, "work item %q deadline must be in the future", in.Title)
	}
	return nil
}

func (s *Service) newWorkItem(p *Project, in WorkItemInput, position int, now time.Time) *WorkItem {
	requires := true
	if in.RequiresApproval != nil {
		requires = *in.RequiresApproval
	}
	return &WorkItem{
		ID:               uuid.New(),
		ProjectID:        p.ID,
		Position:         position,
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		AssigneeID:       in.AssigneeID,
		Deadline:         in.Deadline.UTC(),
		Percentage:       in.Percentage,
		Budget:           shareOf(p.AllocatedBudget, in.Percentage),
		Status:           WorkItemPending,
		RequiresApproval: requires,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func shareOf(budget, percentage float64) float64 {
	return math.Round(budget*percentage) / 100
}

// AcceptProject takes a pending project on, splitting the allocated budget
// across the given work items.
func (s *Service) AcceptProject(ctx context.Context, actor auth.Actor, projectID uuid.UUID, req AcceptProjectRequest) (*Project, error) {
	const op = "projects.AcceptProject"
	if err := actor.Require(op, auth.CapProjectAccept); err != nil {
		return nil, err
	}

	now := s.now()
	total := 0.0
	for _, in := range req.Items {
		if err := s.validateItemInput(op, in, now); err != nil {
			return nil, err
		}
		total += in.Percentage
	}
	if total > 100 {
		return nil, apperr.Validation(op, "work item percentages add up to %.2f, more than 100", total)
	}

	var project *Project
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		p, err := s.repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.Accepted {
			return apperr.Precondition(op, "project %s is already accepted", p.ID)
		}
		if !ProjectMachine.CanTransition(p.Status, ProjectAssigned) {
			return apperr.Precondition(op, "project %s is %s and cannot be accepted", p.ID, p.Status)
		}

		won, err := s.repo.AcceptProject(ctx, p.ID, AcceptUpdate{
			AdminID:         actor.UserID,
			AllocatedBudget: req.AllocatedBudget,
			AcceptedAt:      now,
		})
		if err != nil {
			return err
		}
		if !won {
			return apperr.Precondition(op, "project %s is already accepted", p.ID)
		}
		if p, err = s.repo.GetProject(ctx, projectID); err != nil {
			return err
		}

		for i, in := range req.Items {
			item := s.newWorkItem(p, in, i, now)
			if err := s.repo.CreateWorkItem(ctx, item); err != nil {
				return err
			}
			if err := s.ledger.UpsertPayout(ctx, item); err != nil {
				return err
			}
			out.add(item.AssigneeID, notifications.TypeWorkAssigned, "New work assigned",
				fmt.Sprintf("You were assigned %q on project %q.", item.Title, p.Title), item.ID)
		}

		out.add(p.ClientID, notifications.TypeProjectAccepted, "Project accepted",
			fmt.Sprintf("Your project %q was accepted.", p.Title), p.ID)
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Project accepted",
		zap.String("project_id", projectID.String()),
		zap.String("admin_id", actor.UserID.String()),
		zap.Int("work_items", len(req.Items)))
	return project, nil
}

func percentageInUse(items []WorkItem, except uuid.UUID) float64 {
	total := 0.0
	for _, w := range items {
		if w.ID == except || w.Status == WorkItemDeclined {
			continue
		}
		total += w.Percentage
	}
	return total
}

// AddWorkItem adds one more item to an accepted project.
func (s *Service) AddWorkItem(ctx context.Context, actor auth.Actor, projectID uuid.UUID, in WorkItemInput) (*WorkItem, error) {
	const op = "projects.AddWorkItem"
	if err := actor.Require(op, auth.CapWorkItemAssign); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.validateItemInput(op, in, now); err != nil {
		return nil, err
	}

	var item *WorkItem
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		p, err := s.repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if !p.Accepted || !p.IsOpen() {
			return apperr.Precondition(op, "project %s is %s and takes no new work items", p.ID, p.Status)
		}
		items, err := s.repo.ListWorkItems(ctx, p.ID)
		if err != nil {
			return err
		}
		if used := percentageInUse(items, uuid.Nil); used+in.Percentage > 100 {
			return apperr.Validation(op, "work item percentages would add up to %.2f, more than 100", used+in.Percentage)
		}

		item = s.newWorkItem(p, in, len(items), now)
		if err := s.repo.CreateWorkItem(ctx, item); err != nil {
			return err
		}
		if err := s.ledger.UpsertPayout(ctx, item); err != nil {
			return err
		}
		out.add(item.AssigneeID, notifications.TypeWorkAssigned, "New work assigned",
			fmt.Sprintf("You were assigned %q on project %q.", item.Title, p.Title), item.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateWorkItemTerms renegotiates an item that is not approved yet.
func (s *Service) UpdateWorkItemTerms(ctx context.Context, actor auth.Actor, itemID uuid.UUID, req UpdateTermsRequest) (*WorkItem, error) {
	const op = "projects.UpdateWorkItemTerms"
	if err := actor.Require(op, auth.CapWorkItemEditTerms); err != nil {
		return nil, err
	}
	now := s.now()
	if req.Percentage != nil && (*req.Percentage <= 0 || *req.Percentage > 100) {
		return nil, apperr.Validation(op, "percentage must be in (0, 100]")
	}
	if req.Deadline != nil && !req.Deadline.After(now) {
		return nil, apperr.Validation(op, "deadline must be in the future")
	}

	var item *WorkItem
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		w, err := s.repo.GetWorkItem(ctx, itemID)
		if err != nil {
			return err
		}
		if w.Approved || WorkItemMachine.IsTerminal(w.Status) {
			return apperr.Precondition(op, "work item %s is already approved", w.ID)
		}
		p, err := s.repo.GetProject(ctx, w.ProjectID)
		if err != nil {
			return err
		}

		if req.Title != nil {
			w.Title = strings.TrimSpace(*req.Title)
		}
		if req.Description != nil {
			w.Description = *req.Description
		}
		if req.Percentage != nil && *req.Percentage != w.Percentage {
			items, err := s.repo.ListWorkItems(ctx, w.ProjectID)
			if err != nil {
				return err
			}
			if used := percentageInUse(items, w.ID); used+*req.Percentage > 100 {
				return apperr.Validation(op, "work item percentages would add up to %.2f, more than 100", used+*req.Percentage)
			}
			w.Percentage = *req.Percentage
			w.Budget = shareOf(p.AllocatedBudget, w.Percentage)
		}
		if req.Budget != nil {
			w.Budget = *req.Budget
		}
		if req.Deadline != nil && !req.Deadline.Equal(w.Deadline) {
			// a new deadline opens a new escalation window
			w.Deadline = req.Deadline.UTC()
			w.Warnings = WarningFlags{}
		}

		if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
			return err
		}
		if err := s.ledger.UpsertPayout(ctx, w); err != nil {
			return err
		}
		out.add(w.AssigneeID, notifications.TypeWorkUpdated, "Work terms updated",
			fmt.Sprintf("The terms of %q were updated.", w.Title), w.ID)
		item = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AssignWorker hands an item to a different worker.
func (s *Service) AssignWorker(ctx context.Context, actor auth.Actor, itemID, assigneeID uuid.UUID) (*WorkItem, error) {
	const op = "projects.AssignWorker"
	if err := actor.Require(op, auth.CapWorkItemAssign); err != nil {
		return nil, err
	}
	if assigneeID == uuid.Nil {
		return nil, apperr.Validation(op, "assignee is required")
	}

	var item *WorkItem
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		w, err := s.repo.GetWorkItem(ctx, itemID)
		if err != nil {
			return err
		}
		if w.Approved {
			return apperr.Precondition(op, "work item %s is already approved", w.ID)
		}
		if w.AssigneeID == assigneeID {
			item = w
			return nil
		}
		status, err := WorkItemMachine.Transition(w.Status, WorkItemPending)
		if err != nil {
			return apperr.Precondition(op, "%v", err)
		}

		previous := w.AssigneeID
		w.AssigneeID = assigneeID
		w.Status = status
		w.AdminApproved = false
		w.ClientApproved = false
		w.Approved = false
		w.ApprovedAt = nil
		w.DeclineReason = ""
		w.DeclinedAt = nil
		if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
			return err
		}
		if err := s.ledger.SyncPayeeOnReassignment(ctx, w, assigneeID); err != nil {
			return err
		}

		out.add(assigneeID, notifications.TypeWorkAssigned, "New work assigned",
			fmt.Sprintf("You were assigned %q.", w.Title), w.ID)
		out.add(previous, notifications.TypeWorkReassigned, "Work reassigned",
			fmt.Sprintf("%q was reassigned to another worker.", w.Title), w.ID)
		item = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// requireAssignee loads the item and checks that actor works on it.
func (s *Service) requireAssignee(ctx context.Context, op string, actor auth.Actor, itemID uuid.UUID) (*WorkItem, error) {
	if err := actor.Require(op, auth.CapWorkItemWork); err != nil {
		return nil, err
	}
	w, err := s.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if w.AssigneeID != actor.UserID {
		return nil, apperr.Unauthorized(op, "work item %s is not assigned to you", w.ID)
	}
	return w, nil
}

// StartWork moves a pending item to in progress.
func (s *Service) StartWork(ctx context.Context, actor auth.Actor, itemID uuid.UUID) (*WorkItem, error) {
	const op = "projects.StartWork"

	var item *WorkItem
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		w, err := s.requireAssignee(ctx, op, actor, itemID)
		if err != nil {
			return err
		}
		if w.Status != WorkItemPending {
			return apperr.Precondition(op, "work item %s is %s, not pending", w.ID, w.Status)
		}
		w.Status = WorkItemInProgress
		if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
			return err
		}

		p, err := s.repo.GetProject(ctx, w.ProjectID)
		if err != nil {
			return err
		}
		if p.Status == ProjectAssigned {
			p.Status = ProjectInProgress
			if err := s.repo.UpdateProject(ctx, p); err != nil {
				return err
			}
		}
		out.add(adminOf(p), notifications.TypeWorkStarted, "Work started",
			fmt.Sprintf("Work on %q has started.", w.Title), w.ID)
		item = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SubmitWork hands a deliverable in for review. The file, if any, is
// uploaded before anything is written.
func (s *Service) SubmitWork(ctx context.Context, actor auth.Actor, itemID uuid.UUID, req SubmitWorkRequest) (*WorkItem, error) {
	const op = "projects.SubmitWork"

	w, err := s.requireAssignee(ctx, op, actor, itemID)
	if err != nil {
		return nil, err
	}
	if !WorkItemMachine.CanTransition(w.Status, WorkItemUnderReview) {
		return nil, apperr.Precondition(op, "work item %s is %s and cannot be submitted", w.ID, w.Status)
	}
	url := strings.TrimSpace(req.URL)
	if len(req.File) > 0 {
		kind := req.FileKind
		if kind == "" {
			kind = "deliverable"
		}
		res, err := s.uploader.Upload(ctx, req.File, "submissions/"+w.ProjectID.String(), kind)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		url = res.URL
	}
	if url == "" {
		return nil, apperr.Validation(op, "a file or a url is required")
	}

	var item *WorkItem
	err = s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		w, err := s.requireAssignee(ctx, op, actor, itemID)
		if err != nil {
			return err
		}
		if !WorkItemMachine.CanTransition(w.Status, WorkItemUnderReview) {
			return apperr.Precondition(op, "work item %s is %s and cannot be submitted", w.ID, w.Status)
		}
		now := s.now()
		w.Status = WorkItemUnderReview
		w.SubmissionURL = url
		w.SubmissionNote = req.Note
		w.SubmittedAt = &now
		if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
			return err
		}

		p, err := s.repo.GetProject(ctx, w.ProjectID)
		if err != nil {
			return err
		}
		if err := s.advanceProjectToReview(ctx, p); err != nil {
			return err
		}

		msg := fmt.Sprintf("%q was submitted for review.", w.Title)
		out.add(adminOf(p), notifications.TypeWorkSubmitted, "Work submitted", msg, w.ID)
		out.add(p.ClientID, notifications.TypeWorkSubmitted, "Work submitted", msg, w.ID)
		item = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// advanceProjectToReview moves the project under review once no item is
// still being worked on.
func (s *Service) advanceProjectToReview(ctx context.Context, p *Project) error {
	if !ProjectMachine.CanTransition(p.Status, ProjectUnderReview) {
		return nil
	}
	items, err := s.repo.ListWorkItems(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, w := range items {
		switch w.Status {
		case WorkItemUnderReview, WorkItemCompleted, WorkItemDeclined:
		default:
			return nil
		}
	}
	p.Status = ProjectUnderReview
	return s.repo.UpdateProject(ctx, p)
}

// RequestCorrection asks the assignee for changes.
func (s *Service) RequestCorrection(ctx context.Context, actor auth.Actor, itemID uuid.UUID, note string) (*Correction, error) {
	const op = "projects.RequestCorrection"
	if err := actor.Require(op, auth.CapWorkItemRequestChanges); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)

	var correction *Correction
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		w, err := s.repo.GetWorkItem(ctx, itemID)
		if err != nil {
			return err
		}
		p, err := s.repo.GetProject(ctx, w.ProjectID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && p.ClientID != actor.UserID {
			return apperr.Unauthorized(op, "project %s does not belong to you", p.ID)
		}
		if w.Approved {
			return apperr.Precondition(op, "work item %s is already approved", w.ID)
		}
		if w.Status != WorkItemInProgress {
			if w.Status, err = WorkItemMachine.Transition(w.Status, WorkItemInProgress); err != nil {
				return apperr.Precondition(op, "%v", err)
			}
		}
		if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
			return err
		}

		correction = &Correction{
			ID:          uuid.New(),
			WorkItemID:  w.ID,
			RequestedBy: actor.UserID,
			Note:        note,
			CreatedAt:   s.now(),
		}
		if err := s.repo.CreateCorrection(ctx, correction); err != nil {
			return err
		}

		if p.Status == ProjectUnderReview || p.Status == ProjectSubmitted {
			p.Status = ProjectInProgress
			if err := s.repo.UpdateProject(ctx, p); err != nil {
				return err
			}
		}
		out.add(w.AssigneeID, notifications.TypeCorrectionRequested, "Correction requested",
			fmt.Sprintf("Changes were requested on %q: %s", w.Title, note), w.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return correction, nil
}

// MarkCorrectionDone lets the assignee tick off one correction.
func (s *Service) MarkCorrectionDone(ctx context.Context, actor auth.Actor, correctionID uuid.UUID) (*Correction, error) {
	const op = "projects.MarkCorrectionDone"

	var correction *Correction
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		c, err := s.repo.GetCorrection(ctx, correctionID)
		if err != nil {
			return err
		}
		w, err := s.requireAssignee(ctx, op, actor, c.WorkItemID)
		if err != nil {
			return err
		}
		now := s.now()
		done, err := s.repo.CompleteCorrection(ctx, c.ID, now)
		if err != nil {
			return err
		}
		if !done {
			return apperr.Precondition(op, "correction %s is already done", c.ID)
		}
		c.Done = true
		c.DoneAt = &now

		p, err := s.repo.GetProject(ctx, w.ProjectID)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("A correction on %q was addressed.", w.Title)
		out.add(c.RequestedBy, notifications.TypeCorrectionDone, "Correction done", msg, w.ID)
		if admin := adminOf(p); admin != c.RequestedBy {
			out.add(admin, notifications.TypeCorrectionDone, "Correction done", msg, w.ID)
		}
		correction = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return correction, nil
}

// requireApprover checks the capability for side and, for the client side,
// ownership of the project.
func requireApprover(op string, actor auth.Actor, side ApprovalSide, p *Project, adminCap, clientCap auth.Capability) error {
	switch side {
	case SideAdmin:
		return actor.Require(op, adminCap)
	case SideClient:
		if err := actor.Require(op, clientCap); err != nil {
			return err
		}
		if p.ClientID != actor.UserID {
			return apperr.Unauthorized(op, "project %s does not belong to you", p.ID)
		}
		return nil
	}
	return apperr.Validation(op, "unknown approval side %q", side)
}

// SetApproval records one side's approval of a work item. The call that
// sets the second flag approves the item and finalizes its payout.
func (s *Service) SetApproval(ctx context.Context, actor auth.Actor, itemID uuid.UUID, side ApprovalSide) (*WorkItem, error) {
	const op = "projects.SetApproval"
	if side != SideAdmin && side != SideClient {
		return nil, apperr.Validation(op, "unknown approval side %q", side)
	}

	var item *WorkItem
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		w, err := s.repo.GetWorkItem(ctx, itemID)
		if err != nil {
			return err
		}
		p, err := s.repo.GetProject(ctx, w.ProjectID)
		if err != nil {
			return err
		}
		if err := requireApprover(op, actor, side, p, auth.CapWorkItemApproveAdmin, auth.CapWorkItemApproveClient); err != nil {
			return err
		}
		item = w
		if w.Approved {
			return nil
		}
		if w.Status == WorkItemDeclined {
			return apperr.Precondition(op, "work item %s was declined", w.ID)
		}

		before := w.ApprovalState()
		switch side {
		case SideAdmin:
			if w.AdminApproved {
				return nil
			}
			w.AdminApproved = true
		case SideClient:
			if w.ClientApproved {
				return nil
			}
			w.ClientApproved = true
		}

		completing := before != ApprovalComplete && w.ApprovalState() == ApprovalComplete
		now := s.now()
		if completing {
			if w.Status, err = WorkItemMachine.Transition(w.Status, WorkItemCompleted); err != nil {
				return apperr.Precondition(op, "%v", err)
			}
			w.Approved = true
			w.ApprovedAt = &now
		}
		if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
			return err
		}
		if !completing {
			return nil
		}

		if err := s.ledger.FinalizeOnApproval(ctx, w, now); err != nil {
			return err
		}
		out.add(w.AssigneeID, notifications.TypeWorkApproved, "Work approved",
			fmt.Sprintf("%q was approved.", w.Title), w.ID)
		out.add(w.AssigneeID, notifications.TypePaymentCalculated, "Payment calculated",
			fmt.Sprintf("Your payment for %q is ready.", w.Title), w.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if item.Approved {
		s.logger.Debug("Work item approval recorded",
			zap.String("work_item_id", item.ID.String()),
			zap.String("side", string(side)))
	}
	return item, nil
}

// Decline lets the assignee turn down an item early in its window.
func (s *Service) Decline(ctx context.Context, actor auth.Actor, itemID uuid.UUID, reason string) (*WorkItem, error) {
	const op = "projects.Decline"

	var item *WorkItem
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		w, err := s.requireAssignee(ctx, op, actor, itemID)
		if err != nil {
			return err
		}
		if !WorkItemMachine.CanTransition(w.Status, WorkItemDeclined) {
			return apperr.Precondition(op, "work item %s is %s and cannot be declined", w.ID, w.Status)
		}
		now := s.now()
		if !CanDecline(w.CreatedAt, w.Deadline, now) {
			return apperr.Precondition(op, "work item %s can only be declined while at least 80%% of its window remains", w.ID)
		}

		w.Status = WorkItemDeclined
		w.DeclineReason = strings.TrimSpace(reason)
		w.DeclinedAt = &now
		if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
			return err
		}

		p, err := s.repo.GetProject(ctx, w.ProjectID)
		if err != nil {
			return err
		}
		out.add(adminOf(p), notifications.TypeWorkDeclined, "Work declined",
			fmt.Sprintf("%q was declined by its assignee.", w.Title), w.ID)
		item = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CanDecline reports whether at least 80% of the window from start to
// deadline is still ahead at now.
func CanDecline(start, deadline, now time.Time) bool {
	total := deadline.Sub(start)
	if total <= 0 || now.After(deadline) {
		return false
	}
	return float64(deadline.Sub(now))/float64(total) >= declineWindow
}

// SetProjectApproval records one side's approval of the project. The call
// that sets the second flag completes it.
func (s *Service) SetProjectApproval(ctx context.Context, actor auth.Actor, projectID uuid.UUID, side ApprovalSide) (*Project, error) {
	const op = "projects.SetProjectApproval"
	if side != SideAdmin && side != SideClient {
		return nil, apperr.Validation(op, "unknown approval side %q", side)
	}

	var project *Project
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		p, err := s.repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := requireApprover(op, actor, side, p, auth.CapProjectApproveAdmin, auth.CapProjectApproveClient); err != nil {
			return err
		}
		project = p
		if p.Status == ProjectCompleted || p.Status == ProjectClosed {
			return nil
		}
		if !p.Accepted || p.Status == ProjectRejected {
			return apperr.Precondition(op, "project %s is %s and cannot be approved", p.ID, p.Status)
		}

		before := p.ApprovalState()
		switch side {
		case SideAdmin:
			if p.AdminApproved {
				return nil
			}
			p.AdminApproved = true
		case SideClient:
			if p.ClientApproved {
				return nil
			}
			p.ClientApproved = true
		}

		completing := before != ApprovalComplete && p.ApprovalState() == ApprovalComplete
		if completing {
			if p.Status, err = ProjectMachine.Transition(p.Status, ProjectCompleted); err != nil {
				return apperr.Precondition(op, "%v", err)
			}
			now := s.now()
			p.CompletedAt = &now
		}
		if err := s.repo.UpdateProject(ctx, p); err != nil {
			return err
		}
		if completing {
			msg := fmt.Sprintf("Project %q is complete.", p.Title)
			out.add(p.ClientID, notifications.TypeProjectCompleted, "Project completed", msg, p.ID)
			out.add(adminOf(p), notifications.TypeProjectCompleted, "Project completed", msg, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// CloseProject settles a completed project and schedules it for removal.
func (s *Service) CloseProject(ctx context.Context, actor auth.Actor, projectID uuid.UUID) (*Project, error) {
	const op = "projects.CloseProject"
	if err := actor.Require(op, auth.CapProjectClose); err != nil {
		return nil, err
	}

	var project *Project
	err := s.transition(ctx, op, func(ctx context.Context, out *outbox) error {
		p, err := s.repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.ApprovalState() != ApprovalComplete {
			return apperr.Precondition(op, "project %s is %s, both approvals are required", p.ID, p.ApprovalState())
		}
		if !ProjectMachine.CanTransition(p.Status, ProjectClosed) {
			return apperr.Precondition(op, "project %s is %s and cannot be closed", p.ID, p.Status)
		}
		items, err := s.repo.ListWorkItems(ctx, p.ID)
		if err != nil {
			return err
		}
		pending := 0
		for _, w := range items {
			if !w.Approved {
				pending++
			}
		}
		if pending > 0 {
			return apperr.Precondition(op, "project %s has %d work items that are not approved", p.ID, pending)
		}

		if err := s.ledger.SettleProjectClosure(ctx, p); err != nil {
			return err
		}

		now := s.now()
		hideAt := now.Add(s.cfg.HideAfter)
		deleteAt := now.Add(s.cfg.DeleteAfter)
		p.Status = ProjectClosed
		p.ClosedAt = &now
		p.HiddenAt = &hideAt
		p.DeletedAt = &deleteAt
		if err := s.repo.UpdateProject(ctx, p); err != nil {
			return err
		}
		for i := range items {
			w := &items[i]
			w.ClosedAt = &now
			w.HiddenAt = &hideAt
			w.DeletedAt = &deleteAt
			if err := s.repo.UpdateWorkItem(ctx, w); err != nil {
				return err
			}
		}

		out.add(p.ClientID, notifications.TypeProjectClosed, "Project closed",
			fmt.Sprintf("Project %q was closed.", p.Title), p.ID)
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Project closed", zap.String("project_id", projectID.String()))
	return project, nil
}

// canView reports whether actor may read the project.
func (s *Service) canView(ctx context.Context, actor auth.Actor, p *Project) (bool, error) {
	if actor.IsAdmin() || p.ClientID == actor.UserID {
		return true, nil
	}
	items, err := s.repo.ListWorkItems(ctx, p.ID)
	if err != nil {
		return false, err
	}
	for _, w := range items {
		if w.AssigneeID == actor.UserID {
			return true, nil
		}
	}
	return false, nil
}

// GetProject returns a project the actor takes part in.
func (s *Service) GetProject(ctx context.Context, actor auth.Actor, projectID uuid.UUID) (*Project, error) {
	const op = "projects.GetProject"
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	ok, err := s.canView(ctx, actor, p)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !ok {
		return nil, apperr.Unauthorized(op, "project %s is not visible to you", p.ID)
	}
	return p, nil
}

// ListProjects returns the projects visible to the actor.
func (s *Service) ListProjects(ctx context.Context, actor auth.Actor) ([]Project, error) {
	const op = "projects.ListProjects"
	filter := ProjectFilter{}
	if !actor.IsAdmin() {
		now := s.now()
		filter.VisibleAt = &now
		switch actor.Role {
		case auth.RoleClient:
			filter.ClientID = &actor.UserID
		default:
			filter.AssigneeID = &actor.UserID
		}
	}
	out, err := s.repo.ListProjects(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}

// ListWorkItems returns the items of a project the actor takes part in.
func (s *Service) ListWorkItems(ctx context.Context, actor auth.Actor, projectID uuid.UUID) ([]WorkItem, error) {
	const op = "projects.ListWorkItems"
	if _, err := s.GetProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListWorkItems(ctx, projectID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return items, nil
}

// GetWorkItem returns one item of a project the actor takes part in.
func (s *Service) GetWorkItem(ctx context.Context, actor auth.Actor, itemID uuid.UUID) (*WorkItem, error) {
	const op = "projects.GetWorkItem"
	w, err := s.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if _, err := s.GetProject(ctx, actor, w.ProjectID); err != nil {
		return nil, err
	}
	return w, nil
}

// ListCorrections returns the corrections raised on an item.
func (s *Service) ListCorrections(ctx context.Context, actor auth.Actor, itemID uuid.UUID) ([]Correction, error) {
	const op = "projects.ListCorrections"
	if _, err := s.GetWorkItem(ctx, actor, itemID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListCorrections(ctx, itemID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}
