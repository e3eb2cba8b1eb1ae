package projects

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studioflow/production-portal/production-portal-backend/pkg/workflows"
)

// ProjectStatus is the lifecycle status of a project.
type ProjectStatus string

const (
	ProjectPending     ProjectStatus = "pending"
	ProjectAssigned    ProjectStatus = "assigned"
	ProjectInProgress  ProjectStatus = "in_progress"
	// ProjectSubmitted is never entered by this service. Rows written by
	// earlier releases still carry it and leave it like under_review.
	ProjectSubmitted   ProjectStatus = "submitted"
	ProjectUnderReview ProjectStatus = "under_review"
	ProjectCompleted   ProjectStatus = "completed"
	ProjectClosed      ProjectStatus = "closed"
	ProjectRejected    ProjectStatus = "rejected"
)

// WorkItemStatus is the lifecycle status of a work item.
type WorkItemStatus string

const (
	WorkItemPending     WorkItemStatus = "pending"
	WorkItemInProgress  WorkItemStatus = "in_progress"
	WorkItemUnderReview WorkItemStatus = "under_review"
	// WorkItemSubmitted is legacy like ProjectSubmitted. Submissions go
	// straight to under_review.
	WorkItemSubmitted   WorkItemStatus = "submitted"
	WorkItemCompleted   WorkItemStatus = "completed"
	WorkItemDeclined    WorkItemStatus = "declined"
)

// ProjectMachine is the project transition table.
var ProjectMachine = workflows.NewStateMachine("project", map[ProjectStatus][]ProjectStatus{
	ProjectPending:     {ProjectAssigned, ProjectRejected},
	ProjectAssigned:    {ProjectInProgress, ProjectUnderReview, ProjectCompleted},
	ProjectInProgress:  {ProjectUnderReview, ProjectCompleted},
	ProjectSubmitted:   {ProjectUnderReview, ProjectInProgress, ProjectCompleted},
	ProjectUnderReview: {ProjectInProgress, ProjectCompleted},
	ProjectCompleted:   {ProjectClosed},
	ProjectClosed:      {},
	ProjectRejected:    {},
})

// WorkItemMachine is the work item transition table. Moves into pending
// only happen through reassignment.
var WorkItemMachine = workflows.NewStateMachine("work item", map[WorkItemStatus][]WorkItemStatus{
	WorkItemPending:     {WorkItemPending, WorkItemInProgress, WorkItemUnderReview, WorkItemDeclined, WorkItemCompleted},
	WorkItemInProgress:  {WorkItemPending, WorkItemUnderReview, WorkItemDeclined, WorkItemCompleted},
	WorkItemSubmitted:   {WorkItemPending, WorkItemUnderReview, WorkItemInProgress, WorkItemCompleted},
	WorkItemUnderReview: {WorkItemPending, WorkItemUnderReview, WorkItemInProgress, WorkItemCompleted},
	WorkItemDeclined:    {WorkItemPending},
	WorkItemCompleted:   {},
})

// ApprovalSide names which party is approving.
type ApprovalSide string

const (
	SideAdmin  ApprovalSide = "admin"
	SideClient ApprovalSide = "client"
)

// ApprovalState collapses the two approval flags into one value.
type ApprovalState string

const (
	ApprovalNone           ApprovalState = "none"
	ApprovalAwaitingAdmin  ApprovalState = "awaiting_admin"
	ApprovalAwaitingClient ApprovalState = "awaiting_client"
	ApprovalComplete       ApprovalState = "approved"
)

// ApprovalStateOf derives the combined state from the two flags.
func ApprovalStateOf(admin, client bool) ApprovalState {
	switch {
	case admin && client:
		return ApprovalComplete
	case admin:
		return ApprovalAwaitingClient
	case client:
		return ApprovalAwaitingAdmin
	default:
		return ApprovalNone
	}
}

// Threshold is one deadline escalation level.
type Threshold string

const (
	Threshold50      Threshold = "50"
	Threshold25      Threshold = "25"
	Threshold5       Threshold = "5"
	ThresholdCrossed Threshold = "crossed"
)

// Thresholds lists the levels from most to least severe.
var Thresholds = []Threshold{ThresholdCrossed, Threshold5, Threshold25, Threshold50}

// WarningFlags record which deadline warnings were already raised.
type WarningFlags struct {
	Warn50      bool `json:"warn_50" gorm:"column:warn_50;not null;default:false"`
	Warn25      bool `json:"warn_25" gorm:"column:warn_25;not null;default:false"`
	Warn5       bool `json:"warn_5" gorm:"column:warn_5;not null;default:false"`
	WarnCrossed bool `json:"warn_crossed" gorm:"column:warn_crossed;not null;default:false"`
}

// IsSet reports whether the flag for t is raised.
func (w WarningFlags) IsSet(t Threshold) bool {
	switch t {
	case Threshold50:
		return w.Warn50
	case Threshold25:
		return w.Warn25
	case Threshold5:
		return w.Warn5
	case ThresholdCrossed:
		return w.WarnCrossed
	}
	return false
}

// Raise sets the flag for t and every milder flag.
func (w *WarningFlags) Raise(t Threshold) {
	switch t {
	case ThresholdCrossed:
		w.WarnCrossed = true
		fallthrough
	case Threshold5:
		w.Warn5 = true
		fallthrough
	case Threshold25:
		w.Warn25 = true
		fallthrough
	case Threshold50:
		w.Warn50 = true
	}
}

// Columns returns the flag columns Raise(t) sets.
func (t Threshold) Columns() []string {
	switch t {
	case ThresholdCrossed:
		return []string{"warn_crossed", "warn_5", "warn_25", "warn_50"}
	case Threshold5:
		return []string{"warn_5", "warn_25", "warn_50"}
	case Threshold25:
		return []string{"warn_25", "warn_50"}
	case Threshold50:
		return []string{"warn_50"}
	}
	return nil
}

// Column is the flag column guarding t.
func (t Threshold) Column() string {
	cols := t.Columns()
	if len(cols) == 0 {
		return ""
	}
	return cols[0]
}

// Project is an ordered container of work items for one requester.
type Project struct {
	ID              uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Title           string        `json:"title" gorm:"not null"`
	Description     string        `json:"description"`
	ClientID        uuid.UUID     `json:"client_id" gorm:"type:uuid;not null;index"`
	AdminID         *uuid.UUID    `json:"admin_id,omitempty" gorm:"type:uuid;index"`
	Status          ProjectStatus `json:"status" gorm:"not null;default:'pending';index"`
	Accepted        bool          `json:"accepted" gorm:"not null;default:false"`
	AcceptedAt      *time.Time    `json:"accepted_at,omitempty"`
	Currency        string        `json:"currency" gorm:"not null;default:'USD'"`
	ClientAmount    float64       `json:"client_amount" gorm:"type:decimal(14,2);not null;default:0"`
	AllocatedBudget float64       `json:"allocated_budget" gorm:"type:decimal(14,2);not null;default:0"`
	Deadline        *time.Time    `json:"deadline,omitempty" gorm:"index"`
	AdminApproved   bool          `json:"admin_approved" gorm:"not null;default:false"`
	ClientApproved  bool          `json:"client_approved" gorm:"not null;default:false"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
	HiddenAt        *time.Time    `json:"hidden_at,omitempty"`
	DeletedAt       *time.Time    `json:"deleted_at,omitempty" gorm:"index"`
	Warnings        WarningFlags  `json:"warnings" gorm:"embedded"`
	Version         int           `json:"version" gorm:"not null;default:1"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// ApprovalState returns the combined approval state of the project.
func (p *Project) ApprovalState() ApprovalState {
	return ApprovalStateOf(p.AdminApproved, p.ClientApproved)
}

// IsOpen reports whether the project still takes part in the lifecycle.
func (p *Project) IsOpen() bool {
	switch p.Status {
	case ProjectCompleted, ProjectClosed, ProjectRejected:
		return false
	}
	return p.DeletedAt == nil
}

// WindowStart is the acceptance time, falling back to creation time.
func (p *Project) WindowStart() time.Time {
	if p.AcceptedAt != nil {
		return *p.AcceptedAt
	}
	return p.CreatedAt
}

// WorkItem is a project's billable unit of work, owned by one worker.
type WorkItem struct {
	ID               uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID        uuid.UUID      `json:"project_id" gorm:"type:uuid;not null;index"`
	Position         int            `json:"position" gorm:"not null;default:0"`
	Title            string         `json:"title" gorm:"not null"`
	Description      string         `json:"description"`
	AssigneeID       uuid.UUID      `json:"assignee_id" gorm:"type:uuid;not null;index"`
	Deadline         time.Time      `json:"deadline" gorm:"not null;index"`
	Percentage       float64        `json:"percentage" gorm:"type:decimal(5,2);not null"`
	Budget           float64        `json:"budget" gorm:"type:decimal(14,2);not null"`
	Status           WorkItemStatus `json:"status" gorm:"not null;default:'pending';index"`
	RequiresApproval bool           `json:"requires_approval" gorm:"not null"`
	AdminApproved    bool           `json:"admin_approved" gorm:"not null;default:false"`
	ClientApproved   bool           `json:"client_approved" gorm:"not null;default:false"`
	Approved         bool           `json:"approved" gorm:"not null;default:false;index"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	SubmissionURL    string         `json:"submission_url,omitempty"`
	SubmissionNote   string         `json:"submission_note,omitempty"`
	SubmittedAt      *time.Time     `json:"submitted_at,omitempty"`
	DeclineReason    string         `json:"decline_reason,omitempty"`
	DeclinedAt       *time.Time     `json:"declined_at,omitempty"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	HiddenAt         *time.Time     `json:"hidden_at,omitempty"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty" gorm:"index"`
	Warnings         WarningFlags   `json:"warnings" gorm:"embedded"`
	Version          int            `json:"version" gorm:"not null;default:1"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (WorkItem) TableName() string {
	return "work_items"
}

// ApprovalState returns the combined approval state of the item.
func (w *WorkItem) ApprovalState() ApprovalState {
	return ApprovalStateOf(w.AdminApproved, w.ClientApproved)
}

// IsOpen reports whether the item can still receive deadline warnings.
func (w *WorkItem) IsOpen() bool {
	switch w.Status {
	case WorkItemCompleted, WorkItemDeclined:
		return false
	}
	return w.ClosedAt == nil && w.DeletedAt == nil
}

// WindowStart is when the item's delivery window opened.
func (w *WorkItem) WindowStart() time.Time {
	return w.CreatedAt
}

// Correction is a change request raised against a work item.
type Correction struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	WorkItemID  uuid.UUID  `json:"work_item_id" gorm:"type:uuid;not null;index"`
	RequestedBy uuid.UUID  `json:"requested_by" gorm:"type:uuid;not null"`
	Note        string     `json:"note" gorm:"not null"`
	Done        bool       `json:"done" gorm:"not null;default:false"`
	DoneAt      *time.Time `json:"done_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (Correction) TableName() string {
	return "work_item_corrections"
}

// EntityKind distinguishes the two schedulable entities.
type EntityKind string

const (
	KindProject  EntityKind = "project"
	KindWorkItem EntityKind = "work_item"
)

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (w *WorkItem) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

func (c *Correction) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
