package payments

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"studioflow/production-portal/production-portal-backend/internal/projects"
)

// PaymentType is the kind of ledger entry.
type PaymentType string

const (
	TypeEditorPayout PaymentType = "editor_payout"
	TypeClientCharge PaymentType = "client_charge"
	TypeBonus        PaymentType = "bonus"
	TypeDeduction    PaymentType = "deduction"
)

// PaymentStatus is where a ledger entry is in its lifecycle.
type PaymentStatus string

const (
	// StatusLocked payouts exist but are not payable yet.
	StatusLocked     PaymentStatus = "locked"
	StatusPending    PaymentStatus = "pending"
	StatusCalculated PaymentStatus = "calculated"
	StatusPaid       PaymentStatus = "paid"
)

// Payment is one ledger entry.
type Payment struct {
	ID           uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Type         PaymentType   `json:"type" gorm:"not null;index"`
	ProjectID    uuid.UUID     `json:"project_id" gorm:"type:uuid;not null;index"`
	WorkItemID   *uuid.UUID    `json:"work_item_id,omitempty" gorm:"type:uuid;index"`
	PayeeID      uuid.UUID     `json:"payee_id" gorm:"type:uuid;index"`
	PayerID      uuid.UUID     `json:"payer_id" gorm:"type:uuid;index"`
	Currency     string        `json:"currency" gorm:"not null;default:'USD'"`
	Amount       float64       `json:"amount" gorm:"type:decimal(14,2);not null"`
	FinalAmount  float64       `json:"final_amount" gorm:"type:decimal(14,2);not null"`
	Penalty      float64       `json:"penalty" gorm:"type:decimal(14,2);not null;default:0"`
	DaysLate     int           `json:"days_late" gorm:"not null;default:0"`
	IsLate       bool          `json:"is_late" gorm:"not null;default:false"`
	Deadline     *time.Time    `json:"deadline,omitempty"`
	Status       PaymentStatus `json:"status" gorm:"not null;index"`
	CalculatedAt *time.Time    `json:"calculated_at,omitempty"`
	PaidAt       *time.Time    `json:"paid_at,omitempty"`
	ReceivedAt   *time.Time    `json:"received_at,omitempty"`
	Reference    string        `json:"reference,omitempty"`
	Note         string        `json:"note,omitempty"`
	HiddenAt     *time.Time    `json:"hidden_at,omitempty"`
	DeletedAt    *time.Time    `json:"deleted_at,omitempty" gorm:"index"`
	Version      int           `json:"version" gorm:"not null;default:1"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Settled reports whether money already moved for this entry.
func (p *Payment) Settled() bool {
	return p.Status == StatusPaid || p.PaidAt != nil || p.ReceivedAt != nil
}

// clearLateness resets the penalty stamp to the undiscounted amount.
func (p *Payment) clearLateness() {
	p.FinalAmount = p.Amount
	p.Penalty = 0
	p.DaysLate = 0
	p.IsLate = false
	p.CalculatedAt = nil
}

// PaymentView is a ledger entry joined with its work item, if any.
type PaymentView struct {
	Payment  Payment            `json:"payment"`
	WorkItem *projects.WorkItem `json:"work_item,omitempty"`
}
