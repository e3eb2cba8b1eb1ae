package notifications

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Type identifies the event a notification reports.
type Type string

const (
	TypeProjectAccepted     Type = "project_accepted"
	TypeProjectRejected     Type = "project_rejected"
	TypeWorkAssigned        Type = "work_assigned"
	TypeWorkReassigned      Type = "work_reassigned"
	TypeWorkUpdated         Type = "work_updated"
	TypeWorkStarted         Type = "work_started"
	TypeWorkSubmitted       Type = "work_submitted"
	TypeCorrectionRequested Type = "correction_requested"
	TypeCorrectionDone      Type = "correction_done"
	TypeWorkApproved        Type = "work_approved"
	TypeWorkDeclined        Type = "work_declined"
	TypeProjectCompleted    Type = "project_completed"
	TypeProjectClosed       Type = "project_closed"
	TypePaymentCalculated   Type = "payment_calculated"
	TypePaymentPaid         Type = "payment_paid"
	TypePaymentReceived     Type = "payment_received"
	TypeDeadlineWarning50   Type = "deadline_warning_50"
	TypeDeadlineWarning25   Type = "deadline_warning_25"
	TypeDeadlineWarning5    Type = "deadline_warning_5"
	TypeDeadlineCrossed     Type = "deadline_crossed"
)

// IsUrgent reports whether the type is also worth an email or push.
func (t Type) IsUrgent() bool {
	switch t {
	case TypeDeadlineWarning25, TypeDeadlineWarning5, TypeDeadlineCrossed,
		TypePaymentCalculated, TypePaymentPaid, TypePaymentReceived,
		TypeCorrectionRequested, TypeWorkReassigned:
		return true
	}
	return false
}

// Message is one queued notification.
type Message struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"message"`
	RelatedID   uuid.UUID `json:"related_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is the in-app record of a delivered message.
type Notification struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	RecipientID uuid.UUID      `json:"recipient_id" gorm:"type:uuid;not null;index"`
	Type        Type           `json:"type" gorm:"not null;index"`
	Title       string         `json:"title" gorm:"not null"`
	Message     string         `json:"message"`
	RelatedID   *uuid.UUID     `json:"related_id,omitempty" gorm:"type:uuid;index"`
	Data        datatypes.JSON `json:"data,omitempty" gorm:"type:jsonb"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// Contact holds the out-of-band addresses of a user, edited through the
// settings endpoints.
type Contact struct {
	UserID       uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	Email        string    `json:"email"`
	PushEndpoint string    `json:"push_endpoint"`
	EmailEnabled bool      `json:"email_enabled" gorm:"not null"`
	PushEnabled  bool      `json:"push_enabled" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Contact) TableName() string {
	return "notification_contacts"
}
