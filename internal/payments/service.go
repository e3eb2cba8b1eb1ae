package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/internal/notifications"
	"studioflow/production-portal/production-portal-backend/internal/projects"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
	"studioflow/production-portal/production-portal-backend/pkg/database"
)

// AdjustmentRequest records a bonus or a deduction for a worker.
type AdjustmentRequest struct {
	Type       PaymentType `json:"type" binding:"required,oneof=bonus deduction"`
	ProjectID  uuid.UUID   `json:"project_id" binding:"required"`
	WorkItemID *uuid.UUID  `json:"work_item_id"`
	PayeeID    uuid.UUID   `json:"payee_id" binding:"required"`
	Amount     float64     `json:"amount" binding:"gt=0"`
	Note       string      `json:"note" binding:"max=1000"`
}

// Service is the payment surface: settling entries and reading the ledger.
type Service struct {
	repo     Repository
	projects projects.Repository
	tx       database.TxManager
	notifier projects.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	projectRepo projects.Repository,
	tx database.TxManager,
	notifier projects.Notifier,
	logger *zap.Logger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		projects: projectRepo,
		tx:       tx,
		notifier: notifier,
		logger:   logger,
		now:      now,
	}
}

// MarkPaid records that money was sent for an entry.
func (s *Service) MarkPaid(ctx context.Context, actor auth.Actor, paymentID uuid.UUID, reference string) (*Payment, error) {
	const op = "payments.MarkPaid"
	if err := actor.Require(op, auth.CapPaymentMarkPaid); err != nil {
		return nil, err
	}

	var payment *Payment
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.DeletedAt != nil {
			return apperr.NotFound(op, "payment %s not found", p.ID)
		}
		if p.Settled() {
			return apperr.Precondition(op, "payment %s is already paid", p.ID)
		}

		switch p.Type {
		case TypeClientCharge:
			if !actor.IsAdmin() {
				project, err := s.projects.GetProject(ctx, p.ProjectID)
				if err != nil {
					return err
				}
				if project.ClientID != actor.UserID {
					return apperr.Unauthorized(op, "payment %s is not yours to pay", p.ID)
				}
			}
			if p.Status != StatusPending {
				return apperr.Precondition(op, "client charge %s is %s, not pending", p.ID, p.Status)
			}
		default:
			if !actor.IsAdmin() {
				return apperr.Unauthorized(op, "only admins pay out %s entries", p.Type)
			}
			if p.Status != StatusCalculated {
				return apperr.Precondition(op, "payment %s is %s, not calculated", p.ID, p.Status)
			}
		}

		now := s.now().UTC()
		p.Status = StatusPaid
		p.PaidAt = &now
		p.Reference = strings.TrimSpace(reference)
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	if payment.Type != TypeClientCharge {
		s.notifier.Notify(ctx, payment.PayeeID, notifications.TypePaymentPaid, "Payment sent",
			fmt.Sprintf("A payment of %.2f %s was sent to you.", payment.FinalAmount, payment.Currency), payment.ID)
	} else {
		s.notifier.Notify(ctx, payment.PayeeID, notifications.TypePaymentPaid, "Client payment sent",
			fmt.Sprintf("The client paid %.2f %s.", payment.FinalAmount, payment.Currency), payment.ID)
	}
	s.logger.Info("Payment marked paid", zap.String("payment_id", payment.ID.String()), zap.String("type", string(payment.Type)))
	return payment, nil
}

// MarkReceived confirms that money sent for an entry arrived.
func (s *Service) MarkReceived(ctx context.Context, actor auth.Actor, paymentID uuid.UUID) (*Payment, error) {
	const op = "payments.MarkReceived"
	if err := actor.Require(op, auth.CapPaymentMarkReceived); err != nil {
		return nil, err
	}

	var payment *Payment
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.DeletedAt != nil {
			return apperr.NotFound(op, "payment %s not found", p.ID)
		}
		switch p.Type {
		case TypeClientCharge:
			if !actor.IsAdmin() {
				return apperr.Unauthorized(op, "only admins confirm client payments")
			}
		default:
			if p.PayeeID != actor.UserID {
				return apperr.Unauthorized(op, "payment %s is not paid to you", p.ID)
			}
		}
		if p.Status != StatusPaid {
			return apperr.Precondition(op, "payment %s is %s, not paid", p.ID, p.Status)
		}
		if p.ReceivedAt != nil {
			return apperr.Precondition(op, "payment %s was already received", p.ID)
		}

		now := s.now().UTC()
		p.ReceivedAt = &now
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	s.notifier.Notify(ctx, payment.PayerID, notifications.TypePaymentReceived, "Payment received",
		fmt.Sprintf("A payment of %.2f %s was confirmed as received.", payment.FinalAmount, payment.Currency), payment.ID)
	return payment, nil
}

// RecordAdjustment adds a bonus or a deduction. Adjustments are payable as
// soon as they are recorded.
func (s *Service) RecordAdjustment(ctx context.Context, actor auth.Actor, req AdjustmentRequest) (*Payment, error) {
	const op = "payments.RecordAdjustment"
	if err := actor.Require(op, auth.CapPaymentAdjust); err != nil {
		return nil, err
	}
	if req.Type != TypeBonus && req.Type != TypeDeduction {
		return nil, apperr.Validation(op, "adjustment type must be bonus or deduction")
	}

	var payment *Payment
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		project, err := s.projects.GetProject(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if req.WorkItemID != nil {
			item, err := s.projects.GetWorkItem(ctx, *req.WorkItemID)
			if err != nil {
				return err
			}
			if item.ProjectID != project.ID {
				return apperr.Validation(op, "work item %s is not part of project %s", item.ID, project.ID)
			}
		}

		now := s.now().UTC()
		payment = &Payment{
			ID:           uuid.New(),
			Type:         req.Type,
			ProjectID:    project.ID,
			WorkItemID:   req.WorkItemID,
			PayeeID:      req.PayeeID,
			PayerID:      actor.UserID,
			Currency:     project.Currency,
			Amount:       req.Amount,
			FinalAmount:  req.Amount,
			Status:       StatusCalculated,
			CalculatedAt: &now,
			Note:         strings.TrimSpace(req.Note),
		}
		return s.repo.Create(ctx, payment)
	})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	s.notifier.Notify(ctx, payment.PayeeID, notifications.TypePaymentCalculated, "Payment adjustment",
		fmt.Sprintf("A %s of %.2f %s was recorded.", payment.Type, payment.Amount, payment.Currency), payment.ID)
	return payment, nil
}

// ListVisible returns the ledger entries the actor may see.
func (s *Service) ListVisible(ctx context.Context, actor auth.Actor) ([]PaymentView, error) {
	const op = "payments.ListVisible"
	now := s.now()

	var (
		filter Filter
		pred   Predicate
	)
	switch {
	case actor.Can(auth.CapPaymentViewAll):
		pred = NotDeleted
	case actor.Role == auth.RoleClient:
		owned, err := s.projects.ListProjects(ctx, projects.ProjectFilter{ClientID: &actor.UserID})
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		filter.ProjectIDs = make([]uuid.UUID, 0, len(owned))
		for _, p := range owned {
			filter.ProjectIDs = append(filter.ProjectIDs, p.ID)
		}
		filter.Types = []PaymentType{TypeClientCharge}
		pred = All(NotDeleted, NotHidden(now))
	default:
		filter.PayeeID = &actor.UserID
		pred = Any(
			All(OfType(TypeEditorPayout), AssigneeVisible(actor.UserID, now)),
			All(OfType(TypeBonus, TypeDeduction), NotDeleted, NotHidden(now), PayeeIs(actor.UserID)),
		)
	}

	payments, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	views, err := s.attachWorkItems(ctx, payments)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return pred.Filter(views), nil
}

func (s *Service) attachWorkItems(ctx context.Context, payments []Payment) ([]PaymentView, error) {
	items := make(map[uuid.UUID]*projects.WorkItem)
	views := make([]PaymentView, 0, len(payments))
	for _, p := range payments {
		view := PaymentView{Payment: p}
		if p.WorkItemID != nil {
			item, ok := items[*p.WorkItemID]
			if !ok {
				w, err := s.projects.GetWorkItem(ctx, *p.WorkItemID)
				if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
					return nil, err
				}
				item = w
				items[*p.WorkItemID] = w
			}
			view.WorkItem = item
		}
		views = append(views, view)
	}
	return views, nil
}
