package payments

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/payments/calculation"
	"studioflow/production-portal/production-portal-backend/internal/projects"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
)

// Ledger keeps payment records consistent with the work item lifecycle.
// Every method runs in whatever transaction the context carries.
type Ledger struct {
	repo     Repository
	projects projects.Repository
	logger   *zap.Logger
	now      func() time.Time
}

func NewLedger(repo Repository, projectRepo projects.Repository, logger *zap.Logger) *Ledger {
	return &Ledger{repo: repo, projects: projectRepo, logger: logger, now: time.Now}
}

// UpsertPayout creates the locked payout for an item, or renegotiates the
// existing one.
func (l *Ledger) UpsertPayout(ctx context.Context, item *projects.WorkItem) error {
	const op = "payments.UpsertPayout"
	payout, err := l.repo.FindPayout(ctx, item.ProjectID, item.ID)
	if err != nil {
		return err
	}
	deadline := item.Deadline

	if payout == nil {
		project, err := l.projects.GetProject(ctx, item.ProjectID)
		if err != nil {
			return err
		}
		itemID := item.ID
		payout = &Payment{
			ID:          uuid.New(),
			Type:        TypeEditorPayout,
			ProjectID:   item.ProjectID,
			WorkItemID:  &itemID,
			PayeeID:     item.AssigneeID,
			PayerID:     adminOf(project),
			Currency:    project.Currency,
			Amount:      item.Budget,
			FinalAmount: item.Budget,
			Deadline:    &deadline,
			Status:      StatusLocked,
		}
		if err := l.repo.Create(ctx, payout); err != nil {
			return err
		}
		l.logger.Debug("Payout created",
			zap.String("payment_id", payout.ID.String()),
			zap.String("work_item_id", item.ID.String()))
		return nil
	}

	if payout.Settled() || payout.Status == StatusCalculated {
		return apperr.Precondition(op, "payout %s is %s and cannot be renegotiated", payout.ID, payout.Status)
	}
	payout.Amount = item.Budget
	payout.Deadline = &deadline
	payout.PayeeID = item.AssigneeID
	payout.Status = StatusLocked
	payout.clearLateness()
	return l.repo.Update(ctx, payout)
}

// FinalizeOnApproval prices the payout at the approval instant and freezes
// it. A payout that is already calculated or paid is left alone.
func (l *Ledger) FinalizeOnApproval(ctx context.Context, item *projects.WorkItem, approvedAt time.Time) error {
	payout, err := l.repo.FindPayout(ctx, item.ProjectID, item.ID)
	if err != nil {
		return err
	}
	if payout == nil {
		if err := l.UpsertPayout(ctx, item); err != nil {
			return err
		}
		if payout, err = l.repo.FindPayout(ctx, item.ProjectID, item.ID); err != nil {
			return err
		}
	}
	if payout.Status == StatusCalculated || payout.Settled() {
		return nil
	}

	deadline := item.Deadline
	if payout.Deadline != nil {
		deadline = *payout.Deadline
	}
	result := calculation.Calculate(deadline, payout.Amount, approvedAt)
	at := approvedAt.UTC()
	payout.FinalAmount = result.FinalAmount
	payout.Penalty = result.Penalty
	payout.DaysLate = result.DaysLate
	payout.IsLate = result.IsLate
	payout.CalculatedAt = &at
	payout.Status = StatusCalculated
	if err := l.repo.Update(ctx, payout); err != nil {
		return err
	}

	l.logger.Info("Payout calculated",
		zap.String("payment_id", payout.ID.String()),
		zap.String("work_item_id", item.ID.String()),
		zap.Int("days_late", result.DaysLate),
		zap.Float64("final_amount", result.FinalAmount))
	return nil
}

// SyncPayeeOnReassignment hands the payout to the new assignee and clears
// lateness the new assignee did not cause.
func (l *Ledger) SyncPayeeOnReassignment(ctx context.Context, item *projects.WorkItem, newAssignee uuid.UUID) error {
	const op = "payments.SyncPayeeOnReassignment"
	payout, err := l.repo.FindPayout(ctx, item.ProjectID, item.ID)
	if err != nil {
		return err
	}
	if payout == nil {
		return l.UpsertPayout(ctx, item)
	}
	if payout.Settled() {
		return apperr.Precondition(op, "payout %s was already paid", payout.ID)
	}
	payout.PayeeID = newAssignee
	payout.Status = StatusLocked
	payout.clearLateness()
	return l.repo.Update(ctx, payout)
}

// SettleProjectClosure leaves exactly one client charge on the project.
func (l *Ledger) SettleProjectClosure(ctx context.Context, project *projects.Project) error {
	charges, err := l.repo.ListByProject(ctx, project.ID, TypeClientCharge)
	if err != nil {
		return err
	}
	amount := math.Max(project.ClientAmount, project.AllocatedBudget)

	var open []Payment
	settled := false
	for _, c := range charges {
		if c.Settled() {
			settled = true
			continue
		}
		open = append(open, c)
	}

	now := l.now().UTC()
	keep := 0
	switch {
	case settled:
		keep = -1
	case len(open) == 0:
		charge := &Payment{
			ID:          uuid.New(),
			Type:        TypeClientCharge,
			ProjectID:   project.ID,
			PayeeID:     adminOf(project),
			PayerID:     project.ClientID,
			Currency:    project.Currency,
			Amount:      amount,
			FinalAmount: amount,
			Status:      StatusPending,
		}
		return l.repo.Create(ctx, charge)
	default:
		// charges are listed oldest first
		oldest := &open[0]
		oldest.Amount = amount
		oldest.FinalAmount = amount
		oldest.Currency = project.Currency
		oldest.PayerID = project.ClientID
		oldest.Status = StatusPending
		if err := l.repo.Update(ctx, oldest); err != nil {
			return err
		}
	}

	removed := 0
	for i := range open {
		if i == keep {
			continue
		}
		extra := &open[i]
		extra.DeletedAt = &now
		if err := l.repo.Update(ctx, extra); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		l.logger.Info("Merged duplicate client charges",
			zap.String("project_id", project.ID.String()),
			zap.Int("removed", removed))
	}
	return nil
}

func adminOf(p *projects.Project) uuid.UUID {
	if p.AdminID == nil {
		return uuid.Nil
	}
	return *p.AdminID
}
