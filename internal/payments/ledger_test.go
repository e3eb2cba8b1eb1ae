package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/projects"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	ledger   *Ledger
	repo     Repository
	projects projects.Repository
	project  *projects.Project
	item     *projects.WorkItem
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	ctx := context.Background()
	projectRepo := projects.NewMemoryRepository()
	repo := NewMemoryRepository()

	admin := uuid.New()
	project := &projects.Project{
		ID:              uuid.New(),
		Title:           "Launch video",
		ClientID:        uuid.New(),
		AdminID:         &admin,
		Status:          projects.ProjectAssigned,
		Accepted:        true,
		Currency:        "USD",
		ClientAmount:    900,
		AllocatedBudget: 1500,
		CreatedAt:       t0,
	}
	require.NoError(t, projectRepo.CreateProject(ctx, project))

	item := &projects.WorkItem{
		ID:               uuid.New(),
		ProjectID:        project.ID,
		Title:            "Colour grade",
		AssigneeID:       uuid.New(),
		Deadline:         t0.Add(10 * 24 * time.Hour),
		Percentage:       40,
		Budget:           600,
		Status:           projects.WorkItemPending,
		RequiresApproval: true,
		CreatedAt:        t0,
	}
	require.NoError(t, projectRepo.CreateWorkItem(ctx, item))

	l := NewLedger(repo, projectRepo, zap.NewNop())
	l.now = func() time.Time { return t0 }
	return &ledgerFixture{ledger: l, repo: repo, projects: projectRepo, project: project, item: item}
}

func (f *ledgerFixture) payout(t *testing.T) *Payment {
	t.Helper()
	p, err := f.repo.FindPayout(context.Background(), f.project.ID, f.item.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestUpsertPayoutCreatesThenRenegotiates(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.UpsertPayout(ctx, f.item))
	p := f.payout(t)
	assert.Equal(t, TypeEditorPayout, p.Type)
	assert.Equal(t, StatusLocked, p.Status)
	assert.Equal(t, 600.0, p.Amount)
	assert.Equal(t, *f.project.AdminID, p.PayerID)

	f.item.Budget = 750
	f.item.Deadline = t0.Add(20 * 24 * time.Hour)
	require.NoError(t, f.ledger.UpsertPayout(ctx, f.item))

	again := f.payout(t)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, 750.0, again.Amount)
	assert.Equal(t, f.item.Deadline, *again.Deadline)

	all, err := f.repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFinalizeOnApproval(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	// no payout yet: one is created and priced
	approvedAt := f.item.Deadline.Add(36 * time.Hour)
	require.NoError(t, f.ledger.FinalizeOnApproval(ctx, f.item, approvedAt))

	p := f.payout(t)
	assert.Equal(t, StatusCalculated, p.Status)
	assert.Equal(t, 2, p.DaysLate)
	assert.InDelta(t, 480.0, p.FinalAmount, 1e-9)
	assert.InDelta(t, 120.0, p.Penalty, 1e-9)

	// a second finalize does not reprice
	require.NoError(t, f.ledger.FinalizeOnApproval(ctx, f.item, approvedAt.Add(72*time.Hour)))
	again := f.payout(t)
	assert.Equal(t, p.FinalAmount, again.FinalAmount)
	assert.Equal(t, p.DaysLate, again.DaysLate)

	err := f.ledger.UpsertPayout(ctx, f.item)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestSyncPayeeClearsLateness(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.UpsertPayout(ctx, f.item))

	p := f.payout(t)
	p.IsLate = true
	p.DaysLate = 3
	p.Penalty = 120
	p.FinalAmount = 480
	require.NoError(t, f.repo.Update(ctx, p))

	newcomer := uuid.New()
	require.NoError(t, f.ledger.SyncPayeeOnReassignment(ctx, f.item, newcomer))

	p = f.payout(t)
	assert.Equal(t, newcomer, p.PayeeID)
	assert.False(t, p.IsLate)
	assert.Zero(t, p.DaysLate)
	assert.Equal(t, p.Amount, p.FinalAmount)

	paidAt := t0
	p.Status = StatusPaid
	p.PaidAt = &paidAt
	require.NoError(t, f.repo.Update(ctx, p))

	err := f.ledger.SyncPayeeOnReassignment(ctx, f.item, uuid.New())
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func (f *ledgerFixture) addCharge(t *testing.T, amount float64, created time.Time, status PaymentStatus) *Payment {
	t.Helper()
	c := &Payment{
		Type:        TypeClientCharge,
		ProjectID:   f.project.ID,
		PayeeID:     *f.project.AdminID,
		PayerID:     f.project.ClientID,
		Currency:    "USD",
		Amount:      amount,
		FinalAmount: amount,
		Status:      status,
		CreatedAt:   created,
	}
	if status == StatusPaid {
		paid := created
		c.PaidAt = &paid
	}
	require.NoError(t, f.repo.Create(context.Background(), c))
	return c
}

func TestSettleProjectClosure(t *testing.T) {
	t.Run("creates a charge for the larger amount", func(t *testing.T) {
		f := newLedgerFixture(t)
		ctx := context.Background()
		require.NoError(t, f.ledger.SettleProjectClosure(ctx, f.project))

		charges, err := f.repo.ListByProject(ctx, f.project.ID, TypeClientCharge)
		require.NoError(t, err)
		require.Len(t, charges, 1)
		assert.Equal(t, 1500.0, charges[0].Amount)
		assert.Equal(t, StatusPending, charges[0].Status)
		assert.Equal(t, f.project.ClientID, charges[0].PayerID)
	})

	t.Run("merges duplicates into the oldest", func(t *testing.T) {
		f := newLedgerFixture(t)
		ctx := context.Background()
		oldest := f.addCharge(t, 100, t0, StatusPending)
		f.addCharge(t, 200, t0.Add(time.Hour), StatusPending)
		f.addCharge(t, 300, t0.Add(2*time.Hour), StatusLocked)

		require.NoError(t, f.ledger.SettleProjectClosure(ctx, f.project))

		charges, err := f.repo.ListByProject(ctx, f.project.ID, TypeClientCharge)
		require.NoError(t, err)
		require.Len(t, charges, 1)
		assert.Equal(t, oldest.ID, charges[0].ID)
		assert.Equal(t, 1500.0, charges[0].Amount)

		all, err := f.repo.List(ctx, Filter{IncludeDeleted: true})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("keeps a settled charge untouched", func(t *testing.T) {
		f := newLedgerFixture(t)
		ctx := context.Background()
		paid := f.addCharge(t, 900, t0, StatusPaid)
		f.addCharge(t, 50, t0.Add(time.Hour), StatusPending)

		require.NoError(t, f.ledger.SettleProjectClosure(ctx, f.project))

		charges, err := f.repo.ListByProject(ctx, f.project.ID, TypeClientCharge)
		require.NoError(t, err)
		require.Len(t, charges, 1)
		assert.Equal(t, paid.ID, charges[0].ID)
		assert.Equal(t, 900.0, charges[0].Amount)
	})
}

func TestPurgeKeepsSettledPayments(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	gone := f.addCharge(t, 10, t0, StatusPending)
	kept := f.addCharge(t, 20, t0, StatusPaid)
	for _, p := range []*Payment{gone, kept} {
		stored, err := f.repo.Get(ctx, p.ID)
		require.NoError(t, err)
		deleted := t0
		stored.DeletedAt = &deleted
		require.NoError(t, f.repo.Update(ctx, stored))
	}

	n, err := f.repo.PurgeExpired(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.repo.Get(ctx, gone.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = f.repo.Get(ctx, kept.ID)
	assert.NoError(t, err)
}
