package projects_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/internal/escalation"
	"studioflow/production-portal/production-portal-backend/internal/notifications"
	"studioflow/production-portal/production-portal-backend/internal/payments"
	"studioflow/production-portal/production-portal-backend/internal/projects"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
	"studioflow/production-portal/production-portal-backend/pkg/database"
	"studioflow/production-portal/production-portal-backend/pkg/storage"
)

var day0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.Add(time.Duration(n) * 24 * time.Hour)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type sent struct {
	recipient uuid.UUID
	kind      notifications.Type
	related   uuid.UUID
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient uuid.UUID, kind notifications.Type, title, message string, related uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{recipient: recipient, kind: kind, related: related})
}

func (n *recordingNotifier) count(recipient uuid.UUID, kind notifications.Type) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.recipient == recipient && s.kind == kind {
			c++
		}
	}
	return c
}

type fixture struct {
	svc      *projects.Service
	payments *payments.Service
	repo     projects.Repository
	ledger   payments.Repository
	notifier *recordingNotifier
	clock    *clock

	admin  auth.Actor
	client auth.Actor
	editor auth.Actor
	other  auth.Actor
}

func actor(t *testing.T, role string) auth.Actor {
	t.Helper()
	a, err := auth.NewActor(uuid.New(), role)
	require.NoError(t, err)
	return a
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := projects.NewMemoryRepository()
	paymentRepo := payments.NewMemoryRepository()
	logger := zap.NewNop()
	c := &clock{t: day0}
	notifier := &recordingNotifier{}
	tx := database.NoopTxManager{}

	svc := projects.NewService(repo, tx, payments.NewLedger(paymentRepo, repo, logger), notifier,
		storage.NewMemoryUploader("https://files.test"), logger, projects.ServiceConfig{
			HideAfter:   0,
			DeleteAfter: 30 * 24 * time.Hour,
			Now:         c.Now,
		})

	return &fixture{
		svc:      svc,
		payments: payments.NewService(paymentRepo, repo, tx, notifier, logger, c.Now),
		repo:     repo,
		ledger:   paymentRepo,
		notifier: notifier,
		clock:    c,
		admin:    actor(t, "admin"),
		client:   actor(t, "client"),
		editor:   actor(t, "editor"),
		other:    actor(t, "editor"),
	}
}

// acceptedProject creates and accepts a project with one 50% item due on
// day 10.
func (f *fixture) acceptedProject(t *testing.T) (*projects.Project, *projects.WorkItem) {
	t.Helper()
	ctx := context.Background()

	deadline := day(30)
	p, err := f.svc.CreateProject(ctx, f.client, projects.CreateProjectRequest{
		Title:        "Brand film",
		Currency:     "eur",
		ClientAmount: 1200,
		Deadline:     &deadline,
	})
	require.NoError(t, err)

	p, err = f.svc.AcceptProject(ctx, f.admin, p.ID, projects.AcceptProjectRequest{
		AllocatedBudget: 2000,
		Items: []projects.WorkItemInput{{
			Title:      "Edit",
			AssigneeID: f.editor.UserID,
			Deadline:   day(10),
			Percentage: 50,
		}},
	})
	require.NoError(t, err)

	items, err := f.svc.ListWorkItems(ctx, f.admin, p.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return p, &items[0]
}

func (f *fixture) payout(t *testing.T, item *projects.WorkItem) *payments.Payment {
	t.Helper()
	p, err := f.ledger.FindPayout(context.Background(), item.ProjectID, item.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestAcceptProjectCreatesLockedPayout(t *testing.T) {
	f := newFixture(t)
	p, item := f.acceptedProject(t)

	assert.Equal(t, projects.ProjectAssigned, p.Status)
	assert.True(t, p.Accepted)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, 1000.0, item.Budget)

	payout := f.payout(t, item)
	assert.Equal(t, payments.StatusLocked, payout.Status)
	assert.Equal(t, f.editor.UserID, payout.PayeeID)
	assert.Equal(t, f.admin.UserID, payout.PayerID)
	assert.Equal(t, 1000.0, payout.Amount)
	assert.Equal(t, "EUR", payout.Currency)

	assert.Equal(t, 1, f.notifier.count(f.editor.UserID, notifications.TypeWorkAssigned))
	assert.Equal(t, 1, f.notifier.count(f.client.UserID, notifications.TypeProjectAccepted))
}

func TestAcceptProjectTwice(t *testing.T) {
	f := newFixture(t)
	p, _ := f.acceptedProject(t)

	_, err := f.svc.AcceptProject(context.Background(), f.admin, p.ID, projects.AcceptProjectRequest{AllocatedBudget: 10})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestAcceptProjectRejectsOverallocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.CreateProject(ctx, f.client, projects.CreateProjectRequest{Title: "Promo"})
	require.NoError(t, err)

	_, err = f.svc.AcceptProject(ctx, f.admin, p.ID, projects.AcceptProjectRequest{
		AllocatedBudget: 100,
		Items: []projects.WorkItemInput{
			{Title: "A", AssigneeID: f.editor.UserID, Deadline: day(5), Percentage: 60},
			{Title: "B", AssigneeID: f.editor.UserID, Deadline: day(5), Percentage: 50},
		},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestLateApprovalAppliesPenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	f.clock.Set(day(1))
	_, err := f.svc.StartWork(ctx, f.editor, item.ID)
	require.NoError(t, err)

	f.clock.Set(day(11))
	_, err = f.svc.SubmitWork(ctx, f.editor, item.ID, projects.SubmitWorkRequest{File: []byte("cut-v1"), FileKind: "video"})
	require.NoError(t, err)

	f.clock.Set(day(12))
	w, err := f.svc.SetApproval(ctx, f.admin, item.ID, projects.SideAdmin)
	require.NoError(t, err)
	assert.False(t, w.Approved)
	assert.Equal(t, projects.ApprovalAwaitingClient, w.ApprovalState())
	assert.Equal(t, payments.StatusLocked, f.payout(t, item).Status)

	w, err = f.svc.SetApproval(ctx, f.client, item.ID, projects.SideClient)
	require.NoError(t, err)
	assert.True(t, w.Approved)
	assert.Equal(t, projects.WorkItemCompleted, w.Status)

	payout := f.payout(t, item)
	assert.Equal(t, payments.StatusCalculated, payout.Status)
	assert.Equal(t, 2, payout.DaysLate)
	assert.True(t, payout.IsLate)
	assert.InDelta(t, 200.0, payout.Penalty, 1e-9)
	assert.InDelta(t, 800.0, payout.FinalAmount, 1e-9)
	assert.Equal(t, 1, f.notifier.count(f.editor.UserID, notifications.TypeWorkApproved))
}

func TestRepeatedApprovalIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	f.clock.Set(day(5))
	_, err := f.svc.SetApproval(ctx, f.admin, item.ID, projects.SideAdmin)
	require.NoError(t, err)
	_, err = f.svc.SetApproval(ctx, f.client, item.ID, projects.SideClient)
	require.NoError(t, err)
	first := f.payout(t, item)
	assert.Equal(t, 0, first.DaysLate)
	assert.Equal(t, 1000.0, first.FinalAmount)

	f.clock.Set(day(20))
	for _, side := range []projects.ApprovalSide{projects.SideAdmin, projects.SideClient} {
		a := f.admin
		if side == projects.SideClient {
			a = f.client
		}
		w, err := f.svc.SetApproval(ctx, a, item.ID, side)
		require.NoError(t, err)
		assert.True(t, w.Approved)
	}

	again := f.payout(t, item)
	assert.Equal(t, first.FinalAmount, again.FinalAmount)
	assert.Equal(t, first.CalculatedAt, again.CalculatedAt)
	assert.Equal(t, 1, f.notifier.count(f.editor.UserID, notifications.TypeWorkApproved))
}

func TestClientCannotApproveForeignProject(t *testing.T) {
	f := newFixture(t)
	_, item := f.acceptedProject(t)

	stranger := actor(t, "client")
	_, err := f.svc.SetApproval(context.Background(), stranger, item.ID, projects.SideClient)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.svc.SetApproval(context.Background(), f.editor, item.ID, projects.SideAdmin)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestDeclineWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	f.clock.Set(day(3))
	_, err := f.svc.Decline(ctx, f.editor, item.ID, "too busy")
	require.Error(t, err)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))

	f.clock.Set(day(1))
	w, err := f.svc.Decline(ctx, f.editor, item.ID, "too busy")
	require.NoError(t, err)
	assert.Equal(t, projects.WorkItemDeclined, w.Status)
	assert.Equal(t, "too busy", w.DeclineReason)
	assert.Equal(t, 1, f.notifier.count(f.admin.UserID, notifications.TypeWorkDeclined))
}

func TestCanDecline(t *testing.T) {
	start := day0
	deadline := day(10)

	assert.True(t, projects.CanDecline(start, deadline, day0))
	assert.True(t, projects.CanDecline(start, deadline, day(2)))
	assert.False(t, projects.CanDecline(start, deadline, day(2).Add(time.Minute)))
	assert.False(t, projects.CanDecline(start, deadline, day(11)))
	assert.False(t, projects.CanDecline(deadline, start, day0))
}

func TestReassignmentMovesPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	_, err := f.svc.SetApproval(ctx, f.admin, item.ID, projects.SideAdmin)
	require.NoError(t, err)

	w, err := f.svc.AssignWorker(ctx, f.admin, item.ID, f.other.UserID)
	require.NoError(t, err)
	assert.Equal(t, f.other.UserID, w.AssigneeID)
	assert.False(t, w.AdminApproved)
	assert.Equal(t, projects.WorkItemPending, w.Status)

	payout := f.payout(t, item)
	assert.Equal(t, f.other.UserID, payout.PayeeID)
	assert.Equal(t, payments.StatusLocked, payout.Status)
	assert.False(t, payout.IsLate)

	assert.Equal(t, 1, f.notifier.count(f.other.UserID, notifications.TypeWorkAssigned))
	assert.Equal(t, 1, f.notifier.count(f.editor.UserID, notifications.TypeWorkReassigned))

	// same assignee again is a no-op
	_, err = f.svc.AssignWorker(ctx, f.admin, item.ID, f.other.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.count(f.other.UserID, notifications.TypeWorkAssigned))
}

func TestPayoutVisibleToCurrentAssigneeAfterApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	_, err := f.svc.AssignWorker(ctx, f.admin, item.ID, f.other.UserID)
	require.NoError(t, err)

	visible, err := f.payments.ListVisible(ctx, f.other)
	require.NoError(t, err)
	assert.Empty(t, visible)

	_, err = f.svc.SetApproval(ctx, f.admin, item.ID, projects.SideAdmin)
	require.NoError(t, err)
	_, err = f.svc.SetApproval(ctx, f.client, item.ID, projects.SideClient)
	require.NoError(t, err)

	visible, err = f.payments.ListVisible(ctx, f.other)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, item.ID, *visible[0].Payment.WorkItemID)

	visible, err = f.payments.ListVisible(ctx, f.editor)
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestCorrectionRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	_, err := f.svc.SubmitWork(ctx, f.editor, item.ID, projects.SubmitWorkRequest{URL: "https://cdn.test/cut.mp4"})
	require.NoError(t, err)

	c, err := f.svc.RequestCorrection(ctx, f.client, item.ID, "trim the intro")
	require.NoError(t, err)
	w, err := f.svc.GetWorkItem(ctx, f.admin, item.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.WorkItemInProgress, w.Status)
	assert.Equal(t, 1, f.notifier.count(f.editor.UserID, notifications.TypeCorrectionRequested))

	_, err = f.svc.MarkCorrectionDone(ctx, f.other, c.ID)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	done, err := f.svc.MarkCorrectionDone(ctx, f.editor, c.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)

	_, err = f.svc.MarkCorrectionDone(ctx, f.editor, c.ID)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestSubmitWorkRequiresContent(t *testing.T) {
	f := newFixture(t)
	_, item := f.acceptedProject(t)

	_, err := f.svc.SubmitWork(context.Background(), f.editor, item.ID, projects.SubmitWorkRequest{Note: "done"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCloseProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, item := f.acceptedProject(t)

	_, err := f.svc.SetProjectApproval(ctx, f.admin, p.ID, projects.SideAdmin)
	require.NoError(t, err)
	p, err = f.svc.SetProjectApproval(ctx, f.client, p.ID, projects.SideClient)
	require.NoError(t, err)
	assert.Equal(t, projects.ProjectCompleted, p.Status)

	_, err = f.svc.CloseProject(ctx, f.admin, p.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err), "unapproved work item blocks closing")

	_, err = f.svc.SetApproval(ctx, f.admin, item.ID, projects.SideAdmin)
	require.NoError(t, err)
	_, err = f.svc.SetApproval(ctx, f.client, item.ID, projects.SideClient)
	require.NoError(t, err)

	f.clock.Set(day(4))
	p, err = f.svc.CloseProject(ctx, f.admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.ProjectClosed, p.Status)
	require.NotNil(t, p.ClosedAt)
	require.NotNil(t, p.DeletedAt)
	assert.Equal(t, day(34), *p.DeletedAt)

	charges, err := f.ledger.ListByProject(ctx, p.ID, payments.TypeClientCharge)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, 2000.0, charges[0].Amount)
	assert.Equal(t, payments.StatusPending, charges[0].Status)
	assert.Equal(t, f.client.UserID, charges[0].PayerID)

	stored, err := f.repo.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ClosedAt)
	assert.Equal(t, day(34), *stored.DeletedAt)
}

func TestCloseEmptyProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreateProject(ctx, f.client, projects.CreateProjectRequest{Title: "Retainer", ClientAmount: 500})
	require.NoError(t, err)
	_, err = f.svc.AcceptProject(ctx, f.admin, p.ID, projects.AcceptProjectRequest{AllocatedBudget: 300})
	require.NoError(t, err)

	_, err = f.svc.CloseProject(ctx, f.admin, p.ID)
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err), "approvals are still required")

	_, err = f.svc.SetProjectApproval(ctx, f.admin, p.ID, projects.SideAdmin)
	require.NoError(t, err)
	_, err = f.svc.SetProjectApproval(ctx, f.client, p.ID, projects.SideClient)
	require.NoError(t, err)

	p, err = f.svc.CloseProject(ctx, f.admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.ProjectClosed, p.Status)

	charges, err := f.ledger.ListByProject(ctx, p.ID, payments.TypeClientCharge)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, 500.0, charges[0].Amount)
}

func TestRejectProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreateProject(ctx, f.client, projects.CreateProjectRequest{Title: "Teaser"})
	require.NoError(t, err)

	_, err = f.svc.RejectProject(ctx, f.client, p.ID, "")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	p, err = f.svc.RejectProject(ctx, f.admin, p.ID, "out of scope")
	require.NoError(t, err)
	assert.Equal(t, projects.ProjectRejected, p.Status)
	assert.Equal(t, 1, f.notifier.count(f.client.UserID, notifications.TypeProjectRejected))

	_, err = f.svc.AcceptProject(ctx, f.admin, p.ID, projects.AcceptProjectRequest{})
	assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
}

func TestUpdateTermsRepricesPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	pct := 25.0
	newDeadline := day(15)
	w, err := f.svc.UpdateWorkItemTerms(ctx, f.admin, item.ID, projects.UpdateTermsRequest{
		Percentage: &pct,
		Deadline:   &newDeadline,
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, w.Budget)

	payout := f.payout(t, item)
	assert.Equal(t, 500.0, payout.Amount)
	require.NotNil(t, payout.Deadline)
	assert.Equal(t, newDeadline, *payout.Deadline)
}

func TestProjectVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.acceptedProject(t)

	_, err := f.svc.GetProject(ctx, f.editor, p.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetProject(ctx, f.other, p.ID)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	list, err := f.svc.ListProjects(ctx, f.client)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNewDeadlineOpensNewWarningWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)
	sweeper := escalation.NewSweeper(f.repo, f.notifier, zap.NewNop())

	res, err := sweeper.Sweep(ctx, day(6))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fired)
	w, err := f.repo.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, w.Warnings.Warn50)

	f.clock.Set(day(6))
	newDeadline := day(40)
	w, err = f.svc.UpdateWorkItemTerms(ctx, f.admin, item.ID, projects.UpdateTermsRequest{Deadline: &newDeadline})
	require.NoError(t, err)
	assert.Equal(t, projects.WarningFlags{}, w.Warnings)

	res, err = sweeper.Sweep(ctx, day(6))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fired)

	_, err = sweeper.Sweep(ctx, day(25))
	require.NoError(t, err)
	assert.Equal(t, 2, f.notifier.count(f.editor.UserID, notifications.TypeDeadlineWarning50))
	w, err = f.repo.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.WarningFlags{Warn50: true}, w.Warnings)
}

func TestCorrectionsAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, item := f.acceptedProject(t)

	_, err := f.svc.SubmitWork(ctx, f.editor, item.ID, projects.SubmitWorkRequest{URL: "https://cdn.test/v1.mp4"})
	require.NoError(t, err)

	first, err := f.svc.RequestCorrection(ctx, f.client, item.ID, "swap the music")
	require.NoError(t, err)
	second, err := f.svc.RequestCorrection(ctx, f.admin, item.ID, "fix the lower thirds")
	require.NoError(t, err)

	list, err := f.svc.ListCorrections(ctx, f.editor, item.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []uuid.UUID{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
	for _, c := range list {
		assert.False(t, c.Done)
	}
	assert.Equal(t, 2, f.notifier.count(f.editor.UserID, notifications.TypeCorrectionRequested))
}

func TestLegacySubmittedProjectLeavesForReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, item := f.acceptedProject(t)

	p, err := f.repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	p.Status = projects.ProjectSubmitted
	require.NoError(t, f.repo.UpdateProject(ctx, p))

	_, err = f.svc.SubmitWork(ctx, f.editor, item.ID, projects.SubmitWorkRequest{URL: "https://cdn.test/final.mp4"})
	require.NoError(t, err)
	p, err = f.svc.GetProject(ctx, f.admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.ProjectUnderReview, p.Status)
}
