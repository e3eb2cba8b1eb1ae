package projects

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"studioflow/production-portal/production-portal-backend/pkg/apperr"
	"studioflow/production-portal/production-portal-backend/pkg/database"
)

var repoT0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func newGormRepository(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return NewRepository(db), db
}

func seedProject(t *testing.T, repo Repository) *Project {
	t.Helper()
	deadline := repoT0.Add(30 * 24 * time.Hour)
	p := &Project{
		ID:        uuid.New(),
		Title:     "Launch trailer",
		ClientID:  uuid.New(),
		Status:    ProjectPending,
		Currency:  "USD",
		Deadline:  &deadline,
		CreatedAt: repoT0,
	}
	require.NoError(t, repo.CreateProject(context.Background(), p))
	return p
}

func seedWorkItem(t *testing.T, repo Repository, projectID uuid.UUID, requiresApproval bool) *WorkItem {
	t.Helper()
	w := &WorkItem{
		ID:               uuid.New(),
		ProjectID:        projectID,
		Title:            "Color grade",
		AssigneeID:       uuid.New(),
		Deadline:         repoT0.Add(10 * 24 * time.Hour),
		Percentage:       40,
		Budget:           400,
		Status:           WorkItemPending,
		RequiresApproval: requiresApproval,
		CreatedAt:        repoT0,
	}
	require.NoError(t, repo.CreateWorkItem(context.Background(), w))
	return w
}

func TestGormAcceptProjectOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo, _ := newGormRepository(t)
	p := seedProject(t, repo)

	won, err := repo.AcceptProject(ctx, p.ID, AcceptUpdate{AdminID: uuid.New(), AllocatedBudget: 900, AcceptedAt: repoT0})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.AcceptProject(ctx, p.ID, AcceptUpdate{AdminID: uuid.New(), AllocatedBudget: 1, AcceptedAt: repoT0})
	require.NoError(t, err)
	assert.False(t, won)

	got, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Accepted)
	assert.Equal(t, ProjectAssigned, got.Status)
	assert.Equal(t, 900.0, got.AllocatedBudget)
	assert.Equal(t, 2, got.Version)
}

func TestGormUpdateProjectDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo, _ := newGormRepository(t)
	p := seedProject(t, repo)

	first, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	second, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)

	first.Status = ProjectRejected
	require.NoError(t, repo.UpdateProject(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Title = "Renamed"
	err = repo.UpdateProject(ctx, second)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, second.Version)

	got, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProjectRejected, got.Status)
	assert.Equal(t, "Launch trailer", got.Title)
}

func TestGormRaiseWarning(t *testing.T) {
	ctx := context.Background()
	repo, _ := newGormRepository(t)
	p := seedProject(t, repo)
	w := seedWorkItem(t, repo, p.ID, true)

	ok, err := repo.RaiseWarning(ctx, KindWorkItem, w.ID, Threshold5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RaiseWarning(ctx, KindWorkItem, w.ID, Threshold5)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.RaiseWarning(ctx, KindWorkItem, w.ID, Threshold25)
	require.NoError(t, err)
	assert.False(t, ok, "milder flags are set together with the severe one")

	got, err := repo.GetWorkItem(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, WarningFlags{Warn50: true, Warn25: true, Warn5: true}, got.Warnings)

	// the flag write bumps the version, so a save from a stale read fails
	w.Status = WorkItemInProgress
	err = repo.UpdateWorkItem(ctx, w)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	ok, err = repo.RaiseWarning(ctx, KindProject, p.ID, ThresholdCrossed)
	require.NoError(t, err)
	assert.True(t, ok)
	project, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, project.Warnings.WarnCrossed)
	assert.True(t, project.Warnings.Warn50)
}

func TestGormWorkItemKeepsApprovalOptOut(t *testing.T) {
	ctx := context.Background()
	repo, _ := newGormRepository(t)
	p := seedProject(t, repo)
	w := seedWorkItem(t, repo, p.ID, false)

	got, err := repo.GetWorkItem(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, got.RequiresApproval)
}

func TestGormCompleteCorrectionOnce(t *testing.T) {
	ctx := context.Background()
	repo, _ := newGormRepository(t)
	p := seedProject(t, repo)
	w := seedWorkItem(t, repo, p.ID, true)

	c := &Correction{ID: uuid.New(), WorkItemID: w.ID, RequestedBy: p.ClientID, Note: "louder VO", CreatedAt: repoT0}
	require.NoError(t, repo.CreateCorrection(ctx, c))

	done, err := repo.CompleteCorrection(ctx, c.ID, repoT0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, done)
	done, err = repo.CompleteCorrection(ctx, c.ID, repoT0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, done)
}

func TestGormTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	repo, db := newGormRepository(t)
	p := seedProject(t, repo)
	tx := database.NewGormTxManager(db)

	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		got, err := repo.GetProject(ctx, p.ID)
		if err != nil {
			return err
		}
		got.Status = ProjectRejected
		if err := repo.UpdateProject(ctx, got); err != nil {
			return err
		}
		return apperr.Precondition("test", "abort")
	})
	require.Error(t, err)

	got, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProjectPending, got.Status)
	assert.Equal(t, 1, got.Version)
}

func TestGormPurgeExpired(t *testing.T) {
	ctx := context.Background()
	repo, _ := newGormRepository(t)
	p := seedProject(t, repo)
	w := seedWorkItem(t, repo, p.ID, true)
	require.NoError(t, repo.CreateCorrection(ctx, &Correction{ID: uuid.New(), WorkItemID: w.ID, RequestedBy: p.ClientID, Note: "x", CreatedAt: repoT0}))
	keep := seedProject(t, repo)

	deleteAt := repoT0.Add(24 * time.Hour)
	p.Status = ProjectClosed
	p.DeletedAt = &deleteAt
	require.NoError(t, repo.UpdateProject(ctx, p))
	w.DeletedAt = &deleteAt
	require.NoError(t, repo.UpdateWorkItem(ctx, w))

	res, err := repo.PurgeExpired(ctx, repoT0)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{}, res)

	res, err = repo.PurgeExpired(ctx, deleteAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Projects: 1, WorkItems: 1, Corrections: 1}, res)

	_, err = repo.GetProject(ctx, p.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = repo.GetProject(ctx, keep.ID)
	assert.NoError(t, err)
}
