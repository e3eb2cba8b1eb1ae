package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/notifications"
	"studioflow/production-portal/production-portal-backend/internal/projects"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked int `json:"checked"`
	Fired   int `json:"fired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Sweeper raises deadline warnings on open projects and work items.
type Sweeper struct {
	repo     projects.Repository
	notifier projects.Notifier
	logger   *zap.Logger
}

func NewSweeper(repo projects.Repository, notifier projects.Notifier, logger *zap.Logger) *Sweeper {
	return &Sweeper{repo: repo, notifier: notifier, logger: logger}
}

type target struct {
	kind       projects.EntityKind
	id         uuid.UUID
	title      string
	start      time.Time
	deadline   time.Time
	flags      projects.WarningFlags
	recipients []uuid.UUID
}

// Sweep evaluates every open entity once. Failures on one entity are logged
// and counted; the rest of the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	openProjects, err := s.repo.ListOpenProjects(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load open projects: %w", err)
	}
	items, err := s.repo.ListOpenWorkItems(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load open work items: %w", err)
	}

	admins := make(map[uuid.UUID]uuid.UUID, len(openProjects))
	for i := range openProjects {
		p := &openProjects[i]
		if p.AdminID != nil {
			admins[p.ID] = *p.AdminID
		}
		s.sweepOne(ctx, now, projectTarget(p), &result)
	}

	for i := range items {
		w := &items[i]
		admin, ok := admins[w.ProjectID]
		if !ok {
			admin = s.adminOf(ctx, w.ProjectID)
		}
		s.sweepOne(ctx, now, workItemTarget(w, admin), &result)
	}

	s.logger.Info("Deadline sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("fired", result.Fired),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *Sweeper) adminOf(ctx context.Context, projectID uuid.UUID) uuid.UUID {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil || p.AdminID == nil {
		return uuid.Nil
	}
	return *p.AdminID
}

func projectTarget(p *projects.Project) target {
	t := target{
		kind:       projects.KindProject,
		id:         p.ID,
		title:      p.Title,
		start:      p.WindowStart(),
		flags:      p.Warnings,
		recipients: []uuid.UUID{p.ClientID},
	}
	if p.Deadline != nil {
		t.deadline = *p.Deadline
	}
	if p.AdminID != nil {
		t.recipients = append(t.recipients, *p.AdminID)
	}
	return t
}

func workItemTarget(w *projects.WorkItem, admin uuid.UUID) target {
	return target{
		kind:       projects.KindWorkItem,
		id:         w.ID,
		title:      w.Title,
		start:      w.WindowStart(),
		deadline:   w.Deadline,
		flags:      w.Warnings,
		recipients: []uuid.UUID{w.AssigneeID, admin},
	}
}

func (s *Sweeper) sweepOne(ctx context.Context, now time.Time, t target, result *SweepResult) {
	result.Checked++
	defer func() {
		if r := recover(); r != nil {
			result.Failed++
			s.logger.Error("Deadline check panicked",
				zap.String("kind", string(t.kind)),
				zap.String("id", t.id.String()),
				zap.Any("panic", r))
		}
	}()

	if t.deadline.IsZero() || !t.deadline.After(t.start) {
		result.Skipped++
		return
	}
	threshold, ok := Evaluate(t.start, t.deadline, now, t.flags)
	if !ok {
		return
	}

	raised, err := s.repo.RaiseWarning(ctx, t.kind, t.id, threshold)
	if err != nil {
		result.Failed++
		s.logger.Error("Failed to persist deadline warning",
			zap.String("kind", string(t.kind)),
			zap.String("id", t.id.String()),
			zap.String("threshold", string(threshold)),
			zap.Error(err))
		return
	}
	if !raised {
		// another sweep got there first
		return
	}

	result.Fired++
	kind, title, message := warningMessage(t, threshold)
	seen := make(map[uuid.UUID]bool, len(t.recipients))
	for _, r := range t.recipients {
		if r == uuid.Nil || seen[r] {
			continue
		}
		seen[r] = true
		s.notifier.Notify(ctx, r, kind, title, message, t.id)
	}
}

func warningMessage(t target, threshold projects.Threshold) (notifications.Type, string, string) {
	noun := "Project"
	if t.kind == projects.KindWorkItem {
		noun = "Work item"
	}
	due := t.deadline.UTC().Format(time.RFC1123)

	switch threshold {
	case projects.ThresholdCrossed:
		return notifications.TypeDeadlineCrossed,
			"Deadline passed",
			fmt.Sprintf("%s %q missed its deadline (%s).", noun, t.title, due)
	case projects.Threshold5:
		return notifications.TypeDeadlineWarning5,
			"Deadline imminent",
			fmt.Sprintf("%s %q has less than 5%% of its time left (due %s).", noun, t.title, due)
	case projects.Threshold25:
		return notifications.TypeDeadlineWarning25,
			"Deadline approaching",
			fmt.Sprintf("%s %q has less than 25%% of its time left (due %s).", noun, t.title, due)
	default:
		return notifications.TypeDeadlineWarning50,
			"Halfway to deadline",
			fmt.Sprintf("%s %q has used half of its time (due %s).", noun, t.title, due)
	}
}
