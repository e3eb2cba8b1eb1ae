package payments

import (
	"time"

	"github.com/google/uuid"
)

// Predicate decides whether a ledger entry passes one visibility rule.
type Predicate func(v PaymentView) bool

// All passes when every predicate passes. No predicates pass everything.
func All(preds ...Predicate) Predicate {
	return func(v PaymentView) bool {
		for _, p := range preds {
			if !p(v) {
				return false
			}
		}
		return true
	}
}

// Any passes when at least one predicate passes.
func Any(preds ...Predicate) Predicate {
	return func(v PaymentView) bool {
		for _, p := range preds {
			if p(v) {
				return true
			}
		}
		return false
	}
}

// NotDeleted rejects soft-deleted entries.
func NotDeleted(v PaymentView) bool {
	return v.Payment.DeletedAt == nil
}

// NotHidden rejects entries, or entries of work items, past their hide
// horizon.
func NotHidden(now time.Time) Predicate {
	return func(v PaymentView) bool {
		if v.Payment.HiddenAt != nil && !v.Payment.HiddenAt.After(now) {
			return false
		}
		if v.WorkItem != nil && v.WorkItem.HiddenAt != nil && !v.WorkItem.HiddenAt.After(now) {
			return false
		}
		return true
	}
}

// OwnedByCurrentAssignee passes entries whose work item is currently
// assigned to viewer.
func OwnedByCurrentAssignee(viewer uuid.UUID) Predicate {
	return func(v PaymentView) bool {
		return v.WorkItem != nil && v.WorkItem.AssigneeID == viewer
	}
}

// ApprovalComplete passes entries whose work item is fully approved or
// never needed approval.
func ApprovalComplete(v PaymentView) bool {
	return v.WorkItem != nil && (v.WorkItem.Approved || !v.WorkItem.RequiresApproval)
}

// PayeeIs passes entries paid out to user.
func PayeeIs(user uuid.UUID) Predicate {
	return func(v PaymentView) bool {
		return v.Payment.PayeeID == user
	}
}

// OfType passes entries of the given types.
func OfType(types ...PaymentType) Predicate {
	return func(v PaymentView) bool {
		for _, t := range types {
			if v.Payment.Type == t {
				return true
			}
		}
		return false
	}
}

// AssigneeVisible is the rule for showing a payout to a worker.
func AssigneeVisible(viewer uuid.UUID, now time.Time) Predicate {
	return All(NotDeleted, NotHidden(now), OwnedByCurrentAssignee(viewer), ApprovalComplete)
}

// Filter keeps the views that pass pred.
func (pred Predicate) Filter(views []PaymentView) []PaymentView {
	out := make([]PaymentView, 0, len(views))
	for _, v := range views {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}
