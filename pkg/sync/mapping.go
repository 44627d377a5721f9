package sync

import (
	"time"

	"github.com/harrisonrobin/orgsync/pkg/backend"
	"github.com/harrisonrobin/orgsync/pkg/orgplan"
)

// statusToRemote maps an orgplan status onto the remote two-state model.
// DELEGATED and CANCELED have no remote equivalent and collapse to
// completed.
func statusToRemote(status string) string {
	switch status {
	case orgplan.StatusDone, orgplan.StatusDelegated, orgplan.StatusCanceled:
		return backend.StatusCompleted
	default:
		return backend.StatusActive
	}
}

// statusToLocal maps a remote status onto an orgplan status. Active tasks
// carry no bracket locally.
func statusToLocal(status string) string {
	if status == backend.StatusCompleted {
		return orgplan.StatusDone
	}
	return ""
}

// priorityToImportance maps #pN onto remote importance. An unset priority
// maps to normal one-way only.
func priorityToImportance(priority int) string {
	switch {
	case priority == 1:
		return backend.ImportanceHigh
	case priority == 0, priority == 2:
		return backend.ImportanceNormal
	default: // 3 or greater
		return backend.ImportanceLow
	}
}

// importanceToPriority is the reverse mapping; unknown importance clears
// the priority.
func importanceToPriority(importance string) int {
	switch importance {
	case backend.ImportanceHigh:
		return 1
	case backend.ImportanceNormal:
		return 2
	case backend.ImportanceLow:
		return 3
	default:
		return 0
	}
}

// sameDate compares two date-granular values, treating zero as distinct
// from any real date.
func sameDate(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() && b.IsZero()
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
