package orgplan

import "time"

// Task statuses as they appear in the bracketed marker on a task line.
// An empty status means the line carries no bracket at all.
const (
	StatusPending   = "PENDING"
	StatusDone      = "DONE"
	StatusDelegated = "DELEGATED"
	StatusCanceled  = "CANCELED"
)

// Due marker styles. The style a due date was parsed with is preserved so a
// rewrite reproduces the same textual form.
const (
	DueStylePlain     = "plain"
	DueStyleDeadline  = "deadline"
	DueStyleScheduled = "scheduled"
)

// Task represents one entry from the TODO List section of an orgplan file.
type Task struct {
	Description string
	Status      string    // DONE, PENDING, DELEGATED, CANCELED, or ""
	Priority    int       // from #pN; 0 when unset, 1 is highest
	DueDate     time.Time // date-granular; zero when unset
	DueStyle    string    // marker style on the task line; "" when none

	// DetailHasDeadline is true when the due date was taken from a
	// DEADLINE:/SCHEDULED: expression inside the detail section. The
	// detail marker owns the due date once established.
	DetailHasDeadline bool

	DetailSection string

	// BackendIDs maps an id marker name (e.g. "ms-todo-id") to the
	// backend-assigned task id embedded in the detail section. A task may
	// be linked to several backends at once.
	BackendIDs map[string]string

	RawLine    string
	LineNumber int // 1-based position of the summary line
}

// BackendID returns the stored id for a marker name, or "" when unlinked.
func (t *Task) BackendID(marker string) string {
	if t.BackendIDs == nil {
		return ""
	}
	return t.BackendIDs[marker]
}
