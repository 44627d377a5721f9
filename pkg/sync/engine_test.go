package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/orgsync/pkg/backend"
	"github.com/harrisonrobin/orgsync/pkg/orgplan"
)

// fakeBackend is an in-memory Backend with configurable priority support.
type fakeBackend struct {
	items            map[string]backend.Item
	order            []string
	nextID           int
	supportsPriority bool

	creates int
	updates int
	failAll bool
}

func newFakeBackend(supportsPriority bool) *fakeBackend {
	return &fakeBackend{
		items:            make(map[string]backend.Item),
		supportsPriority: supportsPriority,
	}
}

func (f *fakeBackend) seed(item backend.Item) backend.Item {
	if item.ID == "" {
		f.nextID++
		item.ID = fmt.Sprintf("task-%d", f.nextID)
	}
	if f.supportsPriority && item.Importance == "" {
		item.Importance = backend.ImportanceNormal
	}
	if item.Status == "" {
		item.Status = backend.StatusActive
	}
	f.items[item.ID] = item
	f.order = append(f.order, item.ID)
	return item
}

func (f *fakeBackend) Authenticate(ctx context.Context) error { return nil }

func (f *fakeBackend) TaskLists(ctx context.Context) ([]backend.List, error) {
	return []backend.List{{ID: "list-1", Name: "Tasks"}}, nil
}

func (f *fakeBackend) ListByName(ctx context.Context, name string) (*backend.List, error) {
	if name == "Tasks" {
		return &backend.List{ID: "list-1", Name: "Tasks"}, nil
	}
	return nil, nil
}

func (f *fakeBackend) Tasks(ctx context.Context, listID string) ([]backend.Item, error) {
	out := make([]backend.Item, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.items[id])
	}
	return out, nil
}

func (f *fakeBackend) CreateTask(ctx context.Context, listID string, item backend.Item) (backend.Item, error) {
	if f.failAll {
		return backend.Item{}, &backend.APIError{StatusCode: 500, Msg: "boom"}
	}
	f.creates++
	return f.seed(item), nil
}

func (f *fakeBackend) UpdateTask(ctx context.Context, listID string, item backend.Item) (backend.Item, error) {
	if f.failAll {
		return backend.Item{}, &backend.APIError{StatusCode: 500, Msg: "boom"}
	}
	if _, ok := f.items[item.ID]; !ok {
		return backend.Item{}, &backend.APIError{StatusCode: 404, Msg: "no such task"}
	}
	f.updates++
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeBackend) DeleteTask(ctx context.Context, listID, taskID string) error {
	delete(f.items, taskID)
	return nil
}

func (f *fakeBackend) Name() string     { return "fake" }
func (f *fakeBackend) IDMarker() string { return "fake-id" }

func (f *fakeBackend) SupportsPriority() bool { return f.supportsPriority }

func testDoc(t *testing.T, content string) *orgplan.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "06-notes.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	d := orgplan.New(path)
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}
	return d
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestEngine(doc *orgplan.Document, fb *fakeBackend) *Engine {
	return NewEngine(doc, fb, "list-1", false, quietLogger())
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCreateRemoteFromOrgplan(t *testing.T) {
	doc := testDoc(t, `# TODO List

- [PENDING] #p1 Plan offsite DEADLINE: <2025-06-20>

# Plan offsite

Book the venue.
`)
	fb := newFakeBackend(true)
	e := newTestEngine(doc, fb)

	stats, err := e.SyncOrgplanToRemote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Created != 1 || stats.Errors != 0 {
		t.Fatalf("stats = %+v, want 1 created", stats)
	}

	items, _ := fb.Tasks(context.Background(), "list-1")
	if len(items) != 1 {
		t.Fatalf("got %d remote items, want 1", len(items))
	}
	item := items[0]
	if item.Title != "Plan offsite" {
		t.Errorf("title = %q", item.Title)
	}
	if item.Status != backend.StatusActive {
		t.Errorf("status = %q, want active", item.Status)
	}
	if item.Importance != backend.ImportanceHigh {
		t.Errorf("importance = %q, want high", item.Importance)
	}
	if !sameDate(item.DueDate, date("2025-06-20")) {
		t.Errorf("due = %v", item.DueDate)
	}
	if item.Body != "Book the venue." {
		t.Errorf("body = %q", item.Body)
	}

	// The new id is recorded in the document.
	task := doc.ParseTasks()[0]
	if got := task.BackendID("fake-id"); got != item.ID {
		t.Errorf("marker = %q, want %q", got, item.ID)
	}
}

func TestUpdateRemoteDueDate(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{Title: "Renew passport", DueDate: date("2025-06-01")})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- Renew passport <2025-06-30>

# Renew passport

<!-- fake-id: %s -->
`, seeded.ID))
	e := newTestEngine(doc, fb)

	stats, err := e.SyncOrgplanToRemote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Updated != 1 {
		t.Fatalf("stats = %+v, want 1 updated", stats)
	}
	if got := fb.items[seeded.ID].DueDate; !sameDate(got, date("2025-06-30")) {
		t.Errorf("remote due = %v, want 2025-06-30", got)
	}
}

func TestMatchByIDBeatsTitle(t *testing.T) {
	fb := newFakeBackend(true)
	linked := fb.seed(backend.Item{Title: "Old title"})
	fb.seed(backend.Item{Title: "Renamed task"})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- Renamed task

# Renamed task

<!-- fake-id: %s -->
`, linked.ID))
	e := newTestEngine(doc, fb)

	if _, err := e.SyncOrgplanToRemote(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The id-linked item was retitled; the same-titled stranger untouched.
	if got := fb.items[linked.ID].Title; got != "Renamed task" {
		t.Errorf("linked item title = %q, want Renamed task", got)
	}
}

func TestTitleMatchHealsMarker(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{Title: "Adopted task"})

	doc := testDoc(t, `# TODO List

- Adopted task
`)
	e := newTestEngine(doc, fb)

	stats, err := e.SyncOrgplanToRemote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Created != 0 {
		t.Fatalf("stats = %+v, want no creates", stats)
	}
	if got := doc.ParseTasks()[0].BackendID("fake-id"); got != seeded.ID {
		t.Errorf("marker = %q, want %q", got, seeded.ID)
	}
	if fb.updates != 0 {
		t.Errorf("updates = %d, want 0 (marker heal is a document-only change)", fb.updates)
	}
}

func TestCanceledNeverReopenedByRemote(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{Title: "Abandoned plan", Status: backend.StatusCompleted})

	content := fmt.Sprintf(`# TODO List

- [CANCELED] Abandoned plan

# Abandoned plan

<!-- fake-id: %s -->
`, seeded.ID)
	doc := testDoc(t, content)
	e := newTestEngine(doc, fb)

	stats := e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	if stats.Updated != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want 1 skipped", stats)
	}
	if doc.Text() != content {
		t.Errorf("document modified:\n%s", doc.Text())
	}
}

func TestBidirectionalIdempotent(t *testing.T) {
	doc := testDoc(t, `# TODO List

- [PENDING] #p1 Alpha DEADLINE: <2025-06-20>
- Beta

# Alpha

Alpha notes.
`)
	fb := newFakeBackend(true)
	fb.seed(backend.Item{Title: "Gamma", DueDate: date("2025-07-01")})

	e := newTestEngine(doc, fb)
	ctx := context.Background()

	first, err := e.Bidirectional(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.OrgplanToRemote.Created != 2 {
		t.Fatalf("first run pushed %d creates, want 2", first.OrgplanToRemote.Created)
	}
	if first.RemoteToOrgplan.Created != 1 {
		t.Fatalf("first run pulled %d creates, want 1", first.RemoteToOrgplan.Created)
	}

	textAfterFirst := doc.Text()

	second, err := e.Bidirectional(ctx)
	if err != nil {
		t.Fatal(err)
	}
	total := second.OrgplanToRemote.Created + second.OrgplanToRemote.Updated +
		second.RemoteToOrgplan.Created + second.RemoteToOrgplan.Updated
	if total != 0 {
		t.Errorf("second run not idempotent: %+v", second)
	}
	if doc.Text() != textAfterFirst {
		t.Errorf("second run changed the document:\n%s", doc.Text())
	}
	if fb.creates != 2 {
		t.Errorf("remote creates = %d, want 2", fb.creates)
	}
}

func TestSkipsCompletedUnlinkedRemote(t *testing.T) {
	fb := newFakeBackend(true)
	fb.seed(backend.Item{Title: "Ancient history", Status: backend.StatusCompleted})

	doc := testDoc(t, `# TODO List

- Current work
`)
	e := newTestEngine(doc, fb)

	stats := e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	if stats.Created != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want the completed stranger skipped", stats)
	}
	if strings.Contains(doc.Text(), "Ancient history") {
		t.Errorf("historical task imported:\n%s", doc.Text())
	}
}

func TestCreateOrgplanFromRemote(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{
		Title:      "Fresh from remote",
		Importance: backend.ImportanceHigh,
		DueDate:    date("2025-06-25"),
		Body:       "Remote notes.",
	})

	doc := testDoc(t, `# TODO List

- Existing local
`)
	e := newTestEngine(doc, fb)

	stats := e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	if stats.Created != 1 {
		t.Fatalf("stats = %+v, want 1 created", stats)
	}

	tasks := doc.ParseTasks()
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	task := tasks[1]
	if task.Description != "Fresh from remote" {
		t.Errorf("description = %q", task.Description)
	}
	if task.Priority != 1 {
		t.Errorf("priority = %d, want 1", task.Priority)
	}
	if !sameDate(task.DueDate, date("2025-06-25")) {
		t.Errorf("due = %v", task.DueDate)
	}
	if task.DueStyle != orgplan.DueStylePlain {
		t.Errorf("due style = %q, want plain", task.DueStyle)
	}
	if got := task.BackendID("fake-id"); got != seeded.ID {
		t.Errorf("marker = %q, want %q", got, seeded.ID)
	}
	if got := task.Notes(); got != "Remote notes." {
		t.Errorf("notes = %q", got)
	}
}

func TestNoPriorityBackendNeverTouchesPriority(t *testing.T) {
	fb := newFakeBackend(false)
	seeded := fb.seed(backend.Item{Title: "Plain task"})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- #p1 Plain task

# Plain task

<!-- fake-id: %s -->
`, seeded.ID))
	e := newTestEngine(doc, fb)

	stats, err := e.SyncOrgplanToRemote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Updated != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want skip (no importance diff possible)", stats)
	}
	if got := fb.items[seeded.ID].Importance; got != "" {
		t.Errorf("importance = %q, want empty", got)
	}

	// And the reverse pass leaves #p1 alone.
	e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	if got := doc.ParseTasks()[0].Priority; got != 1 {
		t.Errorf("priority = %d, want 1", got)
	}
}

func TestPriorityImportanceRoundTrip(t *testing.T) {
	cases := []struct {
		priority   int
		importance string
		back       int
	}{
		{1, backend.ImportanceHigh, 1},
		{2, backend.ImportanceNormal, 2},
		{3, backend.ImportanceLow, 3},
		{5, backend.ImportanceLow, 3},
		{0, backend.ImportanceNormal, 2},
	}
	for _, c := range cases {
		if got := priorityToImportance(c.priority); got != c.importance {
			t.Errorf("priorityToImportance(%d) = %q, want %q", c.priority, got, c.importance)
		}
		if got := importanceToPriority(c.importance); got != c.back {
			t.Errorf("importanceToPriority(%q) = %d, want %d", c.importance, got, c.back)
		}
	}
}

func TestUnsetPriorityDoesNotChurn(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{Title: "No tag here", Importance: backend.ImportanceNormal})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- No tag here

# No tag here

<!-- fake-id: %s -->
`, seeded.ID))
	e := newTestEngine(doc, fb)

	// Unset local priority maps to normal, so neither direction reports a
	// difference.
	stats, err := e.SyncOrgplanToRemote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Updated != 0 {
		t.Fatalf("orgplan->remote stats = %+v, want no update", stats)
	}
	stats = e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	if stats.Updated != 0 {
		t.Fatalf("remote->orgplan stats = %+v, want no update", stats)
	}
	if got := doc.ParseTasks()[0].Priority; got != 0 {
		t.Errorf("priority = %d, want still unset", got)
	}
}

func TestDetailDeadlineOwnsDueLocally(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{Title: "Quarterly report", DueDate: date("2025-07-15")})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- Quarterly report

# Quarterly report

<!-- fake-id: %s -->

DEADLINE: <2025-06-30>
`, seeded.ID))
	e := newTestEngine(doc, fb)

	e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	task := doc.ParseTasks()[0]
	if !sameDate(task.DueDate, date("2025-06-30")) {
		t.Errorf("due = %v, want the detail DEADLINE to stand", task.DueDate)
	}
	if strings.Contains(task.RawLine, "2025-07-15") {
		t.Errorf("remote due written onto the line: %q", task.RawLine)
	}
}

func TestZeroRemoteDueNeverClearsLocal(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{Title: "Dated task"})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- Dated task <2025-06-15>

# Dated task

<!-- fake-id: %s -->
`, seeded.ID))
	e := newTestEngine(doc, fb)

	e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	if got := doc.ParseTasks()[0].DueDate; !sameDate(got, date("2025-06-15")) {
		t.Errorf("due = %v, want 2025-06-15 kept", got)
	}
}

func TestRemoteNotesOnlyFillEmptySection(t *testing.T) {
	fb := newFakeBackend(true)
	withNotes := fb.seed(backend.Item{Title: "Has local notes", Body: "Remote version."})
	empty := fb.seed(backend.Item{Title: "No local notes", Body: "Imported notes."})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- Has local notes
- No local notes

# Has local notes

<!-- fake-id: %s -->

Local truth.

# No local notes

<!-- fake-id: %s -->
`, withNotes.ID, empty.ID))
	e := newTestEngine(doc, fb)

	e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	tasks := doc.ParseTasks()
	if got := tasks[0].Notes(); got != "Local truth." {
		t.Errorf("local notes overwritten: %q", got)
	}
	if got := tasks[1].Notes(); got != "Imported notes." {
		t.Errorf("empty section not filled: %q", got)
	}
}

func TestRemoteCompletionMarksDone(t *testing.T) {
	fb := newFakeBackend(true)
	seeded := fb.seed(backend.Item{Title: "Finished remotely", Status: backend.StatusCompleted})

	doc := testDoc(t, fmt.Sprintf(`# TODO List

- [PENDING] Finished remotely

# Finished remotely

<!-- fake-id: %s -->
`, seeded.ID))
	e := newTestEngine(doc, fb)

	stats := e.SyncRemoteToOrgplan(doc.ParseTasks(), mustTasks(t, fb))
	if stats.Updated != 1 {
		t.Fatalf("stats = %+v, want 1 updated", stats)
	}
	if got := doc.ParseTasks()[0].Status; got != orgplan.StatusDone {
		t.Errorf("status = %q, want DONE", got)
	}
}

func TestDryRunMutatesNothing(t *testing.T) {
	content := `# TODO List

- Brand new local
`
	doc := testDoc(t, content)
	fb := newFakeBackend(true)
	fb.seed(backend.Item{Title: "Brand new remote"})

	e := NewEngine(doc, fb, "list-1", true, quietLogger())
	stats, err := e.Bidirectional(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.OrgplanToRemote.Created != 1 || stats.RemoteToOrgplan.Created != 1 {
		t.Fatalf("stats = %+v, want one would-be create each way", stats)
	}
	if fb.creates != 0 || fb.updates != 0 {
		t.Errorf("remote mutated: %d creates, %d updates", fb.creates, fb.updates)
	}
	if doc.Text() != content {
		t.Errorf("document mutated:\n%s", doc.Text())
	}
}

func TestPerTaskErrorsAreCounted(t *testing.T) {
	doc := testDoc(t, `# TODO List

- Doomed one
- Doomed two
`)
	fb := newFakeBackend(true)
	fb.failAll = true
	e := newTestEngine(doc, fb)

	stats, err := e.SyncOrgplanToRemote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Errors != 2 || stats.Created != 0 {
		t.Fatalf("stats = %+v, want 2 errors", stats)
	}
}

func mustTasks(t *testing.T, fb *fakeBackend) []backend.Item {
	t.Helper()
	items, err := fb.Tasks(context.Background(), "list-1")
	if err != nil {
		t.Fatal(err)
	}
	return items
}
