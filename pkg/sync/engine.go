// Package sync reconciles an orgplan document with a remote task backend.
//
// Matching is two-stage: a task line whose detail section carries the
// backend's id marker is matched by id; otherwise the description is
// matched against remote titles exactly. Each direction runs as its own
// pass, and the document-to-remote pass always runs first so that local
// edits win when both sides changed.
package sync

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/harrisonrobin/orgsync/pkg/backend"
	"github.com/harrisonrobin/orgsync/pkg/orgplan"
)

// Stats counts the outcome of one sync pass. Every task considered lands
// in exactly one of the first three buckets; Errors counts tasks whose
// remote call failed after retries.
type Stats struct {
	Created int
	Updated int
	Skipped int
	Errors  int
}

// RunStats aggregates both directions of a bidirectional run.
type RunStats struct {
	OrgplanToRemote Stats
	RemoteToOrgplan Stats
}

func (s RunStats) Errors() int {
	return s.OrgplanToRemote.Errors + s.RemoteToOrgplan.Errors
}

// Engine drives reconciliation between one document and one remote list.
// It mutates the document in memory only; persisting is the caller's job.
type Engine struct {
	doc     *orgplan.Document
	backend backend.Backend
	listID  string
	dryRun  bool
	logger  *log.Logger
}

func NewEngine(doc *orgplan.Document, b backend.Backend, listID string, dryRun bool, logger *log.Logger) *Engine {
	return &Engine{
		doc:     doc,
		backend: b,
		listID:  listID,
		dryRun:  dryRun,
		logger:  logger,
	}
}

// SyncOrgplanToRemote pushes local state to the remote list. Remote tasks
// are fetched once up front; a fetch failure aborts the pass, but a
// failure on an individual create or update is logged and counted so the
// remaining tasks still sync.
func (e *Engine) SyncOrgplanToRemote(ctx context.Context) (Stats, error) {
	local := e.doc.ParseTasks()
	remote, err := e.backend.Tasks(ctx, e.listID)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching remote tasks: %w", err)
	}
	return e.syncOrgplanToRemote(ctx, local, remote), nil
}

func (e *Engine) syncOrgplanToRemote(ctx context.Context, local []*orgplan.Task, remote []backend.Item) Stats {
	var stats Stats
	byID := make(map[string]backend.Item)
	byTitle := make(map[string]backend.Item)
	for _, item := range remote {
		byID[item.ID] = item
		if _, dup := byTitle[item.Title]; !dup {
			byTitle[item.Title] = item
		}
	}

	marker := e.backend.IDMarker()
	for _, task := range local {
		item, matched := byID[task.BackendID(marker)]
		if !matched {
			item, matched = byTitle[task.Description]
		}
		if matched {
			updated, err := e.updateRemoteTask(ctx, task, item)
			switch {
			case err != nil:
				e.logger.Printf("Failed to update %q: %v", task.Description, err)
				stats.Errors++
			case updated:
				stats.Updated++
			default:
				stats.Skipped++
			}
		} else {
			if err := e.createRemoteTask(ctx, task); err != nil {
				e.logger.Printf("Failed to create %q: %v", task.Description, err)
				stats.Errors++
			} else {
				stats.Created++
			}
		}
	}
	return stats
}

// updateRemoteTask diffs one matched pair and pushes the differences.
// Returns false when nothing differed.
func (e *Engine) updateRemoteTask(ctx context.Context, task *orgplan.Task, item backend.Item) (bool, error) {
	patch := item
	var changes []string

	if task.Description != item.Title {
		changes = append(changes, fmt.Sprintf("title: %q -> %q", item.Title, task.Description))
		patch.Title = task.Description
	}

	wantStatus := statusToRemote(task.Status)
	if wantStatus != item.Status {
		changes = append(changes, fmt.Sprintf("status: %s -> %s", item.Status, wantStatus))
		patch.Status = wantStatus
	}

	if e.backend.SupportsPriority() {
		wantImportance := priorityToImportance(task.Priority)
		if wantImportance != item.Importance {
			changes = append(changes, fmt.Sprintf("importance: %s -> %s", item.Importance, wantImportance))
			patch.Importance = wantImportance
		}
	}

	// The remote due date is only overwritten when the task line or its
	// detail section actually carries one.
	if !task.DueDate.IsZero() && !sameDate(task.DueDate, item.DueDate) {
		changes = append(changes, fmt.Sprintf("due: %s -> %s",
			formatDate(item.DueDate), formatDate(task.DueDate)))
		patch.DueDate = task.DueDate
	}

	localNotes := task.Notes()
	remoteNotes := strings.TrimSpace(item.Body)
	if localNotes != "" && localNotes != remoteNotes {
		changes = append(changes, "notes")
		patch.Body = localNotes
	}

	if len(changes) == 0 {
		e.healMarker(task, item.ID)
		return false, nil
	}

	if e.dryRun {
		e.logger.Printf("[DRY RUN] Would update %q: %s", task.Description, strings.Join(changes, ", "))
		return true, nil
	}

	e.logger.Printf("Updating %q: %s", task.Description, strings.Join(changes, ", "))
	if _, err := e.backend.UpdateTask(ctx, e.listID, patch); err != nil {
		return false, err
	}
	e.healMarker(task, item.ID)
	return true, nil
}

// healMarker records the remote id on tasks that matched by title, so the
// next run matches by id even if the title changes.
func (e *Engine) healMarker(task *orgplan.Task, id string) {
	if e.dryRun || task.BackendID(e.backend.IDMarker()) != "" {
		return
	}
	e.doc.SetBackendID(task, e.backend.IDMarker(), id)
}

func (e *Engine) createRemoteTask(ctx context.Context, task *orgplan.Task) error {
	if e.dryRun {
		e.logger.Printf("[DRY RUN] Would create %q", task.Description)
		return nil
	}

	item := backend.Item{
		Title:   task.Description,
		Status:  statusToRemote(task.Status),
		DueDate: task.DueDate,
		Body:    task.Notes(),
	}
	if e.backend.SupportsPriority() {
		item.Importance = priorityToImportance(task.Priority)
	}

	e.logger.Printf("Creating %q", task.Description)
	created, err := e.backend.CreateTask(ctx, e.listID, item)
	if err != nil {
		return err
	}
	e.doc.SetBackendID(task, e.backend.IDMarker(), created.ID)
	return nil
}

// SyncRemoteToOrgplan pulls remote state into the document. It performs
// no remote mutations, only document edits, so it takes pre-fetched
// snapshots of both sides.
func (e *Engine) SyncRemoteToOrgplan(local []*orgplan.Task, remote []backend.Item) Stats {
	var stats Stats
	marker := e.backend.IDMarker()
	byID := make(map[string]*orgplan.Task)
	byDesc := make(map[string]*orgplan.Task)
	for _, task := range local {
		if id := task.BackendID(marker); id != "" {
			byID[id] = task
		}
		if _, dup := byDesc[task.Description]; !dup {
			byDesc[task.Description] = task
		}
	}

	for _, item := range remote {
		task, matched := byID[item.ID]
		if !matched {
			task, matched = byDesc[item.Title]
		}
		if matched {
			if e.updateOrgplanTask(task, item) {
				stats.Updated++
			} else {
				stats.Skipped++
			}
			continue
		}
		if item.IsCompleted() {
			// Completed tasks the document never tracked are history,
			// not new work.
			stats.Skipped++
			continue
		}
		e.createOrgplanTask(item)
		stats.Created++
	}
	return stats
}

// updateOrgplanTask pulls one remote task's fields into its matched line.
// The description rewrite runs last because detail-section edits look the
// section up by the current description.
func (e *Engine) updateOrgplanTask(task *orgplan.Task, item backend.Item) bool {
	var changes []string
	apply := !e.dryRun

	// CANCELED is terminal: the remote side cannot distinguish it from
	// completed, so a completed remote must never reopen or "finish" it.
	if task.Status != orgplan.StatusCanceled && statusToRemote(task.Status) != item.Status {
		want := statusToLocal(item.Status)
		changes = append(changes, fmt.Sprintf("status: %s -> %s", task.Status, want))
		if apply {
			e.doc.UpdateStatus(task, want)
		}
	}

	// Priority is compared in importance space so that #p0 vs normal and
	// #p3 vs #p4 do not churn. A backend without importance never drives
	// local priority.
	if e.backend.SupportsPriority() && item.Importance != "" &&
		priorityToImportance(task.Priority) != item.Importance {
		want := importanceToPriority(item.Importance)
		changes = append(changes, fmt.Sprintf("priority: #p%d -> #p%d", task.Priority, want))
		if apply {
			e.doc.UpdatePriority(task, want)
		}
	}

	// A detail-section DEADLINE owns the due date locally; and a remote
	// task without a due date never clears a local one.
	if !item.DueDate.IsZero() && !task.DetailHasDeadline && !sameDate(item.DueDate, task.DueDate) {
		changes = append(changes, fmt.Sprintf("due: %s -> %s",
			formatDate(task.DueDate), formatDate(item.DueDate)))
		if apply {
			style := task.DueStyle
			if style == "" {
				style = orgplan.DueStylePlain
			}
			e.doc.UpdateDueDate(task, item.DueDate, style)
		}
	}

	// Local notes are authoritative; remote notes only fill a section
	// that has none.
	remoteNotes := strings.TrimSpace(item.Body)
	if remoteNotes != "" && task.Notes() == "" {
		changes = append(changes, "notes")
		if apply {
			e.doc.SetNotes(task, remoteNotes)
		}
	}

	if task.BackendID(e.backend.IDMarker()) == "" {
		changes = append(changes, "linked")
		if apply {
			e.doc.SetBackendID(task, e.backend.IDMarker(), item.ID)
		}
	}

	if item.Title != "" && item.Title != task.Description {
		changes = append(changes, fmt.Sprintf("description: %q -> %q", task.Description, item.Title))
		if apply {
			e.doc.UpdateDescription(task, item.Title)
		}
	}

	if len(changes) == 0 {
		return false
	}
	if e.dryRun {
		e.logger.Printf("[DRY RUN] Would update %q: %s", task.Description, strings.Join(changes, ", "))
	} else {
		e.logger.Printf("Updating %q: %s", task.Description, strings.Join(changes, ", "))
	}
	return true
}

func (e *Engine) createOrgplanTask(item backend.Item) {
	if e.dryRun {
		e.logger.Printf("[DRY RUN] Would add %q to orgplan", item.Title)
		return
	}

	priority := 0
	if e.backend.SupportsPriority() {
		priority = importanceToPriority(item.Importance)
	}
	e.logger.Printf("Adding %q to orgplan", item.Title)
	task := e.doc.AddTask(item.Title, statusToLocal(item.Status), priority, item.DueDate, orgplan.DueStylePlain)
	e.doc.SetBackendID(task, e.backend.IDMarker(), item.ID)
	if notes := strings.TrimSpace(item.Body); notes != "" {
		e.doc.SetNotes(task, notes)
	}
}

// Bidirectional runs both passes, document-to-remote first. When the
// first pass changed anything, both sides are re-fetched so the second
// pass diffs against fresh state instead of echoing the first pass back.
func (e *Engine) Bidirectional(ctx context.Context) (RunStats, error) {
	var stats RunStats

	local := e.doc.ParseTasks()
	remote, err := e.backend.Tasks(ctx, e.listID)
	if err != nil {
		return stats, fmt.Errorf("fetching remote tasks: %w", err)
	}

	stats.OrgplanToRemote = e.syncOrgplanToRemote(ctx, local, remote)

	if s := stats.OrgplanToRemote; s.Created+s.Updated > 0 {
		local = e.doc.ParseTasks()
		if !e.dryRun {
			remote, err = e.backend.Tasks(ctx, e.listID)
			if err != nil {
				return stats, fmt.Errorf("refreshing remote tasks: %w", err)
			}
		}
	}

	stats.RemoteToOrgplan = e.SyncRemoteToOrgplan(local, remote)
	return stats, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "(none)"
	}
	return t.Format("2006-01-02")
}
