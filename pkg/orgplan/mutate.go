package orgplan

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// rewriteLine reconstructs the task's summary line from its full field set.
// Re-parsing a freshly written line always reproduces the same task.
func (d *Document) rewriteLine(task *Task) {
	idx := task.LineNumber - 1
	if idx < 0 || idx >= len(d.lines) {
		return
	}
	line := formatTaskLine(task)
	d.lines[idx] = line
	task.RawLine = line
}

// UpdateStatus sets the task's status bracket and rewrites its summary line.
func (d *Document) UpdateStatus(task *Task, status string) {
	task.Status = status
	d.rewriteLine(task)
}

// UpdateDescription sets the task's description text and rewrites its
// summary line. The detail section heading, if any, is left alone; callers
// that rename tasks with detail sections must manage the heading themselves.
func (d *Document) UpdateDescription(task *Task, description string) {
	task.Description = description
	d.rewriteLine(task)
}

// UpdatePriority sets the #pN tag (0 removes it) and rewrites the line.
func (d *Document) UpdatePriority(task *Task, priority int) {
	task.Priority = priority
	d.rewriteLine(task)
}

// UpdateDueDate sets the due date and its marker style and rewrites the
// line. A zero date removes the marker entirely.
func (d *Document) UpdateDueDate(task *Task, due time.Time, style string) {
	task.DueDate = due
	if due.IsZero() {
		task.DueStyle = ""
	} else {
		task.DueStyle = style
	}
	d.rewriteLine(task)
}

// AddTask appends a new task line at the end of the TODO List section and
// returns the created task with its line anchor set.
func (d *Document) AddTask(description, status string, priority int, due time.Time, dueStyle string) *Task {
	task := &Task{
		Description: description,
		Status:      status,
		Priority:    priority,
		DueDate:     due,
		DueStyle:    dueStyle,
		BackendIDs:  make(map[string]string),
	}
	if due.IsZero() {
		task.DueStyle = ""
	}
	line := formatTaskLine(task)

	insertAt := 0
	seen := false
	for i, l := range d.lines {
		if strings.TrimSpace(l) == TodoHeading {
			insertAt = i + 1
			seen = true
			continue
		}
		if !seen {
			continue
		}
		if strings.HasPrefix(l, "# ") {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(l), "- ") {
			insertAt = i + 1
		}
	}

	d.lines = append(d.lines, "")
	copy(d.lines[insertAt+1:], d.lines[insertAt:])
	d.lines[insertAt] = line

	task.RawLine = line
	task.LineNumber = insertAt + 1
	return task
}

// SetBackendID upserts a backend id marker in the task's detail section,
// creating the section at the end of the document when missing. Existing
// markers keep their relative order; free-text notes are never disturbed.
func (d *Document) SetBackendID(task *Task, marker, id string) {
	header := "# " + task.Description

	sectionStart := -1
	for i, line := range d.lines {
		if strings.TrimSpace(line) == header {
			sectionStart = i
			break
		}
	}
	if sectionStart == -1 {
		d.lines = append(d.lines, "", header, "")
		sectionStart = len(d.lines) - 2
	}

	markerLine := fmt.Sprintf("<!-- %s: %s -->", marker, id)

	// Update in place when the marker already exists.
	for i := sectionStart + 1; i < len(d.lines); i++ {
		if strings.HasPrefix(d.lines[i], "# ") {
			break
		}
		if m := markerRe.FindStringSubmatch(d.lines[i]); m != nil && m[1] == marker {
			d.lines[i] = markerLine
			task.BackendIDs[marker] = id
			return
		}
	}

	// Insert directly after the heading, past any markers already present.
	insertAt := sectionStart + 1
	for i := sectionStart + 1; i < len(d.lines); i++ {
		if strings.HasPrefix(d.lines[i], "# ") {
			break
		}
		if markerRe.MatchString(d.lines[i]) {
			insertAt = i + 1
		} else if strings.TrimSpace(d.lines[i]) == "" {
			continue
		} else {
			break
		}
	}

	d.lines = append(d.lines, "")
	copy(d.lines[insertAt+1:], d.lines[insertAt:])
	d.lines[insertAt] = markerLine
	task.BackendIDs[marker] = id
}

// Notes returns the task's detail section with all id marker lines removed.
func (t *Task) Notes() string {
	if t.DetailSection == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(t.DetailSection, "\n") {
		if markerRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// SetNotes replaces the free-text content of the task's detail section while
// leaving marker lines and their positions untouched. The section is created
// when missing.
func (d *Document) SetNotes(task *Task, notes string) {
	header := "# " + task.Description

	sectionStart := -1
	for i, line := range d.lines {
		if strings.TrimSpace(line) == header {
			sectionStart = i
			break
		}
	}
	if sectionStart == -1 {
		d.lines = append(d.lines, "", header, "")
		sectionStart = len(d.lines) - 2
	}

	sectionEnd := len(d.lines)
	for i := sectionStart + 1; i < len(d.lines); i++ {
		if strings.HasPrefix(d.lines[i], "# ") {
			sectionEnd = i
			break
		}
	}

	old := d.lines[sectionStart+1 : sectionEnd]
	lastMarker := -1
	for i, line := range old {
		if markerRe.MatchString(line) {
			lastMarker = i
		}
	}

	// Marker lines and the blank lines around them stay where they are;
	// only the free-text lines get replaced.
	var body []string
	for i := 0; i <= lastMarker; i++ {
		if markerRe.MatchString(old[i]) || strings.TrimSpace(old[i]) == "" {
			body = append(body, old[i])
		}
	}
	body = append(body, "")
	if notes != "" {
		body = append(body, strings.Split(notes, "\n")...)
		body = append(body, "")
	}

	rebuilt := make([]string, 0, len(d.lines)-(sectionEnd-sectionStart-1)+len(body))
	rebuilt = append(rebuilt, d.lines[:sectionStart+1]...)
	rebuilt = append(rebuilt, body...)
	rebuilt = append(rebuilt, d.lines[sectionEnd:]...)
	d.lines = rebuilt

	task.DetailSection = strings.TrimSpace(strings.Join(body, "\n"))
}

// Save writes the document back to its file atomically.
func (d *Document) Save() error {
	return atomic.WriteFile(d.path, bytes.NewBufferString(d.Text()))
}

// formatTaskLine renders a summary line in the fixed field order: status
// bracket, priority tag, description, due marker.
func formatTaskLine(t *Task) string {
	var b strings.Builder
	b.WriteString("- ")
	if t.Status != "" {
		fmt.Fprintf(&b, "[%s] ", t.Status)
	}
	if t.Priority > 0 {
		fmt.Fprintf(&b, "#p%d ", t.Priority)
	}
	b.WriteString(t.Description)
	if !t.DueDate.IsZero() && t.DueStyle != "" {
		date := t.DueDate.Format("2006-01-02")
		switch t.DueStyle {
		case DueStyleDeadline:
			fmt.Fprintf(&b, " DEADLINE: <%s>", date)
		case DueStyleScheduled:
			fmt.Fprintf(&b, " SCHEDULED: <%s>", date)
		default:
			fmt.Fprintf(&b, " <%s>", date)
		}
	}
	return strings.TrimSpace(b.String())
}
