package orgplan

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TodoHeading is the literal heading that opens the task list section.
const TodoHeading = "# TODO List"

var (
	statusRe   = regexp.MustCompile(`\[(DONE|PENDING|DELEGATED|CANCELED)\]`)
	priorityRe = regexp.MustCompile(`#p(\d+)`)
	estimateRe = regexp.MustCompile(`#\d+[hd]`)
	tagRe      = regexp.MustCompile(`#\w+`)

	// <2025-06-15>, <2025-06-15 Sun>, <2025-06-15 Sun 14:30>
	timestampRe = regexp.MustCompile(`<(\d{4})-(\d{2})-(\d{2})(?:\s+[A-Za-z]\w*)?(?:\s+(\d{2}):(\d{2}))?>`)
	deadlineRe  = regexp.MustCompile(`DEADLINE:\s*<\d{4}-\d{2}-\d{2}[^>]*>`)
	scheduledRe = regexp.MustCompile(`SCHEDULED:\s*<\d{4}-\d{2}-\d{2}[^>]*>`)

	markerRe = regexp.MustCompile(`<!--\s*([A-Za-z0-9-]+):\s*(\S+)\s*-->`)
)

// Document holds an orgplan file as an array of lines. All mutations operate
// on the line array so line-number anchors stay stable for the rest of the
// document; Save re-serializes the whole file.
type Document struct {
	path  string
	lines []string
}

// New returns a Document for the given file path. Call Load before parsing.
func New(path string) *Document {
	return &Document{path: path}
}

// Load reads the file, falling back from UTF-8 to Windows-1252. A file that
// decodes under neither encoding is an error.
func (d *Document) Load() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return err
	}
	if !utf8.Valid(data) {
		decoded, derr := charmap.Windows1252.NewDecoder().Bytes(data)
		if derr != nil {
			return fmt.Errorf("cannot decode %s as UTF-8 or Windows-1252: %w", d.path, derr)
		}
		data = decoded
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		d.lines = nil
	} else {
		d.lines = strings.Split(text, "\n")
	}
	return nil
}

// Text returns the serialized document with a single trailing newline.
func (d *Document) Text() string {
	return strings.Join(d.lines, "\n") + "\n"
}

// Line returns the 1-based line, for tests and diagnostics.
func (d *Document) Line(n int) string {
	if n < 1 || n > len(d.lines) {
		return ""
	}
	return d.lines[n-1]
}

// Validate reports format warnings. Parsing proceeds best-effort regardless.
func (d *Document) Validate() []string {
	var warnings []string

	hasTodo := false
	for _, line := range d.lines {
		if strings.TrimSpace(line) == TodoHeading {
			hasTodo = true
			break
		}
	}
	if !hasTodo {
		warnings = append(warnings, "file is missing '# TODO List' section")
	}

	inTodo := false
	for i, line := range d.lines {
		if strings.TrimSpace(line) == TodoHeading {
			inTodo = true
			continue
		}
		if inTodo && strings.HasPrefix(line, "# ") {
			inTodo = false
		}
		if inTodo && strings.TrimSpace(line) != "" && !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "#") {
			warnings = append(warnings, fmt.Sprintf("line %d: TODO List section should only contain task items (starting with '- ')", i+1))
		}
	}

	return warnings
}

// ParseTasks extracts every task from the TODO List section, in document
// order, and resolves each task's detail section.
func (d *Document) ParseTasks() []*Task {
	var tasks []*Task
	inTodo := false
	for i, line := range d.lines {
		switch {
		case strings.TrimSpace(line) == TodoHeading:
			inTodo = true
		case inTodo && strings.HasPrefix(line, "# "):
			inTodo = false
		case inTodo && strings.HasPrefix(strings.TrimSpace(line), "- "):
			if task := parseTaskLine(line, i+1); task != nil {
				tasks = append(tasks, task)
			}
		}
	}

	for _, task := range tasks {
		d.parseDetailSection(task)
	}
	return tasks
}

func parseTaskLine(line string, lineNumber int) *Task {
	content := strings.TrimSpace(line)[2:]

	due, style := extractDue(content)

	status := ""
	if m := statusRe.FindStringSubmatch(content); m != nil {
		status = m[1]
	}

	priority := 0
	if m := priorityRe.FindStringSubmatch(content); m != nil {
		priority, _ = strconv.Atoi(m[1])
	}

	desc := content
	desc = statusRe.ReplaceAllString(desc, "")
	desc = deadlineRe.ReplaceAllString(desc, "")
	desc = scheduledRe.ReplaceAllString(desc, "")
	desc = timestampRe.ReplaceAllString(desc, "")
	desc = priorityRe.ReplaceAllString(desc, "")
	desc = estimateRe.ReplaceAllString(desc, "")
	desc = tagRe.ReplaceAllString(desc, "")
	desc = strings.Join(strings.Fields(desc), " ")

	if desc == "" {
		return nil
	}

	return &Task{
		Description: desc,
		Status:      status,
		Priority:    priority,
		DueDate:     due,
		DueStyle:    style,
		BackendIDs:  make(map[string]string),
		RawLine:     line,
		LineNumber:  lineNumber,
	}
}

// parseDetailSection locates the first top-level heading whose text exactly
// equals the task description and extracts markers and, when the task line
// carried no due date, a due date from the body.
func (d *Document) parseDetailSection(task *Task) {
	header := "# " + task.Description
	inSection := false
	var sectionLines []string

	for _, line := range d.lines {
		if inSection {
			// Any top-level heading ends the section, including a
			// duplicate of the same heading text.
			if strings.HasPrefix(line, "# ") {
				break
			}
			sectionLines = append(sectionLines, line)
			continue
		}
		if strings.TrimSpace(line) == header {
			inSection = true
		}
	}

	if len(sectionLines) == 0 {
		return
	}
	task.DetailSection = strings.TrimSpace(strings.Join(sectionLines, "\n"))

	for _, m := range markerRe.FindAllStringSubmatch(task.DetailSection, -1) {
		task.BackendIDs[m[1]] = m[2]
	}

	if task.DueDate.IsZero() {
		deadlines, scheduled, bare := parseTimestamps(task.DetailSection)
		switch {
		case len(deadlines) > 0:
			task.DueDate = deadlines[0]
			task.DetailHasDeadline = true
		case len(scheduled) > 0:
			task.DueDate = scheduled[0]
			task.DetailHasDeadline = true
		case len(bare) > 0:
			task.DueDate = bare[0]
		}
	}
}

// parseTimestamps collects dates from DEADLINE: expressions, SCHEDULED:
// expressions, and bare angle-bracket timestamps, in that grouping. A
// timestamp consumed by a labeled expression is not also reported as bare.
// Time-of-day suffixes are parsed but only the date is retained.
func parseTimestamps(text string) (deadlines, scheduled, bare []time.Time) {
	type span struct{ start, end int }
	var labeled []span

	for _, loc := range deadlineRe.FindAllStringIndex(text, -1) {
		if t, ok := parseTimestamp(text[loc[0]:loc[1]]); ok {
			deadlines = append(deadlines, t)
		}
		labeled = append(labeled, span{loc[0], loc[1]})
	}
	for _, loc := range scheduledRe.FindAllStringIndex(text, -1) {
		if t, ok := parseTimestamp(text[loc[0]:loc[1]]); ok {
			scheduled = append(scheduled, t)
		}
		labeled = append(labeled, span{loc[0], loc[1]})
	}

	for _, loc := range timestampRe.FindAllStringIndex(text, -1) {
		covered := false
		for _, s := range labeled {
			if loc[0] >= s.start && loc[1] <= s.end {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		if t, ok := parseTimestamp(text[loc[0]:loc[1]]); ok {
			bare = append(bare, t)
		}
	}
	return deadlines, scheduled, bare
}

func parseTimestamp(text string) (time.Time, bool) {
	m := timestampRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// extractDue returns the due date found in a task line and the marker style
// that produced it: DEADLINE: beats SCHEDULED: beats a bare timestamp.
func extractDue(text string) (time.Time, string) {
	deadlines, scheduled, bare := parseTimestamps(text)

	var due time.Time
	switch {
	case len(deadlines) > 0:
		due = deadlines[0]
	case len(scheduled) > 0:
		due = scheduled[0]
	case len(bare) > 0:
		due = bare[0]
	}

	style := ""
	switch {
	case deadlineRe.MatchString(text):
		style = DueStyleDeadline
	case scheduledRe.MatchString(text):
		style = DueStyleScheduled
	case timestampRe.MatchString(text):
		style = DueStylePlain
	}
	return due, style
}
