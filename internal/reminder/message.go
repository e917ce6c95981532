package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/linkkeeper/internal/task"
)

// Render produces the text for d. t is the subject task for per-task kinds;
// owned holds all of the owner's tasks for summaries. ok is false when there
// is nothing worth sending.
func (p *Policy) Render(d Due, t *task.Task, owned []*task.Task, now time.Time) (text string, ok bool) {
	switch d.Kind {
	case KindDailySummary:
		return DailySummary(owned, now)
	case KindWeeklySummary:
		return WeeklySummary(owned, now)
	}
	if t == nil {
		return "", false
	}

	var header, footer string
	switch d.Kind {
	case KindOverdue:
		days, _ := t.DaysUntilDeadline(now)
		header = fmt.Sprintf("**OVERDUE** by %d days", -days)
		footer = fmt.Sprintf("Use `done %s` to mark it completed.", task.ShortID(t.ID))
	case KindDueToday:
		header = "**DUE TODAY**"
		footer = "Don't forget to finish this today!"
	case KindDueTomorrow:
		header = "**Due tomorrow**"
	case KindDueIn3Days:
		header = "**Due in 3 days**"
	case KindDueInWeek:
		header = "**Due in 1 week**"
	case KindDueIn2Weeks:
		header = "**Due in 2 weeks**"
	case KindDueIn3Weeks:
		header = "**Due in 3 weeks**"
	case KindDueIn4Weeks:
		header = "**Due in 4 weeks**"
	case KindSubmitted:
		header = "**Link added with a deadline**"
		footer = fmt.Sprintf("You'll be reminded 4, 3, 2 and 1 weeks, 3 days and 1 day before the deadline.\nUse `add milestone %s <description>` to break it into steps.", task.ShortID(t.ID))
	case KindExpired:
		header = "**Expired**: the deadline passed"
		footer = "The task is now marked expired and will not be reminded again."
	default:
		return "", false
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	writeTaskBlock(&b, t, p.loc)
	if footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
	}
	return b.String(), true
}

// FormatReminder is the on-demand reminder for one task.
func FormatReminder(t *task.Task, now time.Time, loc *time.Location) string {
	var line string
	days, ok := t.DaysUntilDeadline(now)
	switch {
	case !ok:
		line = "No deadline set"
	case t.Status == task.StatusDone:
		line = "Already done"
	case days < 0:
		line = fmt.Sprintf("**OVERDUE** (%d days ago)", -days)
	case days == 0:
		line = "**Due today!**"
	default:
		line = fmt.Sprintf("Due in %d days", days)
	}

	var b strings.Builder
	b.WriteString("**Reminder**\n\n")
	writeTaskBlock(&b, t, loc)
	b.WriteString(line)
	b.WriteString("\n")
	if m, ok := task.NextMilestone(t); ok {
		fmt.Fprintf(&b, "Next milestone: %s\n", m.Description)
	}
	return b.String()
}

func writeTaskBlock(b *strings.Builder, t *task.Task, loc *time.Location) {
	title := t.Title
	if title == "" {
		title = t.URL
	}
	fmt.Fprintf(b, "**%s** (%s)\n", title, t.Category.Label())
	fmt.Fprintf(b, "%s\n", t.URL)
	if t.Deadline != nil {
		fmt.Fprintf(b, "Deadline: %s\n", t.Deadline.In(loc).Format("Mon Jan 2, 2006 15:04"))
	}
	fmt.Fprintf(b, "Progress: %d%%\n", task.ComputeProgress(t))
	fmt.Fprintf(b, "ID: `%s`\n", task.ShortID(t.ID))
}

// DailySummary counts what needs attention. ok is false when every count is zero.
func DailySummary(tasks []*task.Task, now time.Time) (string, bool) {
	todo := task.CountStatus(tasks, task.StatusTodo)
	inProgress := task.CountStatus(tasks, task.StatusInProgress)
	overdue := len(task.Overdue(tasks, now))
	upcoming := len(task.Upcoming(tasks, now, 7))
	if todo == 0 && inProgress == 0 && overdue == 0 && upcoming == 0 {
		return "", false
	}

	lines := []string{"**Daily Summary**", ""}
	if overdue > 0 {
		lines = append(lines, fmt.Sprintf("%d overdue items", overdue))
	}
	if upcoming > 0 {
		lines = append(lines, fmt.Sprintf("%d items due in the next 7 days", upcoming))
	}
	if todo > 0 {
		lines = append(lines, fmt.Sprintf("%d items to start", todo))
	}
	if inProgress > 0 {
		lines = append(lines, fmt.Sprintf("%d items in progress", inProgress))
	}
	lines = append(lines, "", "Use `list overdue` or `list deadlines` to see details.")
	return strings.Join(lines, "\n"), true
}

// WeeklySummary reports the past week. ok is false when there is nothing to report.
func WeeklySummary(tasks []*task.Task, now time.Time) (string, bool) {
	weekAgo := now.Add(-7 * 24 * time.Hour)
	completed, jobs, grants := 0, 0, 0
	for _, t := range tasks {
		if t.Status == task.StatusDone && !t.LastActivityAt.Before(weekAgo) {
			completed++
		}
		if !t.Active() {
			continue
		}
		switch t.Category {
		case task.CategoryJob:
			jobs++
		case task.CategoryGrant:
			grants++
		}
	}
	upcoming := len(task.Upcoming(tasks, now, 14))

	lines := []string{"**Weekly Summary**", ""}
	if completed > 0 {
		lines = append(lines, fmt.Sprintf("%d items completed this week", completed))
	}
	if jobs > 0 {
		lines = append(lines, fmt.Sprintf("%d active job applications", jobs))
	}
	if grants > 0 {
		lines = append(lines, fmt.Sprintf("%d active grant applications", grants))
	}
	if upcoming > 0 {
		lines = append(lines, fmt.Sprintf("%d deadlines in the next 2 weeks", upcoming))
	}
	if len(lines) == 2 {
		return "", false
	}
	lines = append(lines, "", "Keep up the great work!")
	return strings.Join(lines, "\n"), true
}
