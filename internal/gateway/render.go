package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/linkkeeper/internal/command"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

const welcomeText = `**Welcome to linkkeeper!**

Send me any link and I'll save it, sort it into a category and remind you before its deadline.
Add context in the same message, e.g. "Backend role at Acme, apply by 2024-12-31".

Type ` + "`help`" + ` to see all commands.`

const helpText = `**Commands**

**Links**
- Send a URL to save it (resending a saved URL updates it)
- ` + "`done <id>`" + ` marks a task done
- ` + "`mark <id> as <status>`" + ` sets todo, in_progress, paused or waiting
- ` + "`delete <id>`" + ` removes a task

**Lists**
- ` + "`list all`" + `, ` + "`list jobs`" + `, ` + "`list grants`" + `, ` + "`list category <name>`" + `
- ` + "`list overdue`" + `
- ` + "`list deadlines [days]`" + `
- ` + "`list reminders`" + `

**Milestones and progress**
- ` + "`add milestone <id> <description>`" + `
- ` + "`complete milestone <milestone id>`" + `
- ` + "`list milestones <id>`" + `
- ` + "`progress all`" + ` or ` + "`progress <id>`" + `

**Reminders**
- ` + "`remind me about <id>`" + ` sends one now
- Automatic reminders one week, three days and one day before a deadline, on the day, and while overdue
- A daily summary and a Monday weekly summary

Ids are the first 8 characters shown next to each item.`

var usages = map[string]string{
	"done":               "`done <id>`",
	"mark":               "`mark <id> as <todo|in_progress|done|paused|waiting>`",
	"add milestone":      "`add milestone <id> <description>`",
	"complete milestone": "`complete milestone <milestone id>`",
	"list milestones":    "`list milestones <id>`",
	"list":               "`list all|overdue|reminders|deadlines [days]|<category>`",
	"progress":           "`progress all` or `progress <id>`",
	"remind":             "`remind me about <id>`",
	"delete":             "`delete <id>`",
}

func usageText(cmd string) string {
	if u, ok := usages[cmd]; ok {
		return "Usage: " + u
	}
	return helpText
}

func errorText(err error, id string) string {
	switch {
	case errors.Is(err, task.ErrNotFound):
		if id != "" {
			return fmt.Sprintf("Could not find `%s`.", id)
		}
		return "Nothing found."
	case errors.Is(err, task.ErrValidation):
		return "Invalid request: " + validationDetail(err)
	case errors.Is(err, task.ErrDispatchFailure):
		return "Could not deliver the reminder, try again later."
	case errors.Is(err, task.ErrStoreUnavailable):
		return "Storage is unavailable right now, try again later."
	}
	return "Something went wrong, please try again."
}

// validationDetail drops the wrapping prefixes and keeps the rule that failed.
func validationDetail(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, task.ErrValidation.Error()+": "); i >= 0 {
		return msg[i+len(task.ErrValidation.Error())+2:]
	}
	return msg
}

func listTitle(f command.Filter) string {
	switch f.Kind {
	case command.FilterCategory:
		return "Active " + f.Category.Label() + " Items"
	case command.FilterOverdue:
		return "Overdue Items"
	case command.FilterDeadlines:
		return fmt.Sprintf("Upcoming Deadlines (Next %d Days)", command.DeadlineDays(f.Days))
	case command.FilterReminders:
		return "Active Reminders"
	}
	return "Active Links"
}

type renderer struct {
	now time.Time
	loc *time.Location
}

func title(t *task.Task) string {
	if t.Title != "" {
		return t.Title
	}
	return t.URL
}

func (r renderer) deadlineText(t *task.Task) string {
	if t.Status == task.StatusDone {
		return ""
	}
	days, ok := t.DaysUntilDeadline(r.now)
	if !ok {
		return ""
	}
	switch {
	case t.IsOverdue(r.now):
		return fmt.Sprintf(" **OVERDUE** (%d days ago)", -days)
	case days == 0:
		return " **Due today!**"
	case days <= 3:
		return fmt.Sprintf(" **Due in %d days**", days)
	}
	return fmt.Sprintf(" Due in %d days", days)
}

func (r renderer) taskEntry(b *strings.Builder, t *task.Task) {
	fmt.Fprintf(b, "**%s**\n", title(t))
	fmt.Fprintf(b, "%s\n", t.URL)
	fmt.Fprintf(b, "Category: %s\n", t.Category.Label())
	fmt.Fprintf(b, "ID: `%s`%s\n", task.ShortID(t.ID), r.deadlineText(t))
}

func (r renderer) submitted(created, updated []*task.Task) string {
	var b strings.Builder
	if len(created) > 0 {
		b.WriteString("**Links saved!**\n\n")
		for _, t := range created {
			r.taskEntry(&b, t)
			b.WriteString("\n")
		}
	}
	if len(updated) > 0 {
		b.WriteString("**Existing links updated!**\n\n")
		for _, t := range updated {
			r.taskEntry(&b, t)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r renderer) statusUpdated(t *task.Task) string {
	return fmt.Sprintf("**Status updated!**\n**%s** is now marked as **%s**", title(t), t.Status.Label())
}

func (r renderer) list(heading string, tasks []*task.Task) string {
	if len(tasks) == 0 {
		return fmt.Sprintf("No %s found.", strings.ToLower(heading))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%d items):\n", heading, len(tasks))
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. **%s**\n", i+1, title(t))
		fmt.Fprintf(&b, "   %s\n", t.URL)
		fmt.Fprintf(&b, "   ID: `%s` | Status: %s%s\n", task.ShortID(t.ID), t.Status.Label(), r.deadlineText(t))
	}
	return strings.TrimRight(b.String(), "\n")
}

func progressLine(t *task.Task) string {
	return fmt.Sprintf("Progress: %d%% (%d/%d milestones)", task.ComputeProgress(t), task.CompletedMilestones(t), len(t.Milestones))
}

func (r renderer) milestoneAdded(t *task.Task, m task.Milestone) string {
	return fmt.Sprintf("**Milestone added!**\n**%s**\nAdded to: **%s**\nMilestone ID: `%s`\n\nUse `complete milestone %s` to mark it done.",
		m.Description, title(t), task.ShortID(m.ID), task.ShortID(m.ID))
}

func (r renderer) milestoneCompleted(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Milestone completed!**\nTask: **%s**\n%s\n\n", title(t), progressLine(t))
	if task.ComputeProgress(t) == 100 {
		b.WriteString("Every milestone is done. Use `done " + task.ShortID(t.ID) + "` to close the task.")
	} else {
		b.WriteString("Keep up the great work!")
	}
	return b.String()
}

func (r renderer) milestones(t *task.Task) string {
	if len(t.Milestones) == 0 {
		return fmt.Sprintf("No milestones found for **%s**\n\nUse `add milestone %s <description>` to add one.", title(t), task.ShortID(t.ID))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Milestones for %s**\n%s\n", title(t), progressLine(t))
	for i, m := range t.Milestones {
		mark := "[ ]"
		done := ""
		if m.Done {
			mark = "[x]"
			if m.CompletedAt != nil {
				done = " (completed " + m.CompletedAt.In(r.loc).Format("01/02") + ")"
			}
		}
		fmt.Fprintf(&b, "\n%d. %s **%s**%s\n   ID: `%s`", i+1, mark, m.Description, done, task.ShortID(m.ID))
	}
	return b.String()
}

func (r renderer) progress(rep command.ProgressReport) string {
	t := rep.Task
	var b strings.Builder
	fmt.Fprintf(&b, "**Progress for %s**\n\n", title(t))
	fmt.Fprintf(&b, "**Status:** %s\n", rep.Status.Label())
	fmt.Fprintf(&b, "**Progress:** %d%%\n", rep.Percent)

	if days, ok := t.DaysUntilDeadline(r.now); ok && rep.Status != task.StatusDone {
		switch {
		case t.IsOverdue(r.now):
			fmt.Fprintf(&b, "**OVERDUE** by %d days\n", -days)
		case days == 0:
			b.WriteString("**Due today!**\n")
		default:
			fmt.Fprintf(&b, "**Due in %d days**\n", days)
		}
	}

	switch since := int(r.now.Sub(t.LastActivityAt).Hours() / 24); {
	case since <= 0:
		b.WriteString("Active today\n")
	case since == 1:
		b.WriteString("Last activity: yesterday\n")
	default:
		fmt.Fprintf(&b, "Last activity: %d days ago\n", since)
	}

	if rep.Total > 0 {
		fmt.Fprintf(&b, "\n**Milestones:** %d/%d completed\n", rep.Completed, rep.Total)
		if rep.Next != nil {
			fmt.Fprintf(&b, "**Next:** %s\n", rep.Next.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r renderer) summary(s task.Summary) string {
	if s.Total == 0 {
		return "No tasks found. Send me a link to get started!"
	}
	var b strings.Builder
	b.WriteString("**Your Progress Summary**\n\n")
	fmt.Fprintf(&b, "**Tasks:** %d/%d completed (%d%%)\n", s.Done, s.Total, s.CompletionRate())
	if s.InProgress > 0 {
		fmt.Fprintf(&b, "**In Progress:** %d tasks\n", s.InProgress)
	}
	if s.Milestones > 0 {
		fmt.Fprintf(&b, "**Milestones:** %d/%d completed (%d%%)\n", s.CompletedMilestones, s.Milestones, s.MilestoneRate())
	}
	if len(s.HighPriority) > 0 {
		fmt.Fprintf(&b, "\n**High Priority Tasks:** %d\n", len(s.HighPriority))
		for i, t := range s.HighPriority {
			if i == 3 {
				break
			}
			due := ""
			if days, ok := t.DaysUntilDeadline(r.now); ok && days > 0 {
				due = fmt.Sprintf(" (due in %d days)", days)
			}
			fmt.Fprintf(&b, "- %s%s\n", title(t), due)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r renderer) deleted(t *task.Task) string {
	return fmt.Sprintf("Deleted **%s** (`%s`).", title(t), task.ShortID(t.ID))
}
