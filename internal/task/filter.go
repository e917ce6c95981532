package task

import "time"

// Overdue returns open tasks whose deadline has passed, closest deadline first.
func Overdue(tasks []*Task, now time.Time) []*Task {
	var out []*Task
	for _, t := range tasks {
		if t.IsOverdue(now) {
			out = append(out, t)
		}
	}
	SortByDeadline(out)
	return out
}

// Upcoming returns tasks that are not done and due within days, soonest first.
func Upcoming(tasks []*Task, now time.Time, days int) []*Task {
	var out []*Task
	for _, t := range tasks {
		if t.Status == StatusDone {
			continue
		}
		if d, ok := t.DaysUntilDeadline(now); ok && d >= 0 && d <= days {
			out = append(out, t)
		}
	}
	SortByDeadline(out)
	return out
}

// CountStatus counts tasks in status s.
func CountStatus(tasks []*Task, s Status) int {
	n := 0
	for _, t := range tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}
