package task

import (
	"sort"
	"time"
)

// HighPriority is the priority from which open tasks are called out in summaries.
const HighPriority = 4

// ComputeProgress returns completion in percent. Without milestones progress
// follows the status alone; otherwise it is round(100*done/total), halves up.
func ComputeProgress(t *Task) int {
	total := len(t.Milestones)
	if total == 0 {
		if t.Status == StatusDone {
			return 100
		}
		return 0
	}
	done := 0
	for _, m := range t.Milestones {
		if m.Done {
			done++
		}
	}
	return (200*done + total) / (2 * total)
}

// DeriveStatus returns the status the task should have at now. Done is
// sticky; an open task past its deadline is expired; anything else keeps the
// stored, user-driven status.
func DeriveStatus(t *Task, now time.Time) Status {
	if t.Status == StatusDone {
		return StatusDone
	}
	if t.Deadline != nil && now.After(*t.Deadline) {
		return StatusExpired
	}
	return t.Status
}

// NextMilestone returns the first open milestone in display order.
func NextMilestone(t *Task) (Milestone, bool) {
	for _, m := range t.Milestones {
		if !m.Done {
			return m, true
		}
	}
	return Milestone{}, false
}

// CompletedMilestones counts done milestones.
func CompletedMilestones(t *Task) int {
	n := 0
	for _, m := range t.Milestones {
		if m.Done {
			n++
		}
	}
	return n
}

// Summary aggregates progress over a set of tasks.
type Summary struct {
	Total               int
	Done                int
	InProgress          int
	Milestones          int
	CompletedMilestones int
	HighPriority        []*Task
}

// CompletionRate is the share of done tasks in whole percent, truncated.
func (s Summary) CompletionRate() int {
	if s.Total == 0 {
		return 0
	}
	return s.Done * 100 / s.Total
}

// MilestoneRate is the share of done milestones in whole percent, truncated.
func (s Summary) MilestoneRate() int {
	if s.Milestones == 0 {
		return 0
	}
	return s.CompletedMilestones * 100 / s.Milestones
}

// Summarize aggregates tasks. High priority open tasks are ordered by
// priority, then by the closest deadline.
func Summarize(tasks []*Task) Summary {
	var s Summary
	for _, t := range tasks {
		s.Total++
		switch t.Status {
		case StatusDone:
			s.Done++
		case StatusInProgress:
			s.InProgress++
		}
		s.Milestones += len(t.Milestones)
		s.CompletedMilestones += CompletedMilestones(t)
		if t.Priority >= HighPriority && t.Status != StatusDone {
			s.HighPriority = append(s.HighPriority, t)
		}
	}
	sort.SliceStable(s.HighPriority, func(i, j int) bool {
		a, b := s.HighPriority[i], s.HighPriority[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return deadlineBefore(a, b)
	})
	return s
}

// SortByDeadline orders tasks by deadline, tasks without one last.
func SortByDeadline(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return deadlineBefore(tasks[i], tasks[j])
	})
}

func deadlineBefore(a, b *Task) bool {
	switch {
	case a.Deadline == nil:
		return false
	case b.Deadline == nil:
		return true
	default:
		return a.Deadline.Before(*b.Deadline)
	}
}
