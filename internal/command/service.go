package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/stellarlinkco/linkkeeper/internal/classify"
	"github.com/stellarlinkco/linkkeeper/internal/reminder"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

const (
	DefaultDeadlineDays = 7
	MaxDeadlineDays     = 365

	descriptionLimit = 200
)

// Store is the task persistence the commands need.
type Store interface {
	Get(id string) (*task.Task, error)
	Put(t *task.Task) error
	Update(id string, fn func(*task.Task) error) (*task.Task, error)
	Delete(id string) error
	ListByOwner(owner string) ([]*task.Task, error)
	FindByPrefix(owner, prefix string) (*task.Task, error)
	FindByMilestonePrefix(owner, prefix string) (*task.Task, error)
	FindByURL(owner, url string) (*task.Task, error)
}

// Service implements the user-facing operations. Every query is scoped to
// the owner issuing it.
type Service struct {
	store         Store
	classifier    classify.Classifier
	notifier      reminder.Notifier
	clock         reminder.Clock
	loc           *time.Location
	notifyTimeout time.Duration
}

type Options struct {
	Location      *time.Location
	NotifyTimeout time.Duration
	Clock         reminder.Clock
}

func NewService(st Store, c classify.Classifier, n reminder.Notifier, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = reminder.DefaultNotifyTimeout
	}
	if opts.Clock == nil {
		opts.Clock = reminder.SystemClock
	}
	return &Service{
		store:         st,
		classifier:    c,
		notifier:      n,
		clock:         opts.Clock,
		loc:           opts.Location,
		notifyTimeout: opts.NotifyTimeout,
	}
}

// Location is the zone dates are shown in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now is the service clock.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

type SubmitRequest struct {
	Owner string
	URL   string
	Text  string
}

type SubmitResult struct {
	Task    *task.Task
	Created bool
}

var hashtagPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_-]+)`)

// Submit records a link. A link the owner already tracks is updated instead
// of duplicated.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	link := strings.TrimSpace(req.URL)
	if link == "" {
		return SubmitResult{}, fmt.Errorf("%w: url is required", task.ErrValidation)
	}
	now := s.clock.Now()

	c, err := s.classifier.Classify(ctx, link, req.Text)
	if err != nil {
		log.Printf("[command] classify %s: %v", link, err)
		c = classify.Classification{}
	}
	c = classify.Normalize(c, link)
	tags := hashtags(req.Text)

	existing, err := s.store.FindByURL(req.Owner, link)
	switch {
	case err == nil:
		updated, err := s.store.Update(existing.ID, func(t *task.Task) error {
			mergeSubmission(t, c, tags, req.Text, link, now, s.loc)
			return nil
		})
		if err != nil {
			return SubmitResult{}, fmt.Errorf("update submission: %w", err)
		}
		return SubmitResult{Task: updated}, nil
	case !errors.Is(err, task.ErrNotFound):
		return SubmitResult{}, fmt.Errorf("lookup submission: %w", err)
	}

	t := task.New(req.Owner, link, c.Title, c.Category, now)
	t.Deadline = c.Deadline
	t.Priority = c.Priority
	t.Description = description(req.Text)
	t.Tags = tags
	if err := s.store.Put(t); err != nil {
		return SubmitResult{}, fmt.Errorf("save submission: %w", err)
	}
	return SubmitResult{Task: t, Created: true}, nil
}

func mergeSubmission(t *task.Task, c classify.Classification, tags []string, text, link string, now time.Time, loc *time.Location) {
	if c.Title != "" && c.Title != classify.TitleFromURL(link) {
		t.Title = c.Title
	}
	if c.Deadline != nil && (t.Deadline == nil || c.Deadline.After(*t.Deadline)) {
		d := *c.Deadline
		t.Deadline = &d
	}
	// A lapsed task given a new future deadline is live again.
	if t.Status == task.StatusExpired && t.Deadline != nil && t.Deadline.After(now) {
		t.Status = task.StatusTodo
	}
	if c.Priority > t.Priority {
		t.Priority = c.Priority
	}
	if text = strings.TrimSpace(text); text != "" {
		stamp := fmt.Sprintf("Updated %s: %s", now.In(loc).Format("2006-01-02"), description(text))
		if t.Notes == "" {
			t.Notes = stamp
		} else {
			t.Notes += "\n" + stamp
		}
	}
	for _, tag := range tags {
		if !containsTag(t.Tags, tag) {
			t.Tags = append(t.Tags, tag)
		}
	}
	t.Touch(now)
}

// MarkDone marks a task done, completing its open milestones.
func (s *Service) MarkDone(owner, id string) (*task.Task, error) {
	return s.UpdateStatus(owner, id, task.StatusDone)
}

// UpdateStatus applies a user-driven status change. Expired is refused.
func (s *Service) UpdateStatus(owner, id string, status task.Status) (*task.Task, error) {
	t, err := s.store.FindByPrefix(owner, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return s.store.Update(t.ID, func(cur *task.Task) error {
		return cur.SetStatus(status, now)
	})
}

// AddMilestone appends a milestone to the task.
func (s *Service) AddMilestone(owner, id, description string) (*task.Task, task.Milestone, error) {
	t, err := s.store.FindByPrefix(owner, id)
	if err != nil {
		return nil, task.Milestone{}, err
	}
	now := s.clock.Now()
	var added task.Milestone
	updated, err := s.store.Update(t.ID, func(cur *task.Task) error {
		m, err := cur.AddMilestone(description, now)
		added = m
		return err
	})
	if err != nil {
		return nil, task.Milestone{}, err
	}
	return updated, added, nil
}

// CompleteMilestone marks the milestone with the given id (or prefix) done.
func (s *Service) CompleteMilestone(owner, milestoneID string) (*task.Task, task.Milestone, error) {
	t, err := s.store.FindByMilestonePrefix(owner, milestoneID)
	if err != nil {
		return nil, task.Milestone{}, err
	}
	now := s.clock.Now()
	var done task.Milestone
	updated, err := s.store.Update(t.ID, func(cur *task.Task) error {
		idx := cur.FindMilestone(milestoneID)
		if idx < 0 {
			return fmt.Errorf("milestone %s: %w", milestoneID, task.ErrNotFound)
		}
		cur.CompleteMilestone(idx, now)
		done = cur.Milestones[idx]
		return nil
	})
	if err != nil {
		return nil, task.Milestone{}, err
	}
	return updated, done, nil
}

// ListMilestones returns the task with its milestones in display order.
func (s *Service) ListMilestones(owner, id string) (*task.Task, error) {
	return s.store.FindByPrefix(owner, id)
}

// FilterKind selects which tasks List returns.
type FilterKind string

const (
	FilterAll       FilterKind = "all"
	FilterCategory  FilterKind = "category"
	FilterOverdue   FilterKind = "overdue"
	FilterDeadlines FilterKind = "deadlines"
	FilterReminders FilterKind = "reminders"
)

type Filter struct {
	Kind     FilterKind
	Category task.Category
	Days     int
}

// List returns the owner's tasks matching f. The all and category views
// leave out overdue tasks, which have their own view.
func (s *Service) List(owner string, f Filter) ([]*task.Task, error) {
	tasks, err := s.store.ListByOwner(owner)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	switch f.Kind {
	case FilterAll, "":
		return keep(tasks, func(t *task.Task) bool { return !t.IsOverdue(now) }), nil
	case FilterCategory:
		if !f.Category.Valid() {
			return nil, fmt.Errorf("%w: unknown category %q", task.ErrValidation, f.Category)
		}
		return keep(tasks, func(t *task.Task) bool {
			return t.Category == f.Category && !t.IsOverdue(now)
		}), nil
	case FilterOverdue:
		return task.Overdue(tasks, now), nil
	case FilterDeadlines:
		return task.Upcoming(tasks, now, DeadlineDays(f.Days)), nil
	case FilterReminders:
		out := keep(tasks, func(t *task.Task) bool {
			return t.Deadline != nil && t.Active() && !t.IsOverdue(now)
		})
		task.SortByDeadline(out)
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown filter %q", task.ErrValidation, f.Kind)
}

// DeadlineDays applies the default and the cap to a requested look-ahead.
func DeadlineDays(days int) int {
	if days <= 0 {
		return DefaultDeadlineDays
	}
	if days > MaxDeadlineDays {
		return MaxDeadlineDays
	}
	return days
}

type ProgressReport struct {
	Task      *task.Task
	Status    task.Status
	Percent   int
	Completed int
	Total     int
	Next      *task.Milestone
}

// Progress reports one task's completion.
func (s *Service) Progress(owner, id string) (ProgressReport, error) {
	t, err := s.store.FindByPrefix(owner, id)
	if err != nil {
		return ProgressReport{}, err
	}
	rep := ProgressReport{
		Task:      t,
		Status:    task.DeriveStatus(t, s.clock.Now()),
		Percent:   task.ComputeProgress(t),
		Completed: task.CompletedMilestones(t),
		Total:     len(t.Milestones),
	}
	if m, ok := task.NextMilestone(t); ok {
		rep.Next = &m
	}
	return rep, nil
}

// ProgressSummary aggregates progress over all of the owner's tasks.
func (s *Service) ProgressSummary(owner string) (task.Summary, error) {
	tasks, err := s.store.ListByOwner(owner)
	if err != nil {
		return task.Summary{}, err
	}
	return task.Summarize(tasks), nil
}

// RemindNow sends a reminder for one task right away.
func (s *Service) RemindNow(ctx context.Context, owner, id string) (*task.Task, error) {
	t, err := s.store.FindByPrefix(owner, id)
	if err != nil {
		return nil, err
	}
	text := reminder.FormatReminder(t, s.clock.Now(), s.loc)

	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.notifier.Send(ctx, owner, text); err != nil {
		return t, fmt.Errorf("%w: %w", task.ErrDispatchFailure, err)
	}
	return t, nil
}

// Delete removes a task and its milestones.
func (s *Service) Delete(owner, id string) (*task.Task, error) {
	t, err := s.store.FindByPrefix(owner, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func keep(tasks []*task.Task, fn func(*task.Task) bool) []*task.Task {
	var out []*task.Task
	for _, t := range tasks {
		if fn(t) {
			out = append(out, t)
		}
	}
	return out
}

func hashtags(text string) []string {
	var tags []string
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if !containsTag(tags, tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func description(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > descriptionLimit {
		return text[:descriptionLimit] + "..."
	}
	return text
}
