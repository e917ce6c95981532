package task

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Category groups tracked links.
type Category string

const (
	CategoryJob      Category = "job"
	CategoryGrant    Category = "grant"
	CategoryResearch Category = "research"
	CategoryLearning Category = "learning"
	CategoryArticle  Category = "article"
	CategoryOther    Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryJob, CategoryGrant, CategoryResearch, CategoryLearning, CategoryArticle, CategoryOther,
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusPaused     Status = "paused"
	StatusWaiting    Status = "waiting"
	StatusExpired    Status = "expired"
)

const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 1

	// ShortIDLen is how many leading characters of an id users type.
	ShortIDLen = 8
)

// Task is a tracked link with an optional deadline and ordered milestones.
type Task struct {
	ID             string      `json:"id" validate:"required,uuid4"`
	Owner          string      `json:"owner" validate:"required"`
	Category       Category    `json:"category" validate:"required,oneof=job grant research learning article other"`
	URL            string      `json:"url" validate:"required,url"`
	Title          string      `json:"title" validate:"max=500"`
	Description    string      `json:"description,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Deadline       *time.Time  `json:"deadline,omitempty"`
	Priority       int         `json:"priority" validate:"min=1,max=5"`
	Status         Status      `json:"status" validate:"required,oneof=todo in_progress done paused waiting expired"`
	Milestones     []Milestone `json:"milestones,omitempty" validate:"dive"`
	CreatedAt      time.Time   `json:"createdAt" validate:"required"`
	LastActivityAt time.Time   `json:"lastActivityAt" validate:"required"`
}

// Milestone is one step of a task. It lives and dies with its parent.
type Milestone struct {
	ID          string     `json:"id" validate:"required,uuid4"`
	TaskID      string     `json:"taskId" validate:"required"`
	Description string     `json:"description" validate:"required,max=500"`
	Done        bool       `json:"done"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

var validate = validator.New()

// New creates a todo task owned by owner. Unknown categories become "other".
func New(owner, url, title string, category Category, now time.Time) *Task {
	if !category.Valid() {
		category = CategoryOther
	}
	return &Task{
		ID:             uuid.NewString(),
		Owner:          owner,
		Category:       category,
		URL:            url,
		Title:          title,
		Priority:       DefaultPriority,
		Status:         StatusTodo,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Validate checks the struct tags and the cross-field rules.
func (t *Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s' (value: '%v')", e.StructNamespace(), e.Tag(), e.Value()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}
	for _, m := range t.Milestones {
		if m.TaskID != t.ID {
			return fmt.Errorf("%w: milestone %s belongs to task %s", ErrValidation, ShortID(m.ID), ShortID(m.TaskID))
		}
	}
	return nil
}

// Clone returns a deep copy so snapshots handed out by the store can't alias it.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Milestones != nil {
		c.Milestones = make([]Milestone, len(t.Milestones))
		for i, m := range t.Milestones {
			if m.CompletedAt != nil {
				at := *m.CompletedAt
				m.CompletedAt = &at
			}
			c.Milestones[i] = m
		}
	}
	return &c
}

// Touch records a mutation.
func (t *Task) Touch(now time.Time) {
	t.LastActivityAt = now
}

// SetStatus applies a user-driven status change. Expiry is only ever assigned
// through DeriveStatus, so expired is rejected here. Marking a task done
// completes its open milestones to keep progress at 100.
func (t *Task) SetStatus(s Status, now time.Time) error {
	if !s.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	if s == StatusExpired {
		return fmt.Errorf("%w: status expired is assigned automatically", ErrValidation)
	}
	t.Status = s
	if s == StatusDone {
		for i := range t.Milestones {
			if !t.Milestones[i].Done {
				at := now
				t.Milestones[i].Done = true
				t.Milestones[i].CompletedAt = &at
			}
		}
	}
	t.Touch(now)
	return nil
}

// AddMilestone appends a milestone and returns a copy of it.
func (t *Task) AddMilestone(description string, now time.Time) (Milestone, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Milestone{}, fmt.Errorf("%w: milestone description is required", ErrValidation)
	}
	m := Milestone{
		ID:          uuid.NewString(),
		TaskID:      t.ID,
		Description: description,
	}
	t.Milestones = append(t.Milestones, m)
	t.Touch(now)
	return m, nil
}

// FindMilestone returns the index of the milestone whose id starts with prefix.
func (t *Task) FindMilestone(prefix string) int {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return -1
	}
	for i, m := range t.Milestones {
		if strings.HasPrefix(m.ID, prefix) {
			return i
		}
	}
	return -1
}

// CompleteMilestone marks the milestone at idx done. Completing an already
// done milestone is a no-op.
func (t *Task) CompleteMilestone(idx int, now time.Time) {
	m := &t.Milestones[idx]
	if m.Done {
		return
	}
	at := now
	m.Done = true
	m.CompletedAt = &at
	t.Touch(now)
}

// IsOverdue reports whether the deadline passed while the task was open.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.Deadline == nil || t.Status == StatusDone {
		return false
	}
	return now.After(*t.Deadline)
}

// DaysUntilDeadline returns whole days until the deadline, negative when
// overdue. ok is false when there is no deadline.
func (t *Task) DaysUntilDeadline(now time.Time) (days int, ok bool) {
	if t.Deadline == nil {
		return 0, false
	}
	return int(math.Floor(t.Deadline.Sub(now).Hours() / 24)), true
}

// Active reports whether reminders still apply to the task.
func (t *Task) Active() bool {
	return t.Status != StatusDone && t.Status != StatusExpired
}

// ShortID returns the user-facing prefix of an id.
func ShortID(id string) string {
	if len(id) <= ShortIDLen {
		return id
	}
	return id[:ShortIDLen]
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Label is the human readable category name.
func (c Category) Label() string {
	switch c {
	case CategoryJob:
		return "Job Application"
	case CategoryGrant:
		return "Grant Application"
	case CategoryResearch:
		return "Research"
	case CategoryLearning:
		return "Learning"
	case CategoryArticle:
		return "Article"
	default:
		return "Other"
	}
}

// ParseCategory accepts category names and the plural / long forms used in chat.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "job", "jobs", "job_application":
		return CategoryJob, true
	case "grant", "grants", "grant_application":
		return CategoryGrant, true
	case "research":
		return CategoryResearch, true
	case "learning", "course", "courses":
		return CategoryLearning, true
	case "article", "articles", "reading", "notes_to_read":
		return CategoryArticle, true
	case "other":
		return CategoryOther, true
	}
	return "", false
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusPaused, StatusWaiting, StatusExpired:
		return true
	}
	return false
}

// Label is the human readable status name.
func (s Status) Label() string {
	switch s {
	case StatusTodo:
		return "Todo"
	case StatusInProgress:
		return "In Progress"
	case StatusDone:
		return "Done"
	case StatusPaused:
		return "Paused"
	case StatusWaiting:
		return "Waiting"
	case StatusExpired:
		return "Expired"
	}
	return string(s)
}

// ParseStatus accepts status names and their chat synonyms.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "todo", "to_do", "open":
		return StatusTodo, true
	case "in_progress", "in-progress", "inprogress", "started", "progress":
		return StatusInProgress, true
	case "done", "complete", "completed", "finished":
		return StatusDone, true
	case "paused", "pause":
		return StatusPaused, true
	case "waiting", "wait", "blocked":
		return StatusWaiting, true
	case "expired":
		return StatusExpired, true
	}
	return "", false
}
