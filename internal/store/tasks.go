package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stellarlinkco/linkkeeper/internal/task"
)

const taskColumns = `id, owner, category, url, title, description, notes, tags, deadline, priority, status, created_at, last_activity_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Get returns a snapshot of the task with the given id.
func (e *Engine) Get(id string) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.get(e.db, id)
}

// Put inserts or fully replaces a task, milestones included.
func (e *Engine) Put(t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inTx("put task", func(tx *sql.Tx) error {
		return writeTask(tx, t)
	})
}

// Update applies fn to the current task under the store lock and persists the
// result. fn works on a copy; returning an error leaves the stored task as is.
func (e *Engine) Update(id string, fn func(*task.Task) error) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.get(e.db, id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != id {
		return nil, fmt.Errorf("%w: task id is immutable", task.ErrValidation)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := e.inTx("update task", func(tx *sql.Tx) error {
		return writeTask(tx, next)
	}); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Delete removes a task and its milestones.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inTx("delete task", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM milestones WHERE task_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w", task.ShortID(id), task.ErrNotFound)
		}
		return nil
	})
}

// ListByOwner returns the owner's tasks in creation order.
func (e *Engine) ListByOwner(owner string) ([]*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list(`SELECT `+taskColumns+` FROM tasks WHERE owner = ? ORDER BY created_at, id`, owner)
}

// ListAll returns every task in creation order.
func (e *Engine) ListAll() ([]*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at, id`)
}

// FindByPrefix resolves a short id typed by the owner. More than one match is
// a validation error.
func (e *Engine) FindByPrefix(owner, prefix string) (*task.Task, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, fmt.Errorf("%w: task id is required", task.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.resolve(`SELECT id FROM tasks WHERE owner = ? AND substr(id, 1, ?) = ? LIMIT 2`, owner, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", prefix, err)
	}
	return e.get(e.db, id)
}

// FindByMilestonePrefix returns the owner's task holding the milestone whose
// id starts with prefix.
func (e *Engine) FindByMilestonePrefix(owner, prefix string) (*task.Task, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, fmt.Errorf("%w: milestone id is required", task.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.resolve(`SELECT t.id FROM milestones m JOIN tasks t ON t.id = m.task_id
		WHERE t.owner = ? AND substr(m.id, 1, ?) = ? LIMIT 2`, owner, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("milestone %s: %w", prefix, err)
	}
	return e.get(e.db, id)
}

// FindByURL returns the owner's task tracking url.
func (e *Engine) FindByURL(owner, url string) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var id string
	err := e.db.QueryRow(`SELECT id FROM tasks WHERE owner = ? AND url = ? ORDER BY created_at LIMIT 1`, owner, url).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("url %s: %w", url, task.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("find task by url", err)
	}
	return e.get(e.db, id)
}

func (e *Engine) resolve(query string, args ...any) (string, error) {
	rows, err := e.db.Query(query, args...)
	if err != nil {
		return "", unavailable("resolve id", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", unavailable("scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", unavailable("resolve id", err)
	}
	switch len(ids) {
	case 0:
		return "", task.ErrNotFound
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: ambiguous id, type more characters", task.ErrValidation)
	}
}

func (e *Engine) get(q querier, id string) (*task.Task, error) {
	row := q.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", task.ShortID(id), task.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get task", err)
	}
	ms, err := loadMilestones(q, `WHERE task_id = ?`, id)
	if err != nil {
		return nil, err
	}
	t.Milestones = ms[t.ID]
	return t, nil
}

func (e *Engine) list(query string, args ...any) ([]*task.Task, error) {
	rows, err := e.db.Query(query, args...)
	if err != nil {
		return nil, unavailable("list tasks", err)
	}
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, unavailable("scan task", err)
		}
		tasks = append(tasks, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, unavailable("list tasks", err)
	}
	if len(tasks) == 0 {
		return tasks, nil
	}

	ms, err := loadMilestones(e.db, `WHERE task_id IN (SELECT id FROM (`+query+`))`, args...)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		t.Milestones = ms[t.ID]
	}
	return tasks, nil
}

func (e *Engine) inTx(op string, fn func(*sql.Tx) error) error {
	tx, err := e.db.Begin()
	if err != nil {
		return unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, task.ErrNotFound) || errors.Is(err, task.ErrValidation) {
			return err
		}
		return unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func writeTask(tx *sql.Tx, t *task.Task) error {
	tags, err := json.Marshal(nonNilTags(t.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			category = excluded.category,
			url = excluded.url,
			title = excluded.title,
			description = excluded.description,
			notes = excluded.notes,
			tags = excluded.tags,
			deadline = excluded.deadline,
			priority = excluded.priority,
			status = excluded.status,
			created_at = excluded.created_at,
			last_activity_at = excluded.last_activity_at`,
		t.ID, t.Owner, string(t.Category), t.URL, t.Title, t.Description, t.Notes, string(tags),
		nullableTime(t.Deadline), t.Priority, string(t.Status), formatTime(t.CreatedAt), formatTime(t.LastActivityAt),
	)
	if err != nil {
		return fmt.Errorf("write task: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM milestones WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clear milestones: %w", err)
	}
	for i, m := range t.Milestones {
		_, err := tx.Exec(`INSERT INTO milestones (id, task_id, position, description, done, completed_at) VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, t.ID, i, m.Description, m.Done, nullableTime(m.CompletedAt))
		if err != nil {
			return fmt.Errorf("write milestone: %w", err)
		}
	}
	return nil
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                   task.Task
		category, status    string
		tags                string
		deadline            sql.NullString
		createdAt, activity string
	)
	if err := row.Scan(&t.ID, &t.Owner, &category, &t.URL, &t.Title, &t.Description, &t.Notes, &tags,
		&deadline, &t.Priority, &status, &createdAt, &activity); err != nil {
		return nil, err
	}
	t.Category = task.Category(category)
	t.Status = task.Status(status)

	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		if len(t.Tags) == 0 {
			t.Tags = nil
		}
	}
	var err error
	if t.Deadline, err = parseNullableTime(deadline); err != nil {
		return nil, fmt.Errorf("parse deadline: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.LastActivityAt, err = parseTime(activity); err != nil {
		return nil, fmt.Errorf("parse last_activity_at: %w", err)
	}
	return &t, nil
}

func loadMilestones(q querier, where string, args ...any) (map[string][]task.Milestone, error) {
	rows, err := q.Query(`SELECT id, task_id, description, done, completed_at FROM milestones `+where+` ORDER BY task_id, position`, args...)
	if err != nil {
		return nil, unavailable("load milestones", err)
	}
	defer rows.Close()

	out := make(map[string][]task.Milestone)
	for rows.Next() {
		var (
			m           task.Milestone
			completedAt sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Description, &m.Done, &completedAt); err != nil {
			return nil, unavailable("scan milestone", err)
		}
		if m.CompletedAt, err = parseNullableTime(completedAt); err != nil {
			return nil, unavailable("parse milestone completed_at", err)
		}
		out[m.TaskID] = append(out[m.TaskID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load milestones", err)
	}
	return out, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
