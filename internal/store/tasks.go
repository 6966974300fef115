package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
	"github.com/rahul/botfleet/internal/lifecycle"
)

const (
	maxDescriptionLen = 4000
	maxAgentLen       = 64
)

const taskColumns = `seq, id, description, status, assigned_agent, created_at, updated_at`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type taskRow struct {
	seq       int64
	createdAt string
	task      Task
}

// CreateTask stores a new task in the submitted state. The description is
// kept as given apart from surrounding whitespace.
func (s *Store) CreateTask(ctx context.Context, description, assignedAgent string) (Task, error) {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return Task{}, fleeterrors.NewValidation("description", "must not be empty")
	}
	if len(desc) > maxDescriptionLen {
		return Task{}, fleeterrors.NewValidation("description", "longer than %d bytes", maxDescriptionLen)
	}
	agent, err := normalizeAgent(assignedAgent)
	if err != nil {
		return Task{}, err
	}

	now := s.now().UTC()
	task := Task{
		ID:            uuid.NewString(),
		Description:   desc,
		Status:        lifecycle.Initial,
		AssignedAgent: agent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, status, assigned_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, task.ID, task.Description, string(task.Status), task.AssignedAgent, formatTime(now), formatTime(now))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	s.metrics.TaskCreated()
	s.logger.LogTaskCreated(task.ID, task.AssignedAgent, task.Description)
	return task, nil
}

// GetTask returns the task with id or a NotFoundError.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row, err := getTask(ctx, s.db, id)
	if err != nil {
		return Task{}, err
	}
	return row.task, nil
}

func getTask(ctx context.Context, q queryer, id string) (taskRow, error) {
	row, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return taskRow{}, fleeterrors.NewNotFound("task", id)
		}
		return taskRow{}, fmt.Errorf("select task: %w", err)
	}
	return row, nil
}

// ListTasks returns a lazy sequence over the tasks matching filter. Rows are
// fetched a page at a time and no connection is held while the caller
// consumes an item, so the loop body may call back into the store. Ranging
// over the sequence again re-runs the query from the start.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) iter.Seq2[Task, error] {
	return func(yield func(Task, error) bool) {
		var cursor *taskRow
		emitted := 0
		for {
			size := s.pageSize
			if filter.Limit > 0 && filter.Limit-emitted < size {
				size = filter.Limit - emitted
			}
			if size <= 0 {
				return
			}
			page, err := s.listPage(ctx, filter, cursor, size)
			if err != nil {
				yield(Task{}, err)
				return
			}
			for _, row := range page {
				if !yield(row.task, nil) {
					return
				}
				emitted++
			}
			if len(page) < size {
				return
			}
			last := page[len(page)-1]
			cursor = &last
		}
	}
}

// CollectTasks drains ListTasks into a slice.
func (s *Store) CollectTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var out []Task
	for task, err := range s.ListTasks(ctx, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (s *Store) listPage(ctx context.Context, filter TaskFilter, after *taskRow, size int) ([]taskRow, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Agent != "" {
		where = append(where, "assigned_agent = ?")
		args = append(args, filter.Agent)
	}
	cmp, order := ">", "ASC"
	if filter.Descending {
		cmp, order = "<", "DESC"
	}
	if after != nil {
		where = append(where, fmt.Sprintf("(created_at %s ? OR (created_at = ? AND seq %s ?))", cmp, cmp))
		args = append(args, after.createdAt, after.createdAt, after.seq)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, seq %s LIMIT ?", order, order)
	args = append(args, size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	page := make([]taskRow, 0, size)
	for rows.Next() {
		row, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		page = append(page, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return page, nil
}

// UpdateTaskStatus moves the task to status to. The lifecycle decides whether
// the move is legal; status, updated_at and the audit entry are committed
// together or not at all.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, to lifecycle.Status) (Task, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := getTask(ctx, tx, id)
	if err != nil {
		return Task{}, err
	}
	task := row.task
	from := task.Status
	if err := lifecycle.Validate(id, from, to); err != nil {
		s.metrics.TransitionRejected()
		return Task{}, err
	}

	now := s.nowAfter(task.UpdatedAt)
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?;
	`, string(to), formatTime(now), id, string(from))
	if err != nil {
		return Task{}, fmt.Errorf("update task status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Task{}, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected != 1 {
		return Task{}, fmt.Errorf("task %s changed concurrently", id)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_transitions (task_id, from_status, to_status, at)
		VALUES (?, ?, ?, ?);
	`, id, string(from), string(to), formatTime(now)); err != nil {
		return Task{}, fmt.Errorf("insert transition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit transition: %w", err)
	}

	task.Status = to
	task.UpdatedAt = now
	s.metrics.TransitionCommitted(string(from), string(to))
	s.logger.LogTransition(id, string(from), string(to))
	return task, nil
}

// AssignAgent hands the task to another agent. Terminal tasks keep their
// owner so their updated_at stays the time they finished.
func (s *Store) AssignAgent(ctx context.Context, id, agent string) (Task, error) {
	label, err := normalizeAgent(agent)
	if err != nil {
		return Task{}, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin assign tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := getTask(ctx, tx, id)
	if err != nil {
		return Task{}, err
	}
	task := row.task
	if task.Status.IsTerminal() {
		return Task{}, fleeterrors.NewValidation("assigned_agent", "task %s is %s and can not be reassigned", id, task.Status)
	}
	if task.AssignedAgent == label {
		return task, nil
	}

	now := s.nowAfter(task.UpdatedAt)
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET assigned_agent = ?, updated_at = ? WHERE id = ?;
	`, label, formatTime(now), id); err != nil {
		return Task{}, fmt.Errorf("update assigned agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit assign: %w", err)
	}

	previous := task.AssignedAgent
	task.AssignedAgent = label
	task.UpdatedAt = now
	s.logger.LogAssigned(id, previous, label)
	return task, nil
}

// Transitions returns the audit trail of the task, oldest first.
func (s *Store) Transitions(ctx context.Context, id string) ([]lifecycle.Transition, error) {
	if _, err := getTask(ctx, s.db, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT from_status, to_status, at FROM task_transitions
		WHERE task_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("select transitions: %w", err)
	}
	defer rows.Close()

	var out []lifecycle.Transition
	for rows.Next() {
		var from, to, at string
		if err := rows.Scan(&from, &to, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ts, err := parseTime(at)
		if err != nil {
			return nil, err
		}
		out = append(out, lifecycle.Transition{
			TaskID: id,
			From:   lifecycle.Status(from),
			To:     lifecycle.Status(to),
			At:     ts,
		})
	}
	return out, rows.Err()
}

// TasksUpdatedBetween returns the tasks whose updated_at lies in
// [start, end). A single SELECT, so the result is one point-in-time view.
func (s *Store) TasksUpdatedBetween(ctx context.Context, start, end time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE updated_at >= ? AND updated_at < ?
		ORDER BY created_at ASC, seq ASC`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("select tasks in window: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		row, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, row.task)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of tasks per status. Every status is
// present in the result, zero when no task has it.
func (s *Store) CountByStatus(ctx context.Context) (map[lifecycle.Status]int, error) {
	counts := make(map[lifecycle.Status]int, len(lifecycle.All))
	for _, st := range lifecycle.All {
		counts[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[lifecycle.Status(status)] = n
	}
	return counts, rows.Err()
}

func scanTask(scanFn func(dest ...any) error) (taskRow, error) {
	var (
		row                  taskRow
		status               string
		createdAt, updatedAt string
	)
	if err := scanFn(
		&row.seq,
		&row.task.ID,
		&row.task.Description,
		&status,
		&row.task.AssignedAgent,
		&createdAt,
		&updatedAt,
	); err != nil {
		return taskRow{}, err
	}
	var err error
	if row.task.CreatedAt, err = parseTime(createdAt); err != nil {
		return taskRow{}, err
	}
	if row.task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return taskRow{}, err
	}
	row.task.Status = lifecycle.Status(status)
	row.createdAt = createdAt
	return row, nil
}

func normalizeAgent(raw string) (string, error) {
	label := strings.TrimSpace(raw)
	if len(label) > maxAgentLen {
		return "", fleeterrors.NewValidation("assigned_agent", "longer than %d bytes", maxAgentLen)
	}
	if strings.ContainsAny(label, " \t\n") {
		return "", fleeterrors.NewValidation("assigned_agent", "label %q must not contain whitespace", label)
	}
	return label, nil
}
