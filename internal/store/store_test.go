package store

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
	"github.com/rahul/botfleet/internal/lifecycle"
	"github.com/rahul/botfleet/internal/observability"
)

// stepClock advances by step on every call, starting at start.
type stepClock struct {
	mu   sync.Mutex
	cur  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.cur
	c.cur = c.cur.Add(c.step)
	return now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = t
}

var epoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) (*Store, *stepClock) {
	t.Helper()
	clock := &stepClock{cur: epoch, step: time.Second}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := Open(filepath.Join(t.TempDir(), "botfleet.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	task, err := s.CreateTask(ctx, "Write roadmap", "ceo_bot")
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Write roadmap", task.Description)
	assert.Equal(t, lifecycle.StatusSubmitted, task.Status)
	assert.Equal(t, "ceo_bot", task.AssignedAgent)
	assert.Equal(t, epoch, task.CreatedAt)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestCreateTaskRejectsEmptyDescription(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, desc := range []string{"", "   ", "\n\t"} {
		_, err := s.CreateTask(ctx, desc, "")
		assert.Truef(t, fleeterrors.IsValidation(err), "description %q: %v", desc, err)
	}
	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[lifecycle.StatusSubmitted])
}

func TestCreateTaskKeepsDescriptionVerbatim(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, desc := range []string{
		"if a<b && c>d then ship",
		"Refactor Cache<K, V> to Cache<K>",
		"Investigate <div> layout bug",
		"Document the &amp; entity",
		"<script>alert(1)</script>",
	} {
		task, err := s.CreateTask(ctx, "  "+desc+"\n", "")
		require.NoError(t, err)
		assert.Equal(t, desc, task.Description)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, desc, got.Description)
	}
}

func TestCreateTaskRejectsBadAgentLabel(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateTask(context.Background(), "x", "ceo bot")
	assert.True(t, fleeterrors.IsValidation(err))
}

func TestGetTaskUnknownID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.GetTask(ctx, "does-not-exist")
	assert.True(t, fleeterrors.IsNotFound(err))

	tasks, err := s.CollectTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	task, err := s.CreateTask(ctx, "Write roadmap", "")
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusSubmitted, task.Status)

	task, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusInProgress, task.Status)

	_, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusSubmitted)
	assert.True(t, fleeterrors.IsInvalidTransition(err))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusInProgress, got.Status)
	assert.Equal(t, task.UpdatedAt, got.UpdatedAt)

	task, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, task.Status)

	for _, to := range lifecycle.All {
		_, err := s.UpdateTaskStatus(ctx, task.ID, to)
		assert.Truef(t, fleeterrors.IsInvalidTransition(err), "completed -> %s", to)
	}

	trail, err := s.Transitions(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, lifecycle.StatusSubmitted, trail[0].From)
	assert.Equal(t, lifecycle.StatusInProgress, trail[0].To)
	assert.Equal(t, lifecycle.StatusInProgress, trail[1].From)
	assert.Equal(t, lifecycle.StatusCompleted, trail[1].To)
	assert.Equal(t, task.UpdatedAt, trail[1].At)
}

func TestUpdateTaskStatusUnknownTask(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpdateTaskStatus(context.Background(), "missing", lifecycle.StatusInProgress)
	assert.True(t, fleeterrors.IsNotFound(err))

	_, err = s.Transitions(context.Background(), "missing")
	assert.True(t, fleeterrors.IsNotFound(err))
}

func TestUpdatedAtNeverBeforeCreatedAt(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	task, err := s.CreateTask(ctx, "clock skew", "")
	require.NoError(t, err)

	clock.Set(epoch.Add(-time.Hour))
	task, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusInProgress)
	require.NoError(t, err)
	assert.False(t, task.UpdatedAt.Before(task.CreatedAt))

	task, err = s.AssignAgent(ctx, task.ID, "execution_bot")
	require.NoError(t, err)
	assert.False(t, task.UpdatedAt.Before(task.CreatedAt))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestConcurrentTransitionsNeverLoseAnUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for round := 0; round < 10; round++ {
		task, err := s.CreateTask(ctx, "race", "")
		require.NoError(t, err)
		_, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusInProgress)
		require.NoError(t, err)

		targets := []lifecycle.Status{lifecycle.StatusCompleted, lifecycle.StatusFailed}
		errs := make([]error, len(targets))
		results := make([]Task, len(targets))
		var wg sync.WaitGroup
		for i, to := range targets {
			wg.Add(1)
			go func(i int, to lifecycle.Status) {
				defer wg.Done()
				results[i], errs[i] = s.UpdateTaskStatus(ctx, task.ID, to)
			}(i, to)
		}
		wg.Wait()

		winners := 0
		var winner lifecycle.Status
		for i, err := range errs {
			if err == nil {
				winners++
				winner = results[i].Status
				continue
			}
			assert.True(t, fleeterrors.IsInvalidTransition(err), err)
		}
		require.Equal(t, 1, winners)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, winner, got.Status)

		trail, err := s.Transitions(ctx, task.ID)
		require.NoError(t, err)
		assert.Len(t, trail, 2)
	}
}

func TestAssignAgent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	task, err := s.CreateTask(ctx, "plan the week", "ceo_bot")
	require.NoError(t, err)

	moved, err := s.AssignAgent(ctx, task.ID, "planner_bot")
	require.NoError(t, err)
	assert.Equal(t, "planner_bot", moved.AssignedAgent)
	assert.True(t, moved.UpdatedAt.After(task.UpdatedAt))

	_, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusFailed)
	require.NoError(t, err)
	_, err = s.AssignAgent(ctx, task.ID, "execution_bot")
	assert.True(t, fleeterrors.IsValidation(err))

	_, err = s.AssignAgent(ctx, "missing", "execution_bot")
	assert.True(t, fleeterrors.IsNotFound(err))
}

func TestListTasksOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithPageSize(2))

	var ids []string
	for _, desc := range []string{"a", "b", "c", "d", "e"} {
		task, err := s.CreateTask(ctx, desc, "ceo_bot")
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	_, err := s.UpdateTaskStatus(ctx, ids[1], lifecycle.StatusInProgress)
	require.NoError(t, err)
	_, err = s.UpdateTaskStatus(ctx, ids[3], lifecycle.StatusFailed)
	require.NoError(t, err)

	all, err := s.CollectTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, ids, taskIDs(all))

	desc, err := s.CollectTasks(ctx, TaskFilter{Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}, taskIDs(desc))

	submitted := lifecycle.StatusSubmitted
	open, err := s.CollectTasks(ctx, TaskFilter{Status: &submitted})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2], ids[4]}, taskIDs(open))

	limited, err := s.CollectTasks(ctx, TaskFilter{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, ids[:3], taskIDs(limited))

	none, err := s.CollectTasks(ctx, TaskFilter{Agent: "planner_bot"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListTasksSameTimestampUsesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	frozen := func() time.Time { return epoch }
	s, err := Open(filepath.Join(t.TempDir(), "frozen.db"), WithClock(frozen), WithPageSize(1))
	require.NoError(t, err)
	defer s.Close()

	var ids []string
	for i := 0; i < 4; i++ {
		task, err := s.CreateTask(ctx, "same instant", "")
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	all, err := s.CollectTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, ids, taskIDs(all))
}

func TestListTasksIsLazyAndRestartable(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithPageSize(2))

	for _, desc := range []string{"a", "b", "c"} {
		_, err := s.CreateTask(ctx, desc, "")
		require.NoError(t, err)
	}
	seq := s.ListTasks(ctx, TaskFilter{})

	// The loop body writes to the store while the sequence is being consumed.
	seen := 0
	for task, err := range seq {
		require.NoError(t, err)
		_, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusInProgress)
		require.NoError(t, err)
		seen++
		if seen == 1 {
			break
		}
	}
	assert.Equal(t, 1, seen)

	var statuses []lifecycle.Status
	for task, err := range seq {
		require.NoError(t, err)
		statuses = append(statuses, task.Status)
	}
	assert.Equal(t, []lifecycle.Status{lifecycle.StatusInProgress, lifecycle.StatusSubmitted, lifecycle.StatusSubmitted}, statuses)
}

func TestTasksUpdatedBetweenIsHalfOpen(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	clock.Set(epoch)
	first, err := s.CreateTask(ctx, "at start", "")
	require.NoError(t, err)
	clock.Set(epoch.Add(time.Hour))
	_, err = s.CreateTask(ctx, "at end", "")
	require.NoError(t, err)

	tasks, err := s.TasksUpdatedBetween(ctx, epoch, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, taskIDs(tasks))
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a, err := s.CreateTask(ctx, "a", "")
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, "b", "")
	require.NoError(t, err)
	_, err = s.UpdateTaskStatus(ctx, a.ID, lifecycle.StatusFailed)
	require.NoError(t, err)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[lifecycle.Status]int{
		lifecycle.StatusSubmitted:  1,
		lifecycle.StatusInProgress: 0,
		lifecycle.StatusCompleted:  0,
		lifecycle.StatusFailed:     1,
	}, counts)
}

func TestStoreRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := observability.MustNewMetrics(prometheus.NewRegistry())
	s, _ := newTestStore(t, WithMetrics(metrics))

	task, err := s.CreateTask(ctx, "measure me", "")
	require.NoError(t, err)
	_, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusCompleted)
	require.Error(t, err)
	_, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusInProgress)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(metrics.Registry, "botfleet_store_tasks_created_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	out := &bytes.Buffer{}
	require.NoError(t, metrics.WriteText(out))
	assert.Contains(t, out.String(), `botfleet_store_transitions_total{from="submitted",to="in_progress"} 1`)
	assert.Contains(t, out.String(), `botfleet_store_transition_rejections_total 1`)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := Open(path)
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, "survive restart", "ceo_bot")
	require.NoError(t, err)
	_, err = s.UpdateTaskStatus(ctx, task.ID, lifecycle.StatusInProgress)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusInProgress, got.Status)
	trail, err := s.Transitions(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		release := k.Lock("a")
		release()
	}()
	unlock()
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}

func taskIDs(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}
