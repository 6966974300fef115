package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
)

func sampleReport(period Period, end time.Time) Report {
	return Report{
		Period:         period,
		WindowStart:    end.Add(-period.Window()),
		WindowEnd:      end,
		SummaryMetrics: map[string]float64{"tasks_total": 3, "failure_rate": 0.5},
	}
}

func TestSaveReportFillsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	in := sampleReport(PeriodDaily, epoch)
	saved, err := s.SaveReport(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, epoch, saved.GeneratedAt)
	assert.Equal(t, in.WindowStart, saved.WindowStart)

	// the caller's map is not shared with the stored copy
	in.SummaryMetrics["tasks_total"] = 99
	saved.SummaryMetrics["failure_rate"] = 1

	got, err := s.GetReport(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.SummaryMetrics["tasks_total"])
	assert.Equal(t, 0.5, got.SummaryMetrics["failure_rate"])
	assert.Equal(t, epoch, got.WindowEnd)
}

func TestSaveReportValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.SaveReport(ctx, sampleReport("monthly", epoch))
	assert.True(t, fleeterrors.IsValidation(err))

	bad := sampleReport(PeriodDaily, epoch)
	bad.WindowStart, bad.WindowEnd = bad.WindowEnd, bad.WindowStart
	_, err = s.SaveReport(ctx, bad)
	assert.True(t, fleeterrors.IsValidation(err))
}

func TestReportsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	saved, err := s.SaveReport(ctx, sampleReport(PeriodDaily, epoch))
	require.NoError(t, err)

	dup := sampleReport(PeriodWeekly, epoch)
	dup.ID = saved.ID
	_, err = s.SaveReport(ctx, dup)
	assert.True(t, fleeterrors.IsValidation(err))
	assert.True(t, isUniqueViolation(err), "driver error code is kept in the chain")
	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed: reports.id")))

	_, err = s.db.ExecContext(ctx, `UPDATE reports SET metrics = '{}' WHERE id = ?;`, saved.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports are immutable")

	got, err := s.GetReport(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodDaily, got.Period)
	assert.Equal(t, 3.0, got.SummaryMetrics["tasks_total"])
}

func TestGetReportUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetReport(context.Background(), "nope")
	assert.True(t, fleeterrors.IsNotFound(err))
}

func TestListReportsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	daily1, err := s.SaveReport(ctx, sampleReport(PeriodDaily, epoch))
	require.NoError(t, err)
	weekly, err := s.SaveReport(ctx, sampleReport(PeriodWeekly, epoch))
	require.NoError(t, err)
	daily2, err := s.SaveReport(ctx, sampleReport(PeriodDaily, epoch.Add(24*time.Hour)))
	require.NoError(t, err)

	all, err := s.ListReports(ctx, ReportFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{daily2.ID, weekly.ID, daily1.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	dailies, err := s.ListReports(ctx, ReportFilter{Period: PeriodDaily})
	require.NoError(t, err)
	require.Len(t, dailies, 2)
	assert.Equal(t, daily2.ID, dailies[0].ID)

	limited, err := s.ListReports(ctx, ReportFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	latest, ok, err := s.LatestReport(ctx, PeriodWeekly)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, weekly.ID, latest.ID)
}

func TestLatestReportPrefersLatestWindow(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	current, err := s.SaveReport(ctx, sampleReport(PeriodDaily, epoch))
	require.NoError(t, err)
	// generated later, covering an older window
	_, err = s.SaveReport(ctx, sampleReport(PeriodDaily, epoch.Add(-30*24*time.Hour)))
	require.NoError(t, err)

	latest, ok, err := s.LatestReport(ctx, PeriodDaily)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, current.ID, latest.ID)
	assert.Equal(t, epoch, latest.WindowEnd)
}

func TestLatestReportEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok, err := s.LatestReport(context.Background(), PeriodDaily)
	require.NoError(t, err)
	assert.False(t, ok)
}
