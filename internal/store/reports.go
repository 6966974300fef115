package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite/lib"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
)

const reportColumns = `id, period, generated_at, window_start, window_end, metrics`

// SaveReport inserts report as a new immutable record. An empty ID and zero
// GeneratedAt are filled in. Existing rows are never updated; reusing an ID
// is a ValidationError.
func (s *Store) SaveReport(ctx context.Context, report Report) (Report, error) {
	if !report.Period.Valid() {
		return Report{}, fleeterrors.NewValidation("period", "unknown period %q", string(report.Period))
	}
	if report.WindowEnd.Before(report.WindowStart) {
		return Report{}, fleeterrors.NewValidation("window", "end %s before start %s", report.WindowEnd, report.WindowStart)
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.now()
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.WindowStart = report.WindowStart.UTC()
	report.WindowEnd = report.WindowEnd.UTC()
	report.SummaryMetrics = copyMetrics(report.SummaryMetrics)

	metrics, err := json.Marshal(report.SummaryMetrics)
	if err != nil {
		return Report{}, fmt.Errorf("marshal report metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, period, generated_at, window_start, window_end, metrics)
		VALUES (?, ?, ?, ?, ?, ?);
	`, report.ID, string(report.Period), formatTime(report.GeneratedAt),
		formatTime(report.WindowStart), formatTime(report.WindowEnd), string(metrics))
	if err != nil {
		if isUniqueViolation(err) {
			return Report{}, &fleeterrors.ValidationError{Field: "id", Message: "report " + report.ID + " already exists", Err: err}
		}
		return Report{}, fmt.Errorf("insert report: %w", err)
	}

	s.metrics.ReportGenerated(string(report.Period))
	s.logger.LogReport(report.ID, string(report.Period), report.SummaryMetrics)
	return Report{
		ID:             report.ID,
		Period:         report.Period,
		GeneratedAt:    report.GeneratedAt,
		WindowStart:    report.WindowStart,
		WindowEnd:      report.WindowEnd,
		SummaryMetrics: copyMetrics(report.SummaryMetrics),
	}, nil
}

// GetReport returns the report with id or a NotFoundError.
func (s *Store) GetReport(ctx context.Context, id string) (Report, error) {
	report, err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, fleeterrors.NewNotFound("report", id)
		}
		return Report{}, fmt.Errorf("select report: %w", err)
	}
	return report, nil
}

// ListReports returns reports newest first.
func (s *Store) ListReports(ctx context.Context, filter ReportFilter) ([]Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	if filter.Period != "" {
		query += ` WHERE period = ?`
		args = append(args, string(filter.Period))
	}
	query += ` ORDER BY generated_at DESC, seq DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		report, err := scanReport(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

// LatestReport returns the report for period whose window ends last, so a
// backfilled report never shadows a current one. Ties go to the newest
// generation. ok is false when none exists yet.
func (s *Store) LatestReport(ctx context.Context, period Period) (report Report, ok bool, err error) {
	report, err = scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports
		WHERE period = ? ORDER BY window_end DESC, generated_at DESC, seq DESC LIMIT 1`, string(period)).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, fmt.Errorf("select latest report: %w", err)
	}
	return report, true, nil
}

func scanReport(scanFn func(dest ...any) error) (Report, error) {
	var (
		report                        Report
		period, generated, start, end string
		metrics                       string
	)
	if err := scanFn(&report.ID, &period, &generated, &start, &end, &metrics); err != nil {
		return Report{}, err
	}
	report.Period = Period(period)
	var err error
	if report.GeneratedAt, err = parseTime(generated); err != nil {
		return Report{}, err
	}
	if report.WindowStart, err = parseTime(start); err != nil {
		return Report{}, err
	}
	if report.WindowEnd, err = parseTime(end); err != nil {
		return Report{}, err
	}
	report.SummaryMetrics = map[string]float64{}
	if err := json.Unmarshal([]byte(metrics), &report.SummaryMetrics); err != nil {
		return Report{}, fmt.Errorf("decode report metrics: %w", err)
	}
	return report, nil
}

// isUniqueViolation reports whether err is the driver's constraint error for
// a duplicate key.
func isUniqueViolation(err error) bool {
	var coded interface{ Code() int }
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code() {
	// the plain constraint code shows up when extended result codes are
	// off; the id is the only constraint an insert into reports can break
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}
