package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Report is a report shown to signed in users.
type Report struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reports is the reports DAO.
type Reports struct {
	s *Store
}

const reportColumns = `id, title, content, created_at, updated_at`

// FindByID returns the report, or ErrNotFound.
func (r *Reports) FindByID(ctx context.Context, id int64) (*Report, error) {
	const op = "Reports.FindByID"
	row := r.s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: report %d: %w", op, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return report, nil
}

// FindAll returns every report, oldest first.
func (r *Reports) FindAll(ctx context.Context) ([]*Report, error) {
	const op = "Reports.FindAll"
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	reports := []*Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return reports, nil
}

// ReportTitles returns the titles of every report, oldest first.
func (r *Reports) ReportTitles(ctx context.Context) ([]string, error) {
	const op = "Reports.ReportTitles"
	reports, err := r.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	titles := make([]string, 0, len(reports))
	for _, report := range reports {
		titles = append(titles, report.Title)
	}
	return titles, nil
}

// Add inserts the report and returns it with its id.
func (r *Reports) Add(ctx context.Context, report *Report) (*Report, error) {
	const op = "Reports.Add"
	if err := validateReport(report); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := toMillis(r.s.nowUTC())
	res, err := r.s.db.ExecContext(ctx,
		`INSERT INTO reports (title, content, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(report.Title),
		report.Content,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r.FindByID(ctx, id)
}

// Update replaces the report's title and content. It returns ErrNotFound
// for an unknown report.
func (r *Reports) Update(ctx context.Context, report *Report) (*Report, error) {
	const op = "Reports.Update"
	if err := validateReport(report); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE reports SET title = ?, content = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(report.Title),
		report.Content,
		toMillis(r.s.nowUTC()),
		report.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%s: report %d: %w", op, report.ID, ErrNotFound)
	}
	return r.FindByID(ctx, report.ID)
}

// Delete removes the report. It returns ErrNotFound for an unknown report.
func (r *Reports) Delete(ctx context.Context, id int64) error {
	const op = "Reports.Delete"
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: report %d: %w", op, id, ErrNotFound)
	}
	return nil
}

func validateReport(report *Report) error {
	if report == nil {
		return fmt.Errorf("report is nil: %w", ErrInvalidParameter)
	}
	if strings.TrimSpace(report.Title) == "" {
		return fmt.Errorf("report title is empty: %w", ErrInvalidParameter)
	}
	return nil
}

func scanReport(row scanner) (*Report, error) {
	var (
		report               Report
		createdAt, updatedAt int64
	)
	if err := row.Scan(&report.ID, &report.Title, &report.Content, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	report.CreatedAt = fromMillis(createdAt)
	report.UpdatedAt = fromMillis(updatedAt)
	return &report, nil
}
