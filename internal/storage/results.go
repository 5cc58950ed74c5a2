package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tberends/heron/internal/zonal"
)

// Run records one pipeline invocation.
type Run struct {
	ID             string
	Source         string
	OutputName     string
	TotalPoints    int
	RetainedPoints int
	RasterMode     string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// RecordRun inserts a run row and returns its generated identifier.
func (db *DB) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (run_id, source, output_name, total_points, retained_points, raster_mode, started_unix, finished_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.OutputName, run.TotalPoints, run.RetainedPoints,
		run.RasterMode, run.StartedAt.Unix(), run.FinishedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return run.ID, nil
}

// RecordZonal stores one table of per-waterdeel statistics for a run.
// Empty entries are stored with a NULL value so no-data stays
// distinguishable from any real elevation.
func (db *DB) RecordZonal(ctx context.Context, runID string, statistic string, table zonal.Table) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record zonal stats: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO zonal_stats (run_id, waterdeel_id, statistic, value, point_count)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record zonal stats: %w", err)
	}
	defer stmt.Close()

	for _, id := range table.IDs() {
		e := table[id]
		var value any
		if e.Count > 0 {
			value = e.Value
		}
		if _, err := stmt.ExecContext(ctx, runID, id, statistic, value, e.Count); err != nil {
			return fmt.Errorf("record zonal stat for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ZonalHistory returns the recorded statistics for one water body across
// runs, oldest first.
func (db *DB) ZonalHistory(ctx context.Context, waterdeelID string) ([]ZonalRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT z.run_id, z.statistic, z.value, z.point_count, r.finished_unix
		FROM zonal_stats z JOIN runs r ON r.run_id = z.run_id
		WHERE z.waterdeel_id = ?
		ORDER BY r.finished_unix ASC`, waterdeelID)
	if err != nil {
		return nil, fmt.Errorf("query zonal history: %w", err)
	}
	defer rows.Close()

	var out []ZonalRecord
	for rows.Next() {
		var rec ZonalRecord
		var value *float64
		var finished int64
		if err := rows.Scan(&rec.RunID, &rec.Statistic, &value, &rec.PointCount, &finished); err != nil {
			return nil, fmt.Errorf("scan zonal history: %w", err)
		}
		rec.Value = value
		rec.FinishedAt = time.Unix(finished, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ZonalRecord is one historical zonal statistic. Value is nil for no-data.
type ZonalRecord struct {
	RunID      string
	Statistic  string
	Value      *float64
	PointCount int
	FinishedAt time.Time
}
