package surge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository persists per-cell surge audit rows in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new surge audit repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertCell writes the latest computed state for a cell.
func (r *Repository) UpsertCell(ctx context.Context, cell CellAudit) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO geo_cells (cell_id, region, surge_factor, driver_count, open_ride_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cell_id) DO UPDATE
		SET region = EXCLUDED.region,
		    surge_factor = EXCLUDED.surge_factor,
		    driver_count = EXCLUDED.driver_count,
		    open_ride_count = EXCLUDED.open_ride_count,
		    updated_at = EXCLUDED.updated_at`,
		cell.CellID, cell.Region, cell.SurgeFactor, cell.DriverCount, cell.OpenRideCount, cell.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert geo cell: %w", err)
	}
	return nil
}

// GetCell returns the audit row for a cell, or (nil, nil) when none exists.
func (r *Repository) GetCell(ctx context.Context, cellID string) (*CellAudit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT cell_id, region, surge_factor, driver_count, open_ride_count, updated_at
		FROM geo_cells
		WHERE cell_id = $1`,
		cellID,
	)

	var cell CellAudit
	err := row.Scan(&cell.CellID, &cell.Region, &cell.SurgeFactor, &cell.DriverCount, &cell.OpenRideCount, &cell.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geo cell: %w", err)
	}
	return &cell, nil
}

// CellsByRegion lists audit rows for a region ordered by surge factor.
func (r *Repository) CellsByRegion(ctx context.Context, region string, limit int) ([]CellAudit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cell_id, region, surge_factor, driver_count, open_ride_count, updated_at
		FROM geo_cells
		WHERE region = $1
		ORDER BY surge_factor DESC
		LIMIT $2`,
		region, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list geo cells: %w", err)
	}
	defer rows.Close()

	var cells []CellAudit
	for rows.Next() {
		var cell CellAudit
		err := rows.Scan(&cell.CellID, &cell.Region, &cell.SurgeFactor, &cell.DriverCount, &cell.OpenRideCount, &cell.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan geo cell: %w", err)
		}
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}
