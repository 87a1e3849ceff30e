package db

import (
	"context"
	"fmt"

	"ops-gateway/internal/models"
)

// RecordAlert archives a consumed alert.
func (d *DB) RecordAlert(ctx context.Context, alert models.Alert) error {
	query := `
    INSERT INTO alert_archive (
        id, type, severity, service, message, timestamp
    ) VALUES (
        $1, $2, $3, $4, $5, $6
    ) ON CONFLICT (id) DO NOTHING`

	_, err := d.Pool.Exec(ctx, query,
		alert.ID,
		alert.Type,
		string(alert.Severity),
		alert.Service,
		alert.Message,
		alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// RecentAlerts returns the newest archived alerts, most recent first.
func (d *DB) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
    SELECT id, type, severity, service, message, timestamp
    FROM alert_archive
    ORDER BY timestamp DESC
    LIMIT $1`

	rows, err := d.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var severity string
		if err := rows.Scan(&a.ID, &a.Type, &severity, &a.Service, &a.Message, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		a.Severity = models.AlertSeverity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}
