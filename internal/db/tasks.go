package db

import (
	"context"
	"encoding/json"
	"fmt"

	"ops-gateway/internal/models"
)

// RecordTask archives a terminal task. Payload and result are stored as
// JSONB so the schema stays stable across task types.
func (d *DB) RecordTask(ctx context.Context, task *models.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for task %s: %w", task.ID, err)
	}
	var result []byte
	if task.Result != nil {
		result, err = json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result for task %s: %w", task.ID, err)
		}
	}

	query := `
    INSERT INTO task_archive (
        id, type, priority, payload, status, error, result, retry_count,
        created_at, completed_at
    ) VALUES (
        $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
    ) ON CONFLICT (id) DO UPDATE SET
        status = EXCLUDED.status,
        error = EXCLUDED.error,
        result = EXCLUDED.result,
        retry_count = EXCLUDED.retry_count,
        completed_at = EXCLUDED.completed_at`

	_, err = d.Pool.Exec(ctx, query,
		task.ID,
		string(task.Type),
		string(task.Priority),
		payload,
		string(task.Status),
		task.Error,
		result,
		task.RetryCount,
		task.CreatedAt,
		task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}
