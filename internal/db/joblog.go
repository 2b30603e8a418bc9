package db

import (
	"context"
	"fmt"
	"time"

	"github.com/modulab/foreman/internal/foreman"
)

// AppendJobLog stores one scheduler fire record.
func (d *DB) AppendJobLog(ctx context.Context, l *foreman.JobLog) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO job_logs (id, job_id, workflow_id, workflow_name, status, detail, run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.JobID, l.WorkflowID, l.WorkflowName, l.Status, l.Detail, l.RunAt,
	)
	if err != nil {
		return fmt.Errorf("insert job log: %w", err)
	}
	return nil
}

// ListJobLogs returns the newest records first.
func (d *DB) ListJobLogs(ctx context.Context, limit int) ([]*foreman.JobLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id, job_id, workflow_id, workflow_name, status, detail, run_at
		 FROM job_logs ORDER BY run_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var result []*foreman.JobLog
	for rows.Next() {
		l := &foreman.JobLog{}
		if err := rows.Scan(&l.ID, &l.JobID, &l.WorkflowID, &l.WorkflowName,
			&l.Status, &l.Detail, &l.RunAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		l.RunAt = l.RunAt.In(d.loc)
		result = append(result, l)
	}
	return result, rows.Err()
}

// DeleteJobLogsOlderThan removes records with run_at before cutoff and
// returns the number removed.
func (d *DB) DeleteJobLogsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM job_logs WHERE run_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete job logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
