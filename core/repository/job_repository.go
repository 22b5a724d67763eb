package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"orka-vector-api/core/models"

	"github.com/lib/pq"
)

// JobRepository handles database operations for jobs
type JobRepository struct {
	db     *DB
	schema string
	table  string
	now    func() time.Time
}

// NewJobRepository creates a new job repository on schema.table
func NewJobRepository(db *DB, schema, table string) *JobRepository {
	return &JobRepository{db: db, schema: schema, table: table, now: time.Now}
}

const jobColumns = `id, minx, miny, maxx, maxy, layers, status, data_id, created_at, updated_at`

func (r *JobRepository) qualifiedTable() (string, error) {
	if err := CheckIdentifier(r.schema); err != nil {
		return "", fmt.Errorf("schema: %w", err)
	}
	if err := CheckIdentifier(r.table); err != nil {
		return "", fmt.Errorf("table: %w", err)
	}
	return pq.QuoteIdentifier(r.schema) + "." + pq.QuoteIdentifier(r.table), nil
}

// Create persists a new job in INIT and returns its id
func (r *JobRepository) Create(ctx context.Context, bbox models.BBox, dataID string, layers []string) (int64, error) {
	table, err := r.qualifiedTable()
	if err != nil {
		return 0, err
	}
	if err := bbox.Validate(); err != nil {
		return 0, err
	}
	if err := checkText("data_id", dataID); err != nil {
		return 0, err
	}
	if err := CheckLayers(layers); err != nil {
		return 0, err
	}

	var layersCol sql.NullString
	if layers != nil {
		layersCol = sql.NullString{String: strings.Join(layers, ","), Valid: true}
	}

	query := `INSERT INTO ` + table + ` (minx, miny, maxx, maxy, layers, status, data_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	now := r.now().UnixMilli()
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		bbox.MinX(),
		bbox.MinY(),
		bbox.MaxX(),
		bbox.MaxY(),
		layersCol,
		string(models.JobStatusInit),
		dataID,
		now,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// Update applies a partial update. Moving a terminal job back to INIT or
// RUNNING is refused; everything else is last-write-wins.
func (r *JobRepository) Update(ctx context.Context, jobID int64, patch models.JobPatch) error {
	table, err := r.qualifiedTable()
	if err != nil {
		return err
	}
	if patch.Status == nil {
		return fmt.Errorf("%w: nothing to update", models.ErrInvalidProperties)
	}
	status, err := models.ParseJobStatus(string(*patch.Status))
	if err != nil {
		return err
	}

	query := `UPDATE ` + table + ` SET status = $1, updated_at = $2 WHERE id = $3`
	if !status.IsTerminal() {
		query += ` AND status IN ('INIT', 'RUNNING')`
	}

	res, err := r.db.ExecContext(ctx, query, string(status), r.now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("update job %d: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w: job %d is already terminal", models.ErrInvalidTransition, models.ErrInvalidProperties, jobID)
	}

	switch status {
	case models.JobStatusError, models.JobStatusTimeout:
		log.Printf("Job %d finished with status %s", jobID, status)
	case models.JobStatusInit, models.JobStatusRunning, models.JobStatusCreated:
	}
	return nil
}

// Get retrieves the raw job record, including its data id
func (r *JobRepository) Get(ctx context.Context, jobID int64) (*models.Job, error) {
	table, err := r.qualifiedTable()
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM `+table+` WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", jobID, models.ErrNotFound)
	}
	return job, err
}

// GetIDByDataID looks a job up by its artifact token
func (r *JobRepository) GetIDByDataID(ctx context.Context, dataID string) (int64, bool, error) {
	table, err := r.qualifiedTable()
	if err != nil {
		return 0, false, err
	}
	if err := checkText("data_id", dataID); err != nil {
		return 0, false, err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE data_id = $1 LIMIT 1`, dataID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Delete removes the record and reports whether exactly one row went away
func (r *JobRepository) Delete(ctx context.Context, jobID int64) (bool, error) {
	table, err := r.qualifiedTable()
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, jobID)
	if err != nil {
		return false, fmt.Errorf("delete job %d: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// CountRunning counts jobs currently in RUNNING
func (r *JobRepository) CountRunning(ctx context.Context) (int, error) {
	table, err := r.qualifiedTable()
	if err != nil {
		return 0, err
	}

	var n int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE status = $1`, string(models.JobStatusRunning)).Scan(&n)
	return n, err
}

// CountByStatus groups all jobs by status
func (r *JobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	table, err := r.qualifiedTable()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		parsed, err := models.ParseJobStatus(status)
		if err != nil {
			return nil, err
		}
		counts[parsed] = n
	}
	return counts, rows.Err()
}

// ListStale lists jobs in status whose last update is before cutoff, in id
// order starting after afterID. Pass the last id of a page to get the next.
func (r *JobRepository) ListStale(ctx context.Context, status models.JobStatus, cutoff time.Time, afterID int64, limit int) ([]*models.Job, error) {
	table, err := r.qualifiedTable()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM `+table+` WHERE status = $1 AND updated_at < $2 AND id > $3 ORDER BY id LIMIT $4`,
		string(status), cutoff.UnixMilli(), afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var layers sql.NullString
	var status string
	var createdMs, updatedMs int64

	err := row.Scan(
		&job.ID,
		&job.BBox[0],
		&job.BBox[1],
		&job.BBox[2],
		&job.BBox[3],
		&layers,
		&status,
		&job.DataID,
		&createdMs,
		&updatedMs,
	)
	if err != nil {
		return nil, err
	}

	job.Status, err = models.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	if layers.Valid {
		job.Layers = strings.Split(layers.String, ",")
	}
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)
	return &job, nil
}
