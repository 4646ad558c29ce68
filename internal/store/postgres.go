package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies the *.sql files in dir in lexical order, skipping those
// already recorded in schema_migrations. Each file runs in its own transaction.
func (p *Postgres) MigrateDir(dir string) error {
	ctx := context.Background()
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("migrate: read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		var applied bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if applied {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const jobColumns = `id::text, tenant_id, status, solver_type, strategy, input_hash, input_data, result_data,
    solution_quality_score, execution_time_ms, error_message, error_kind, retry_count, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var status, strategy, errMsg, errKind sql.NullString
	var input, result []byte
	var quality sql.NullFloat64
	var execMs sql.NullInt64
	var started, completed sql.NullTime
	if err := row.Scan(&j.ID, &j.TenantID, &status, &j.SolverType, &strategy, &j.InputHash, &input, &result,
		&quality, &execMs, &errMsg, &errKind, &j.RetryCount, &j.CreatedAt, &started, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, err
	}
	j.Status = JobStatus(status.String)
	j.Strategy = strategy.String
	j.ErrorMessage = errMsg.String
	j.ErrorKind = errKind.String
	if len(input) > 0 {
		j.Input = input
	}
	if len(result) > 0 {
		j.Result = result
	}
	if quality.Valid {
		q := quality.Float64
		j.QualityScore = &q
	}
	if execMs.Valid {
		ms := execMs.Int64
		j.ExecutionTimeMs = &ms
	}
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return j, nil
}

func (p *Postgres) CreateJob(ctx context.Context, j Job) (Job, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO optimization_jobs (id, tenant_id, status, solver_type, strategy, input_hash, input_data, retry_count, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8,$9) RETURNING `+jobColumns,
		j.ID, j.TenantID, string(StatusPending), j.SolverType, nullIfEmpty(j.Strategy), j.InputHash, nullJSON(j.Input), j.RetryCount, j.CreatedAt)
	out, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	return out, nil
}

// transition applies an UPDATE guarded by the allowed source statuses and
// tells a missing job apart from a refused transition.
func (p *Postgres) transition(ctx context.Context, tenantID, id string, to JobStatus, set string, args ...any) (Job, error) {
	var from []string
	for _, s := range []JobStatus{StatusPending, StatusRunning} {
		if CanTransition(s, to) {
			from = append(from, string(s))
		}
	}
	base := []any{tenantID, id, string(to), strings.Join(from, ",")}
	q := `UPDATE optimization_jobs SET status=$3` + set + `
        WHERE tenant_id=$1 AND id::text=$2 AND status = ANY(string_to_array($4, ','))
        RETURNING ` + jobColumns
	j, err := scanJob(p.db.QueryRowContext(ctx, q, append(base, args...)...))
	if errors.Is(err, ErrNotFound) {
		cur, gerr := p.GetJob(ctx, tenantID, id)
		if gerr != nil {
			return Job{}, gerr
		}
		return cur, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	return j, err
}

func (p *Postgres) StartJob(ctx context.Context, tenantID, id string) (Job, error) {
	return p.transition(ctx, tenantID, id, StatusRunning, `, started_at=now()`)
}

func (p *Postgres) FinishJob(ctx context.Context, tenantID, id string, out Outcome) (Job, error) {
	if !out.Status.Terminal() {
		return Job{}, fmt.Errorf("%w: finish with %s", ErrInvalidTransition, out.Status)
	}
	var quality, execMs any
	if out.QualityScore != nil {
		quality = *out.QualityScore
	}
	if out.ExecutionTimeMs != nil {
		execMs = *out.ExecutionTimeMs
	}
	return p.transition(ctx, tenantID, id, out.Status,
		`, strategy=COALESCE($5, strategy), result_data=$6::jsonb, solution_quality_score=$7, execution_time_ms=$8,
          error_message=$9, error_kind=$10, completed_at=now()`,
		nullIfEmpty(out.Strategy), nullJSON(out.Result), quality, execMs, nullIfEmpty(out.ErrorMessage), nullIfEmpty(out.ErrorKind))
}

func (p *Postgres) CancelJob(ctx context.Context, tenantID, id string) (Job, error) {
	return p.transition(ctx, tenantID, id, StatusCancelled, `, completed_at=now()`)
}

func (p *Postgres) GetJob(ctx context.Context, tenantID, id string) (Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM optimization_jobs WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	return scanJob(row)
}

func (p *Postgres) ListJobs(ctx context.Context, tenantID string, status JobStatus, cursor string, limit int) ([]Job, string, error) {
	limit = clampLimit(limit)
	where := []string{"tenant_id=$1"}
	args := []any{tenantID}
	if status != "" {
		args = append(args, string(status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if cursor != "" {
		args = append(args, cursor)
		where = append(where, fmt.Sprintf("(created_at, id) < (SELECT created_at, id FROM optimization_jobs WHERE id::text=$%d)", len(args)))
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT %s FROM optimization_jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		jobColumns, strings.Join(where, " AND "), len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
