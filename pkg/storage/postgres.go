package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createDecisionsTable = `
CREATE TABLE IF NOT EXISTS scaling_decisions (
	id               BIGSERIAL PRIMARY KEY,
	service          TEXT NOT NULL,
	metric           TEXT NOT NULL,
	metric_value     DOUBLE PRECISION NOT NULL,
	current_capacity INTEGER NOT NULL,
	desired_capacity INTEGER NOT NULL,
	step_lower       DOUBLE PRECISION,
	step_upper       DOUBLE PRECISION,
	step_change      INTEGER NOT NULL,
	suppressed       BOOLEAN NOT NULL,
	applied          BOOLEAN NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scaling_decisions_service_created_at
	ON scaling_decisions (service, created_at DESC);
`

const decisionColumns = `service, metric, metric_value, current_capacity, desired_capacity,
	step_lower, step_upper, step_change, suppressed, applied, created_at`

// PostgresStore appends every decision to the scaling_decisions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects with dsn and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createDecisionsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create scaling_decisions: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) Put(ctx context.Context, d Decision) error {
	if d.Service == "" {
		return errors.New("decision has no service")
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO scaling_decisions (`+decisionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.Service, d.Metric, d.MetricValue, d.CurrentCapacity, d.DesiredCapacity,
		d.StepLower, d.StepUpper, d.StepChange, d.Suppressed, d.Applied, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.Service, err)
	}
	return nil
}

func (p *PostgresStore) GetLatest(ctx context.Context, service string) (Decision, bool, error) {
	return p.queryOne(ctx,
		`SELECT `+decisionColumns+` FROM scaling_decisions
		 WHERE service = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, service)
}

func (p *PostgresStore) GetLastChange(ctx context.Context, service string) (Decision, bool, error) {
	return p.queryOne(ctx,
		`SELECT `+decisionColumns+` FROM scaling_decisions
		 WHERE service = $1 AND applied AND desired_capacity <> current_capacity
		 ORDER BY created_at DESC, id DESC LIMIT 1`, service)
}

func (p *PostgresStore) queryOne(ctx context.Context, sql string, service string) (Decision, bool, error) {
	var d Decision
	err := p.pool.QueryRow(ctx, sql, service).Scan(
		&d.Service, &d.Metric, &d.MetricValue, &d.CurrentCapacity, &d.DesiredCapacity,
		&d.StepLower, &d.StepUpper, &d.StepChange, &d.Suppressed, &d.Applied, &d.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("query decision %s: %w", service, err)
	}
	return d, true, nil
}
