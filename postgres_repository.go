package retrydlq

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver used by migrations
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const (
	postgresInsertSQL = `
INSERT INTO dead_letter (service_name, payload, error_message, attempts, trace_id, span_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id;
`

	postgresUpsertSQL = `
INSERT INTO dead_letter (id, service_name, payload, error_message, attempts, trace_id, span_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET error_message = EXCLUDED.error_message,
    attempts = EXCLUDED.attempts;
`

	postgresSelectSQL = `
SELECT id, service_name, payload, error_message, attempts, trace_id, span_id, created_at
FROM dead_letter
`

	postgresCountSQL = `
SELECT COUNT(*), service_name
FROM dead_letter
GROUP BY service_name
ORDER BY service_name;
`

	postgresDeleteSQL = `
DELETE FROM dead_letter
WHERE id = $1;
`

	postgresDeleteExpiredSQL = `
DELETE FROM dead_letter
WHERE id IN (
    SELECT id FROM dead_letter
    WHERE created_at < $1
    ORDER BY id
    LIMIT $2
);
`
)

// PostgresRepository stores dead letters in PostgreSQL through a pgx pool.
// The schema is applied by MigratePostgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ DeadLetterRepository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Save(ctx context.Context, record DeadLetterRecord) (DeadLetterRecord, error) {
	if r.pool == nil {
		return DeadLetterRecord{}, fmt.Errorf("dead letter store: nil pool")
	}
	if err := validateRecord(record); err != nil {
		return DeadLetterRecord{}, fmt.Errorf("dead letter store: validation failed: %w", err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if !record.IsPersisted() {
		err := r.pool.QueryRow(ctx, postgresInsertSQL,
			record.ServiceName,
			record.Payload,
			record.ErrorMessage,
			record.Attempts,
			textOrNull(record.TraceID),
			textOrNull(record.SpanID),
			record.CreatedAt,
		).Scan(&record.ID)
		if err != nil {
			return DeadLetterRecord{}, fmt.Errorf("dead letter store: insert: %w", err)
		}
		return record, nil
	}

	_, err := r.pool.Exec(ctx, postgresUpsertSQL,
		record.ID,
		record.ServiceName,
		record.Payload,
		record.ErrorMessage,
		record.Attempts,
		textOrNull(record.TraceID),
		textOrNull(record.SpanID),
		record.CreatedAt,
	)
	if err != nil {
		return DeadLetterRecord{}, fmt.Errorf("dead letter store: update %d: %w", record.ID, err)
	}

	return record, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (DeadLetterRecord, error) {
	if r.pool == nil {
		return DeadLetterRecord{}, fmt.Errorf("dead letter store: nil pool")
	}

	record, err := scanPostgresRecord(r.pool.QueryRow(ctx, postgresSelectSQL+"WHERE id = $1;", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return DeadLetterRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return DeadLetterRecord{}, fmt.Errorf("dead letter store: find %d: %w", id, err)
	}

	return record, nil
}

func (r *PostgresRepository) FindByServiceName(ctx context.Context, serviceName string) ([]DeadLetterRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("dead letter store: nil pool")
	}

	rows, err := r.pool.Query(ctx, postgresSelectSQL+"WHERE service_name = $1 ORDER BY id ASC;", serviceName)
	if err != nil {
		return nil, fmt.Errorf("dead letter store: list: %w", err)
	}
	defer rows.Close()

	records := []DeadLetterRecord{}
	for rows.Next() {
		record, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dead letter store: scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dead letter store: iterate records: %w", err)
	}

	return records, nil
}

func (r *PostgresRepository) CountByServiceName(ctx context.Context) ([]ServiceNameCount, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("dead letter store: nil pool")
	}

	rows, err := r.pool.Query(ctx, postgresCountSQL)
	if err != nil {
		return nil, fmt.Errorf("dead letter store: count: %w", err)
	}
	defer rows.Close()

	counts := []ServiceNameCount{}
	for rows.Next() {
		var count ServiceNameCount
		if err := rows.Scan(&count.Count, &count.ServiceName); err != nil {
			return nil, fmt.Errorf("dead letter store: scan count: %w", err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dead letter store: iterate counts: %w", err)
	}

	return counts, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, record DeadLetterRecord) error {
	if r.pool == nil {
		return fmt.Errorf("dead letter store: nil pool")
	}
	if !record.IsPersisted() {
		return nil
	}

	if _, err := r.pool.Exec(ctx, postgresDeleteSQL, record.ID); err != nil {
		return fmt.Errorf("dead letter store: delete %d: %w", record.ID, err)
	}

	return nil
}

func (r *PostgresRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("dead letter store: nil pool")
	}

	tag, err := r.pool.Exec(ctx, postgresDeleteExpiredSQL, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("dead letter store: delete expired: %w", err)
	}

	return tag.RowsAffected(), nil
}

// MigratePostgres applies the embedded dead_letter migrations to the database at dsn.
func MigratePostgres(ctx context.Context, dsn string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Warn("Failed to close migrations source", zap.Error(sourceErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migrations database", zap.Error(dbErr))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Dead letter migrations up-to-date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("Dead letter migrations applied")
	return nil
}

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func scanPostgresRecord(row rowScanner) (DeadLetterRecord, error) {
	var (
		record  DeadLetterRecord
		traceID pgtype.Text
		spanID  pgtype.Text
	)

	err := row.Scan(
		&record.ID,
		&record.ServiceName,
		&record.Payload,
		&record.ErrorMessage,
		&record.Attempts,
		&traceID,
		&spanID,
		&record.CreatedAt,
	)
	if err != nil {
		return DeadLetterRecord{}, err
	}

	if traceID.Valid {
		record.TraceID = traceID.String
	}
	if spanID.Valid {
		record.SpanID = spanID.String
	}
	record.CreatedAt = record.CreatedAt.UTC()

	return record, nil
}
