package retrydlq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlInsertQuery = `
		INSERT INTO dead_letter
		(service_name, payload, error_message, attempts, trace_id, span_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	mysqlUpsertQuery = `
		INSERT INTO dead_letter
		(id, service_name, payload, error_message, attempts, trace_id, span_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			error_message = VALUES(error_message),
			attempts = VALUES(attempts)
	`

	mysqlSelectColumns = `
		SELECT id, service_name, payload, error_message, attempts, trace_id, span_id, created_at
		FROM dead_letter
	`
)

// MySQLRepository stores dead letters in the dead_letter table. The DSN of
// db must enable parseTime.
type MySQLRepository struct {
	db *sql.DB
}

var _ DeadLetterRepository = (*MySQLRepository)(nil)

func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) Save(ctx context.Context, record DeadLetterRecord) (DeadLetterRecord, error) {
	if err := validateRecord(record); err != nil {
		return DeadLetterRecord{}, fmt.Errorf("validation failed: %w", err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if !record.IsPersisted() {
		result, err := r.db.ExecContext(ctx, mysqlInsertQuery,
			record.ServiceName,
			record.Payload,
			record.ErrorMessage,
			record.Attempts,
			nullString(record.TraceID),
			nullString(record.SpanID),
			record.CreatedAt,
		)
		if err != nil {
			return DeadLetterRecord{}, fmt.Errorf("failed to insert dead letter: %w", convertFromMySQLError(err))
		}

		id, err := result.LastInsertId()
		if err != nil {
			return DeadLetterRecord{}, fmt.Errorf("failed to get inserted dead letter id: %w", err)
		}
		record.ID = id

		return record, nil
	}

	_, err := r.db.ExecContext(ctx, mysqlUpsertQuery,
		record.ID,
		record.ServiceName,
		record.Payload,
		record.ErrorMessage,
		record.Attempts,
		nullString(record.TraceID),
		nullString(record.SpanID),
		record.CreatedAt,
	)
	if err != nil {
		return DeadLetterRecord{}, fmt.Errorf("failed to update dead letter %d: %w", record.ID, convertFromMySQLError(err))
	}

	return record, nil
}

func (r *MySQLRepository) FindByID(ctx context.Context, id int64) (DeadLetterRecord, error) {
	row := r.db.QueryRowContext(ctx, mysqlSelectColumns+" WHERE id = ?", id)

	record, err := scanMySQLRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetterRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return DeadLetterRecord{}, fmt.Errorf("failed to find dead letter %d: %w", id, convertFromMySQLError(err))
	}

	return record, nil
}

func (r *MySQLRepository) FindByServiceName(ctx context.Context, serviceName string) ([]DeadLetterRecord, error) {
	rows, err := r.db.QueryContext(ctx, mysqlSelectColumns+" WHERE service_name = ? ORDER BY id ASC", serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", convertFromMySQLError(err))
	}
	defer rows.Close()

	records := []DeadLetterRecord{}
	for rows.Next() {
		record, err := scanMySQLRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letters: %w", err)
	}

	return records, nil
}

func (r *MySQLRepository) CountByServiceName(ctx context.Context) ([]ServiceNameCount, error) {
	query := `
		SELECT COUNT(*), service_name
		FROM dead_letter
		GROUP BY service_name
		ORDER BY service_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", convertFromMySQLError(err))
	}
	defer rows.Close()

	counts := []ServiceNameCount{}
	for rows.Next() {
		var count ServiceNameCount
		if err := rows.Scan(&count.Count, &count.ServiceName); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter count: %w", err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter counts: %w", err)
	}

	return counts, nil
}

func (r *MySQLRepository) Delete(ctx context.Context, record DeadLetterRecord) error {
	if !record.IsPersisted() {
		return nil
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM dead_letter WHERE id = ?", record.ID); err != nil {
		return fmt.Errorf("failed to delete dead letter %d: %w", record.ID, convertFromMySQLError(err))
	}

	return nil
}

// DeleteCreatedBefore removes up to limit records older than cutoff.
func (r *MySQLRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM dead_letter WHERE created_at < ? LIMIT ?", cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup dead letters: %w", convertFromMySQLError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func CreateDeadLetterTable(ctx context.Context, db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS dead_letter (
			id            bigint auto_increment primary key,
			service_name  varchar(255) not null,
			payload       longtext     not null,
			error_message text         not null,
			attempts      int          not null default 0,
			trace_id      char(32)     null,
			span_id       char(16)     null,
			created_at    timestamp(6) not null default current_timestamp(6),
			INDEX idx_service_name (service_name, id),
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create dead_letter table: %w", err)
	}

	return nil
}

// convertFromMySQLError maps driver error numbers onto the package's
// sentinel errors, keeping the driver error in the chain.
func convertFromMySQLError(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062: // duplicate entry
			return errors.Join(ErrRecordAlreadyExists, err)
		case 1146: // table doesn't exist
			return errors.Join(ErrStoreNotInitialized, err)
		}
	}

	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMySQLRecord(row rowScanner) (DeadLetterRecord, error) {
	var (
		record  DeadLetterRecord
		traceID sql.NullString
		spanID  sql.NullString
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

	return record, nil
}
