package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store provides the SQLite-backed operation journal
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would get its own empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Operation Journal
// ============================================================================

// CreateOperation inserts a new Operation and sets its ID
func (s *Store) CreateOperation(op *Operation) error {
	const query = `
		INSERT INTO operations (
			kind, archive, path, status, bytes, count,
			error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		op.Kind, op.Archive, op.Path, op.Status, op.Bytes, op.Count,
		op.ErrorMessage, op.StartTime, op.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	op.ID = id
	return nil
}

// GetOperation retrieves an Operation by ID
func (s *Store) GetOperation(id int64) (*Operation, error) {
	const query = `
		SELECT id, kind, archive, path, status, bytes, count,
		       error_message, start_time, end_time
		FROM operations WHERE id = ?
	`

	op := &Operation{}
	err := s.db.QueryRow(query, id).Scan(
		&op.ID, &op.Kind, &op.Archive, &op.Path, &op.Status, &op.Bytes,
		&op.Count, &op.ErrorMessage, &op.StartTime, &op.EndTime,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("operation not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query operation: %w", err)
	}

	return op, nil
}

// ListOperations retrieves Operations newest first, optionally filtered by kind
func (s *Store) ListOperations(kind string, limit int) ([]Operation, error) {
	query := `
		SELECT id, kind, archive, path, status, bytes, count,
		       error_message, start_time, end_time
		FROM operations
	`
	var args []interface{}

	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op := Operation{}
		err := rows.Scan(
			&op.ID, &op.Kind, &op.Archive, &op.Path, &op.Status, &op.Bytes,
			&op.Count, &op.ErrorMessage, &op.StartTime, &op.EndTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// CountOperations returns the number of journal entries, optionally filtered by kind
func (s *Store) CountOperations(kind string) (int, error) {
	query := "SELECT COUNT(*) FROM operations"
	var args []interface{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return count, nil
}

// LastOperation returns the most recent operation for an archive, or nil if none exists
func (s *Store) LastOperation(archive string) (*Operation, error) {
	const query = `
		SELECT id, kind, archive, path, status, bytes, count,
		       error_message, start_time, end_time
		FROM operations WHERE archive = ?
		ORDER BY start_time DESC, id DESC LIMIT 1
	`

	op := &Operation{}
	err := s.db.QueryRow(query, archive).Scan(
		&op.ID, &op.Kind, &op.Archive, &op.Path, &op.Status, &op.Bytes,
		&op.Count, &op.ErrorMessage, &op.StartTime, &op.EndTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last operation: %w", err)
	}
	return op, nil
}
