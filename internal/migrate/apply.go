package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const markerTable = "schema_migrations"

type appliedStep struct {
	name     string
	checksum string
}

// ApplyPending brings db up to date with the registry and returns how many
// steps ran. A database that is already current yields (0, nil).
//
// Every error is a *MigrationError. After an error no further store access
// is safe for this session.
func (r *Registry) ApplyPending(ctx context.Context, db *sql.DB) (int, error) {
	if db == nil {
		return 0, &MigrationError{Err: errors.New("database is required")}
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+markerTable+` (
			seq INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return 0, &MigrationError{Err: fmt.Errorf("ensure marker table: %w", err)}
	}

	applied, err := readApplied(ctx, db)
	if err != nil {
		return 0, &MigrationError{Err: err}
	}

	highest := 0
	for seq, a := range applied {
		highest = max(highest, seq)
		if seq > r.Latest() {
			return 0, &MigrationError{
				Seq:  seq,
				Name: a.name,
				Err:  fmt.Errorf("database is at step %d, newer than this build (latest %d)", seq, r.Latest()),
			}
		}
	}

	count := 0
	for _, step := range r.steps {
		if a, ok := applied[step.Seq]; ok {
			if a.checksum != step.Checksum {
				return count, &MigrationError{
					Seq:  step.Seq,
					Name: step.Name,
					Err:  fmt.Errorf("%w: recorded %s, build has %s", ErrChecksumMismatch, short(a.checksum), short(step.Checksum)),
				}
			}
			continue
		}

		highest = max(highest, step.Seq)
		if err := applyStep(ctx, db, step, highest); err != nil {
			return count, &MigrationError{Seq: step.Seq, Name: step.Name, Err: err}
		}
		count++
	}

	return count, nil
}

// Version returns the highest applied step, or 0 for a fresh database.
func (r *Registry) Version(ctx context.Context, db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", markerTable,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("check marker table: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM "+markerTable,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Pending returns the steps not yet recorded in db, in ascending order.
func (r *Registry) Pending(ctx context.Context, db *sql.DB) ([]Step, error) {
	version, err := r.Version(ctx, db)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return r.Steps(), nil
	}

	applied, err := readApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []Step
	for _, step := range r.steps {
		if _, ok := applied[step.Seq]; !ok {
			pending = append(pending, step)
		}
	}
	return pending, nil
}

func readApplied(ctx context.Context, db *sql.DB) (map[int]appliedStep, error) {
	rows, err := db.QueryContext(ctx, "SELECT seq, name, checksum FROM "+markerTable+" ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("read applied steps: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]appliedStep)
	for rows.Next() {
		var seq int
		var a appliedStep
		if err := rows.Scan(&seq, &a.name, &a.checksum); err != nil {
			return nil, fmt.Errorf("scan applied step: %w", err)
		}
		applied[seq] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied steps: %w", err)
	}
	return applied, nil
}

// applyStep runs the DDL, the marker row and user_version in one transaction.
func applyStep(ctx context.Context, db *sql.DB, step Step, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+markerTable+" (seq, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		step.Seq, step.Name, step.Checksum, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("record step: %w", err)
	}

	// user_version mirrors the marker for tools that only read the pragma.
	// Pragmas do not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"PRAGMA user_version = %d", version,
	)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
