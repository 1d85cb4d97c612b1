package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"partforge/internal/workflow"
)

// insertCalls stores entries by id; entries already present are skipped so
// repeated saves of a growing log only append.
func insertCalls(ctx context.Context, tx *sql.Tx, runID string, calls []workflow.CallEntry) error {
	if len(calls) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO calls (
            id, run_id, seq, stage, operation, unit_id, prompt_digest, response_digest,
            started_at, duration_ms, error_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare call insert: %w", err)
	}
	defer stmt.Close()
	for seq, call := range calls {
		if _, err := stmt.ExecContext(ctx,
			call.ID,
			runID,
			seq,
			call.Stage,
			call.Operation,
			nullableString(call.UnitID),
			nullableString(call.PromptDigest),
			nullableString(call.ResponseDigest),
			call.StartedAt.UTC().Format(time.RFC3339Nano),
			call.Duration.Milliseconds(),
			nullableString(call.Error),
		); err != nil {
			return fmt.Errorf("insert call %s: %w", call.ID, err)
		}
	}
	return nil
}

// Calls returns a run's call log in invocation order.
func (s *Store) Calls(ctx context.Context, runID string) ([]workflow.CallEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage, operation, unit_id, prompt_digest, response_digest, started_at, duration_ms, error_message
        FROM calls WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []workflow.CallEntry
	for rows.Next() {
		var (
			entry          workflow.CallEntry
			unitID         sql.NullString
			promptDigest   sql.NullString
			responseDigest sql.NullString
			startedRaw     string
			durationMS     int64
			errorMessage   sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Stage, &entry.Operation, &unitID, &promptDigest, &responseDigest, &startedRaw, &durationMS, &errorMessage); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		entry.UnitID = unitID.String
		entry.PromptDigest = promptDigest.String
		entry.ResponseDigest = responseDigest.String
		entry.Error = errorMessage.String
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		if started, err := parseTimeString(startedRaw); err == nil {
			entry.StartedAt = started
		}
		calls = append(calls, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}
