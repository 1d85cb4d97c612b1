package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"partforge/internal/services"
	"partforge/internal/workflow"
)

// Run summarizes one stored pipeline run.
type Run struct {
	ID           string
	SourcePath   string
	SourceDigest string
	State        workflow.State
	LastError    string
	UnitCount    int
	FailedUnits  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const runColumns = "id, source_path, source_digest, state, last_error, unit_count, failed_units, created_at, updated_at"

// Save upserts a snapshot and appends call log entries not yet stored.
func (s *Store) Save(ctx context.Context, snap workflow.Snapshot) error {
	if strings.TrimSpace(snap.RunID) == "" {
		return services.Wrap(services.ErrValidation, "runstore", "save", "snapshot has no run id", nil)
	}
	// Transient invocation flags never outlive the process.
	snap.Running = false
	snap.Retrying = false
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var sourcePath, sourceDigest string
	if src := snap.Record.Source; src != nil {
		sourcePath = src.Path
		sourceDigest = src.Digest
	}
	units := 0
	if snap.Record.Manifest != nil {
		units = len(snap.Record.Manifest.Units)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (
            id, source_path, source_digest, state, last_error, unit_count, failed_units,
            snapshot_json, revision, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(revision), 0) + 1 FROM runs), ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            source_path = excluded.source_path,
            source_digest = excluded.source_digest,
            state = excluded.state,
            last_error = excluded.last_error,
            unit_count = excluded.unit_count,
            failed_units = excluded.failed_units,
            snapshot_json = excluded.snapshot_json,
            revision = excluded.revision,
            updated_at = excluded.updated_at`,
		snap.RunID,
		nullableString(sourcePath),
		nullableString(sourceDigest),
		string(snap.State),
		nullableString(snap.LastError),
		units,
		len(snap.Record.ExtractionErrors),
		string(payload),
		timestamp,
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	if err := insertCalls(ctx, tx, snap.RunID, snap.Record.CallLog); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for a run.
func (s *Store) Load(ctx context.Context, runID string) (workflow.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot_json FROM runs WHERE id = ?", runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Snapshot{}, notFound("load", runID)
	}
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("load run: %w", err)
	}
	var snap workflow.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return workflow.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", runID, err)
	}
	return snap, nil
}

// Get returns a run summary.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, notFound("get", runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns run summaries, most recently saved first.
func (s *Store) List(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY revision DESC")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Resolve expands a unique run id prefix. An empty reference selects the
// most recently saved run.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		var id string
		err := s.db.QueryRowContext(ctx, "SELECT id FROM runs ORDER BY revision DESC LIMIT 1").Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", services.Wrap(services.ErrNotFound, "runstore", "resolve", "no runs stored", nil)
		}
		if err != nil {
			return "", fmt.Errorf("latest run: %w", err)
		}
		return id, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM runs WHERE id = ? OR substr(id, 1, ?) = ? ORDER BY id", ref, len(ref), ref)
	if err != nil {
		return "", fmt.Errorf("resolve run: %w", err)
	}
	defer rows.Close()
	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan run id: %w", err)
		}
		if id == ref {
			return id, nil
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate run ids: %w", err)
	}
	switch len(matches) {
	case 0:
		return "", notFound("resolve", ref)
	case 1:
		return matches[0], nil
	default:
		return "", services.Wrap(services.ErrValidation, "runstore", "resolve",
			fmt.Sprintf("run prefix %q is ambiguous (%d matches)", ref, len(matches)), nil)
	}
}

// Delete removes a run and its call log. It reports whether a row existed.
func (s *Store) Delete(ctx context.Context, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID)
	if err != nil {
		return false, fmt.Errorf("delete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		id           string
		sourcePath   sql.NullString
		sourceDigest sql.NullString
		state        string
		lastError    sql.NullString
		unitCount    int
		failedUnits  int
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&id, &sourcePath, &sourceDigest, &state, &lastError, &unitCount, &failedUnits, &createdRaw, &updatedRaw); err != nil {
		return Run{}, err
	}
	run := Run{
		ID:           id,
		SourcePath:   sourcePath.String,
		SourceDigest: sourceDigest.String,
		State:        workflow.State(state),
		LastError:    lastError.String,
		UnitCount:    unitCount,
		FailedUnits:  failedUnits,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	return run, nil
}
