package workflow

import (
	"fmt"
	"strings"

	"partforge/internal/imageio"
	"partforge/internal/services"
	"partforge/internal/stage"
)

// Snapshot returns an immutable copy of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		RunID:    m.runID,
		State:    m.state,
		Record:   m.record.clone(),
		Running:  m.busy,
		Retrying: m.retrying,
	}
	if m.lastErr != nil {
		snap.LastError = m.lastErr.Error()
	}
	return snap
}

// PartialFailure reports failed extraction units as services.ErrPartialFailure,
// or nil when every unit succeeded. The pipeline may continue either way.
func (m *Manager) PartialFailure() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	failed := m.record.ExtractionErrors
	if len(failed) == 0 {
		return nil
	}
	ids := make([]string, len(failed))
	for i, e := range failed {
		ids[i] = e.ID
	}
	total := len(failed) + len(m.record.Extractions)
	return services.Wrap(services.ErrPartialFailure, stage.NameExtraction, "run",
		fmt.Sprintf("%d of %d units failed: %s", len(failed), total, strings.Join(ids, ", ")), nil)
}

// Restore replaces the manager state with a saved snapshot. src must be the
// image the snapshot was built from; it may be nil for an idle snapshot.
func (m *Manager) Restore(snap Snapshot, src *imageio.Source) error {
	if !snap.State.Valid() {
		return services.Wrap(services.ErrValidation, "workflow", "restore", fmt.Sprintf("unknown state %q", snap.State), nil)
	}
	if info := snap.Record.Source; info != nil {
		if src == nil || src.Image == nil {
			return services.Wrap(services.ErrValidation, "workflow", "restore", "source image is required", nil)
		}
		if digest := src.Digest(); digest != info.Digest {
			return services.Wrap(services.ErrValidation, "workflow", "restore",
				fmt.Sprintf("source image changed since the run started (digest %.12s, want %.12s)", digest, info.Digest), nil)
		}
	} else if snap.State != StateIdle {
		return services.Wrap(services.ErrValidation, "workflow", "restore", "snapshot has no source image", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return errBusy
	}
	if snap.RunID != "" {
		m.runID = snap.RunID
	}
	m.state = snap.State
	m.record = snap.Record.clone()
	m.source = src
	m.lastErr = nil
	return nil
}
