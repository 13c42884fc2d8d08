package recovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rostrum-oss/rostrum/internal/checkpoint"
	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
	"github.com/rostrum-oss/rostrum/internal/state"
)

// CreateCheckpoint captures the tracker's full state plus the current
// resource map, writes it to the store under a fresh id, and primes the
// read cache. Checkpoints are immutable once written.
func (m *Manager) CreateCheckpoint(ctx context.Context) (string, error) {
	var resources map[string]interface{}
	if m.resources != nil {
		resources = m.resources()
	}
	snap := m.tracker.Snapshot(resources)

	blob, err := json.Marshal(snap)
	if err != nil {
		return "", rostrumErrors.Wrap(rostrumErrors.KindSystem, rostrumErrors.CodeCheckpointInvalid,
			"cannot encode checkpoint", err)
	}

	id := uuid.NewString()
	if err := m.store.Write(ctx, id, blob); err != nil {
		return "", err
	}
	m.cache.Add(id, snap)
	if m.metrics != nil {
		m.metrics.CheckpointCreated()
	}
	m.logger.Info("created checkpoint",
		"checkpoint_id", id,
		"workflows", len(snap.WorkflowStates),
		"tasks", len(snap.TaskStates),
		"debates", len(snap.DebateStates))
	return id, nil
}

// RestoreCheckpoint loads the checkpoint and replaces the tracker's state
// with it wholesale. An empty id is an error, never a no-op.
func (m *Manager) RestoreCheckpoint(ctx context.Context, id string) (state.SystemState, error) {
	if id == "" {
		return state.SystemState{}, rostrumErrors.New(rostrumErrors.KindValidation, rostrumErrors.CodeCheckpointMissing,
			"checkpoint id is required").
			WithSuggestion("Pass a checkpoint id or create a checkpoint first")
	}

	if snap, ok := m.cache.Get(id); ok {
		m.tracker.Restore(snap)
		if m.metrics != nil {
			m.metrics.CheckpointRestored()
		}
		m.logger.Info("restored checkpoint", "checkpoint_id", id, "cached", true)
		return snap, nil
	}

	blob, err := m.store.Read(ctx, id)
	if err != nil {
		return state.SystemState{}, err
	}
	var snap state.SystemState
	if err := json.Unmarshal(blob, &snap); err != nil {
		return state.SystemState{}, rostrumErrors.Wrap(rostrumErrors.KindSystem, rostrumErrors.CodeCheckpointInvalid,
			"cannot decode checkpoint "+id, err)
	}
	m.cache.Add(id, snap)
	m.tracker.Restore(snap)
	if m.metrics != nil {
		m.metrics.CheckpointRestored()
	}
	m.logger.Info("restored checkpoint", "checkpoint_id", id, "cached", false)
	return snap, nil
}

// LatestCheckpoint returns the newest checkpoint's metadata.
func (m *Manager) LatestCheckpoint(ctx context.Context) (checkpoint.Meta, error) {
	metas, err := m.store.ListRecent(ctx, 1)
	if err != nil {
		return checkpoint.Meta{}, err
	}
	if len(metas) == 0 {
		return checkpoint.Meta{}, rostrumErrors.New(rostrumErrors.KindResource, rostrumErrors.CodeCheckpointMissing,
			"no checkpoints available").
			WithSuggestion("Create a checkpoint before relying on checkpoint recovery")
	}
	return metas[0], nil
}

// ListCheckpoints returns up to n checkpoints, newest first. n <= 0 lists
// everything.
func (m *Manager) ListCheckpoints(ctx context.Context, n int) ([]checkpoint.Meta, error) {
	return m.store.ListRecent(ctx, n)
}

// PruneCheckpoints deletes checkpoints older than the given age and
// reports how many were removed.
func (m *Manager) PruneCheckpoints(ctx context.Context, olderThan time.Duration) (int, error) {
	metas, err := m.store.ListRecent(ctx, 0)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, meta := range metas {
		if meta.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, meta.ID); err != nil {
			if checkpoint.IsNotFound(err) {
				continue
			}
			return removed, err
		}
		m.cache.Remove(meta.ID)
		removed++
	}
	if removed > 0 {
		m.logger.Info("pruned checkpoints", "removed", removed, "older_than", olderThan.String())
	}
	return removed, nil
}
