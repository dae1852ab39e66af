package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ncaanext/texsync/internal/github"
	"github.com/ncaanext/texsync/internal/state"
)

// Runner drives a complete sync cycle: load the persisted baseline,
// plan (incremental when possible, full otherwise), execute, and save
// the new baseline. It is the entry point shared by the sync command
// and the webhook server.
type Runner struct {
	engine    *Engine
	statePath string
	logger    *slog.Logger
}

// NewRunner wires an engine to its state file.
func NewRunner(engine *Engine, statePath string, logger *slog.Logger) *Runner {
	return &Runner{engine: engine, statePath: statePath, logger: logger}
}

// Plan computes a ChangeSet without executing it. Incremental planning
// is used when a baseline exists and full is false; a truncated compare
// or an evicted baseline commit falls back to full planning.
func (r *Runner) Plan(ctx context.Context, full bool) (*ChangeSet, error) {
	st, err := state.Load(r.statePath)
	if err != nil {
		return nil, err
	}

	if full || st.LastSyncCommit == "" {
		return r.engine.PlanFull(ctx)
	}

	cs, err := r.engine.PlanIncremental(ctx, st.LastSyncCommit)
	if err != nil {
		if errors.Is(err, ErrCompareTruncated) || errors.Is(err, ErrUntrustedCompare) || errors.Is(err, github.ErrCommitNotFound) {
			r.logger.Warn("incremental planning unavailable, falling back to full sync", "reason", err)
			return r.engine.PlanFull(ctx)
		}
		return nil, err
	}
	return cs, nil
}

// Sync plans and executes one cycle, persisting the new baseline on
// success. An empty plan still advances the baseline so the next
// incremental compare starts from the latest commit.
func (r *Runner) Sync(ctx context.Context, full bool) (*Result, error) {
	cs, err := r.Plan(ctx, full)
	if err != nil {
		return nil, err
	}
	return r.Apply(ctx, cs)
}

// Apply executes a previously computed plan and persists the baseline.
// Callers that need confirmation between planning and execution use
// Plan and Apply directly.
func (r *Runner) Apply(ctx context.Context, cs *ChangeSet) (*Result, error) {
	if cs.Empty() {
		r.logger.Info("already up to date", "commit", cs.Commit)
		if err := r.saveBaseline(cs.Commit); err != nil {
			return nil, err
		}
		return &Result{Commit: cs.Commit}, nil
	}

	res, err := r.engine.Execute(ctx, cs)
	if err != nil {
		return res, err
	}
	if err := r.saveBaseline(res.Commit); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Runner) saveBaseline(commit string) error {
	return state.Save(r.statePath, &state.State{
		LastSyncCommit: commit,
		LastSyncTime:   time.Now().UTC(),
	})
}
