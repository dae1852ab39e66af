package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ncaanext/texsync/internal/config"
	"github.com/ncaanext/texsync/internal/github"
	"github.com/ncaanext/texsync/internal/texpath"
)

// Engine reconciles the managed root with the remote texture repository.
// It holds no sync state of its own: the last-synced commit is passed
// into every planning call by the caller. A single Engine must not run
// two operations against the same root concurrently.
type Engine struct {
	cfg    *config.Config
	client github.Client
	codec  texpath.Codec
	logger *slog.Logger
	notify Notifier
}

// NewEngine creates a sync engine. A nil notifier discards progress.
func NewEngine(cfg *config.Config, client github.Client, logger *slog.Logger, notify Notifier) *Engine {
	if notify == nil {
		notify = NopNotifier()
	}
	return &Engine{
		cfg:    cfg,
		client: client,
		codec:  texpath.NewCodec(cfg.Sync.CustomsDir, cfg.Sync.DisableMarker),
		logger: logger,
		notify: notify,
	}
}

// ensurePreconditions rejects an operation before any remote call or
// filesystem mutation: a token must be configured and the managed root
// must be a readable directory.
func (e *Engine) ensurePreconditions() error {
	token, err := e.cfg.Token()
	if err != nil {
		return err
	}
	if token == "" {
		return ErrMissingToken
	}

	info, err := os.Stat(e.cfg.Root())
	if err != nil {
		return fmt.Errorf("managed root %s is not accessible: %w", e.cfg.Root(), err)
	}
	if !info.IsDir() {
		return fmt.Errorf("managed root %s is not a directory", e.cfg.Root())
	}
	return nil
}

// Execute applies a ChangeSet to the managed root. Deletes run first,
// then moves, then downloads with bounded parallelism, then a cleanup
// pass for junk files and empty directories. A single file's failure is
// counted as skipped and does not abort the batch; authentication
// rejections and context cancellation do. On cancellation the returned
// Result reflects only the fully-applied subset.
func (e *Engine) Execute(ctx context.Context, cs *ChangeSet) (*Result, error) {
	if err := e.ensurePreconditions(); err != nil {
		return nil, err
	}

	res := &Result{Commit: cs.Commit}
	e.notify.Notify(Progress{
		Stage:   StagePreparing,
		Message: fmt.Sprintf("Applying %d changes", cs.Ops()),
	})

	if err := e.executeDeletes(ctx, cs, res); err != nil {
		return res, err
	}
	if err := e.executeMoves(ctx, cs, res); err != nil {
		return res, err
	}
	if err := e.executeDownloads(ctx, cs, res); err != nil {
		return res, err
	}

	e.notify.Notify(Progress{Stage: StageCleanup, Message: "Cleaning up empty directories"})
	removed := e.cleanupEmptyDirs(e.cfg.Root(), true)
	if removed > 0 {
		e.logger.Debug("removed empty directories", "count", removed)
	}

	e.notify.Notify(Progress{
		Stage: StageComplete,
		Message: fmt.Sprintf("Sync complete: downloaded %d, deleted %d, renamed %d, skipped %d",
			res.Downloaded, res.Deleted, res.Renamed, res.Skipped),
	})
	return res, nil
}

// executeDeletes removes both local variants of every deleted canonical
// path. Running deletes first frees disk headroom and clears the way
// for moves into previously occupied paths.
func (e *Engine) executeDeletes(ctx context.Context, cs *ChangeSet, res *Result) error {
	root := e.cfg.Root()
	for i, canonical := range cs.Delete {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.notify.Notify(Progress{
			Stage:   StagePreparing,
			Message: "Deleting: " + canonical,
			Current: i + 1,
			Total:   len(cs.Delete),
		})

		removed := false
		for _, rel := range []string{canonical, e.codec.DisabledVariant(canonical)} {
			// Deletes re-check classification so a plan can never reach
			// into the customs subtree.
			if e.codec.Classify(rel).Class != texpath.ClassManaged {
				continue
			}
			path := filepath.Join(root, filepath.FromSlash(rel))
			err := os.Remove(path)
			switch {
			case err == nil:
				removed = true
				// Opportunistically drop the now-empty parent.
				_ = os.Remove(filepath.Dir(path))
			case os.IsNotExist(err):
			default:
				e.logger.Warn("failed to delete file", "path", rel, "error", err)
				res.Skipped++
			}
		}
		if removed {
			res.Deleted++
		}
	}
	return nil
}

// executeMoves relocates files whose remote path changed, preserving the
// disabled marker and skipping the download entirely.
func (e *Engine) executeMoves(ctx context.Context, cs *ChangeSet, res *Result) error {
	root := e.cfg.Root()
	for i, mv := range cs.Move {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.notify.Notify(Progress{
			Stage:   StageMoving,
			Message: fmt.Sprintf("Moving: %s -> %s", mv.OldPath, mv.NewPath),
			Current: i + 1,
			Total:   len(cs.Move),
		})

		oldPath := filepath.Join(root, filepath.FromSlash(e.codec.ToLocal(mv.OldPath, mv.Disabled)))
		newPath := filepath.Join(root, filepath.FromSlash(e.codec.ToLocal(mv.NewPath, mv.Disabled)))

		// Re-running an already applied plan finds the file at its new
		// location; treat that as done rather than a failed rename.
		if _, err := os.Stat(oldPath); os.IsNotExist(err) {
			if _, err := os.Stat(newPath); err == nil {
				continue
			}
		}

		if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
			e.logger.Warn("failed to create directory for move", "path", mv.NewPath, "error", err)
			res.Skipped++
			continue
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			e.logger.Warn("failed to move file", "from", mv.OldPath, "to", mv.NewPath, "error", err)
			res.Skipped++
			continue
		}
		res.Renamed++
		_ = os.Remove(filepath.Dir(oldPath))
	}
	return nil
}

// executeDownloads fetches blob content for adds and replaces, bounded
// by the configured concurrency. Writes go to a temp file in the
// destination directory and are renamed into place, so cancellation
// never leaves a half-written texture.
func (e *Engine) executeDownloads(ctx context.Context, cs *ChangeSet, res *Result) error {
	ops := make([]FileOp, 0, len(cs.Add)+len(cs.Replace))
	ops = append(ops, cs.Add...)
	ops = append(ops, cs.Replace...)
	if len(ops) == 0 {
		return nil
	}

	var downloaded, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Sync.Concurrency)

	// The increment and its notification stay under one lock so the
	// delivered Current sequence never decreases.
	var progressMu gosync.Mutex
	done := 0

	for _, op := range ops {
		op := op
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			fetched, err := e.downloadOne(gctx, cs.Commit, op)
			switch {
			case err == nil:
				if fetched {
					downloaded.Add(1)
				}
			case gctx.Err() != nil:
				return gctx.Err()
			case github.IsAuthError(err):
				// Every remaining download would fail the same way.
				return err
			default:
				e.logger.Warn("skipping file after download failure", "path", op.Path, "error", err)
				skipped.Add(1)
			}

			progressMu.Lock()
			done++
			e.notify.Notify(Progress{
				Stage:   StageDownloading,
				Message: "Downloading: " + op.Path,
				Current: done,
				Total:   len(ops),
			})
			progressMu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	res.Downloaded += int(downloaded.Load())
	res.Skipped += int(skipped.Load())
	if err != nil {
		return fmt.Errorf("download batch aborted: %w", err)
	}
	return nil
}

// downloadOne fetches one canonical path at the plan's commit and
// writes it to the local representation chosen by the disabled flag.
// It returns false without fetching when the destination already holds
// the expected content, so re-running an applied plan is a no-op.
func (e *Engine) downloadOne(ctx context.Context, commit string, op FileOp) (bool, error) {
	rel := e.codec.ToLocal(op.Path, op.Disabled)
	dest := filepath.Join(e.cfg.Root(), filepath.FromSlash(rel))

	if op.SHA != "" {
		if hash, err := gitBlobSHA(dest); err == nil && hash == op.SHA {
			return false, nil
		}
	}

	repoPath := e.cfg.Repo.SparsePath + "/" + op.Path
	content, err := e.client.DownloadBlob(ctx, commit, repoPath)
	if err != nil {
		return false, err
	}
	if err := writeFileAtomic(dest, content); err != nil {
		return false, err
	}
	return true, nil
}

// writeFileAtomic writes content to a temp file in the destination
// directory and renames it into place.
func writeFileAtomic(dest string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".texsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dest)
}

// cleanupEmptyDirs removes OS junk files and empty directories below
// dir. The root itself and the customs subtree are never touched.
func (e *Engine) cleanupEmptyDirs(dir string, isRoot bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if entry.Name() == e.cfg.Sync.CustomsDir {
			continue
		}
		removed += e.cleanupEmptyDirs(filepath.Join(dir, entry.Name()), false)
	}

	if isRoot {
		return removed
	}

	entries, err = os.ReadDir(dir)
	if err != nil {
		return removed
	}
	for _, entry := range entries {
		if !entry.IsDir() && texpath.IsJunkName(entry.Name()) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}

	remaining, err := os.ReadDir(dir)
	if err != nil || len(remaining) > 0 {
		return removed
	}
	if err := os.Remove(dir); err == nil {
		removed++
	}
	return removed
}
