package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ncaanext/texsync/internal/github"
	"github.com/ncaanext/texsync/internal/texpath"
)

// PlanIncremental computes a ChangeSet from the compare API, trusting
// lastSynced as ground truth for what is on disk. It never hashes local
// content; on-disk existence alone decides add vs replace buckets.
// Returns ErrCompareTruncated when the compare listing is capped and
// github.ErrCommitNotFound (wrapped) when lastSynced no longer exists;
// both are cues to fall back to PlanFull.
func (e *Engine) PlanIncremental(ctx context.Context, lastSynced string) (*ChangeSet, error) {
	if err := e.ensurePreconditions(); err != nil {
		return nil, err
	}
	if lastSynced == "" {
		return nil, fmt.Errorf("incremental planning requires a last-synced commit")
	}

	latest, err := e.client.LatestCommit(ctx, e.cfg.Repo.Ref)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{Commit: latest.SHA}
	if latest.SHA == lastSynced {
		return cs, nil
	}

	changes, truncated, err := e.client.CompareCommits(ctx, lastSynced, latest.SHA)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w (compare %s...%s)", ErrCompareTruncated, lastSynced, latest.SHA)
	}

	prefix := e.cfg.Repo.SparsePath + "/"
	for _, change := range changes {
		canonical, ok := e.canonicalFromRepoPath(change.Path, prefix)
		if !ok {
			continue
		}

		switch change.Status {
		case github.StatusAdded, github.StatusModified:
			// Existence on disk, not the compare status, decides the
			// bucket: a file the user deleted out-of-band is re-added.
			if exists, disabled := e.findLocal(canonical); exists {
				cs.Replace = append(cs.Replace, FileOp{Path: canonical, SHA: change.SHA, Disabled: disabled})
			} else {
				cs.Add = append(cs.Add, FileOp{Path: canonical, SHA: change.SHA})
			}

		case github.StatusRemoved:
			cs.Delete = append(cs.Delete, canonical)

		case github.StatusRenamed:
			oldCanonical, oldOK := e.canonicalFromRepoPath(change.OldPath, prefix)
			if oldOK {
				if exists, disabled := e.findLocal(oldCanonical); exists {
					cs.Move = append(cs.Move, MoveOp{
						OldPath:  oldCanonical,
						NewPath:  canonical,
						Disabled: disabled,
					})
					continue
				}
			}
			// Old location is gone locally (or was outside the managed
			// subtree); download the new one.
			cs.Add = append(cs.Add, FileOp{Path: canonical, SHA: change.SHA})

		default:
			return nil, fmt.Errorf("%w: unknown change status %q for %s", ErrUntrustedCompare, change.Status, change.Path)
		}
	}

	sortChangeSet(cs)
	e.logPlan("incremental", cs)
	return cs, nil
}

// PlanFull computes a ChangeSet by comparing content hashes of the full
// remote tree against the full local tree, ignoring any prior sync
// state. It is the only mode immune to out-of-band local edits. Renames
// are not inferred; a remote rename plans as delete plus add.
func (e *Engine) PlanFull(ctx context.Context) (*ChangeSet, error) {
	if err := e.ensurePreconditions(); err != nil {
		return nil, err
	}

	latest, err := e.client.LatestCommit(ctx, e.cfg.Repo.Ref)
	if err != nil {
		return nil, err
	}

	remote, err := e.remoteSnapshot(ctx, latest.SHA)
	if err != nil {
		return nil, err
	}
	local, err := e.localSnapshot(true)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{Commit: latest.SHA}
	for canonical, sha := range remote {
		entry, ok := local[canonical]
		if !ok {
			cs.Add = append(cs.Add, FileOp{Path: canonical, SHA: sha})
			continue
		}
		if entry.hash != sha {
			cs.Replace = append(cs.Replace, FileOp{Path: canonical, SHA: sha, Disabled: entry.disabled})
		}
	}
	for canonical := range local {
		if _, ok := remote[canonical]; !ok {
			cs.Delete = append(cs.Delete, canonical)
		}
	}

	sortChangeSet(cs)
	e.logPlan("full", cs)
	return cs, nil
}

// canonicalFromRepoPath converts a repository-rooted path from the
// compare API into a canonical path, dropping entries outside the
// managed subtree and entries the codec excludes.
func (e *Engine) canonicalFromRepoPath(repoPath, prefix string) (string, bool) {
	if !strings.HasPrefix(repoPath, prefix) {
		return "", false
	}
	canonical := strings.TrimPrefix(repoPath, prefix)
	if e.codec.Classify(canonical).Class != texpath.ClassManaged {
		return "", false
	}
	return canonical, true
}

// sortChangeSet orders every bucket for deterministic logs and tests.
func sortChangeSet(cs *ChangeSet) {
	sort.Slice(cs.Add, func(i, j int) bool { return cs.Add[i].Path < cs.Add[j].Path })
	sort.Slice(cs.Replace, func(i, j int) bool { return cs.Replace[i].Path < cs.Replace[j].Path })
	sort.Slice(cs.Move, func(i, j int) bool { return cs.Move[i].OldPath < cs.Move[j].OldPath })
	sort.Strings(cs.Delete)
}

func (e *Engine) logPlan(mode string, cs *ChangeSet) {
	e.logger.Info("sync plan computed",
		"mode", mode,
		"commit", cs.Commit,
		"add", len(cs.Add),
		"replace", len(cs.Replace),
		"move", len(cs.Move),
		"delete", len(cs.Delete))
}
