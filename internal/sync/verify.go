package sync

import (
	"context"
)

// CheckStatus is the cheap has-updates probe: one commit metadata
// lookup, no tree listing, no downloads. An empty lastSynced always
// reports changes.
func (e *Engine) CheckStatus(ctx context.Context, lastSynced string) (Status, error) {
	if err := e.ensurePreconditions(); err != nil {
		return Status{}, err
	}

	latest, err := e.client.LatestCommit(ctx, e.cfg.Repo.Ref)
	if err != nil {
		return Status{}, err
	}

	return Status{
		HasChanges:       lastSynced == "" || lastSynced != latest.SHA,
		LatestCommit:     latest.SHA,
		LatestCommitDate: latest.Date,
	}, nil
}

// QuickCount compares the number of managed local files (enabled and
// disabled variants of a path count once) with the remote tree's file
// count. A mismatch signals drift and calls for a full sync; the check
// does not identify which files differ.
func (e *Engine) QuickCount(ctx context.Context) (CountSnapshot, error) {
	if err := e.ensurePreconditions(); err != nil {
		return CountSnapshot{}, err
	}

	latest, err := e.client.LatestCommit(ctx, e.cfg.Repo.Ref)
	if err != nil {
		return CountSnapshot{}, err
	}

	remote, err := e.remoteSnapshot(ctx, latest.SHA)
	if err != nil {
		return CountSnapshot{}, err
	}

	local, err := e.localSnapshot(false)
	if err != nil {
		return CountSnapshot{}, err
	}

	snap := CountSnapshot{
		LocalCount:  len(local),
		RemoteCount: len(remote),
	}
	snap.Match = snap.LocalCount == snap.RemoteCount

	e.logger.Info("quick count",
		"local", snap.LocalCount,
		"remote", snap.RemoteCount,
		"match", snap.Match)
	return snap, nil
}
