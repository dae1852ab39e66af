package sync

import "errors"

// Planner/executor errors callers branch on.
var (
	// ErrMissingToken is returned before any remote call when no access
	// token is configured.
	ErrMissingToken = errors.New("github access token is required; set auth.token_file")
	// ErrCompareTruncated is returned when the compare API capped its
	// file listing; the caller should fall back to a full sync.
	ErrCompareTruncated = errors.New("too many changed files for incremental sync")
	// ErrUntrustedCompare is returned when compare data contains a change
	// the planner does not understand; the caller should fall back to a
	// full sync rather than apply a partial plan.
	ErrUntrustedCompare = errors.New("compare result cannot be planned incrementally")
)

// FileOp is a single download target. Disabled records which local
// representation the content is written to, so an update never
// re-enables a texture the user disabled.
type FileOp struct {
	// Path is the canonical (remote-relative, enabled-form) path.
	Path string
	// SHA is the expected blob sha at the plan's commit, when known.
	// Execution uses it to skip files that are already current, which
	// makes re-running an applied plan converge to a no-op.
	SHA      string
	Disabled bool
}

// MoveOp relocates an existing local file without re-downloading it.
type MoveOp struct {
	OldPath  string
	NewPath  string
	Disabled bool
}

// ChangeSet is a sync plan against a specific remote commit. It is only
// valid against the local tree it was planned from; if the tree changes,
// re-plan before executing.
type ChangeSet struct {
	// Commit is the remote commit the plan was computed against.
	Commit  string
	Add     []FileOp
	Replace []FileOp
	Move    []MoveOp
	// Delete holds canonical paths; execution removes both the enabled
	// and disabled local variants.
	Delete []string
}

// Empty reports whether the plan has no operations.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Add) == 0 && len(cs.Replace) == 0 && len(cs.Move) == 0 && len(cs.Delete) == 0
}

// Destructive reports whether executing the plan removes local files.
// Callers may want human confirmation before applying such a plan.
func (cs *ChangeSet) Destructive() bool {
	return len(cs.Delete) > 0
}

// Ops returns the total number of operations in the plan.
func (cs *ChangeSet) Ops() int {
	return len(cs.Add) + len(cs.Replace) + len(cs.Move) + len(cs.Delete)
}

// Result summarizes an executed plan. Commit is the new baseline the
// caller persists for the next incremental check.
type Result struct {
	Downloaded int    `json:"downloaded"`
	Deleted    int    `json:"deleted"`
	Renamed    int    `json:"renamed"`
	Skipped    int    `json:"skipped"`
	Commit     string `json:"commit"`
}

// Status is the result of a cheap has-updates check.
type Status struct {
	HasChanges       bool
	LatestCommit     string
	LatestCommitDate string
}

// CountSnapshot compares local and remote managed file counts. It flags
// drift without identifying which files differ.
type CountSnapshot struct {
	LocalCount  int
	RemoteCount int
	Match       bool
}
