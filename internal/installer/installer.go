package installer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ncaanext/texsync/internal/config"
)

// Stage identifies the phase of an install reported through progress
// callbacks. Stages follow git's own output: the server compresses,
// the client receives, then the worktree is written.
type Stage string

const (
	StageCompressing Stage = "compressing"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageFinalizing  Stage = "finalizing"
	StageComplete    Stage = "complete"
)

// Progress is one install notification. Percent is -1 when the current
// git output line carries no percentage.
type Progress struct {
	Stage   Stage
	Percent int
	Message string
}

// ProgressFunc receives install progress. A nil func discards it.
type ProgressFunc func(Progress)

// Options tunes a single install run.
type Options struct {
	// Backup renames an existing managed root aside instead of
	// deleting it.
	Backup bool
}

// Installer performs the initial download of the texture pack by
// shelling out to the git command for a blobless sparse clone, which is
// far cheaper than fetching every file through the REST API. The clone
// lands in a staging directory next to the managed root and only the
// texture subtree is moved into place.
type Installer struct {
	cfg      *config.Config
	cloneURL string
	logger   *slog.Logger
	notify   ProgressFunc
}

// New creates an installer. A nil progress func discards notifications.
func New(cfg *config.Config, logger *slog.Logger, notify ProgressFunc) *Installer {
	if notify == nil {
		notify = func(Progress) {}
	}
	return &Installer{cfg: cfg, cloneURL: cfg.CloneURL(), logger: logger, notify: notify}
}

// CheckGit verifies the git command is available, with install guidance
// matching the platform.
func CheckGit() error {
	if _, err := exec.LookPath("git"); err != nil {
		if runtime.GOOS == "windows" {
			return fmt.Errorf("git is not installed or not on PATH; install it from https://git-scm.com/download/win and try again")
		}
		return fmt.Errorf("git is not installed or not on PATH; install it with your package manager and try again")
	}
	return nil
}

// RootExists reports whether the managed root is already present, so a
// caller can ask before Run replaces it.
func (i *Installer) RootExists() bool {
	info, err := os.Stat(i.cfg.Root())
	return err == nil && info.IsDir()
}

// Run performs the full install: sparse clone into a staging directory,
// replacement of any existing managed root, and move of the texture
// subtree into place. It returns the commit the pack was installed at,
// which the caller persists as the sync baseline.
func (i *Installer) Run(ctx context.Context, opts Options) (string, error) {
	if err := CheckGit(); err != nil {
		return "", err
	}

	// Stage on the same filesystem as the destination so the final
	// move is a rename, not a copy.
	if err := os.MkdirAll(i.cfg.Paths.TexturesDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create textures directory: %w", err)
	}
	staging, err := os.MkdirTemp(i.cfg.Paths.TexturesDir, ".texsync-install-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(staging)
	}()

	i.logger.Info("cloning texture repository",
		"repo", i.cfg.RepoSlug(), "ref", i.cfg.Repo.Ref, "staging", staging)

	cloneArgs := []string{
		"clone",
		"--depth=1",
		"--filter=blob:none",
		"--sparse",
		"--progress",
		"--branch", i.cfg.Repo.Ref,
		i.cloneURL,
		staging,
	}
	if err := i.runGit(ctx, "", cloneArgs...); err != nil {
		return "", fmt.Errorf("git clone failed: %w", err)
	}

	if err := i.runGit(ctx, staging, "sparse-checkout", "set", i.cfg.Repo.SparsePath); err != nil {
		return "", fmt.Errorf("git sparse-checkout failed: %w", err)
	}

	commit, err := i.headCommit(ctx, staging)
	if err != nil {
		return "", err
	}

	subtree := filepath.Join(staging, filepath.FromSlash(i.cfg.Repo.SparsePath))
	if info, err := os.Stat(subtree); err != nil || !info.IsDir() {
		return "", fmt.Errorf("repository has no directory at %s", i.cfg.Repo.SparsePath)
	}

	i.notify(Progress{Stage: StageFinalizing, Percent: -1, Message: "Moving textures into place"})
	if err := i.replaceRoot(subtree, opts); err != nil {
		return "", err
	}

	// The pack ships without the customs folder; create it so users
	// have a drop zone from the start.
	if err := os.MkdirAll(filepath.Join(i.cfg.Root(), i.cfg.Sync.CustomsDir), 0755); err != nil {
		return "", fmt.Errorf("failed to create customs directory: %w", err)
	}

	i.notify(Progress{Stage: StageComplete, Percent: 100, Message: "Install complete"})
	i.logger.Info("install finished", "commit", commit, "root", i.cfg.Root())
	return commit, nil
}

// replaceRoot moves the cloned subtree into the managed root, backing
// up or deleting whatever is there.
func (i *Installer) replaceRoot(subtree string, opts Options) error {
	root := i.cfg.Root()
	if _, err := os.Stat(root); err == nil {
		if opts.Backup {
			backup := fmt.Sprintf("%s.backup-%s", root, time.Now().Format("20060102-150405"))
			if err := os.Rename(root, backup); err != nil {
				return fmt.Errorf("failed to back up existing folder: %w", err)
			}
			i.logger.Info("backed up existing folder", "backup", backup)
		} else {
			if err := os.RemoveAll(root); err != nil {
				return fmt.Errorf("failed to remove existing folder: %w", err)
			}
		}
	}

	if err := os.Rename(subtree, root); err != nil {
		return fmt.Errorf("failed to move textures into place: %w", err)
	}
	return nil
}

// headCommit resolves HEAD of the staging clone.
func (i *Installer) headCommit(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// runGit executes a git subcommand, streaming its progress output into
// the progress callback. An empty dir runs git without -C.
func (i *Installer) runGit(ctx context.Context, dir string, args ...string) error {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	if err := i.configureAuth(cmd); err != nil {
		return err
	}

	// git writes progress to stderr; capture the tail for error
	// reporting while feeding each line to the callback.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var lastLine string
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanGitLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLine = line
		if p, ok := parseProgressLine(line); ok {
			i.notify(p)
		}
	}

	if err := cmd.Wait(); err != nil {
		if lastLine != "" {
			return fmt.Errorf("%w: %s", err, lastLine)
		}
		return err
	}
	return nil
}

// configureAuth wires the configured token into git through a
// credential helper so it never appears in the argument list.
func (i *Installer) configureAuth(cmd *exec.Cmd) error {
	token, err := i.cfg.Token()
	if err != nil {
		return err
	}
	if token == "" || !strings.HasPrefix(i.cloneURL, "https://") {
		return nil
	}

	cmd.Env = append(cmd.Env, "TEXSYNC_GIT_TOKEN="+token)
	cmd.Args = insertGitFlags(cmd.Args,
		"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$TEXSYNC_GIT_TOKEN"; }; f`,
	)
	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "sparse-checkout").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// scanGitLines splits on \n or \r, because git redraws progress lines
// with carriage returns.
func scanGitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var percentRe = regexp.MustCompile(`(\d+)%`)

// parseProgressLine maps a git progress line to an install stage. Lines
// that are not progress output report ok=false.
func parseProgressLine(line string) (Progress, bool) {
	var stage Stage
	switch {
	case strings.HasPrefix(line, "Receiving objects"):
		stage = StageDownloading
	case strings.HasPrefix(line, "Resolving deltas"):
		stage = StageDownloading
	case strings.HasPrefix(line, "Updating files"):
		stage = StageExtracting
	case strings.HasPrefix(line, "Compressing objects"),
		strings.HasPrefix(line, "Enumerating objects"),
		strings.HasPrefix(line, "Counting objects"),
		strings.HasPrefix(line, "remote:"):
		stage = StageCompressing
	default:
		return Progress{}, false
	}

	percent := -1
	if m := percentRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			percent = n
		}
	}
	return Progress{Stage: stage, Percent: percent, Message: line}, true
}
