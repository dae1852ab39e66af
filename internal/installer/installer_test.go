package installer

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ncaanext/texsync/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Repo: config.RepoConfig{
			Owner:      "ncaanext",
			Name:       "textures",
			Ref:        "main",
			SparsePath: "textures/SLUS-21214",
		},
		Paths: config.PathsConfig{
			TexturesDir: t.TempDir(),
			GameFolder:  "SLUS-21214",
			StateDir:    t.TempDir(),
		},
		Sync: config.SyncConfig{
			CustomsDir:    "user-customs",
			DisableMarker: "-",
			Concurrency:   4,
		},
	}
}

// initRemote builds a local repository shaped like the texture repo:
// the managed subtree plus content outside it that a sparse checkout
// must not pull in.
func initRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"textures/SLUS-21214/logos/home.png":   "home-v1",
		"textures/SLUS-21214/stadium/turf.png": "turf-v1",
		"docs/README.md":                       "docs",
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cmds := [][]string{
		{"git", "init", "-b", "main", dir},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
		{"git", "-C", dir, "config", "uploadpack.allowFilter", "true"},
		{"git", "-C", dir, "add", "."},
		{"git", "-C", dir, "commit", "-m", "initial pack"},
	}
	for _, args := range cmds {
		if out, err := exec.Command(args[0], args[1:]...).CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
	return dir
}

func TestRun(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	remote := initRemote(t)
	cfg := testConfig(t)

	inst := New(cfg, discardLogger(), nil)
	inst.cloneURL = remote

	commit, err := inst.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out, err := exec.Command("git", "-C", remote, "rev-parse", "HEAD").Output()
	if err != nil {
		t.Fatal(err)
	}
	if commit != strings.TrimSpace(string(out)) {
		t.Errorf("expected installed commit %s, got %s", strings.TrimSpace(string(out)), commit)
	}

	for _, rel := range []string{"logos/home.png", "stadium/turf.png", "user-customs"} {
		if _, err := os.Stat(filepath.Join(cfg.Root(), filepath.FromSlash(rel))); err != nil {
			t.Errorf("expected %s under the managed root: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.Root(), "docs")); err == nil {
		t.Error("content outside the sparse path leaked into the managed root")
	}

	// The staging directory is cleaned up.
	entries, err := os.ReadDir(cfg.Paths.TexturesDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".texsync-install-") {
			t.Errorf("staging directory %s left behind", entry.Name())
		}
	}
}

func TestReplaceRootBackup(t *testing.T) {
	cfg := testConfig(t)
	inst := New(cfg, discardLogger(), nil)

	if err := os.MkdirAll(cfg.Root(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Root(), "old.png"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	if !inst.RootExists() {
		t.Fatal("RootExists must report the existing folder")
	}

	subtree := t.TempDir()
	if err := os.WriteFile(filepath.Join(subtree, "new.png"), []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := inst.replaceRoot(subtree, Options{Backup: true}); err != nil {
		t.Fatalf("replaceRoot failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Root(), "new.png")); err != nil {
		t.Errorf("new content missing from root: %v", err)
	}

	entries, err := os.ReadDir(cfg.Paths.TexturesDir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), cfg.Paths.GameFolder+".backup-") {
			found = true
			if _, err := os.Stat(filepath.Join(cfg.Paths.TexturesDir, entry.Name(), "old.png")); err != nil {
				t.Errorf("backup lost the old content: %v", err)
			}
		}
	}
	if !found {
		t.Error("no backup folder created")
	}
}

func TestReplaceRootDelete(t *testing.T) {
	cfg := testConfig(t)
	inst := New(cfg, discardLogger(), nil)

	if err := os.MkdirAll(cfg.Root(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Root(), "old.png"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	subtree := t.TempDir()
	if err := inst.replaceRoot(subtree, Options{}); err != nil {
		t.Fatalf("replaceRoot failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Root(), "old.png")); err == nil {
		t.Error("old content survived a non-backup install")
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line    string
		ok      bool
		stage   Stage
		percent int
	}{
		{"Receiving objects:  42% (420/1000), 1.2 MiB | 500 KiB/s", true, StageDownloading, 42},
		{"Resolving deltas: 100% (50/50), done.", true, StageDownloading, 100},
		{"Updating files:  7% (14/200)", true, StageExtracting, 7},
		{"Compressing objects:  91% (10/11)", true, StageCompressing, 91},
		{"remote: Enumerating objects: 1000, done.", true, StageCompressing, -1},
		{"Counting objects: 100% (9/9), done.", true, StageCompressing, 100},
		{"Cloning into '/tmp/x'...", false, "", 0},
		{"warning: something", false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			p, ok := parseProgressLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if p.Stage != tt.stage || p.Percent != tt.percent {
				t.Errorf("expected stage=%s percent=%d, got %+v", tt.stage, tt.percent, p)
			}
		})
	}
}

func TestScanGitLines(t *testing.T) {
	// git redraws progress with carriage returns; both separators must
	// break lines.
	input := "Receiving objects: 10%\rReceiving objects: 50%\rReceiving objects: 100%\ndone\n"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanGitLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	want := []string{
		"Receiving objects: 10%",
		"Receiving objects: 50%",
		"Receiving objects: 100%",
		"done",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestInsertGitFlags(t *testing.T) {
	got := insertGitFlags([]string{"git", "clone", "url"}, "-c", "x=y")
	want := []string{"git", "-c", "x=y", "clone", "url"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
