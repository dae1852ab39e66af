package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ncaanext/texsync/internal/activation"
	"github.com/ncaanext/texsync/internal/config"
	"github.com/ncaanext/texsync/internal/github"
	"github.com/ncaanext/texsync/internal/installer"
	"github.com/ncaanext/texsync/internal/state"
	"github.com/ncaanext/texsync/internal/sync"
	"github.com/ncaanext/texsync/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Sync command flags
	syncFull   bool
	syncDryRun bool
	syncYes    bool

	// Install command flags
	installBackup bool
	installYes    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "texsync",
	Short: "Keep an emulator texture pack in sync with its GitHub repository",
	Long: `texsync manages a game texture replacement folder against the texture
pack's GitHub repository: initial install via a sparse git clone, then
incremental updates through the GitHub API.

Textures disabled locally (filename prefixed with the disable marker)
keep receiving updates without being re-enabled, and the user-customs
folder is never touched.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update the local texture pack to the latest commit",
	Long: `Sync compares the local texture folder with the repository and applies
the difference: new and changed textures are downloaded, renamed ones are
moved, and textures removed upstream are deleted locally.

By default the comparison is incremental from the last synced commit,
falling back to a full tree comparison when the commit range is too large
or the baseline commit no longer exists. --full forces the tree
comparison, which also repairs any out-of-band local edits.`,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether updates are available",
	RunE:  runStatus,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare local and remote texture counts",
	Long: `Verify counts the managed texture files locally (a disabled texture
counts as present) and compares the total against the repository. A
mismatch means the folder has drifted and a full sync is recommended.`,
	RunE: runVerify,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the full texture pack into the configured folder",
	Long: `Install performs the initial download using a shallow sparse git clone,
which is much faster than fetching files one by one. An existing texture
folder is deleted first, or kept as a backup with --backup.`,
	RunE: runInstall,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and sync on repository pushes",
	Long: `Serve performs a sync, then listens for GitHub push webhooks and syncs
again whenever the texture repository is updated. Supports systemd socket
activation.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("texsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/texsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	syncCmd.Flags().BoolVar(&syncFull, "full", false, "compare the full tree instead of the commit range")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&syncYes, "yes", false, "apply destructive plans without asking")

	installCmd.Flags().BoolVar(&installBackup, "backup", false, "keep the existing texture folder as a backup")
	installCmd.Flags().BoolVar(&installYes, "yes", false, "replace an existing texture folder without asking")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runner, engine, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}

	cs, err := runner.Plan(ctx, syncFull)
	if err != nil {
		return err
	}

	if syncDryRun {
		printPlan(cmd, cs)
		return nil
	}

	if cs.Destructive() && !syncYes {
		printPlan(cmd, cs)
		ok, err := confirm(cmd, fmt.Sprintf("This will delete %d local file(s). Continue?", len(cs.Delete)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	res, err := runner.Apply(ctx, cs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced to %s: %d downloaded, %d deleted, %d renamed, %d skipped\n",
		shortCommit(res.Commit), res.Downloaded, res.Deleted, res.Renamed, res.Skipped)

	// A post-sync count catches files that were skipped or edited
	// out-of-band.
	snap, err := engine.QuickCount(ctx)
	if err != nil {
		logger.Warn("post-sync verification failed", "error", err)
		return nil
	}
	if !snap.Match {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: %d local vs %d remote files; run 'texsync sync --full' to repair\n",
			snap.LocalCount, snap.RemoteCount)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	_, engine, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}

	st, err := state.Load(cfg.StateFilePath())
	if err != nil {
		return err
	}

	status, err := engine.CheckStatus(ctx, st.LastSyncCommit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if st.LastSyncCommit == "" {
		fmt.Fprintln(out, "Never synced.")
	} else {
		fmt.Fprintf(out, "Last synced: %s (%s)\n", shortCommit(st.LastSyncCommit), st.LastSyncTime.Format(time.RFC3339))
	}
	if status.HasChanges {
		fmt.Fprintf(out, "Update available: %s (%s)\n", shortCommit(status.LatestCommit), status.LatestCommitDate)
	} else {
		fmt.Fprintln(out, "Up to date.")
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	_, engine, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}

	snap, err := engine.QuickCount(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Local files:  %d\n", snap.LocalCount)
	fmt.Fprintf(out, "Remote files: %d\n", snap.RemoteCount)
	if snap.Match {
		fmt.Fprintln(out, "Counts match.")
	} else {
		fmt.Fprintln(out, "Counts differ; run 'texsync sync --full' to repair.")
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := installer.CheckGit(); err != nil {
		return err
	}

	// Best-effort pack metadata: size up front, and a warning when the
	// pack asks for a newer client.
	client, err := buildClient(cfg, logger)
	if err == nil {
		if data, derr := client.FetchInstallerData(ctx, cfg.Repo.Ref); derr == nil {
			if data.TotalSize != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Pack size: %s\n", data.TotalSize)
			}
			if data.MinAppVersion != "" && github.CompareVersions(version, string(data.MinAppVersion)) < 0 {
				logger.Warn("texture pack expects a newer client",
					"minimum", string(data.MinAppVersion), "running", version)
			}
		} else {
			logger.Debug("installer metadata unavailable", "error", derr)
		}
	}

	inst := installer.New(cfg, logger, installProgress(cmd))
	if inst.RootExists() && !installYes {
		prompt := fmt.Sprintf("Texture folder %s already exists and will be deleted. Continue?", cfg.Root())
		if installBackup {
			prompt = fmt.Sprintf("Texture folder %s already exists and will be moved aside. Continue?", cfg.Root())
		}
		ok, err := confirm(cmd, prompt)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	installed, err := inst.Run(ctx, installer.Options{Backup: installBackup})
	if err != nil {
		return err
	}

	if err := state.Save(cfg.StateFilePath(), &state.State{
		LastSyncCommit: installed,
		LastSyncTime:   time.Now().UTC(),
	}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Installed texture pack at %s (commit %s)\n", cfg.Root(), shortCommit(installed))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration")
	}

	runner, _, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}

	server, err := webhook.NewServer(cfg, runner, logger)
	if err != nil {
		return err
	}

	ln, err := activation.Listener()
	if err != nil {
		return err
	}
	return server.Start(ctx, ln)
}

// buildClient constructs the GitHub API client from the configuration.
func buildClient(cfg *config.Config, logger *slog.Logger) (*github.HTTPClient, error) {
	token, err := cfg.Token()
	if err != nil {
		return nil, err
	}
	return github.NewHTTPClient(cfg.Repo.Owner, cfg.Repo.Name, token, logger), nil
}

// buildRunner wires the sync engine and its state-owning runner.
func buildRunner(cfg *config.Config, logger *slog.Logger) (*sync.Runner, *sync.Engine, error) {
	client, err := buildClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	engine := sync.NewEngine(cfg, client, logger, sync.LogNotifier(logger))
	runner := sync.NewRunner(engine, cfg.StateFilePath(), logger)
	return runner, engine, nil
}

// installProgress renders git's clone progress one stage at a time.
func installProgress(cmd *cobra.Command) installer.ProgressFunc {
	out := cmd.OutOrStdout()
	var lastStage installer.Stage
	return func(p installer.Progress) {
		if p.Stage != lastStage {
			lastStage = p.Stage
			fmt.Fprintf(out, "%s...\n", p.Stage)
		}
	}
}

func printPlan(cmd *cobra.Command, cs *sync.ChangeSet) {
	out := cmd.OutOrStdout()
	if cs.Empty() {
		fmt.Fprintf(out, "Already up to date at %s.\n", shortCommit(cs.Commit))
		return
	}

	fmt.Fprintf(out, "Plan against %s: %d add, %d update, %d move, %d delete\n",
		shortCommit(cs.Commit), len(cs.Add), len(cs.Replace), len(cs.Move), len(cs.Delete))
	for _, op := range cs.Add {
		fmt.Fprintf(out, "  + %s\n", op.Path)
	}
	for _, op := range cs.Replace {
		fmt.Fprintf(out, "  ~ %s\n", op.Path)
	}
	for _, mv := range cs.Move {
		fmt.Fprintf(out, "  > %s -> %s\n", mv.OldPath, mv.NewPath)
	}
	for _, path := range cs.Delete {
		fmt.Fprintf(out, "  - %s\n", path)
	}
}

// confirm asks a yes/no question on the command's input.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func shortCommit(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/texsync/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.RepoSlug(),
		"ref", cfg.Repo.Ref,
		"root", cfg.Root(),
		"state_dir", cfg.Paths.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
