package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	gosync "sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ncaanext/texsync/internal/config"
	texsync "github.com/ncaanext/texsync/internal/sync"
)

// Syncer runs one sync cycle. Satisfied by *sync.Runner.
type Syncer interface {
	Sync(ctx context.Context, full bool) (*texsync.Result, error)
}

// pushEvent is the subset of a GitHub push payload the server acts on.
type pushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Server keeps the managed root current by syncing on GitHub push
// events. Events are HMAC-verified, filtered to the configured
// repository and refs, debounced, and serviced single-flight: while a
// sync runs, at most one re-run is queued and further triggers collapse
// into it.
type Server struct {
	cfg    *config.Config
	syncer Syncer
	logger *slog.Logger
	secret []byte

	syncMu      gosync.Mutex
	syncRunning bool
	syncPending bool
	debounce    *debouncer
}

// debouncer coalesces bursts of triggers into one callback invocation.
type debouncer struct {
	mu       gosync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a webhook server. The secret file must exist.
func NewServer(cfg *config.Config, syncer Syncer, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.WebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	return &Server{
		cfg:      cfg,
		syncer:   syncer,
		logger:   logger,
		secret:   []byte(strings.TrimSpace(string(secret))),
		debounce: &debouncer{delay: 2 * time.Second},
	}, nil
}

// Router returns the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Start syncs once, then serves until the context is cancelled. When
// ln is nil the server listens on the configured address; a non-nil
// listener (e.g. from socket activation) is used as-is.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	s.logger.Info("performing initial sync before serving")
	s.performSync(ctx)

	server := &http.Server{
		Addr:              s.cfg.Serve.ListenAddr,
		Handler:           s.Router(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			s.logger.Info("webhook server starting on activated socket", "addr", ln.Addr().String())
			err = server.Serve(ln)
		} else {
			s.logger.Info("webhook server starting", "addr", s.cfg.Serve.ListenAddr)
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, "ok")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", ct)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "ping" {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "pong")
		return
	}
	if eventType != "push" {
		s.logger.Info("ignoring event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "Event type not configured for sync")
		return
	}

	var event pushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if !strings.EqualFold(event.Repository.FullName, s.cfg.RepoSlug()) {
		s.logger.Info("ignoring push for other repository", "repo", event.Repository.FullName)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "Repository not configured for sync")
		return
	}
	if !s.isRefAllowed(event.Ref) {
		s.logger.Info("ignoring push for other ref", "ref", event.Ref)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "Ref not configured for sync")
		return
	}

	s.logger.Info("push accepted",
		"ref", event.Ref,
		"commit", event.After,
		"repo", event.Repository.FullName)

	s.debounce.trigger(func() {
		s.performSync(context.Background())
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, "Sync triggered")
}

// verifySignature checks the GitHub sha256 HMAC header in constant time.
func (s *Server) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// isRefAllowed checks the push ref against the configured allow list,
// defaulting to the branch the sync engine tracks.
func (s *Server) isRefAllowed(ref string) bool {
	allowed := s.cfg.Serve.AllowedRefs
	if len(allowed) == 0 {
		allowed = []string{"refs/heads/" + s.cfg.Repo.Ref}
	}
	for _, a := range allowed {
		if ref == a {
			return true
		}
	}
	return false
}

// performSync runs the syncer with single-flight semantics. Triggers
// arriving during a run queue at most one re-run.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		res, err := s.syncer.Sync(ctx, false)
		if err != nil {
			s.logger.Error("sync failed", "error", err)
		} else {
			s.logger.Info("sync completed",
				"commit", res.Commit,
				"downloaded", res.Downloaded,
				"deleted", res.Deleted,
				"renamed", res.Renamed,
				"skipped", res.Skipped)
		}

		s.syncMu.Lock()
		if !s.syncPending {
			s.syncRunning = false
			s.syncMu.Unlock()
			return
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending request")
	}
}

// trigger schedules the callback after the debounce delay, resetting
// the timer on every call.
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
