package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telecast/internal/config"
	"telecast/internal/logging"
	"telecast/internal/poller"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// statusResponse is the /api/status payload.
type statusResponse struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	DBPath       string `json:"db_path"`
	LockFilePath string `json:"lock_file"`
	LastCycleAt  string `json:"last_cycle_at,omitempty"`
	LastCycleErr string `json:"last_cycle_error,omitempty"`
}

type checkResponse struct {
	Triggered bool   `json:"triggered"`
	Detail    string `json:"detail,omitempty"`
}

type reconcileResponse struct {
	RefsExamined         int `json:"refs_examined"`
	Resolved             int `json:"resolved"`
	Ambiguous            int `json:"ambiguous"`
	Unresolved           int `json:"unresolved"`
	NotificationsUpdated int `json:"notifications_updated"`
	NotificationsMerged  int `json:"notifications_merged"`
	PreferencesUpdated   int `json:"preferences_updated"`
}

type historyEntry struct {
	ID           int64  `json:"id"`
	ShowTitle    string `json:"show_title"`
	Season       int    `json:"season"`
	Episode      int    `json:"episode"`
	EpisodeTitle string `json:"episode_title,omitempty"`
	SentAt       string `json:"sent_at"`
}

type historyResponse struct {
	Email         string         `json:"email"`
	Notifications []historyEntry `json:"notifications"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", requireBearer(srv.token, srv.handleStatus))
	mux.HandleFunc("/api/check", requireBearer(srv.token, srv.handleCheck))
	mux.HandleFunc("/api/reconcile", requireBearer(srv.token, srv.handleReconcile))
	mux.HandleFunc("/api/history", requireBearer(srv.token, srv.handleHistory))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound address, for tests using port zero.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status()
	payload := statusResponse{
		Running:      status.Running,
		PID:          status.PID,
		DBPath:       status.DBPath,
		LockFilePath: status.LockFilePath,
		LastCycleErr: status.LastCycleErr,
	}
	if !status.LastCycleAt.IsZero() {
		payload.LastCycleAt = status.LastCycleAt.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleCheck triggers an immediate cycle. The lookback query parameter (in
// hours) widens the episode window for manual catch-up runs.
func (s *apiServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	opts := poller.CycleOptions{}
	if value := strings.TrimSpace(r.URL.Query().Get("lookback_hours")); value != "" {
		hours, err := strconv.Atoi(value)
		if err != nil || hours <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid lookback_hours")
			return
		}
		opts.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	opts.DryRun = r.URL.Query().Get("dry_run") == "1"

	triggered := s.daemon.TriggerCycle(opts)
	resp := checkResponse{Triggered: triggered}
	if !triggered {
		resp.Detail = "a cycle is already running"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.daemon.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, reconcileResponse{
		RefsExamined:         report.RefsExamined,
		Resolved:             report.Resolved,
		Ambiguous:            report.Ambiguous,
		Unresolved:           report.Unresolved,
		NotificationsUpdated: report.NotificationsUpdated,
		NotificationsMerged:  report.NotificationsMerged,
		PreferencesUpdated:   report.PreferencesUpdated,
	})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	email := poller.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		s.writeError(w, http.StatusBadRequest, "email query parameter required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notifications, err := s.daemon.store.NotificationsForUser(r.Context(), email, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]historyEntry, 0, len(notifications))
	for _, n := range notifications {
		entries = append(entries, historyEntry{
			ID:           n.ID,
			ShowTitle:    n.ShowTitle,
			Season:       n.Season,
			Episode:      n.Episode,
			EpisodeTitle: n.EpisodeTitle,
			SentAt:       n.SentAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Email: email, Notifications: entries})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
