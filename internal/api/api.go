// Package api exposes a small operational HTTP surface: health, history
// and export downloads. It reads through the store and never writes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FunnelCoach/internal/export"
	"github.com/BTreeMap/FunnelCoach/internal/models"
	"github.com/BTreeMap/FunnelCoach/internal/store"
)

// Server timeouts.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server serves the HTTP API.
type Server struct {
	store      store.Store
	httpServer *http.Server
}

// NewServer creates an API server bound to addr.
func NewServer(addr string, st store.Store) *Server {
	s := &Server{store: st}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /export", s.handleExport)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the underlying handler, used in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves in a background goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// userAndFunnel resolves the user query parameter and the funnel the
// request targets (explicit ?funnel=, defaulting to the user's active one).
func (s *Server) userAndFunnel(r *http.Request) (*models.User, models.FunnelType, error) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		return nil, "", fmt.Errorf("missing user parameter")
	}
	u, err := s.store.GetUser(userID)
	if err != nil {
		return nil, "", err
	}
	if u == nil {
		return nil, "", nil
	}
	ft := u.ActiveFunnel
	if q := r.URL.Query().Get("funnel"); q != "" {
		qt := models.FunnelType(q)
		if !models.IsValidFunnelType(qt) {
			return nil, "", fmt.Errorf("invalid funnel %q", q)
		}
		ft = qt
	}
	return u, ft, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	u, ft, err := s.userAndFunnel(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if u == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	history, err := s.store.GetUserHistory(u.ID)
	if err != nil {
		slog.Error("History lookup failed", "error", err, "userID", u.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	rows := make([]models.WeekData, 0, len(history))
	for _, row := range history {
		if row.FunnelType == ft {
			rows = append(rows, row)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		slog.Error("History encoding failed", "error", err, "userID", u.ID)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	u, ft, err := s.userAndFunnel(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if u == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	history, err := s.store.GetUserHistory(u.ID)
	if err != nil {
		slog.Error("Export lookup failed", "error", err, "userID", u.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	switch format {
	case "csv":
		out, err := export.CSV(history, ft)
		if err != nil {
			slog.Error("CSV export failed", "error", err, "userID", u.ID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="funnel_history.csv"`)
		w.Write(out)
	case "xlsx":
		out, err := export.XLSX(history, ft)
		if err != nil {
			slog.Error("XLSX export failed", "error", err, "userID", u.ID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="funnel_history.xlsx"`)
		w.Write(out)
	default:
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
	}
}
