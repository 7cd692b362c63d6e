package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/veloria-ai/veloria/internal/config"
	"github.com/veloria-ai/veloria/internal/provider"
	"github.com/veloria-ai/veloria/internal/quota"
	"github.com/veloria-ai/veloria/internal/session"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8087)")
	return cmd
}

// chatServer exposes one-turn-per-request chat over HTTP. Turns for the same
// user are serialized with a per-user lock; different users proceed in
// parallel.
type chatServer struct {
	cfg      *config.Config
	provider provider.Provider
	store    session.Store
	logger   *slog.Logger

	userLocks sync.Map // user id -> *sync.Mutex
}

func runServe(addr string) error {
	cfg := initConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	p, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := store.Seed(context.Background()); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	s := &chatServer{cfg: cfg, provider: p, store: store, logger: logger}

	if addr == "" {
		addr = cfg.HTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr, "provider", p.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *chatServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/users", s.handleListUsers)
		r.Get("/users/{userID}", s.handleGetUser)
		r.Post("/users/{userID}/messages", s.handleMessage)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func (s *chatServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type userResponse struct {
	ID        string `json:"id"`
	Tier      string `json:"tier"`
	Messages  int    `json:"messages"`
	Remaining *int   `json:"remaining,omitempty"` // nil for unlimited tiers
}

func toUserResponse(u quota.User) userResponse {
	resp := userResponse{ID: u.ID, Tier: string(u.Tier), Messages: u.MessageCount}
	if r := u.Remaining(); r != quota.Unlimited {
		resp.Remaining = &r
	}
	return resp
}

func (s *chatServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
		return
	}
	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = toUserResponse(u)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *chatServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	u, err := s.store.User(r.Context(), userID)
	if errors.Is(err, session.ErrUnknownUser) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown user"})
		return
	}
	if err != nil {
		s.logger.Error("load user failed", "error", err, "user", userID)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(*u))
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Reply string `json:"reply,omitempty"`
	Ended bool   `json:"ended,omitempty"`
	Error string `json:"error,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// handleMessage runs exactly one turn for the user. Each request loads the
// state, processes the turn, and commits; the per-user lock keeps concurrent
// requests for one user strictly sequential.
func (s *chatServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		respondJSON(w, http.StatusBadRequest, messageResponse{Error: "message is required"})
		return
	}

	lock, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c := buildSession(s.cfg, s.provider, s.store, s.logger)
	if err := c.Start(r.Context(), userID); err != nil {
		if errors.Is(err, session.ErrUnknownUser) {
			respondJSON(w, http.StatusNotFound, messageResponse{Error: "unknown user"})
			return
		}
		s.logger.Error("session start failed", "error", err, "user", userID)
		respondJSON(w, http.StatusInternalServerError, messageResponse{Error: "storage failure"})
		return
	}

	res, err := c.Turn(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("turn not committed", "error", err, "user", userID)
		respondJSON(w, http.StatusInternalServerError, messageResponse{Error: "turn not committed"})
		return
	}

	switch res.Kind {
	case session.TurnDenied:
		respondJSON(w, http.StatusForbidden, messageResponse{Error: "quota exceeded", Limit: res.Limit})
	case session.TurnEnded:
		respondJSON(w, http.StatusOK, messageResponse{Ended: true})
	default:
		respondJSON(w, http.StatusOK, messageResponse{Reply: res.Reply})
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
