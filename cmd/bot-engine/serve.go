// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// maxRequestSize bounds the decoded utterance body.
const maxRequestSize = 1 << 20

// resolver is the engine surface used by the chat loop and the server.
type resolver interface {
	Resolve(ctx context.Context, u types.Utterance) (*types.Response, error)
	Reload(ctx context.Context) error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over HTTP",
	Long: `Serve exposes the engine as a JSON API:

  POST /resolve   answer one utterance
  POST /reload    refetch the knowledge package
  GET  /health    liveness probe

The server stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins")
	serveCmd.Flags().Duration("request-timeout", 30*time.Second, "per-request timeout")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	origins, _ := cmd.Flags().GetStringSlice("allowed-origins")
	timeout, _ := cmd.Flags().GetDuration("request-timeout")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         addr,
		Handler:      newHandler(a.engine, origins, a.logger),
		ReadTimeout:  timeout,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// newHandler routes the API and wraps it with CORS.
func newHandler(r resolver, origins []string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{engine: r, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/resolve", h.resolve).Methods(http.MethodPost)
	router.HandleFunc("/reload", h.reload).Methods(http.MethodPost)
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(router)
}

type handler struct {
	engine resolver
	logger *zap.Logger
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	var u types.Utterance
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding utterance: %w", err))
		return
	}
	if u.Text == "" && u.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("text or _id is required"))
		return
	}
	resp, err := h.engine.Resolve(r.Context(), u)
	if err != nil {
		h.logger.Error("resolve failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context()); err != nil {
		h.logger.Error("reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
