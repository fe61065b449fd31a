package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/pipeline"
	"github.com/waxworks/trackline/internal/replay"
	"github.com/waxworks/trackline/internal/rules"
	"github.com/waxworks/trackline/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("serve: listening", zap.Int("port", cfg.Server.Port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if eris.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs", handleStartRun(env))
	r.Get("/runs/{id}", handleGetRun(env))
	r.Post("/replays", handleSubmitReplay(env))
	r.Put("/rules/{field}", handleUpdateRule(env))
	r.Get("/providers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.Registry.List())
	})

	return r
}

type runRequest struct {
	Type              string            `json:"type"`
	Selector          model.RunSelector `json:"selector"`
	Fields            []model.FieldName `json:"fields,omitempty"`
	ConfigVersion     int64             `json:"config_version,omitempty"`
	ExcludedProviders []string          `json:"excluded_providers,omitempty"`
}

func handleStartRun(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var excluded map[string]bool
		if len(req.ExcludedProviders) > 0 {
			excluded = make(map[string]bool, len(req.ExcludedProviders))
			for _, name := range req.ExcludedProviders {
				excluded[name] = true
			}
		}

		// The run executes on the request context: the response carries the
		// finished run, and a client disconnect cancels the run to a
		// resumable partial.
		opts := pipeline.Options{
			Type:              model.RunType(req.Type),
			Selector:          req.Selector,
			Fields:            req.Fields,
			ConfigVersion:     req.ConfigVersion,
			ExcludedProviders: excluded,
		}
		run, err := env.Runner.Start(r.Context(), opts)
		if err != nil {
			if eris.Is(err, rules.ErrUnknownVersion) || eris.Is(err, rules.ErrUnknownField) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, run)
	}
}

func handleGetRun(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleSubmitReplay(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.ReplayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, err := env.Replay.Submit(r.Context(), req)
		if err != nil {
			switch {
			case eris.Is(err, replay.ErrNoTargets):
				writeError(w, http.StatusBadRequest, err.Error())
			case eris.Is(err, replay.ErrTargetNotFound):
				writeError(w, http.StatusNotFound, err.Error())
			default:
				writeError(w, http.StatusBadRequest, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
	}
}

func handleUpdateRule(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule model.WaterfallRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		version, err := env.Rules.UpdateRule(r.Context(), chi.URLParam(r, "field"), rule)
		if err != nil {
			if eris.Is(err, model.ErrValidation) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"config_version": version})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
