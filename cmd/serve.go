package main

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/sells-group/outreach-engine/internal/engine"
	"github.com/sells-group/outreach-engine/internal/events"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		eng, err := initEngine(st)
		if err != nil {
			return err
		}

		// The engagement consumer rides along when a broker is configured.
		if cfg.Events.AMQPURL != "" {
			consumer := events.NewConsumer(cfg.Events.AMQPURL, cfg.Events.Queue, st)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zap.L().Error("event consumer stopped", zap.Error(err))
				}
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(eng, st),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(eng *engine.Engine, st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			campaigns, err := st.ListCampaigns(r.Context(), store.CampaignFilter{
				Status: model.CampaignStatus(r.URL.Query().Get("status")),
				Owner:  r.URL.Query().Get("owner"),
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, campaigns)
		})

		r.Get("/{campaignID}", func(w http.ResponseWriter, r *http.Request) {
			campaign, err := st.GetCampaign(r.Context(), chi.URLParam(r, "campaignID"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, campaign)
		})

		r.Post("/{campaignID}/executions", func(w http.ResponseWriter, r *http.Request) {
			executionID, err := eng.Start(r.Context(), chi.URLParam(r, "campaignID"), model.ExecutionTypeManual)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID})
		})

		r.Get("/{campaignID}/executions", func(w http.ResponseWriter, r *http.Request) {
			executions, err := st.ListExecutions(r.Context(), chi.URLParam(r, "campaignID"), 50)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, executions)
		})
	})

	r.Route("/executions", func(r chi.Router) {
		r.Get("/{executionID}", func(w http.ResponseWriter, r *http.Request) {
			status, err := eng.Status(r.Context(), chi.URLParam(r, "executionID"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, status)
		})

		r.Get("/{executionID}/summary", func(w http.ResponseWriter, r *http.Request) {
			summary, err := eng.Summarize(r.Context(), chi.URLParam(r, "executionID"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, summary)
		})

		r.Post("/{executionID}/stop", func(w http.ResponseWriter, r *http.Request) {
			accepted, err := eng.Stop(r.Context(), chi.URLParam(r, "executionID"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
		})
	})

	r.Route("/leads", func(r chi.Router) {
		r.Get("/{leadID}", func(w http.ResponseWriter, r *http.Request) {
			lead, err := st.GetLead(r.Context(), chi.URLParam(r, "leadID"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, lead)
		})

		r.Post("/{leadID}/score", func(w http.ResponseWriter, r *http.Request) {
			lead, err := eng.ScoreLead(r.Context(), chi.URLParam(r, "leadID"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, lead)
		})

		r.Post("/{leadID}/enrich", func(w http.ResponseWriter, r *http.Request) {
			lead, fields, err := eng.EnrichLead(r.Context(), chi.URLParam(r, "leadID"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"lead":            lead,
				"enriched_fields": fields,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case resilience.IsConflict(err):
		status = http.StatusConflict
	case resilience.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
