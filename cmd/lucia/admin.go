package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lucia-ai/lucia/pkg/cache"
	"github.com/lucia-ai/lucia/pkg/config"
	"github.com/lucia-ai/lucia/pkg/hub"
	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/scheduler"
	"github.com/lucia-ai/lucia/pkg/store"
	"github.com/lucia-ai/lucia/pkg/toolserver"
)

// adminRoutes mounts the operational surface next to the A2A
// endpoints: health, metrics, cache administration, traces, and
// scheduled-task control.
func adminRoutes(cfg *config.Config, st *store.Store, decisions *cache.Cache, sched *scheduler.Service, tools *toolserver.Registry, hubClient *hub.Client) func(chi.Router) {
	return func(r chi.Router) {
		if cfg.Observability.MetricsEnabled {
			r.Handle("/metrics", observability.Handler())
		}

		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			if err := st.Ping(req.Context()); err != nil {
				http.Error(w, "document store unreachable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/cache/{namespace}/stats", func(w http.ResponseWriter, req *http.Request) {
				ns := cache.Namespace(chi.URLParam(req, "namespace"))
				respondJSON(w, decisions.Stats(ns))
			})
			r.Post("/cache/{namespace}/clear", func(w http.ResponseWriter, req *http.Request) {
				ns := cache.Namespace(chi.URLParam(req, "namespace"))
				decisions.Clear(req.Context(), ns)
				w.WriteHeader(http.StatusNoContent)
			})

			r.Get("/traces", func(w http.ResponseWriter, req *http.Request) {
				limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
				traces, err := st.ListTraces(req.Context(), req.URL.Query().Get("agent"), limit)
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				respondJSON(w, traces)
			})

			r.Get("/toolservers", func(w http.ResponseWriter, req *http.Request) {
				states := make(map[string]string)
				for _, id := range tools.ServerIDs() {
					states[id] = tools.State(id).String()
				}
				respondJSON(w, states)
			})

			r.Get("/tasks", func(w http.ResponseWriter, req *http.Request) {
				live := sched.Tasks().List()
				docs := make([]*store.TaskDocument, 0, len(live))
				for _, task := range live {
					docs = append(docs, task.Document())
				}
				respondJSON(w, docs)
			})
			r.Post("/tasks/{id}/cancel", taskOp(func(req *http.Request, id string) error {
				return sched.Cancel(req.Context(), id)
			}))
			r.Post("/tasks/{id}/dismiss", taskOp(func(req *http.Request, id string) error {
				return sched.Dismiss(req.Context(), id)
			}))
			r.Post("/tasks/{id}/snooze", taskOp(func(req *http.Request, id string) error {
				minutes, err := strconv.Atoi(req.URL.Query().Get("minutes"))
				if err != nil || minutes <= 0 {
					minutes = 9
				}
				return sched.Snooze(req.Context(), id, time.Now().Add(time.Duration(minutes)*time.Minute))
			}))

			r.Delete("/alarm-sounds/{id}", func(w http.ResponseWriter, req *http.Request) {
				id := chi.URLParam(req, "id")
				sound, err := st.GetAlarmSound(req.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}

				// Media uploaded through the platform is cleaned up on the
				// hub; externally managed media stays.
				if sound.UploadedViaLucia {
					if err := hubClient.DeleteMedia(req.Context(), sound.MediaURI); err != nil {
						slog.Warn("failed to delete alarm sound media from hub", "sound", id, "error", err)
					}
				}

				if err := st.DeleteAlarmSound(req.Context(), id); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	}
}

func taskOp(op func(req *http.Request, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := op(req, chi.URLParam(req, "id")); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write admin response", "error", err)
	}
}
