package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"replyguard/internal/config"
	"replyguard/internal/cooldown"
	"replyguard/internal/history"
	"replyguard/internal/ingest"
	"replyguard/internal/model"
	"replyguard/internal/normalize"
	"replyguard/internal/storage"
)

const sourceWebhook = "webhook"

// Deps is everything the API serves from.
type Deps struct {
	Config     *config.Manager
	Dispatcher ingest.Handler
	// Controller and Evictor are read for the cooldown settings in effect;
	// they are fixed at startup and do not follow config reloads.
	Controller *cooldown.Controller
	Cache      cooldown.Cache
	Evictor    *cooldown.Evictor
	Store      storage.Store
	History    *history.Store
	Logger     *slog.Logger
	Version    string
}

type Server struct {
	Deps
	started time.Time
	router  *chi.Mux
}

type statusResponse struct {
	Status      string               `json:"status"`
	Time        string               `json:"time"`
	Version     string               `json:"version"`
	Uptime      string               `json:"uptime"`
	ConfigPath  string               `json:"config_path,omitempty"`
	Storage     string               `json:"storage"`
	Cooldown    cooldownStatus       `json:"cooldown"`
	Kafka       bool                 `json:"kafka"`
	Service     *model.ServiceStatus `json:"service,omitempty"`
	ServiceErr  string               `json:"service_error,omitempty"`
	HistorySize int                  `json:"history_size"`
}

type cooldownStatus struct {
	Window         string `json:"window"`
	CacheRetention string `json:"cache_retention"`
	SweepInterval  string `json:"sweep_interval"`
	StoreTimeout   string `json:"store_timeout"`
	Coalesce       bool   `json:"coalesce"`
	CacheEntries   int    `json:"cache_entries"`
}

// webhookRequest is the subset of a Dialogflow ES fulfillment request we read.
type webhookRequest struct {
	ResponseID  string `json:"responseId"`
	Session     string `json:"session"`
	QueryResult struct {
		QueryText string `json:"queryText"`
		Intent    struct {
			DisplayName string `json:"displayName"`
		} `json:"intent"`
	} `json:"queryResult"`
	OriginalDetectIntentRequest struct {
		Source  string `json:"source"`
		Payload struct {
			Data struct {
				Source struct {
					UserID string `json:"userId"`
				} `json:"source"`
			} `json:"data"`
		} `json:"payload"`
	} `json:"originalDetectIntentRequest"`
}

type webhookResponse struct {
	FulfillmentText string `json:"fulfillmentText,omitempty"`
}

func NewServer(deps Deps) *Server {
	s := &Server{Deps: deps, started: time.Now().UTC()}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", s.handleWebhook)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/decisions", s.handleDecisions)
	r.Get("/cooldown/{userID}", s.handleCooldown)
	r.Post("/admin/sweep", s.handleSweep)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done. The returned channel closes once in-flight
// requests have drained.
func Start(ctx context.Context, deps Deps) (*http.Server, <-chan struct{}) {
	current := deps.Config.Get().API
	if deps.Logger != nil {
		deps.Logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(deps)
	httpServer := &http.Server{
		Addr:         current.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  current.ReadTimeout.Std(),
		WriteTimeout: current.WriteTimeout.Std(),
		IdleTimeout:  120 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctxShutdown); err != nil && deps.Logger != nil {
			deps.Logger.Warn("api shutdown incomplete", "err", err)
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if deps.Logger != nil {
				deps.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer, done
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty or oversized body")
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ev, err := normalize.Normalize(normalize.EventFields{
		ID:      req.ResponseID,
		UserID:  req.OriginalDetectIntentRequest.Payload.Data.Source.UserID,
		Session: req.Session,
		Intent:  req.QueryResult.Intent.DisplayName,
		Text:    req.QueryResult.QueryText,
		Source:  sourceWebhook,
	}, s.Dispatcher.Intents(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply := s.Dispatcher.Handle(r.Context(), ev)
	writeJSON(w, http.StatusOK, webhookResponse{FulfillmentText: reply.Text})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.Version,
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		ConfigPath: s.Config.Path(),
		Storage:    cfg.Storage.Driver,
		Cooldown: cooldownStatus{
			Window:         cfg.Cooldown.Window.String(),
			CacheRetention: cfg.Cooldown.CacheRetention.String(),
			SweepInterval:  cfg.Cooldown.SweepInterval.String(),
			StoreTimeout:   cfg.Cooldown.StoreTimeout.String(),
			Coalesce:       cfg.Cooldown.Coalesce,
		},
		Kafka: cfg.Kafka.Enabled,
	}
	if s.Controller != nil {
		resp.Cooldown.Window = s.Controller.Window().String()
		resp.Cooldown.StoreTimeout = s.Controller.StoreTimeout().String()
		resp.Cooldown.Coalesce = s.Controller.Coalescing()
	}
	if s.Evictor != nil {
		resp.Cooldown.CacheRetention = s.Evictor.MaxAge().String()
		resp.Cooldown.SweepInterval = s.Evictor.Interval().String()
	}
	if s.Cache != nil {
		resp.Cooldown.CacheEntries = s.Cache.Len()
	}
	if s.History != nil {
		resp.HistorySize = s.History.Len()
	}
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.Cooldown.StoreTimeout.Std())
		defer cancel()
		svc, err := s.Store.GetStatus(ctx)
		if err != nil {
			resp.Status = "degraded"
			resp.ServiceErr = storage.KindOf(storage.Classify(err))
		} else {
			resp.Service = svc
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{"decisions": []model.DecisionEvent{}, "count": 0})
		return
	}
	q := r.URL.Query()
	var list []model.DecisionEvent
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.History.Since(ts)
	case q.Get("user_id") != "":
		list = s.History.ForUser(q.Get("user_id"))
	default:
		limit := 0
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		list = s.History.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": list,
		"count":     len(list),
	})
}

func (s *Server) handleCooldown(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	resp := map[string]any{"user_id": userID, "key": storage.UserKey(userID)}
	if s.Cache != nil {
		if entry, ok := s.Cache.Get(userID); ok {
			resp["cache"] = map[string]any{
				"timestamp":    entry.Timestamp.Format(time.RFC3339Nano),
				"last_updated": entry.LastUpdated.Format(time.RFC3339Nano),
			}
		}
	}
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.Config.Get().Cooldown.StoreTimeout.Std())
		defer cancel()
		rec, err := s.Store.GetCooldown(ctx, userID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, storage.KindOf(storage.Classify(err)))
			return
		}
		if rec != nil {
			resp["record"] = rec
		}
	}
	if _, hasCache := resp["cache"]; !hasCache {
		if _, hasRecord := resp["record"]; !hasRecord {
			writeError(w, http.StatusNotFound, "no cooldown state for user")
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSweep(w http.ResponseWriter, _ *http.Request) {
	if s.Evictor == nil {
		writeError(w, http.StatusServiceUnavailable, "evictor not running")
		return
	}
	removed := s.Evictor.SweepNow()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
