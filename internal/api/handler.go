package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/overseer/internal/agents"
	"github.com/nidhogg/overseer/internal/pipeline"
	"github.com/nidhogg/overseer/internal/plugin"
	"github.com/nidhogg/overseer/internal/runtime"
	"github.com/nidhogg/overseer/internal/store"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	runtime   *runtime.Runtime
	factories map[string]agents.Factory
	processor *pipeline.Processor
	store     store.Store
	plugins   *plugin.Registry
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	rt *runtime.Runtime,
	factories map[string]agents.Factory,
	processor *pipeline.Processor,
	st store.Store,
	plugins *plugin.Registry,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		runtime:   rt,
		factories: factories,
		processor: processor,
		store:     st,
		plugins:   plugins,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Runtime routes
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.startAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.stopAgent)
		r.Post("/cleanup", h.cleanup)

		// Pipeline routes
		r.Get("/rules", h.listRules)
		r.Delete("/rules/{name}", h.removeRule)
		r.Post("/rules/{name}/enable", h.enableRule)
		r.Post("/rules/{name}/disable", h.disableRule)
		r.Get("/strategy", h.getStrategy)
		r.Put("/strategy", h.setStrategy)

		// Result routes
		r.Get("/results", h.listResults)
		r.Get("/results/summary", h.resultsSummary)
		r.Delete("/results", h.clearResults)

		// Plugin routes
		r.Get("/plugins", h.listPlugins)
		r.Post("/plugins/{name}/{method}", h.executePlugin)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"runtime": string(h.runtime.Status()),
	})
}

type startAgentRequest struct {
	Type     string         `json:"type"`
	Params   map[string]any `json:"params"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handler) startAgent(w http.ResponseWriter, r *http.Request) {
	var req startAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	agent, err := agents.Build(h.factories, req.Type, req.Params)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, agents.ErrUnknownAgentType) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["agent_type"] = req.Type

	id, err := h.runtime.StartAgent(agent, metadata)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, runtime.ErrCapacityExceeded):
			status = http.StatusTooManyRequests
		case errors.Is(err, runtime.ErrTerminated):
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"execution_id": id})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	filter := runtime.TaskStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, h.runtime.ListAgents(filter))
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runtime.GetAgentStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) stopAgent(w http.ResponseWriter, r *http.Request) {
	stopped, err := h.runtime.StopAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

type cleanupRequest struct {
	RemoveWorkspaces bool `json:"remove_workspaces"`
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.runtime.Cleanup(r.Context(), req.RemoveWorkspaces); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

// ruleView is the serializable projection of a rule.
type ruleView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Stage       string `json:"stage"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	stage := pipeline.Stage(r.URL.Query().Get("stage"))
	rules := h.processor.Rules(stage)
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, ruleView{
			Name:        rule.Name,
			Description: rule.Description,
			Stage:       string(rule.Stage),
			Priority:    rule.Priority,
			Enabled:     rule.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) removeRule(w http.ResponseWriter, r *http.Request) {
	h.mutateRule(w, r, h.processor.RemoveRule)
}

func (h *Handler) enableRule(w http.ResponseWriter, r *http.Request) {
	h.mutateRule(w, r, h.processor.EnableRule)
}

func (h *Handler) disableRule(w http.ResponseWriter, r *http.Request) {
	h.mutateRule(w, r, h.processor.DisableRule)
}

func (h *Handler) mutateRule(w http.ResponseWriter, r *http.Request, op func(string) bool) {
	name := chi.URLParam(r, "name")
	if !op(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found: " + name})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rule": name})
}

func (h *Handler) getStrategy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"strategy": string(h.processor.Strategy())})
}

type strategyRequest struct {
	Strategy string `json:"strategy"`
}

func (h *Handler) setStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	strategy, ok := pipeline.ParseStrategy(req.Strategy)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown strategy: " + req.Strategy})
		return
	}
	h.processor.SetStrategy(strategy)
	writeJSON(w, http.StatusOK, map[string]string{"strategy": req.Strategy})
}

func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		Type:     q.Get("type"),
		Source:   q.Get("source"),
		FilePath: q.Get("file_path"),
		Priority: store.Priority(q.Get("priority")),
		Tag:      q.Get("tag"),
	}
	records, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) resultsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Summary(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) clearResults(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Clear(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cleared": strconv.Itoa(n)})
}

func (h *Handler) listPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.plugins.List())
}

func (h *Handler) executePlugin(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&params)
	}

	result, err := h.plugins.Execute(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "method"), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, plugin.ErrPluginNotFound) || errors.Is(err, plugin.ErrMethodNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
