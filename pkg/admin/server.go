package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/attrd-core/pkg/attrd"
	"github.com/cuemby/attrd-core/pkg/executor"
	"github.com/cuemby/attrd-core/pkg/metrics"
	"github.com/cuemby/attrd-core/pkg/proxy"
)

// Server is the daemon's debug/observability HTTP surface.
type Server struct {
	router *chi.Mux

	attrEngine *attrd.Engine
	actionEng  *executor.Engine
	mux        *proxy.Multiplexer
}

// NewServer wires the admin routes over the three component engines. Any of
// the engines may be nil (e.g. in a test harness exercising one component
// alone); the corresponding debug endpoint reports an empty snapshot.
func NewServer(attrEngine *attrd.Engine, actionEng *executor.Engine, mux *proxy.Multiplexer) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		attrEngine: attrEngine,
		actionEng:  actionEng,
		mux:        mux,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", metrics.HealthHandler())
	s.router.Get("/readyz", metrics.ReadyHandler())
	s.router.Get("/livez", metrics.LivenessHandler())
	s.router.Get("/metrics", promhttp.Handler().ServeHTTP)
	s.router.Get("/debug/attributes", s.handleDebugAttributes)
	s.router.Get("/debug/actions", s.handleDebugActions)
	s.router.Get("/debug/sessions", s.handleDebugSessions)
	s.router.Get("/query/{name}", s.handleQuery)
	s.router.Post("/clear-failure", s.handleClearFailure)
}

// Handler returns the underlying router for embedding under a custom
// listener or test server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleDebugAttributes(w http.ResponseWriter, r *http.Request) {
	type entryView struct {
		Name           string  `json:"name"`
		State          string  `json:"state"`
		CurrentValue   *string `json:"current_value"`
		CommittedValue *string `json:"committed_value"`
	}

	var views []entryView
	if s.attrEngine != nil {
		for _, name := range s.attrEngine.Names() {
			entry, ok := s.attrEngine.Get(name)
			if !ok {
				continue
			}
			views = append(views, entryView{
				Name:           entry.Name,
				State:          string(entry.State()),
				CurrentValue:   entry.CurrentValue,
				CommittedValue: entry.CommittedValue,
			})
		}
	}
	writeJSON(w, views)
}

func (s *Server) handleDebugActions(w http.ResponseWriter, r *http.Request) {
	type actionView struct {
		Identity  string `json:"identity"`
		RscID     string `json:"rsc_id"`
		Operation string `json:"operation"`
		State     string `json:"state"`
	}

	view := struct {
		InFlight []actionView `json:"in_flight"`
		Blocked  []actionView `json:"blocked"`
	}{}

	if s.actionEng != nil {
		inFlight, blocked := s.actionEng.Snapshot()
		for _, a := range inFlight {
			view.InFlight = append(view.InFlight, actionView{Identity: a.ID().String(), RscID: a.RscID, Operation: a.Operation, State: string(a.State)})
		}
		for _, a := range blocked {
			view.Blocked = append(view.Blocked, actionView{Identity: a.ID().String(), RscID: a.RscID, Operation: a.Operation, State: string(a.State)})
		}
	}
	writeJSON(w, view)
}

func (s *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if s.mux != nil {
		ids = s.mux.SessionIDs()
	}
	writeJSON(w, ids)
}

// handleQuery backs "attrd query <name>", the CLI equivalent of
// crm_attribute -Q: report a single attribute's current and committed
// values, or 404 if the daemon has never seen that name.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if s.attrEngine == nil {
		http.Error(w, "attribute engine not available", http.StatusServiceUnavailable)
		return
	}

	entry, ok := s.attrEngine.Get(name)
	if !ok {
		http.Error(w, "unknown attribute", http.StatusNotFound)
		return
	}

	writeJSON(w, struct {
		Name           string  `json:"name"`
		State          string  `json:"state"`
		CurrentValue   *string `json:"current_value"`
		CommittedValue *string `json:"committed_value"`
	}{
		Name:           entry.Name,
		State:          string(entry.State()),
		CurrentValue:   entry.CurrentValue,
		CommittedValue: entry.CommittedValue,
	})
}

// handleClearFailure backs "attrd clear-failure", forwarding to
// attrd.Engine.ClearFailure with the request's form-encoded parameters.
// interval is milliseconds; resource, operation, and host are optional and
// default to "clear every resource's failure attributes locally".
func (s *Server) handleClearFailure(w http.ResponseWriter, r *http.Request) {
	if s.attrEngine == nil {
		http.Error(w, "attribute engine not available", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	var intervalMS int64
	if raw := r.Form.Get("interval_ms"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid interval_ms", http.StatusBadRequest)
			return
		}
		intervalMS = v
	}

	s.attrEngine.ClearFailure(r.Form.Get("resource"), r.Form.Get("operation"), intervalMS, r.Form.Get("host"))
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
