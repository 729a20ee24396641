package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"daily-work-tracker/internal/config"
	"daily-work-tracker/internal/models"
	"daily-work-tracker/internal/ratelimit"
	"daily-work-tracker/internal/store"
	"daily-work-tracker/internal/telemetry"
)

// Server wires the HTTP surface the mutation coordinator submits against.
type Server struct {
	cfg     config.Config
	store   *store.Store
	limiter *ratelimit.EmployeeLimiter
}

// New constructs the API server. limiter may be nil in tests.
func New(cfg config.Config, st *store.Store, limiter *ratelimit.EmployeeLimiter) *Server {
	return &Server{cfg: cfg, store: st, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "env": s.cfg.Env})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/workitems", s.handleList)
	r.Post("/workitems", s.handleCreate)
	r.Get("/workitems/{id}", s.handleGet)
	r.Patch("/workitems/{id}", s.handlePatch)
	r.Get("/workitems/{id}/history", s.handleHistory)
	r.Get("/users", s.handleUsers)
	r.Post("/users", s.handleCreateUser)
	return r
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListWorkItems(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createRequest struct {
	Category    string `json:"category"`
	InchargeID  string `json:"incharge_id"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.InchargeID == "" {
		http.Error(w, "incharge_id is required", http.StatusBadRequest)
		return
	}
	item, err := s.store.CreateWorkItem(r.Context(), store.CreateWorkItemParams{
		Category:    req.Category,
		InchargeID:  req.InchargeID,
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetWorkItem(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "work item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handlePatch applies a partial field update and returns the canonical
// record, which is what the client cache reconciles against.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), employeeFromRequest(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	var patch models.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(patch) == 0 {
		http.Error(w, "empty patch", http.StatusBadRequest)
		return
	}

	item, err := s.store.ApplyPatch(r.Context(), chi.URLParam(r, "id"), patch)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "work item not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, store.ErrInvalidPatch) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := s.store.FieldHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleCreateUser upserts a directory entry. The directory has to be
// populated before work items can reference an incharge or an assignee.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if u.ID == "" || u.Name == "" {
		http.Error(w, "id and name are required", http.StatusBadRequest)
		return
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func employeeFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Employee-ID"); v != "" {
		return v
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
