package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/repository"
	"storyboard-ai-generation/internal/infra/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
}

// errStatus maps domain sentinels onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrJobTerminal), errors.Is(err, domain.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedModel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidParameter), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ---- auth ----

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Secret == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if s.secret == "" || body.Secret != s.secret {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// ---- jobs ----

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	job, err := s.genUC.Submit(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	logging.With(r.Context(), s.log).Debug().Str("job_id", job.ID).Msg("job accepted")
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.genUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	f := repository.JobFilter{
		ClipID: r.URL.Query().Get("clip_id"),
		Status: model.JobStatus(r.URL.Query().Get("status")),
	}
	jobs, err := s.genUC.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.genUC.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	if err := s.genUC.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

// ---- backends ----

func (s *Server) handleRegisterBackend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string   `json:"id"`
		Kind     string   `json:"kind"`
		Endpoint string   `json:"endpoint"`
		APIKey   string   `json:"api_key"`
		Kinds    []string `json:"kinds"`
		Models   []string `json:"models"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Endpoint == "" {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	kind := model.BackendKind(body.Kind)
	if kind != model.BackendKindStandard && kind != model.BackendKindServerless {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	kinds := make([]model.GenerationKind, 0, len(body.Kinds))
	for _, k := range body.Kinds {
		kinds = append(kinds, model.GenerationKind(k))
	}
	if len(kinds) == 0 {
		kinds = []model.GenerationKind{model.GenerationImage, model.GenerationVideo}
	}
	d := &model.BackendDescriptor{
		ID:       body.ID,
		Kind:     kind,
		Endpoint: body.Endpoint,
		APIKey:   body.APIKey,
		Capabilities: model.Capabilities{
			Kinds:  kinds,
			Models: body.Models,
		},
	}
	if err := s.registry.Register(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	backends, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if backends == nil {
		backends = []*model.BackendDescriptor{}
	}
	writeJSON(w, http.StatusOK, backends)
}

func (s *Server) handleDeregisterBackend(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Deregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckHealth(w http.ResponseWriter, r *http.Request) {
	state, err := s.registry.CheckHealth(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"health": string(state)})
}

// handleNextJob serves pull-style backends: the caller gets the best pending
// job it can run, already assigned to it, or 204 when the queue has nothing.
func (s *Server) handleNextJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.genUC.NextFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ---- queue ----

func (s *Server) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.genUC.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
