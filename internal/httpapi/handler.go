// Package httpapi is the origin server: it exposes the repository as JSON
// endpoints under /api/ and serves the shell pages the gateway precaches.
// It carries no caching policy of its own.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"todokeep/internal/utils"
	"todokeep/store"
)

// TodoHandler serves the /api/todos surface over a repository.
type TodoHandler struct {
	repo store.Repository
	log  *utils.Logger
}

// NewTodoHandler creates a handler over the given repository.
func NewTodoHandler(repo store.Repository) *TodoHandler {
	return &TodoHandler{
		repo: repo,
		log:  utils.GetLogger(),
	}
}

// createRequest is the JSON body accepted by Create.
type createRequest struct {
	Title    string         `json:"title"`
	Notes    string         `json:"notes"`
	DueDate  *time.Time     `json:"due_date"`
	Priority store.Priority `json:"priority"`
	Tags     []string       `json:"tags"`
}

// updateRequest is the JSON body accepted by Update. Absent fields are left
// unchanged; clear_due removes the due date.
type updateRequest struct {
	Title     *string         `json:"title"`
	Notes     *string         `json:"notes"`
	DueDate   *time.Time      `json:"due_date"`
	ClearDue  bool            `json:"clear_due"`
	Priority  *store.Priority `json:"priority"`
	Tags      []string        `json:"tags"`
	Completed *bool           `json:"completed"`
}

// idsRequest is the JSON body accepted by the bulk endpoints.
type idsRequest struct {
	IDs []string `json:"ids"`
}

func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	id, err := h.repo.Create(r.Context(), store.CreateRequest{
		Title:    req.Title,
		Notes:    req.Notes,
		DueDate:  req.DueDate,
		Priority: req.Priority,
		Tags:     req.Tags,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	todo, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	w.Header().Set("Location", "/api/todos/"+id)
	respondJSON(w, http.StatusCreated, todo)
}

func (h *TodoHandler) Get(w http.ResponseWriter, r *http.Request) {
	todo, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, todo)
}

func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	todos, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, todos)
}

// filterFromQuery builds the conjunctive filter from query parameters.
func filterFromQuery(r *http.Request) (store.Filter, error) {
	var filter store.Filter
	q := r.URL.Query()

	if v := q.Get("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("completed must be true or false")
		}
		filter.Completed = &completed
	}
	filter.Tag = q.Get("tag")
	if v := q.Get("priority"); v != "" {
		p := store.Priority(v)
		if !p.Valid() {
			return filter, errors.New("priority must be low, normal or high")
		}
		filter.Priority = &p
	}
	filter.Search = q.Get("q")
	for name, dst := range map[string]**time.Time{"due_from": &filter.DueFrom, "due_to": &filter.DueTo} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errors.New(name + " must be RFC3339")
			}
			*dst = &t
		}
	}
	return filter, nil
}

func (h *TodoHandler) Today(w http.ResponseWriter, r *http.Request) {
	todos, err := h.repo.ListDueTodayOrOverdue(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, todos)
}

func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	todo, err := h.repo.Update(r.Context(), chi.URLParam(r, "id"), store.UpdateRequest{
		Title:     req.Title,
		Notes:     req.Notes,
		DueDate:   req.DueDate,
		ClearDue:  req.ClearDue,
		Priority:  req.Priority,
		Tags:      req.Tags,
		Completed: req.Completed,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, todo)
}

func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TodoHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	todo, err := h.repo.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, todo)
}

func (h *TodoHandler) BulkComplete(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.repo.BulkComplete(r.Context(), req.IDs); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TodoHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.repo.BulkDelete(r.Context(), req.IDs); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TodoHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.repo.AllTags(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tags)
}

func (h *TodoHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *TodoHandler) Export(w http.ResponseWriter, r *http.Request) {
	todos, err := h.repo.ExportAll(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, todos)
}

func (h *TodoHandler) Import(w http.ResponseWriter, r *http.Request) {
	overwrite, _ := strconv.ParseBool(r.URL.Query().Get("overwrite"))

	var todos []store.Todo
	if err := json.NewDecoder(r.Body).Decode(&todos); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.repo.ImportAll(r.Context(), todos, overwrite); err != nil {
		h.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"imported": len(todos)})
}

// handleError maps store errors to HTTP status codes.
func (h *TodoHandler) handleError(w http.ResponseWriter, err error) {
	var validationErr *store.ValidationError
	switch {
	case store.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("repository failure: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
