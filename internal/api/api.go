// Package api exposes the ticket store over a local REST surface for the
// board and form components. The identity provider is external: the acting
// identity arrives on each request via X-Acting-User headers and is treated
// as opaque.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/joescharf/tix/internal/models"
	"github.com/joescharf/tix/internal/ticket"
)

// Server provides the REST API handlers.
type Server struct {
	store *ticket.Store
}

// NewServer creates a new API server over the given store.
func NewServer(s *ticket.Store) *Server {
	return &Server{store: s}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/tickets", s.listTickets)
	mux.HandleFunc("POST /api/v1/tickets", s.createTicket)
	mux.HandleFunc("GET /api/v1/tickets/{id}", s.getTicket)
	mux.HandleFunc("PATCH /api/v1/tickets/{id}", s.updateTicket)
	mux.HandleFunc("DELETE /api/v1/tickets/{id}", s.deleteTicket)

	mux.HandleFunc("POST /api/v1/tickets/repair", s.repairTickets)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Acting-User, X-Acting-User-Name, X-Acting-User-Avatar")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the store's failure kinds onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ticket.ErrNotOwner):
		writeError(w, http.StatusForbidden, "you can only modify tickets you created")
	case errors.Is(err, ticket.ErrMalformedInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ticket.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "could not save — storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actingIdentity reads the opaque identity headers set by the session layer.
func actingIdentity(r *http.Request) models.Identity {
	return models.Identity{
		ID:     r.Header.Get("X-Acting-User"),
		Name:   r.Header.Get("X-Acting-User-Name"),
		Avatar: r.Header.Get("X-Acting-User-Avatar"),
	}
}

// --- Tickets ---

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.store.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Display-only filtering for the board component.
	q := r.URL.Query()
	status := q.Get("status")
	priority := q.Get("priority")
	project := q.Get("project")
	team := q.Get("team")

	filtered := make([]*models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if status != "" && string(t.Status) != status {
			continue
		}
		if priority != "" && string(t.Priority) != priority {
			continue
		}
		if project != "" && (t.Project == nil || t.Project.ID != project) {
			continue
		}
		if team != "" && (t.Team == nil || t.Team.ID != team) {
			continue
		}
		filtered = append(filtered, t)
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type createTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    models.TicketPriority `json:"priority"`
	Assignee    *models.Identity      `json:"assignee"`
	AssignedBy  *models.Identity      `json:"assignedBy"`
	Project     *models.Ref           `json:"project"`
	Team        *models.Ref           `json:"team"`
	DueDate     *time.Time            `json:"dueDate"`
	Tags        []string              `json:"tags"`
}

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Form-level validation: the store itself does not police titles.
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Priority != "" && !models.ValidPriority(req.Priority) {
		writeError(w, http.StatusBadRequest, "invalid priority")
		return
	}

	creator := actingIdentity(r)
	if creator.ID == "" {
		writeError(w, http.StatusForbidden, "no acting user")
		return
	}

	created, err := s.store.Create(r.Context(), ticket.Input{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		CreatedBy:   creator,
		Assignee:    req.Assignee,
		AssignedBy:  req.AssignedBy,
		Project:     req.Project,
		Team:        req.Team,
		DueDate:     req.DueDate,
		Tags:        req.Tags,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type updateTicketRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Status      *models.TicketStatus   `json:"status"`
	Priority    *models.TicketPriority `json:"priority"`
	Assignee    *models.Identity       `json:"assignee"`
	AssignedBy  *models.Identity       `json:"assignedBy"`
	Project     *models.Ref            `json:"project"`
	Team        *models.Ref            `json:"team"`
	DueDate     *time.Time             `json:"dueDate"`
	Tags        []string               `json:"tags"`
}

func (s *Server) updateTicket(w http.ResponseWriter, r *http.Request) {
	var req updateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title != nil && *req.Title == "" {
		writeError(w, http.StatusBadRequest, "title cannot be empty")
		return
	}

	updated, err := s.store.Update(r.Context(), r.PathValue("id"), ticket.Patch{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		AssignedBy:  req.AssignedBy,
		Project:     req.Project,
		Team:        req.Team,
		DueDate:     req.DueDate,
		Tags:        req.Tags,
	}, actingIdentity(r).ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id"), actingIdentity(r).ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) repairTickets(w http.ResponseWriter, r *http.Request) {
	cleaned, err := s.store.Deduplicate(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleaned)
}
