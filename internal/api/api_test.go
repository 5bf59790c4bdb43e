package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tix/internal/kv"
	"github.com/joescharf/tix/internal/models"
	"github.com/joescharf/tix/internal/ticket"
)

func setupTestServer(t *testing.T) (*Server, *ticket.Store) {
	t.Helper()
	s := ticket.New(kv.NewMemoryBackend())
	return NewServer(s), s
}

func doRequest(t *testing.T, router http.Handler, method, path, body, actingUser string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actingUser != "" {
		req.Header.Set("X-Acting-User", actingUser)
		req.Header.Set("X-Acting-User-Name", "User "+actingUser)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListTickets_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := doRequest(t, router, "GET", "/api/v1/tickets", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var tickets []*models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	assert.Empty(t, tickets)
}

func TestTicketCRUD_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	// Create
	body := `{"title":"Fix login bug","priority":"HIGH","tags":["auth"]}`
	w := doRequest(t, router, "POST", "/api/v1/tickets", body, "u1")
	assert.Equal(t, http.StatusCreated, w.Code)

	var created models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.SerialNumber)
	assert.Equal(t, models.TicketStatusTodo, created.Status)
	assert.Equal(t, models.TicketPriorityHigh, created.Priority)
	assert.Equal(t, "u1", created.CreatedBy.ID)

	// Get
	w = doRequest(t, router, "GET", "/api/v1/tickets/"+created.ID, "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Patch by owner
	w = doRequest(t, router, "PATCH", "/api/v1/tickets/"+created.ID, `{"status":"DONE"}`, "u1")
	assert.Equal(t, http.StatusOK, w.Code)

	var updated models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.TicketStatusDone, updated.Status)

	// Delete by owner
	w = doRequest(t, router, "DELETE", "/api/v1/tickets/"+created.ID, "", "u1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, "GET", "/api/v1/tickets/"+created.ID, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTicket_RequiresTitleAndActingUser(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := doRequest(t, router, "POST", "/api/v1/tickets", `{"title":""}`, "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, "POST", "/api/v1/tickets", `{"title":"no user"}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, "POST", "/api/v1/tickets", `{"title":"x","priority":"ASAP"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateTicket_NonOwnerForbidden(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := doRequest(t, router, "POST", "/api/v1/tickets", `{"title":"owned by u1"}`, "u1")
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doRequest(t, router, "PATCH", "/api/v1/tickets/"+created.ID, `{"status":"DONE"}`, "u2")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, router, "DELETE", "/api/v1/tickets/"+created.ID, "", "u2")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unauthenticated mutation is forbidden too.
	w = doRequest(t, router, "PATCH", "/api/v1/tickets/"+created.ID, `{"status":"DONE"}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateTicket_InvalidStatus(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := doRequest(t, router, "POST", "/api/v1/tickets", `{"title":"t"}`, "u1")
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doRequest(t, router, "PATCH", "/api/v1/tickets/"+created.ID, `{"status":"SHIPPED"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTickets_Filters(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := doRequest(t, router, "POST", "/api/v1/tickets",
		`{"title":"web ticket","priority":"HIGH","project":{"id":"p1","name":"web"}}`, "u1")
	require.Equal(t, http.StatusCreated, w.Code)
	w = doRequest(t, router, "POST", "/api/v1/tickets",
		`{"title":"infra ticket","priority":"LOW","project":{"id":"p2","name":"infra"}}`, "u1")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, "GET", "/api/v1/tickets?project=p1", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var tickets []*models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	require.Len(t, tickets, 1)
	assert.Equal(t, "web ticket", tickets[0].Title)

	w = doRequest(t, router, "GET", "/api/v1/tickets?priority=LOW", "", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	require.Len(t, tickets, 1)
	assert.Equal(t, "infra ticket", tickets[0].Title)

	w = doRequest(t, router, "GET", "/api/v1/tickets?status=DONE", "", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	assert.Empty(t, tickets)
}

func TestRepairTickets(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := doRequest(t, router, "POST", "/api/v1/tickets", `{"title":"a"}`, "u1")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, "POST", "/api/v1/tickets/repair", "", "u1")
	assert.Equal(t, http.StatusOK, w.Code)

	var tickets []*models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	assert.Len(t, tickets, 1)
}
