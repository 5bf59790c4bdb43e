package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tix/internal/kv"
	"github.com/joescharf/tix/internal/models"
	"github.com/joescharf/tix/internal/ticket"
)

var localUser = models.Identity{ID: "u1", Name: "Alice"}

func newTestServer(t *testing.T) (*Server, *ticket.Store) {
	t.Helper()
	store := ticket.New(kv.NewMemoryBackend())
	srv := NewServer(store, localUser)
	require.NotNil(t, srv)
	return srv, store
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func seedTicket(t *testing.T, store *ticket.Store, title string, creator models.Identity) *models.Ticket {
	t.Helper()
	created, err := store.Create(context.Background(), ticket.Input{
		Title:     title,
		CreatedBy: creator,
	})
	require.NoError(t, err)
	return created
}

func TestNewServer_RegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)
	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv, "MCPServer() should return non-nil")
}

func TestHandleListTickets_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleListTickets(context.Background(), callToolReq("tix_list_tickets", nil))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
}

func TestHandleListTickets_WithFilter(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	a := seedTicket(t, store, "alpha", localUser)
	seedTicket(t, store, "beta", localUser)

	done := models.TicketStatusDone
	_, err := store.Update(ctx, a.ID, ticket.Patch{Status: &done}, localUser.ID)
	require.NoError(t, err)

	result, err := srv.handleListTickets(ctx, callToolReq("tix_list_tickets", map[string]any{"status": "DONE"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "alpha")
	assert.NotContains(t, text, "beta")
}

func TestHandleCreateTicket(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleCreateTicket(ctx, callToolReq("tix_create_ticket", map[string]any{
		"title":    "from agent",
		"priority": "high",
		"tags":     "auth, login",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	var created models.Ticket
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &created))
	assert.Equal(t, "from agent", created.Title)
	assert.Equal(t, models.TicketStatusTodo, created.Status)
	assert.Equal(t, models.TicketPriorityHigh, created.Priority)
	assert.Equal(t, localUser.ID, created.CreatedBy.ID)
	assert.Equal(t, []string{"auth", "login"}, created.Tags)

	tickets, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
}

func TestHandleCreateTicket_MissingTitle(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleCreateTicket(context.Background(), callToolReq("tix_create_ticket", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCreateTicket_NoConfiguredUser(t *testing.T) {
	store := ticket.New(kv.NewMemoryBackend())
	srv := NewServer(store, models.Identity{})

	result, err := srv.handleCreateTicket(context.Background(), callToolReq("tix_create_ticket", map[string]any{
		"title": "orphan",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleUpdateTicket_OwnershipEnforced(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	theirs := seedTicket(t, store, "not ours", models.Identity{ID: "u2", Name: "Bob"})

	result, err := srv.handleUpdateTicket(ctx, callToolReq("tix_update_ticket", map[string]any{
		"id":     theirs.ID,
		"status": "DONE",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	got, err := store.Get(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusTodo, got.Status)
}

func TestHandleUpdateTicket_Owner(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	mine := seedTicket(t, store, "ours", localUser)

	result, err := srv.handleUpdateTicket(ctx, callToolReq("tix_update_ticket", map[string]any{
		"id":     mine.ID,
		"status": "in_progress",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var updated models.Ticket
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &updated))
	assert.Equal(t, models.TicketStatusInProgress, updated.Status)
}

func TestHandleDeleteTicket(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	mine := seedTicket(t, store, "short lived", localUser)

	result, err := srv.handleDeleteTicket(ctx, callToolReq("tix_delete_ticket", map[string]any{"id": mine.ID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	_, err = store.Get(ctx, mine.ID)
	assert.ErrorIs(t, err, ticket.ErrNotFound)

	// Deleting again reports the failure through the tool result.
	result, err = srv.handleDeleteTicket(ctx, callToolReq("tix_delete_ticket", map[string]any{"id": mine.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRepairTickets(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	seedTicket(t, store, "a", localUser)
	seedTicket(t, store, "b", localUser)

	result, err := srv.handleRepairTickets(ctx, callToolReq("tix_repair_tickets", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"tickets":2`)
}
