// Package mcp exposes the ticket store as MCP tools so agent tooling can act
// as a board/form consumer. The server acts as the locally configured
// identity; ownership rules apply to it like any other caller.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tix/internal/models"
	"github.com/joescharf/tix/internal/ticket"
)

// Server wraps the ticket store and exposes it as MCP tools.
type Server struct {
	store    *ticket.Store
	identity models.Identity
}

// NewServer creates the MCP server wrapper acting as the given identity.
func NewServer(s *ticket.Store, identity models.Identity) *Server {
	return &Server{store: s, identity: identity}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tix", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listTicketsTool())
	srv.AddTool(s.createTicketTool())
	srv.AddTool(s.updateTicketTool())
	srv.AddTool(s.deleteTicketTool())
	srv.AddTool(s.repairTicketsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tix_list_tickets
func (s *Server) listTicketsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tix_list_tickets",
		mcp.WithDescription("List tickets. Returns a JSON array with id, serial number, title, status, priority, creator, and assignee."),
		mcp.WithString("status", mcp.Description("Filter by status: TODO, IN_PROGRESS, REVIEW, DONE")),
		mcp.WithString("priority", mcp.Description("Filter by priority: LOW, MEDIUM, HIGH, URGENT")),
		mcp.WithString("project", mcp.Description("Filter by project id")),
	)
	return tool, s.handleListTickets
}

func (s *Server) handleListTickets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := request.GetString("status", "")
	priority := request.GetString("priority", "")
	project := request.GetString("project", "")

	tickets, err := s.store.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tickets: %v", err)), nil
	}

	type ticketOut struct {
		ID       string `json:"id"`
		Serial   int    `json:"serial"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
		Creator  string `json:"creator"`
		Assignee string `json:"assignee,omitempty"`
	}

	var out []ticketOut
	for _, t := range tickets {
		if status != "" && !strings.EqualFold(string(t.Status), status) {
			continue
		}
		if priority != "" && !strings.EqualFold(string(t.Priority), priority) {
			continue
		}
		if project != "" && (t.Project == nil || t.Project.ID != project) {
			continue
		}
		o := ticketOut{
			ID:       t.ID,
			Serial:   t.SerialNumber,
			Title:    t.Title,
			Status:   string(t.Status),
			Priority: string(t.Priority),
			Creator:  t.CreatedBy.Name,
		}
		if t.Assignee != nil {
			o.Assignee = t.Assignee.Name
		}
		out = append(out, o)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tickets: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tix_create_ticket
func (s *Server) createTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tix_create_ticket",
		mcp.WithDescription("Create a new ticket owned by the configured local user. Status always starts as TODO."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Ticket title")),
		mcp.WithString("description", mcp.Description("Ticket description")),
		mcp.WithString("priority", mcp.Description("Priority: LOW, MEDIUM, HIGH, URGENT (default MEDIUM)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
	)
	return tool, s.handleCreateTicket
}

func (s *Server) handleCreateTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil || title == "" {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	if s.identity.ID == "" {
		return mcp.NewToolResultError("no local user configured (set user.id in the tix config)"), nil
	}

	var tags []string
	if raw := request.GetString("tags", ""); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	created, err := s.store.Create(ctx, ticket.Input{
		Title:       title,
		Description: request.GetString("description", ""),
		Priority:    models.TicketPriority(strings.ToUpper(request.GetString("priority", ""))),
		CreatedBy:   s.identity,
		Tags:        tags,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create ticket: %v", err)), nil
	}

	data, _ := json.Marshal(created)
	return mcp.NewToolResultText(string(data)), nil
}

// tix_update_ticket
func (s *Server) updateTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tix_update_ticket",
		mcp.WithDescription("Update a ticket's title, description, status, or priority. Fails unless the configured local user created the ticket."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Ticket id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status: TODO, IN_PROGRESS, REVIEW, DONE")),
		mcp.WithString("priority", mcp.Description("New priority: LOW, MEDIUM, HIGH, URGENT")),
	)
	return tool, s.handleUpdateTicket
}

func (s *Server) handleUpdateTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	var patch ticket.Patch
	if v := request.GetString("title", ""); v != "" {
		patch.Title = &v
	}
	if v := request.GetString("description", ""); v != "" {
		patch.Description = &v
	}
	if v := request.GetString("status", ""); v != "" {
		st := models.TicketStatus(strings.ToUpper(v))
		patch.Status = &st
	}
	if v := request.GetString("priority", ""); v != "" {
		p := models.TicketPriority(strings.ToUpper(v))
		patch.Priority = &p
	}

	updated, err := s.store.Update(ctx, id, patch, s.identity.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update ticket: %v", err)), nil
	}

	data, _ := json.Marshal(updated)
	return mcp.NewToolResultText(string(data)), nil
}

// tix_delete_ticket
func (s *Server) deleteTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tix_delete_ticket",
		mcp.WithDescription("Delete a ticket. Fails unless the configured local user created the ticket."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Ticket id")),
	)
	return tool, s.handleDeleteTicket
}

func (s *Server) handleDeleteTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	if err := s.store.Delete(ctx, id, s.identity.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete ticket: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"deleted":%q}`, id)), nil
}

// tix_repair_tickets
func (s *Server) repairTicketsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tix_repair_tickets",
		mcp.WithDescription("Repair the stored collection by removing duplicate ticket ids (first occurrence wins). Idempotent."),
	)
	return tool, s.handleRepairTickets
}

func (s *Server) handleRepairTickets(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cleaned, err := s.store.Deduplicate(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to repair tickets: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"tickets":%d}`, len(cleaned))), nil
}
