package models

import "time"

// TicketStatus represents the state of a ticket.
type TicketStatus string

const (
	TicketStatusTodo       TicketStatus = "TODO"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusReview     TicketStatus = "REVIEW"
	TicketStatusDone       TicketStatus = "DONE"
)

// ValidStatus reports whether s is one of the four ticket states.
func ValidStatus(s TicketStatus) bool {
	switch s {
	case TicketStatusTodo, TicketStatusInProgress, TicketStatusReview, TicketStatusDone:
		return true
	}
	return false
}

// TicketPriority represents the urgency of a ticket.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// Identity is an opaque user reference supplied by the identity provider.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Ref points at an external entity (project, team) not owned by this store.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Ticket is a tracked work item. Tickets are persisted as JSON, so every
// field carries a tag.
type Ticket struct {
	ID           string         `json:"id"`
	SerialNumber int            `json:"serialNumber"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       TicketStatus   `json:"status"`
	Priority     TicketPriority `json:"priority"`
	CreatedBy    Identity       `json:"createdBy"`
	Assignee     *Identity      `json:"assignee,omitempty"`
	AssignedBy   *Identity      `json:"assignedBy,omitempty"`
	Project      *Ref           `json:"project,omitempty"`
	Team         *Ref           `json:"team,omitempty"`
	DueDate      *time.Time     `json:"dueDate,omitempty"`
	Tags         []string       `json:"tags"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// OwnedBy reports whether userID may mutate the ticket. Only the creator
// qualifies; an empty userID (no authenticated user) never does. Every layer
// that gates mutation (store, CLI, API, MCP) goes through this predicate so
// they cannot disagree.
func (t *Ticket) OwnedBy(userID string) bool {
	return userID != "" && t.CreatedBy.ID == userID
}

// RecentlyUpdated reports whether the ticket was mutated within window of
// now. Display layers use it to pulse fresh changes; it is derived state and
// never persisted.
func (t *Ticket) RecentlyUpdated(now time.Time, window time.Duration) bool {
	return now.Sub(t.UpdatedAt) >= 0 && now.Sub(t.UpdatedAt) < window
}
