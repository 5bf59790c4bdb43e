// Package ticket implements the durable, ownership-gated ticket collection.
//
// Tickets are persisted through a kv.Backend as two independent values: the
// whole collection as a JSON array under "tickets", and the last-assigned
// serial number under "ticket-serial-counter". Every write replaces the
// whole collection snapshot; two processes sharing one backend race at that
// granularity (last write wins). The store is single-writer by design.
package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/tix/internal/kv"
	"github.com/joescharf/tix/internal/models"
)

const (
	ticketsKey = "tickets"
	serialKey  = "ticket-serial-counter"
)

// Failure kinds returned by store operations. Callers discriminate with
// errors.Is.
var (
	ErrNotFound           = errors.New("ticket not found")
	ErrNotOwner           = errors.New("not the ticket owner")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrMalformedInput     = errors.New("malformed input")
)

// Input carries the caller-supplied fields for Create. The store assigns
// id, serial number, status, and timestamps itself.
type Input struct {
	Title       string
	Description string
	Priority    models.TicketPriority
	CreatedBy   models.Identity
	Assignee    *models.Identity
	AssignedBy  *models.Identity
	Project     *models.Ref
	Team        *models.Ref
	DueDate     *time.Time
	Tags        []string
}

// Patch holds the fields Update may change. Nil fields are left untouched.
type Patch struct {
	Title       *string
	Description *string
	Status      *models.TicketStatus
	Priority    *models.TicketPriority
	Assignee    *models.Identity
	AssignedBy  *models.Identity
	Project     *models.Ref
	Team        *models.Ref
	DueDate     *time.Time
	Tags        []string
}

// Store is the ticket collection over an injected durable backend.
type Store struct {
	backend kv.Backend

	// Serializes load-modify-save cycles so no two Create calls can
	// observe the same pre-increment serial value, even if the host ever
	// stops being single-threaded.
	mu sync.Mutex
}

// New creates a Store on top of the given backend.
func New(backend kv.Backend) *Store {
	return &Store{backend: backend}
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// load reads the persisted collection. A missing key is an empty collection;
// unreadable or corrupted JSON surfaces as ErrStorageUnavailable.
func (s *Store) load(ctx context.Context) ([]*models.Ticket, error) {
	data, err := s.backend.Get(ctx, ticketsKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read tickets: %v", ErrStorageUnavailable, err)
	}

	var tickets []*models.Ticket
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("%w: corrupted ticket data: %v", ErrStorageUnavailable, err)
	}
	return tickets, nil
}

func (s *Store) save(ctx context.Context, tickets []*models.Ticket) error {
	data, err := json.Marshal(tickets)
	if err != nil {
		return fmt.Errorf("%w: encode tickets: %v", ErrStorageUnavailable, err)
	}
	if err := s.backend.Set(ctx, ticketsKey, data); err != nil {
		return fmt.Errorf("%w: write tickets: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) loadSerial(ctx context.Context) (int, error) {
	data, err := s.backend.Get(ctx, serialKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read serial counter: %v", ErrStorageUnavailable, err)
	}

	var serial int
	if err := json.Unmarshal(data, &serial); err != nil {
		return 0, fmt.Errorf("%w: corrupted serial counter: %v", ErrStorageUnavailable, err)
	}
	return serial, nil
}

func (s *Store) saveSerial(ctx context.Context, serial int) error {
	data, err := json.Marshal(serial)
	if err != nil {
		return fmt.Errorf("%w: encode serial counter: %v", ErrStorageUnavailable, err)
	}
	if err := s.backend.Set(ctx, serialKey, data); err != nil {
		return fmt.Errorf("%w: write serial counter: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// List returns a snapshot of every persisted ticket in stored order
// (newest-first as written by Create), deduplicated by id so a corrupted
// collection never surfaces the same ticket twice. The persisted data is
// left untouched; rewriting it is Deduplicate's job.
func (s *Store) List(ctx context.Context) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickets, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return dedupe(tickets), nil
}

// Get returns the ticket with the exact id.
func (s *Store) Get(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickets, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Create assigns identity and the next serial number, forces status to TODO,
// and prepends the ticket to the persisted collection.
//
// The counter is persisted before the collection write: if the collection
// write fails the assigned serial becomes a gap, but a serial number is
// never handed out twice.
func (s *Store) Create(ctx context.Context, in Input) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickets, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	serial, err := s.loadSerial(ctx)
	if err != nil {
		return nil, err
	}
	serial++
	if err := s.saveSerial(ctx, serial); err != nil {
		return nil, err
	}

	priority := in.Priority
	if !models.ValidPriority(priority) {
		priority = models.TicketPriorityMedium
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	now := time.Now().UTC()
	t := &models.Ticket{
		ID:           newULID(),
		SerialNumber: serial,
		Title:        in.Title,
		Description:  in.Description,
		Status:       models.TicketStatusTodo,
		Priority:     priority,
		CreatedBy:    in.CreatedBy,
		Assignee:     in.Assignee,
		AssignedBy:   in.AssignedBy,
		Project:      in.Project,
		Team:         in.Team,
		DueDate:      in.DueDate,
		Tags:         tags,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tickets = append([]*models.Ticket{t}, tickets...)
	if err := s.save(ctx, tickets); err != nil {
		return nil, err
	}
	return t, nil
}

// Update merges patch into the ticket with the given id. Only the creator
// may mutate a ticket; anyone else (including an unauthenticated caller)
// gets ErrNotOwner and the stored ticket is left unchanged.
func (s *Store) Update(ctx context.Context, id string, patch Patch, actingUserID string) (*models.Ticket, error) {
	if patch.Status != nil && !models.ValidStatus(*patch.Status) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrMalformedInput, *patch.Status)
	}
	if patch.Priority != nil && !models.ValidPriority(*patch.Priority) {
		return nil, fmt.Errorf("%w: invalid priority %q", ErrMalformedInput, *patch.Priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tickets, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	t := findByID(tickets, id)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !t.OwnedBy(actingUserID) {
		return nil, fmt.Errorf("%w: ticket %s belongs to %s", ErrNotOwner, id, t.CreatedBy.ID)
	}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Assignee != nil {
		t.Assignee = patch.Assignee
	}
	if patch.AssignedBy != nil {
		t.AssignedBy = patch.AssignedBy
	}
	if patch.Project != nil {
		t.Project = patch.Project
	}
	if patch.Team != nil {
		t.Team = patch.Team
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	if patch.Tags != nil {
		t.Tags = patch.Tags
	}
	t.UpdatedAt = time.Now().UTC()

	if err := s.save(ctx, tickets); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes the ticket with the given id. The serial counter is never
// reclaimed or reset.
func (s *Store) Delete(ctx context.Context, id string, actingUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickets, err := s.load(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i, t := range tickets {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !tickets[idx].OwnedBy(actingUserID) {
		return fmt.Errorf("%w: ticket %s belongs to %s", ErrNotOwner, id, tickets[idx].CreatedBy.ID)
	}

	tickets = append(tickets[:idx], tickets[idx+1:]...)
	return s.save(ctx, tickets)
}

// Deduplicate repairs the persisted collection by dropping every ticket
// whose id was already seen earlier in stored order (first occurrence wins).
// It re-persists the cleaned collection and is idempotent.
func (s *Store) Deduplicate(ctx context.Context) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickets, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	cleaned := dedupe(tickets)
	if err := s.save(ctx, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

// dedupe drops every ticket whose id was already seen earlier in stored
// order (first occurrence wins).
func dedupe(tickets []*models.Ticket) []*models.Ticket {
	seen := make(map[string]bool, len(tickets))
	cleaned := make([]*models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		cleaned = append(cleaned, t)
	}
	return cleaned
}

func findByID(tickets []*models.Ticket, id string) *models.Ticket {
	for _, t := range tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}
