package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tix/internal/models"
	"github.com/joescharf/tix/internal/output"
	"github.com/joescharf/tix/internal/ticket"
)

var (
	ticketTitle    string
	ticketDesc     string
	ticketPriority string
	ticketStatus   string
	ticketDue      string
	ticketTags     []string
	ticketProject  string
	ticketTeam     string
	ticketMine     bool

	assignUserID   string
	assignUserName string
)

// pulseWindow is how long a ticket counts as "just changed" in list views.
const pulseWindow = 5 * time.Second

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Manage tickets",
	Long:  "Create, list, and update tickets in the local store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketListRun()
	},
}

var ticketAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new ticket",
	Long:  "Add a new ticket owned by the configured user. New tickets always start as TODO.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketAddRun()
	},
}

var ticketListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tickets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketListRun()
	},
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <ticket-id>",
	Short: "Show ticket details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketShowRun(args[0])
	},
}

var ticketUpdateCmd = &cobra.Command{
	Use:   "update <ticket-id>",
	Short: "Update a ticket you created",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketUpdateRun(args[0])
	},
}

var ticketStatusCmd = &cobra.Command{
	Use:   "status <ticket-id> <status>",
	Short: "Move a ticket to TODO, IN_PROGRESS, REVIEW, or DONE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketStatusRun(args[0], args[1])
	},
}

var ticketAssignCmd = &cobra.Command{
	Use:   "assign <ticket-id>",
	Short: "Assign a ticket you created",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketAssignRun(args[0])
	},
}

var ticketDeleteCmd = &cobra.Command{
	Use:     "delete <ticket-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a ticket you created",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ticketDeleteRun(args[0])
	},
}

func init() {
	ticketAddCmd.Flags().StringVar(&ticketTitle, "title", "", "Ticket title (required)")
	ticketAddCmd.Flags().StringVar(&ticketDesc, "desc", "", "Ticket description")
	ticketAddCmd.Flags().StringVar(&ticketPriority, "priority", "MEDIUM", "Priority: LOW, MEDIUM, HIGH, URGENT")
	ticketAddCmd.Flags().StringVar(&ticketDue, "due", "", "Due date (YYYY-MM-DD)")
	ticketAddCmd.Flags().StringSliceVar(&ticketTags, "tag", nil, "Tag to apply (repeatable)")
	ticketAddCmd.Flags().StringVar(&ticketProject, "project", "", "Project id")
	ticketAddCmd.Flags().StringVar(&ticketTeam, "team", "", "Team id")
	_ = ticketAddCmd.MarkFlagRequired("title")

	ticketListCmd.Flags().StringVar(&ticketStatus, "status", "", "Filter by status: TODO, IN_PROGRESS, REVIEW, DONE")
	ticketListCmd.Flags().StringVar(&ticketPriority, "priority", "", "Filter by priority")
	ticketListCmd.Flags().StringVar(&ticketProject, "project", "", "Filter by project id")
	ticketListCmd.Flags().StringVar(&ticketTeam, "team", "", "Filter by team id")
	ticketListCmd.Flags().BoolVar(&ticketMine, "mine", false, "Only tickets created by the configured user")

	ticketUpdateCmd.Flags().StringVar(&ticketTitle, "title", "", "New title")
	ticketUpdateCmd.Flags().StringVar(&ticketDesc, "desc", "", "New description")
	ticketUpdateCmd.Flags().StringVar(&ticketPriority, "priority", "", "New priority")
	ticketUpdateCmd.Flags().StringVar(&ticketDue, "due", "", "New due date (YYYY-MM-DD)")
	ticketUpdateCmd.Flags().StringSliceVar(&ticketTags, "tag", nil, "Replace tags (repeatable)")

	ticketAssignCmd.Flags().StringVar(&assignUserID, "to", "", "Assignee user id (required)")
	ticketAssignCmd.Flags().StringVar(&assignUserName, "name", "", "Assignee display name")
	_ = ticketAssignCmd.MarkFlagRequired("to")

	ticketCmd.AddCommand(ticketAddCmd)
	ticketCmd.AddCommand(ticketListCmd)
	ticketCmd.AddCommand(ticketShowCmd)
	ticketCmd.AddCommand(ticketUpdateCmd)
	ticketCmd.AddCommand(ticketStatusCmd)
	ticketCmd.AddCommand(ticketAssignCmd)
	ticketCmd.AddCommand(ticketDeleteCmd)
	rootCmd.AddCommand(ticketCmd)
}

func ticketAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := requireUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	// Form-level validation: the store does not police titles.
	if strings.TrimSpace(ticketTitle) == "" {
		return fmt.Errorf("title cannot be empty")
	}

	priority := models.TicketPriority(strings.ToUpper(ticketPriority))
	if !models.ValidPriority(priority) {
		return fmt.Errorf("invalid priority %q (use LOW, MEDIUM, HIGH, or URGENT)", ticketPriority)
	}

	in := ticket.Input{
		Title:       ticketTitle,
		Description: ticketDesc,
		Priority:    priority,
		CreatedBy:   user,
		Tags:        ticketTags,
	}
	if ticketProject != "" {
		in.Project = &models.Ref{ID: ticketProject}
	}
	if ticketTeam != "" {
		in.Team = &models.Ref{ID: ticketTeam}
	}
	if ticketDue != "" {
		due, err := time.Parse("2006-01-02", ticketDue)
		if err != nil {
			return fmt.Errorf("invalid due date %q (use YYYY-MM-DD)", ticketDue)
		}
		in.DueDate = &due
	}

	if dryRun {
		ui.DryRunMsg("Would add ticket: %s [%s]", ticketTitle, priority)
		return nil
	}

	created, err := s.Create(ctx, in)
	if err != nil {
		return err
	}

	ui.Success("Created ticket #%d %s: %s", created.SerialNumber, output.Cyan(shortID(created.ID)), created.Title)
	return nil
}

func ticketListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	tickets, err := s.List(ctx)
	if err != nil {
		return err
	}

	// Display-only filtering; the store hands back the raw snapshot.
	user := currentUser()
	filtered := make([]*models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if ticketStatus != "" && !strings.EqualFold(string(t.Status), ticketStatus) {
			continue
		}
		if ticketPriority != "" && !strings.EqualFold(string(t.Priority), ticketPriority) {
			continue
		}
		if ticketProject != "" && (t.Project == nil || t.Project.ID != ticketProject) {
			continue
		}
		if ticketTeam != "" && (t.Team == nil || t.Team.ID != ticketTeam) {
			continue
		}
		if ticketMine && t.CreatedBy.ID != user.ID {
			continue
		}
		filtered = append(filtered, t)
	}

	if len(filtered) == 0 {
		ui.Info("No tickets found.")
		return nil
	}

	now := time.Now()
	table := ui.Table([]string{"#", "ID", "Title", "Status", "Priority", "Owner", "Assignee", "Tags"})
	for _, t := range filtered {
		assignee := ""
		if t.Assignee != nil {
			assignee = t.Assignee.Name
		}
		_ = table.Append([]string{
			fmt.Sprintf("%d", t.SerialNumber),
			shortID(t.ID),
			output.Pulse(t.Title, t.RecentlyUpdated(now, pulseWindow)),
			output.StatusColor(string(t.Status)),
			output.PriorityColor(string(t.Priority)),
			t.CreatedBy.Name,
			assignee,
			strings.Join(t.Tags, ","),
		})
	}
	_ = table.Render()
	return nil
}

func ticketShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTicket(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  #%d  %s\n", output.Cyan(shortID(t.ID)), t.SerialNumber, t.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(t.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(t.Priority)))
	fmt.Fprintf(ui.Out, "  Owner:      %s (%s)\n", t.CreatedBy.Name, t.CreatedBy.ID)
	if t.Assignee != nil {
		assignedBy := ""
		if t.AssignedBy != nil {
			assignedBy = fmt.Sprintf(" (assigned by %s)", t.AssignedBy.Name)
		}
		fmt.Fprintf(ui.Out, "  Assignee:   %s%s\n", t.Assignee.Name, assignedBy)
	}
	if t.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", t.Description)
	}
	if t.Project != nil {
		fmt.Fprintf(ui.Out, "  Project:    %s\n", refLabel(t.Project))
	}
	if t.Team != nil {
		fmt.Fprintf(ui.Out, "  Team:       %s\n", refLabel(t.Team))
	}
	if t.DueDate != nil {
		fmt.Fprintf(ui.Out, "  Due:        %s\n", t.DueDate.Format("2006-01-02"))
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(ui.Out, "  Tags:       %s\n", strings.Join(t.Tags, ", "))
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", t.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", t.ID)

	return nil
}

func ticketUpdateRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := requireUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTicket(ctx, s, id)
	if err != nil {
		return err
	}

	var patch ticket.Patch
	changed := false
	if ticketTitle != "" {
		patch.Title = &ticketTitle
		changed = true
	}
	if ticketDesc != "" {
		patch.Description = &ticketDesc
		changed = true
	}
	if ticketPriority != "" {
		p := models.TicketPriority(strings.ToUpper(ticketPriority))
		if !models.ValidPriority(p) {
			return fmt.Errorf("invalid priority %q (use LOW, MEDIUM, HIGH, or URGENT)", ticketPriority)
		}
		patch.Priority = &p
		changed = true
	}
	if ticketDue != "" {
		due, err := time.Parse("2006-01-02", ticketDue)
		if err != nil {
			return fmt.Errorf("invalid due date %q (use YYYY-MM-DD)", ticketDue)
		}
		patch.DueDate = &due
		changed = true
	}
	if ticketTags != nil {
		patch.Tags = ticketTags
		changed = true
	}

	if !changed {
		return fmt.Errorf("no updates specified (use --title, --desc, --priority, --due, or --tag)")
	}

	if dryRun {
		ui.DryRunMsg("Would update ticket %s", shortID(t.ID))
		return nil
	}

	updated, err := s.Update(ctx, t.ID, patch, user.ID)
	if err != nil {
		return describeMutationError(err)
	}

	ui.Success("Updated ticket #%d %s", updated.SerialNumber, output.Cyan(shortID(updated.ID)))
	return nil
}

func ticketStatusRun(id, status string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := requireUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTicket(ctx, s, id)
	if err != nil {
		return err
	}

	st := models.TicketStatus(strings.ToUpper(status))
	if !models.ValidStatus(st) {
		return fmt.Errorf("invalid status %q (use TODO, IN_PROGRESS, REVIEW, or DONE)", status)
	}

	if dryRun {
		ui.DryRunMsg("Would move ticket %s to %s", shortID(t.ID), st)
		return nil
	}

	updated, err := s.Update(ctx, t.ID, ticket.Patch{Status: &st}, user.ID)
	if err != nil {
		return describeMutationError(err)
	}

	ui.Success("Ticket #%d is now %s", updated.SerialNumber, output.StatusColor(string(updated.Status)))
	return nil
}

func ticketAssignRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := requireUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTicket(ctx, s, id)
	if err != nil {
		return err
	}

	assignee := &models.Identity{ID: assignUserID, Name: assignUserName}
	if assignee.Name == "" {
		assignee.Name = assignUserID
	}

	if dryRun {
		ui.DryRunMsg("Would assign ticket %s to %s", shortID(t.ID), assignee.Name)
		return nil
	}

	updated, err := s.Update(ctx, t.ID, ticket.Patch{
		Assignee:   assignee,
		AssignedBy: &user,
	}, user.ID)
	if err != nil {
		return describeMutationError(err)
	}

	ui.Success("Assigned ticket #%d to %s", updated.SerialNumber, assignee.Name)
	return nil
}

func ticketDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := requireUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTicket(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete ticket %s: %s", shortID(t.ID), t.Title)
		return nil
	}

	if err := s.Delete(ctx, t.ID, user.ID); err != nil {
		return describeMutationError(err)
	}

	ui.Success("Deleted ticket #%d: %s", t.SerialNumber, t.Title)
	return nil
}

// describeMutationError turns the store's failure kinds into messages with
// user guidance.
func describeMutationError(err error) error {
	switch {
	case errors.Is(err, ticket.ErrNotOwner):
		return fmt.Errorf("you can only modify tickets you created")
	case errors.Is(err, ticket.ErrStorageUnavailable):
		return fmt.Errorf("could not save — storage unavailable: %w", err)
	default:
		return err
	}
}

// findTicket finds a ticket by full ID, serial number, or unique ID prefix.
func findTicket(ctx context.Context, s *ticket.Store, ref string) (*models.Ticket, error) {
	// Try exact match first
	if t, err := s.Get(ctx, ref); err == nil {
		return t, nil
	}

	tickets, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	// Serial number reference ("#3" or "3")
	if serial, ok := parseSerial(ref); ok {
		for _, t := range tickets {
			if t.SerialNumber == serial {
				return t, nil
			}
		}
	}

	// Prefix match on the ULID
	upper := strings.ToUpper(ref)
	var matches []*models.Ticket
	for _, t := range tickets {
		if strings.HasPrefix(t.ID, upper) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("ticket not found: %s", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous ticket ID %s: matches %d tickets", ref, len(matches))
	}
}

// parseSerial interprets ref as a serial-number reference like "3" or "#3".
func parseSerial(ref string) (int, bool) {
	ref = strings.TrimPrefix(ref, "#")
	if ref == "" {
		return 0, false
	}
	serial := 0
	for _, r := range ref {
		if r < '0' || r > '9' {
			return 0, false
		}
		serial = serial*10 + int(r-'0')
	}
	return serial, serial > 0
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func refLabel(r *models.Ref) string {
	if r.Name != "" {
		return fmt.Sprintf("%s (%s)", r.Name, r.ID)
	}
	return r.ID
}
