package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sitesafe/ptwcore/internal/cliclient"
	"github.com/spf13/cobra"
)

var permitCmd = &cobra.Command{
	Use:   "permit",
	Short: "Manage permits to work",
}

var (
	permitListStatus string
	permitListType   string
)

var permitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List permits",
	Long: `List permits in your tenant and project scope.

Examples:
  ptwctl permit list
  ptwctl permit list --status active
  ptwctl permit list --status pending_approval`,
	Args: cobra.NoArgs,
	RunE: runPermitList,
}

var permitGetCmd = &cobra.Command{
	Use:   "get <permit-id>",
	Short: "Show a permit",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermitGet,
}

var (
	createTypeID   string
	createTitle    string
	createDesc     string
	createLocation string
	createPriority string
	createStart    string
	createEnd      string
)

var permitCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft permit",
	Long: `Create a new permit in draft status.

Examples:
  ptwctl permit create --type <type-id> --title "Tank 4 welding" \
    --location "Tank farm, bay 4" --start 2026-09-01T08:00:00Z --end 2026-09-01T18:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runPermitCreate,
}

var (
	transitionComments string
	transitionVersion  int
)

var permitTransitionCmd = &cobra.Command{
	Use:   "transition <permit-id> <to-status>",
	Short: "Move a permit to a new status",
	Long: `Move a permit to a new lifecycle status.

Examples:
  ptwctl permit transition <permit-id> submitted
  ptwctl permit transition <permit-id> approved --comments "all controls verified"
  ptwctl permit transition <permit-id> active --expected-version 5`,
	Args: cobra.ExactArgs(2),
	RunE: runPermitTransition,
}

var permitAuditCmd = &cobra.Command{
	Use:   "audit <permit-id>",
	Short: "Show a permit's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermitAudit,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List permit types",
	Args:  cobra.NoArgs,
	RunE:  runTypes,
}

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "Show permit dashboard counters",
	Args:  cobra.NoArgs,
	RunE:  runKPIs,
}

func init() {
	permitListCmd.Flags().StringVar(&permitListStatus, "status", "", "Filter by status")
	permitListCmd.Flags().StringVar(&permitListType, "type", "", "Filter by permit type ID")

	permitCreateCmd.Flags().StringVar(&createTypeID, "type", "", "Permit type ID (required)")
	permitCreateCmd.Flags().StringVar(&createTitle, "title", "", "Permit title (required)")
	permitCreateCmd.Flags().StringVar(&createDesc, "description", "", "Work description")
	permitCreateCmd.Flags().StringVar(&createLocation, "location", "", "Work location (required)")
	permitCreateCmd.Flags().StringVar(&createPriority, "priority", "normal", "Priority (low, normal, high)")
	permitCreateCmd.Flags().StringVar(&createStart, "start", "", "Planned start (RFC 3339, required)")
	permitCreateCmd.Flags().StringVar(&createEnd, "end", "", "Planned end (RFC 3339, required)")
	permitCreateCmd.MarkFlagRequired("type")
	permitCreateCmd.MarkFlagRequired("title")
	permitCreateCmd.MarkFlagRequired("location")
	permitCreateCmd.MarkFlagRequired("start")
	permitCreateCmd.MarkFlagRequired("end")

	permitTransitionCmd.Flags().StringVar(&transitionComments, "comments", "", "Decision comments")
	permitTransitionCmd.Flags().IntVar(&transitionVersion, "expected-version", 0, "Fail unless the permit is at this version")

	permitCmd.AddCommand(permitListCmd)
	permitCmd.AddCommand(permitGetCmd)
	permitCmd.AddCommand(permitCreateCmd)
	permitCmd.AddCommand(permitTransitionCmd)
	permitCmd.AddCommand(permitAuditCmd)
}

func runPermitList(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	permits, err := client.ListPermits(context.Background(), permitListStatus, permitListType)
	if err != nil {
		return fmt.Errorf("listing permits: %w", err)
	}

	if len(permits) == 0 {
		fmt.Fprintln(os.Stderr, "No permits found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tTITLE\tSTATUS\tRISK\tPLANNED END\tVERSION")
	for _, p := range permits {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			p.PermitNumber, p.Title, p.Status, p.RiskLevel, formatTimestamp(p.PlannedEnd), p.Version)
	}
	return w.Flush()
}

func runPermitGet(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	p, err := client.GetPermit(context.Background(), args[0])
	if err != nil {
		if cliclient.IsNotFound(err) {
			return fmt.Errorf("permit %s not found", args[0])
		}
		return err
	}

	printPermit(p)
	return nil
}

func runPermitCreate(cmd *cobra.Command, args []string) error {
	if _, err := time.Parse(time.RFC3339, createStart); err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	if _, err := time.Parse(time.RFC3339, createEnd); err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	p, err := client.CreatePermit(context.Background(), cliclient.CreatePermitRequest{
		PermitTypeID: createTypeID,
		Title:        createTitle,
		Description:  createDesc,
		Location:     createLocation,
		Priority:     createPriority,
		PlannedStart: createStart,
		PlannedEnd:   createEnd,
	})
	if err != nil {
		return fmt.Errorf("creating permit: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Created permit %s (%s)\n", p.PermitNumber, p.ID)
	return nil
}

func runPermitTransition(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	p, err := client.TransitionPermit(context.Background(), args[0], cliclient.TransitionRequest{
		ToStatus:        args[1],
		Comments:        transitionComments,
		ExpectedVersion: transitionVersion,
	})
	if err != nil {
		if cliclient.IsConflict(err) {
			return fmt.Errorf("transition rejected: %w", err)
		}
		return err
	}

	fmt.Fprintf(os.Stderr, "Permit %s is now %s (version %d)\n", p.PermitNumber, p.Status, p.Version)
	return nil
}

func runPermitAudit(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	entries, err := client.AuditTrail(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("fetching audit trail: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tACTOR\tCORRELATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			formatTimestamp(e.Timestamp), e.Action, e.ActorID, e.CorrelationID)
	}
	return w.Flush()
}

func runTypes(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	types, err := client.ListPermitTypes(context.Background())
	if err != nil {
		return fmt.Errorf("listing permit types: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tRISK\tVERSION\tACTIVE")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
			t.ID, t.Name, t.Category, t.RiskLevel, t.Version, t.Active)
	}
	return w.Flush()
}

func runKPIs(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	kpis, err := client.GetKPIs(context.Background())
	if err != nil {
		return fmt.Errorf("fetching KPIs: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Total:          %d\n", kpis.Total)
	fmt.Fprintf(os.Stdout, "Active:         %d\n", kpis.Active)
	fmt.Fprintf(os.Stdout, "Overdue:        %d\n", kpis.Overdue)
	fmt.Fprintf(os.Stdout, "Expiring soon:  %d\n", kpis.ExpiringSoon)
	fmt.Fprintf(os.Stdout, "High risk:      %d\n", kpis.HighRisk)
	for status, n := range kpis.ByStatus {
		fmt.Fprintf(os.Stdout, "  %-20s %d\n", status, n)
	}
	return nil
}

func printPermit(p *cliclient.Permit) {
	fmt.Fprintf(os.Stdout, "Permit:    %s\n", p.PermitNumber)
	fmt.Fprintf(os.Stdout, "ID:        %s\n", p.ID)
	fmt.Fprintf(os.Stdout, "Title:     %s\n", p.Title)
	fmt.Fprintf(os.Stdout, "Location:  %s\n", p.Location)
	fmt.Fprintf(os.Stdout, "Status:    %s (level %d)\n", p.Status, p.CurrentApprovalLevel)
	fmt.Fprintf(os.Stdout, "Risk:      %s (score %d)\n", p.RiskLevel, p.RiskScore)
	fmt.Fprintf(os.Stdout, "Window:    %s -> %s\n", formatTimestamp(p.PlannedStart), formatTimestamp(p.PlannedEnd))
	if p.ActualStart != nil {
		fmt.Fprintf(os.Stdout, "Started:   %s\n", formatTimestamp(*p.ActualStart))
	}
	if p.ActualEnd != nil {
		fmt.Fprintf(os.Stdout, "Ended:     %s\n", formatTimestamp(*p.ActualEnd))
	}
	fmt.Fprintf(os.Stdout, "Version:   %d\n", p.Version)
}
