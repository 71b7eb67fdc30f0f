package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and requeue webhook outbox events",
}

var outboxListStatus string

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outbox events",
	Long: `List webhook outbox events (admin only).

Examples:
  ptwctl outbox list
  ptwctl outbox list --status failed`,
	Args: cobra.NoArgs,
	RunE: runOutboxList,
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue <event-id>",
	Short: "Requeue a failed outbox event for delivery",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutboxRequeue,
}

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "List registered webhook endpoints",
	Args:  cobra.NoArgs,
	RunE:  runWebhooksList,
}

func init() {
	outboxListCmd.Flags().StringVar(&outboxListStatus, "status", "", "Filter by status (pending, delivered, failed)")

	outboxCmd.AddCommand(outboxListCmd)
	outboxCmd.AddCommand(outboxRequeueCmd)
}

func runOutboxList(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	events, err := client.ListOutboxEvents(context.Background(), outboxListStatus)
	if err != nil {
		return fmt.Errorf("listing outbox events: %w", err)
	}

	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "No outbox events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tPERMIT\tSTATUS\tATTEMPTS\tNEXT ATTEMPT")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.Event, e.PermitID, e.Status, e.AttemptCount, formatTimestamp(e.NextAttemptTime))
	}
	return w.Flush()
}

func runOutboxRequeue(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid event ID %q", args[0])
	}

	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.RequeueOutboxEvent(context.Background(), uint(id)); err != nil {
		return fmt.Errorf("requeueing event %d: %w", id, err)
	}

	fmt.Fprintf(os.Stderr, "Event %d requeued for delivery\n", id)
	return nil
}

func runWebhooksList(cmd *cobra.Command, args []string) error {
	client, err := getAuthenticatedClient()
	if err != nil {
		return err
	}

	endpoints, err := client.ListWebhookEndpoints(context.Background())
	if err != nil {
		return fmt.Errorf("listing webhook endpoints: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tEVENTS\tACTIVE")
	for _, ep := range endpoints {
		events := strings.Join(ep.Events, ",")
		if events == "" {
			events = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", ep.Name, ep.URL, events, ep.Active)
	}
	return w.Flush()
}
