package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aosp-pb/system-vold/audit"
)

var (
	auditJSONOutput    bool
	auditSince         string
	auditUntil         string
	auditAction        string
	auditSuccessFilter string
	auditKeyRef        string
	auditMountpoint    string
	auditLimit         int
	auditOffset        int
	auditDetails       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and analyze audit logs",
	Long: `Query and analyze the audit trail of key operations.

Provides event filtering by time, action, key reference, and mountpoint,
plus export for compliance reporting.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit logs with filters",
	Long: `Query audit logs with various filtering options.

Examples:
  # All recorded events
  vold audit query

  # Failed evictions in the last 24 hours
  vold audit query --action KEY_EVICT_FAILED --since "$(date -d '24 hours ago' -Iseconds)"

  # Everything that happened to one key
  vold audit query --ref ab12cd34ef56ab78`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	Long: `Show failed operations for security monitoring.

Examples:
  vold audit failures
  vold audit failures --since "$(date -d '7 days ago' -Iseconds)"`,
	RunE: runAuditFailures,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit logs for compliance",
	Long: `Export audit logs as JSON for compliance reporting.

Examples:
  vold audit export > audit-report.json
  vold audit export --since "2026-01-01T00:00:00Z" --until "2026-01-31T23:59:59Z"`,
	RunE: runAuditExport,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditCmd.PersistentFlags().BoolVar(&auditJSONOutput, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "Show events since this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "Show events until this time (RFC3339 format)")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditCmd.PersistentFlags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditCmd.PersistentFlags().BoolVar(&auditDetails, "details", false, "Show detailed event information")
	auditCmd.PersistentFlags().StringVar(&auditKeyRef, "ref", "", "Filter by key reference")
	auditCmd.PersistentFlags().StringVar(&auditMountpoint, "mountpoint", "", "Filter by mountpoint")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by specific action")
	auditQueryCmd.Flags().StringVar(&auditSuccessFilter, "success", "", "Filter by success status (true/false)")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}

	if auditJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	return displayAuditEvents(result.Events)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}

	// Force failures-only
	falseVal := false
	options.Success = &falseVal

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit failures: %w", err)
	}

	if auditJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Println("Failed Operations")
	fmt.Println("═══════════════════════════════════════")
	return displayAuditEvents(result.Events)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to export audit logs: %w", err)
	}

	exportData := map[string]interface{}{
		"export_timestamp": time.Now().UTC(),
		"query_options":    options,
		"event_count":      len(result.Events),
		"events":           result.Events,
	}

	return json.NewEncoder(os.Stdout).Encode(exportData)
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Action:     auditAction,
		KeyRef:     auditKeyRef,
		Mountpoint: auditMountpoint,
		Limit:      auditLimit,
		Offset:     auditOffset,
	}

	if auditSince != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time format: %w", err)
		}
		options.Since = &parsedTime
	}

	if auditUntil != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time format: %w", err)
		}
		options.Until = &parsedTime
	}

	if auditSuccessFilter != "" {
		success, err := strconv.ParseBool(auditSuccessFilter)
		if err != nil {
			return options, fmt.Errorf("invalid success filter format: %w", err)
		}
		options.Success = &success
	}

	return options, nil
}

func displayAuditEvents(events []audit.Event) error {
	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if auditDetails {
		for _, event := range events {
			fmt.Fprintf(w, "Event ID:\t%s\n", event.ID)
			fmt.Fprintf(w, "Timestamp:\t%s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Action:\t%s\n", event.Action)

			status := "SUCCESS"
			if !event.Success {
				status = "FAILED"
			}
			fmt.Fprintf(w, "Status:\t%s\n", status)

			if event.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", event.Error)
			}
			if event.KeyRef != "" {
				fmt.Fprintf(w, "Key Ref:\t%s\n", event.KeyRef)
			}
			if event.Mountpoint != "" {
				fmt.Fprintf(w, "Mountpoint:\t%s\n", event.Mountpoint)
			}
			if event.RequestID != "" {
				fmt.Fprintf(w, "Request ID:\t%s\n", event.RequestID)
			}
			if event.Duration > 0 {
				fmt.Fprintf(w, "Duration:\t%dms\n", event.Duration)
			}

			if len(event.Metadata) > 0 {
				fmt.Fprintf(w, "Metadata:\t")
				for k, v := range event.Metadata {
					fmt.Fprintf(w, "%s=%v ", k, v)
				}
				fmt.Fprintf(w, "\n")
			}

			fmt.Fprintf(w, "────────────────────────────────────────\n")
		}
	} else {
		fmt.Fprintf(w, "TIMESTAMP\tACTION\tSTATUS\tKEY REF\tMOUNTPOINT\tERROR\n")

		for _, event := range events {
			timestamp := event.Timestamp.Format("2006-01-02 15:04:05")

			status := "SUCCESS"
			if !event.Success {
				status = "FAILED"
			}

			errorMsg := event.Error
			if len(errorMsg) > 30 {
				errorMsg = errorMsg[:30] + "..."
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				timestamp, event.Action, status, event.KeyRef, event.Mountpoint, errorMsg)
		}
	}

	return w.Flush()
}
