package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcpdme/MySecureFolder-sub002/audit"
)

var (
	auditAction   string
	auditFailures bool
	auditLimit    int
	auditSince    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long:  "List recorded vault operations from the audit log.",
	RunE:  runAuditQuery,
}

func init() {
	auditCmd.Flags().StringVar(&auditAction, "action", "", "filter by action name")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "only failed operations")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum events to show")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "only events after this RFC3339 time")
	rootCmd.AddCommand(auditCmd)
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options := audit.QueryOptions{
		Action:      auditAction,
		FailureOnly: auditFailures,
		Limit:       auditLimit,
	}
	if auditSince != "" {
		t, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		options.StartTime = &t
	}

	result, err := auditLogger.Query(options)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOK\tDETAIL")
	for _, ev := range result.Events {
		detail := ev.Path
		if detail == "" {
			detail = ev.KeyID
		}
		if !ev.Success && ev.Error != "" {
			detail = ev.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", ev.Timestamp.Format(time.RFC3339), ev.Action, ev.Success, detail)
	}
	w.Flush()

	if result.HasMore {
		fmt.Printf("(%d of %d events shown)\n", len(result.Events), result.TotalCount)
	}
	return nil
}
