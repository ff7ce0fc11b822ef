package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Inspect pipeline requests",
	Long:  "Commands for listing, viewing, and cancelling pipeline requests.",
}

// -- requests list --

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		owner, _ := cmd.Flags().GetString("owner")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		if status != "" && !model.RequestStatus(status).IsValid() {
			return eris.Errorf("requests list: unknown status %q", status)
		}

		reqs, err := st.ListRequests(ctx, store.RequestFilter{
			OwnerID: owner,
			Status:  model.RequestStatus(status),
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "requests list")
		}

		if len(reqs) == 0 {
			fmt.Fprintln(os.Stderr, "No requests found.")
			return nil
		}

		formatRequestsList(os.Stdout, reqs)
		return nil
	},
}

// -- requests show --

var requestsShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show the status view of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req, err := st.GetRequest(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "requests show")
		}

		raw, _ := cmd.Flags().GetBool("raw")
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if raw {
			return enc.Encode(req)
		}
		return enc.Encode(pipeline.Project(req))
	},
}

// -- requests cancel --

var requestsCancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a pending or processing request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.TransitionStatus(ctx, args[0], model.RequestStatusCancelled, ""); err != nil {
			return eris.Wrap(err, "requests cancel")
		}
		fmt.Fprintf(os.Stdout, "Cancelled %s\n", args[0])
		return nil
	},
}

// -- requests stats --

var requestsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate request and send statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since / time.Hour)
		if hours < 1 {
			hours = 1
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "requests stats")
		}
		formatRequestStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	requestsListCmd.Flags().String("owner", "", "filter by owner id")
	requestsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed, cancelled)")
	requestsListCmd.Flags().Int("limit", 50, "max number of requests to display")

	requestsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	requestsShowCmd.Flags().Bool("raw", false, "print the stored row including lead snapshots")

	requestsCmd.AddCommand(requestsListCmd)
	requestsCmd.AddCommand(requestsShowCmd)
	requestsCmd.AddCommand(requestsCancelCmd)
	requestsCmd.AddCommand(requestsStatsCmd)
	rootCmd.AddCommand(requestsCmd)
}

// formatRequestsList writes a tabular list of requests to w.
func formatRequestsList(out io.Writer, reqs []model.PipelineRequest) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tSTAGE\tFOUND\tSENT\tCREATED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-----\t-----\t----\t-------\t-----")

	for _, r := range reqs {
		errDetail := r.ErrorDetail
		if len(errDetail) > 40 {
			errDetail = errDetail[:37] + "..."
		}
		stage := string(r.Stage)
		if stage == "" {
			stage = "-"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.OwnerID,
			r.Status,
			stage,
			r.TotalFound,
			r.SentCount,
			r.CreatedAt.Format("2006-01-02 15:04"),
			errDetail,
		)
	}
	_ = w.Flush()
}

// formatRequestStats writes aggregate stats to w.
func formatRequestStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total requests:\t%d\n", s.RequestsTotal)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.RequestsCompleted)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RequestsFailed)

	reasons := make([]string, 0, len(s.FailureReasons))
	for r := range s.FailureReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", r, s.FailureReasons[r])
	}

	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.RequestsCancelled)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", s.RequestsPending)
	_, _ = fmt.Fprintf(w, "Processing:\t%d\n", s.RequestsProcessing)
	_, _ = fmt.Fprintf(w, "Sends:\t%d/%d\n", s.DispatchSent, s.DispatchAttempts)
	_, _ = fmt.Fprintf(w, "Needs reauth:\t%d\n", s.NeedsReauth)
	if s.Truncated {
		_, _ = fmt.Fprintln(w, "(older requests not scanned)")
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
