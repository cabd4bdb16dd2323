package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect estimate jobs",
	Long:  "Commands for listing and viewing estimate jobs and their results.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List estimate jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its full estimate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs add --

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a new estimate job",
	Long:  "Queues a job directly, bypassing the intake form. Intended for testing and manual resubmission.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("customer")
		email, _ := cmd.Flags().GetString("email")
		notes, _ := cmd.Flags().GetString("notes")
		urls, _ := cmd.Flags().GetStringSlice("doc")
		if name == "" || email == "" {
			return eris.New("--customer and --email are required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		job, err := st.CreateJob(ctx, model.Job{
			CustomerName: name,
			Email:        email,
			Notes:        notes,
			DocumentURLs: urls,
		})
		if err != nil {
			return eris.Wrap(err, "jobs add")
		}
		fmt.Printf("Queued job %s\n", job.ID)
		return nil
	},
}

func formatJobsList(w io.Writer, jobs []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCUSTOMER\tSTATUS\tSUBMITTED\tTOTAL\tEMAIL")
	for _, j := range jobs {
		total := "-"
		if j.Estimate != nil {
			total = "$" + j.Estimate.Total.StringFixed(2)
		}
		emailState := "-"
		switch {
		case j.EmailSentAt != nil:
			emailState = "sent"
		case j.EmailError != "":
			emailState = "error"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.CustomerName, j.Status,
			j.SubmittedAt.Format(time.RFC3339), total, emailState)
	}
	_ = tw.Flush()
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (queued, processing, ai_started, complete, failed)")
	jobsListCmd.Flags().Int("limit", 50, "maximum jobs to list")
	jobsAddCmd.Flags().String("customer", "", "customer name")
	jobsAddCmd.Flags().String("email", "", "customer email address")
	jobsAddCmd.Flags().String("notes", "", "customer notes")
	jobsAddCmd.Flags().StringSlice("doc", nil, "inspection document URL (repeatable)")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsAddCmd)
	rootCmd.AddCommand(jobsCmd)
}
