package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadencebot/cadence/internal/config"
	"github.com/cadencebot/cadence/internal/jobs"
	"github.com/cadencebot/cadence/internal/store"
)

// withStores loads config, opens the durable backend, runs fn, and closes.
func withStores(fn func(ctx context.Context, st *store.Stores) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, st)
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the index job queue",
	}

	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsInspectCmd())
	cmd.AddCommand(jobsRetryCmd())

	return cmd
}

func jobsListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List index jobs, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(ctx context.Context, st *store.Stores) error {
				list, err := st.Jobs.ListJobs(ctx, store.JobStatus(status), limit)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("no jobs")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tREF\tSTATUS\tRETRIES\tUPDATED\tERROR")
				for _, j := range list {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
						j.ID, j.ItemType, j.RefID, j.Status, j.RetryCount,
						j.UpdatedAt.Format(time.RFC3339), truncateErr(j.LastError))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, done, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

func jobsInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show one job in full, including its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withStores(func(ctx context.Context, st *store.Stores) error {
				j, err := st.Jobs.GetJob(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("id:           %d\n", j.ID)
				fmt.Printf("type:         %s\n", j.ItemType)
				fmt.Printf("ref:          %s\n", j.RefID)
				fmt.Printf("status:       %s\n", j.Status)
				fmt.Printf("retries:      %d\n", j.RetryCount)
				if !j.NextRetry.IsZero() {
					fmt.Printf("next retry:   %s\n", j.NextRetry.Format(time.RFC3339))
				}
				if j.LeaseOwner != "" {
					fmt.Printf("lease owner:  %s\n", j.LeaseOwner)
					fmt.Printf("lease expiry: %s\n", j.LeaseExpiry.Format(time.RFC3339))
				}
				if j.LastError != "" {
					fmt.Printf("last error:   %s\n", j.LastError)
				}
				fmt.Printf("created:      %s\n", j.CreatedAt.Format(time.RFC3339))
				fmt.Printf("updated:      %s\n", j.UpdatedAt.Format(time.RFC3339))
				fmt.Printf("payload:      %s\n", j.Payload)
				return nil
			})
		},
	}
}

func jobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed job with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withStores(func(ctx context.Context, st *store.Stores) error {
				if err := jobs.NewQueue(st.Jobs).Requeue(ctx, id); err != nil {
					return err
				}
				fmt.Printf("job %d requeued\n", id)
				return nil
			})
		},
	}
}

func parseJobID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

func truncateErr(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
