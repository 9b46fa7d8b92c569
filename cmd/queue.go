package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modsync/modsync/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the sync job queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		status, _ := cmd.Flags().GetString("status")
		jobs, err := a.store.ListJobs(ctx, store.JobStatus(status))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODULE\tDIRECTION\tSTATUS\tATTEMPTS\tRUN AT\tERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				shortID(j.ID), j.ModuleID, j.Direction, j.Status,
				j.Attempts, j.MaxAttempts, j.RunAt.Local().Format(time.DateTime), j.LastError)
		}
		return w.Flush()
	},
}

var queueDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.store.ListJobs(ctx, store.JobDeadLetter)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("dead-letter queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODULE\tDIRECTION\tATTEMPTS\tLAST ERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				j.ID, j.ModuleID, j.Direction, j.Attempts, j.LastError)
		}
		return w.Flush()
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Requeue a dead-lettered job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.queue.Requeue(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("job %s requeued\n", args[0])
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process all currently due jobs and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		for {
			pending, err := a.store.ListJobs(ctx, store.JobPending)
			if err != nil {
				return err
			}
			due := 0
			now := time.Now()
			for _, j := range pending {
				if !j.RunAt.After(now) {
					due++
				}
			}
			if due == 0 {
				return nil
			}
			a.queue.ProcessQueue(ctx)
		}
	},
}

// shortID trims a UUID to its first segment for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	queueListCmd.Flags().String("status", "", "filter by status (pending, running, success, dlq)")
	queueCmd.AddCommand(queueListCmd, queueDLQCmd, queueRequeueCmd, queueDrainCmd)
	rootCmd.AddCommand(queueCmd)
}
