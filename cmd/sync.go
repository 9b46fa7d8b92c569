package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/modsync/modsync/internal/engine"
	"github.com/modsync/modsync/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync <module>",
	Short: "Run a sync for one module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		mod, err := a.store.ModuleByName(ctx, args[0])
		if err != nil {
			return err
		}

		direction, _ := cmd.Flags().GetString("direction")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		message, _ := cmd.Flags().GetString("message")
		branch, _ := cmd.Flags().GetString("branch")
		enqueue, _ := cmd.Flags().GetBool("enqueue")

		dir, err := parseDirection(direction)
		if err != nil {
			return err
		}

		if enqueue {
			jobID, err := a.queue.Enqueue(ctx, mod.ID, dir, 1)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued job %s for %s (%s)\n", jobID, mod.Name, dir)
			return nil
		}

		opts := engine.Options{
			DryRun:  dryRun,
			Force:   force,
			Message: message,
			Branch:  branch,
			Actor:   store.ActorManual,
		}

		switch dir {
		case store.Bidirectional:
			res, err := a.engine.BidirectionalSync(ctx, mod.ID, opts)
			if res != nil {
				if res.ToRemote != nil {
					printSyncResult(mod.Name, res.ToRemote)
				}
				if res.FromRemote != nil {
					printSyncResult(mod.Name, res.FromRemote)
				}
			}
			return err
		case store.ToRemote:
			res, err := a.engine.SyncToRemote(ctx, mod.ID, opts)
			if err != nil {
				return describeSyncError(err)
			}
			printSyncResult(mod.Name, res)
			return nil
		default:
			res, err := a.engine.SyncFromRemote(ctx, mod.ID, opts)
			if err != nil {
				return describeSyncError(err)
			}
			printSyncResult(mod.Name, res)
			return nil
		}
	},
}

func parseDirection(s string) (store.Direction, error) {
	switch strings.ToLower(s) {
	case "push", "to-remote", string(store.ToRemote):
		return store.ToRemote, nil
	case "pull", "from-remote", string(store.FromRemote):
		return store.FromRemote, nil
	case "both", string(store.Bidirectional):
		return store.Bidirectional, nil
	default:
		return "", fmt.Errorf("unknown direction %q (want push, pull, or both)", s)
	}
}

// describeSyncError adds the conflict report when the failure was a blocked
// pre-check.
func describeSyncError(err error) error {
	var se *engine.SyncError
	if errors.As(err, &se) && se.Kind == engine.KindConflict && se.Strategy != "" {
		return fmt.Errorf("%w\n  resolve with --force or strategy %q", err, se.Strategy)
	}
	return err
}

func printSyncResult(name string, res *engine.Result) {
	label := string(res.Outcome)
	if res.DryRun {
		label = "dry-run"
	}
	fmt.Printf("%s %s: %s", name, res.Direction, label)
	if len(res.Files) > 0 {
		fmt.Printf(" (%d files, +%d -%d)", len(res.Files), res.Additions, res.Deletions)
	}
	fmt.Println()

	if res.DryRun && len(res.Files) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		for _, f := range res.Files {
			fmt.Fprintf(w, "  %s\n", f)
		}
		w.Flush()
	}
	if res.Analysis != nil && len(res.Analysis.Conflicts) > 0 {
		fmt.Printf("  predicted conflicts: %d (suggested strategy: %s)\n", len(res.Analysis.Conflicts), res.Analysis.SuggestedStrategy)
	}
}

func init() {
	syncCmd.Flags().StringP("direction", "d", "push", "sync direction: push, pull, or both")
	syncCmd.Flags().Bool("dry-run", false, "report what would sync without touching anything")
	syncCmd.Flags().Bool("force", false, "sync even with no local changes or predicted conflicts")
	syncCmd.Flags().StringP("message", "m", "", "commit message for local changes")
	syncCmd.Flags().String("branch", "", "override the module's tracked branch")
	syncCmd.Flags().Bool("enqueue", false, "queue the sync instead of running it now")
	rootCmd.AddCommand(syncCmd)
}
