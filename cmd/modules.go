package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modsync/modsync/internal/manifest"
	"github.com/modsync/modsync/internal/store"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Register and inspect monorepo modules",
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered modules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		mods, err := a.store.ListModules(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tSTATUS\tAUTO-SYNC\tLAST SYNCED\tPATH")
		for _, m := range mods {
			last := "never"
			if m.LastSynced != nil {
				last = m.LastSynced.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
				m.Name, m.Version, m.Status, m.AutoSync, last, m.Path)
		}
		return w.Flush()
	},
}

var modulesRegisterCmd = &cobra.Command{
	Use:   "register [manifest-path]",
	Short: "Register modules from modsync.toml manifests",
	Long: "Reads one manifest, or discovers every modsync.toml under the repo root with\n" +
		"--all, and upserts the modules it describes. Sync state of already-registered\n" +
		"modules is preserved.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		all, _ := cmd.Flags().GetBool("all")

		var manifests []*manifest.Manifest
		switch {
		case all:
			manifests, err = manifest.Discover(a.cfg.RepoRoot)
			if err != nil {
				return err
			}
		case len(args) == 1:
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				path = filepath.Join(path, manifest.Filename)
			}
			m, err := manifest.Load(a.cfg.RepoRoot, path)
			if err != nil {
				return err
			}
			manifests = append(manifests, m)
		default:
			return errors.New("pass a manifest path or use --all")
		}

		for _, m := range manifests {
			mod := m.Module()
			if err := a.store.UpsertModule(ctx, mod); err != nil {
				return err
			}
			if err := a.store.SetModuleDeps(ctx, mod.ID, m.Deps); err != nil {
				return err
			}
			if m.Webhook.Secret != "" {
				hook := &store.Webhook{
					ModuleID: mod.ID,
					Secret:   m.Webhook.Secret,
					Events:   m.Webhook.Events,
					Active:   true,
				}
				if err := a.store.UpsertWebhook(ctx, hook); err != nil {
					return err
				}
			}
			fmt.Printf("registered %s (%s)\n", mod.Name, mod.Path)
		}
		return nil
	},
}

var modulesShowCmd = &cobra.Command{
	Use:   "show <module>",
	Short: "Show a module's state and recent sync history",
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

		fmt.Printf("%s %s (%s)\n", mod.Name, mod.Version, mod.Status)
		fmt.Printf("  path:      %s\n", mod.Path)
		if mod.Configured() {
			fmt.Printf("  remote:    %s @ %s\n", mod.RepoURL, mod.Branch)
		} else {
			fmt.Println("  remote:    not configured")
		}
		fmt.Printf("  auto-sync: %v\n", mod.AutoSync)
		if mod.LastSynced != nil {
			fmt.Printf("  synced:    %s\n", mod.LastSynced.Local().Format(time.DateTime))
		}
		if mod.LastSyncError != "" {
			fmt.Printf("  error:     %s\n", mod.LastSyncError)
		}

		records, err := a.store.RecordsForModule(ctx, mod.ID, 10)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			fmt.Println("\nrecent syncs:")
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			for _, r := range records {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%d files\t+%d -%d\t%s\n",
					r.CreatedAt.Local().Format(time.DateTime), r.Direction, r.Outcome,
					len(r.Files), r.Additions, r.Deletions, r.Actor)
			}
			w.Flush()
		}

		releases, err := a.store.ReleasesForModule(ctx, mod.ID)
		if err != nil {
			return err
		}
		if len(releases) > 0 {
			fmt.Println("\nreleases:")
			for _, rel := range releases {
				fmt.Printf("  %s (%s)\n", rel.Tag, rel.CreatedAt.Local().Format(time.DateOnly))
			}
		}
		return nil
	},
}

func init() {
	modulesRegisterCmd.Flags().Bool("all", false, "discover every manifest under the repo root")
	modulesCmd.AddCommand(modulesListCmd, modulesRegisterCmd, modulesShowCmd)
	rootCmd.AddCommand(modulesCmd)
}
