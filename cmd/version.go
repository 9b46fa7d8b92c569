package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modsync/modsync/internal/changelog"
	"github.com/modsync/modsync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage module versions",
}

var versionBumpCmd = &cobra.Command{
	Use:   "bump <module> [new-version]",
	Short: "Bump a module's semantic version",
	Long: "Without an explicit version, the bump class is derived from the module's\n" +
		"conventional commits since its last sync: breaking changes bump major,\n" +
		"features bump minor, everything else bumps patch.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		tag, _ := cmd.Flags().GetBool("tag")
		cascade, _ := cmd.Flags().GetBool("cascade")
		withChangelog, _ := cmd.Flags().GetBool("changelog")

		mgr := version.NewManager(a.store, a.driver, a.log)
		moduleName := args[0]

		// Decide the target version first so the changelog can be rendered
		// against it before the bump is applied.
		opts := version.Options{Tag: tag, Cascade: cascade}

		var res *version.Result
		if len(args) == 2 {
			if withChangelog {
				gen := changelog.NewGenerator(a.store, a.driver)
				text, cerr := gen.Generate(ctx, moduleName, args[1])
				if cerr != nil {
					return cerr
				}
				opts.Changelog = text
			}
			res, err = mgr.Bump(ctx, moduleName, args[1], opts)
		} else {
			if withChangelog {
				preview, perr := mgr.Preview(ctx, moduleName)
				if perr != nil {
					return perr
				}
				gen := changelog.NewGenerator(a.store, a.driver)
				text, cerr := gen.Generate(ctx, moduleName, preview)
				if cerr != nil {
					return cerr
				}
				opts.Changelog = text
			}
			res, err = mgr.AutoBump(ctx, moduleName, opts)
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s -> %s (%s bump)\n", res.ModuleName, res.OldVersion, res.NewVersion, res.Class)
		if total := res.Summary.Features + res.Summary.Fixes + res.Summary.Others; total > 0 {
			fmt.Printf("  from %d commits: %d features, %d fixes (breaking: %v)\n",
				total, res.Summary.Features, res.Summary.Fixes, res.Summary.Breaking)
		}
		if opts.Changelog != "" {
			fmt.Println()
			fmt.Print(opts.Changelog)
		}
		return nil
	},
}

func init() {
	versionBumpCmd.Flags().Bool("tag", false, "create an annotated git tag for the new version")
	versionBumpCmd.Flags().Bool("cascade", false, "enqueue syncs for dependent modules")
	versionBumpCmd.Flags().Bool("changelog", false, "generate and store release notes with the bump")
	versionCmd.AddCommand(versionBumpCmd)
	rootCmd.AddCommand(versionCmd)
}
