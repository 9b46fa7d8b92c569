package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modsync/modsync/internal/changelog"
	"github.com/modsync/modsync/internal/version"
)

var changelogCmd = &cobra.Command{
	Use:   "changelog <module>",
	Short: "Render release notes for a module's unreleased commits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		target, _ := cmd.Flags().GetString("version")
		if target == "" {
			mgr := version.NewManager(a.store, a.driver, a.log)
			target, err = mgr.Preview(ctx, args[0])
			if err != nil {
				return err
			}
		}

		gen := changelog.NewGenerator(a.store, a.driver)
		text, err := gen.Generate(ctx, args[0], target)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

func init() {
	changelogCmd.Flags().String("version", "", "target version header (default: predicted next version)")
	rootCmd.AddCommand(changelogCmd)
}
