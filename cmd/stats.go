package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modsync/modsync/internal/hostapi"
)

var statsCmd = &cobra.Command{
	Use:   "stats <module>",
	Short: "Show hosting-provider statistics for a module's mirror repository",
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
		repo, err := repoSlug(mod.RepoURL)
		if err != nil {
			return err
		}

		opts := []hostapi.Option{
			hostapi.WithToken(a.cfg.HostAPI.Token),
			hostapi.WithCacheTTL(a.cfg.HostAPI.CacheTTL),
		}
		if a.cfg.HostAPI.BaseURL != "" {
			opts = append(opts, hostapi.WithBaseURL(a.cfg.HostAPI.BaseURL))
		}
		client := hostapi.NewClient(a.log, opts...)

		stats, err := client.RepoStats(ctx, repo)
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", mod.Name, repo)
		fmt.Printf("  stars:       %d\n", stats.Stars)
		fmt.Printf("  forks:       %d\n", stats.Forks)
		fmt.Printf("  watchers:    %d\n", stats.Watchers)
		fmt.Printf("  open issues: %d\n", stats.OpenIssue)
		if !stats.PushedAt.IsZero() {
			fmt.Printf("  last push:   %s\n", stats.PushedAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

// repoSlug extracts "owner/repo" from an HTTPS or SSH git remote URL.
func repoSlug(remote string) (string, error) {
	if remote == "" {
		return "", fmt.Errorf("module has no remote configured")
	}
	s := strings.TrimSuffix(remote, ".git")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ReplaceAll(s, ":", "/")
	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("cannot derive owner/repo from %q", remote)
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1], nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
