// Package changelog renders grouped, human-readable release notes from a
// module's commit window. Rendering is deterministic: the same commits and
// target version always produce the same text, apart from the embedded
// generation date.
package changelog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/vcs"
	"github.com/modsync/modsync/internal/version"
)

// bucketOrder fixes the section order in rendered output.
var bucketOrder = []string{"Breaking", "Added", "Changed", "Fixed", "Removed", "Security"}

// bucketFor maps a conventional-commit type onto a changelog section.
// Unrecognized types fall back to Changed.
func bucketFor(c version.ConventionalCommit) string {
	if c.Breaking {
		return "Breaking"
	}
	switch c.Type {
	case "feat", "feature":
		return "Added"
	case "fix", "bugfix", "hotfix":
		return "Fixed"
	case "remove", "revert":
		return "Removed"
	case "security":
		return "Security"
	default:
		return "Changed"
	}
}

// Render groups commits into changelog sections under a version header.
// Entries keep commit order (oldest first) within each section.
func Render(targetVersion string, commits []vcs.Commit, date time.Time) string {
	buckets := make(map[string][]string)
	for _, c := range commits {
		parsed := version.ParseConventional(c)
		entry := parsed.Subject
		if parsed.Scope != "" {
			entry = fmt.Sprintf("**%s**: %s", parsed.Scope, entry)
		}
		b := bucketFor(parsed)
		buckets[b] = append(buckets[b], entry)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## [%s] - %s\n", targetVersion, date.UTC().Format("2006-01-02"))
	for _, name := range bucketOrder {
		entries := buckets[name]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n\n", name)
		for _, e := range entries {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}
	if len(commits) == 0 {
		sb.WriteString("\nNo changes recorded for this release.\n")
	}
	return sb.String()
}

// Generator fetches a module's commit window and renders its release notes.
type Generator struct {
	store  *store.Store
	driver vcs.Driver
}

// NewGenerator wires a Generator.
func NewGenerator(st *store.Store, driver vcs.Driver) *Generator {
	return &Generator{store: st, driver: driver}
}

// Generate renders the changelog section for the module's commits since its
// last successful sync, keyed by targetVersion.
func (g *Generator) Generate(ctx context.Context, moduleName, targetVersion string) (string, error) {
	mod, err := g.store.ModuleByName(ctx, moduleName)
	if err != nil {
		return "", err
	}

	var since time.Time
	if mod.LastSynced != nil {
		since = *mod.LastSynced
	}
	commits, err := g.driver.CommitsSince(ctx, mod.Path, since)
	if err != nil {
		return "", fmt.Errorf("changelog: commit window for %q: %w", moduleName, err)
	}
	return Render(targetVersion, commits, time.Now()), nil
}
