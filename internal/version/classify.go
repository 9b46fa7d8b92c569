package version

import (
	"regexp"
	"strings"

	"github.com/modsync/modsync/internal/vcs"
)

// BumpClass is the semantic-version component a change set calls for.
type BumpClass string

const (
	BumpMajor      BumpClass = "major"
	BumpMinor      BumpClass = "minor"
	BumpPatch      BumpClass = "patch"
	BumpPrerelease BumpClass = "prerelease"
)

// ConventionalCommit is a commit message parsed against the
// `type(scope): subject` convention.
type ConventionalCommit struct {
	Type     string
	Scope    string
	Subject  string
	Breaking bool
}

// conventionalRe matches `type(scope)!: subject` headers. Unmatched subjects
// fall through with an empty type.
var conventionalRe = regexp.MustCompile(`^([a-zA-Z]+)(\(([^)]*)\))?(!)?:\s*(.+)$`)

// ParseConventional parses a commit into its conventional-commit parts.
// A commit that does not follow the convention gets an empty Type with the
// whole subject preserved.
func ParseConventional(c vcs.Commit) ConventionalCommit {
	parsed := ConventionalCommit{Subject: strings.TrimSpace(c.Subject)}
	if m := conventionalRe.FindStringSubmatch(c.Subject); m != nil {
		parsed.Type = strings.ToLower(m[1])
		parsed.Scope = m[3]
		parsed.Breaking = m[4] == "!"
		parsed.Subject = strings.TrimSpace(m[5])
	}
	if containsBreakingMarker(c.Subject) || containsBreakingMarker(c.Body) {
		parsed.Breaking = true
	}
	return parsed
}

// containsBreakingMarker detects the textual breaking-change vocabulary.
func containsBreakingMarker(s string) bool {
	return strings.Contains(s, "BREAKING CHANGE") || strings.Contains(s, "BREAKING:")
}

// Summary aggregates a commit window against the breaking/feature/fix
// taxonomy.
type Summary struct {
	Breaking bool
	Features int
	Fixes    int
	Others   int
}

// Classify summarizes a commit window. Bump precedence is strict: any
// breaking marker wins, then any feature, then any fix; an empty or
// unclassifiable window defaults to patch.
func Classify(commits []vcs.Commit) (BumpClass, Summary) {
	var sum Summary
	for _, c := range commits {
		parsed := ParseConventional(c)
		if parsed.Breaking {
			sum.Breaking = true
		}
		switch parsed.Type {
		case "feat", "feature":
			sum.Features++
		case "fix", "bugfix", "hotfix":
			sum.Fixes++
		default:
			sum.Others++
		}
	}

	switch {
	case sum.Breaking:
		return BumpMajor, sum
	case sum.Features > 0:
		return BumpMinor, sum
	default:
		return BumpPatch, sum
	}
}
