package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultOpTimeout bounds a single git invocation. Network operations that
// exceed it surface as ErrTimeout, which the queue treats as retryable.
const DefaultOpTimeout = 2 * time.Minute

// GitDriver implements Driver using the git CLI rooted at the monorepo
// working tree.
type GitDriver struct {
	dir     string
	timeout time.Duration
}

// NewGitDriver creates a GitDriver for the monorepo at dir. It returns an
// error if git is unavailable or dir is not inside a git repository.
func NewGitDriver(ctx context.Context, dir string) (*GitDriver, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("vcs: git not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--git-dir")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("vcs: %s is not a git repository: %w", dir, err)
	}
	return &GitDriver{dir: dir, timeout: DefaultOpTimeout}, nil
}

// SetTimeout overrides the per-operation timeout. Zero restores the default.
func (g *GitDriver) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultOpTimeout
	}
	g.timeout = d
}

// run executes a git command in the repo dir, capturing stdout and folding
// stderr into classified errors.
func (g *GitDriver) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: git %s", ErrTimeout, args[0])
		}
		return "", classifyGitError(args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// classifyGitError maps git stderr onto the driver's sentinel errors so the
// engine can decide retryability without string matching.
func classifyGitError(args []string, err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "could not resolve host"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection timed out"),
		strings.Contains(lower, "unable to access"),
		strings.Contains(lower, "could not read from remote"):
		return fmt.Errorf("%w: %s", ErrRemoteUnreachable, stderr)
	case strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "fetch first"),
		strings.Contains(lower, "rejected"),
		strings.Contains(lower, "merge conflict"),
		strings.Contains(lower, "would be overwritten"):
		return fmt.Errorf("%w: %s", ErrNonFastForward, stderr)
	}
	return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr)
}

// Status returns working-tree changes under prefix, paths made relative to it.
func (g *GitDriver) Status(ctx context.Context, prefix string) ([]Change, error) {
	out, err := g.run(ctx, "status", "--porcelain", "--", prefix)
	if err != nil {
		return nil, fmt.Errorf("vcs: status %q: %w", prefix, err)
	}
	return parsePorcelain(out, prefix), nil
}

// parsePorcelain converts `git status --porcelain` output into Changes.
func parsePorcelain(out, prefix string) []Change {
	var changes []Change
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		p := strings.TrimSpace(line[3:])
		// Rename lines look like "R  old -> new"; keep the new path.
		if i := strings.Index(p, " -> "); i >= 0 {
			p = p[i+4:]
		}
		p = strings.Trim(p, `"`)

		var typ ChangeType
		switch {
		case strings.ContainsAny(code, "D"):
			typ = ChangeDeleted
		case code == "??" || strings.ContainsAny(code, "A"):
			typ = ChangeAdded
		case strings.ContainsAny(code, "R"):
			typ = ChangeRenamed
		default:
			typ = ChangeModified
		}
		changes = append(changes, Change{Path: relToPrefix(p, prefix), Type: typ})
	}
	return changes
}

// relToPrefix strips the module prefix from a repo-relative path.
func relToPrefix(p, prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" || prefix == "." {
		return p
	}
	return strings.TrimPrefix(p, prefix+"/")
}

// CommitPaths stages and commits everything under prefix. Clean tree is a no-op.
func (g *GitDriver) CommitPaths(ctx context.Context, prefix, message string) error {
	status, err := g.run(ctx, "status", "--porcelain", "--", prefix)
	if err != nil {
		return fmt.Errorf("vcs: pre-commit status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	if _, err := g.run(ctx, "add", "--", prefix); err != nil {
		return fmt.Errorf("vcs: stage %q: %w", prefix, err)
	}
	if _, err := g.run(ctx, "commit", "-m", message, "--", prefix); err != nil {
		return fmt.Errorf("vcs: commit %q: %w", prefix, err)
	}
	return nil
}

// logFormat uses unit/record separators so subjects and bodies can contain
// anything git allows.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "%H" + fieldSep + "%an" + fieldSep + "%aI" + fieldSep + "%s" + fieldSep + "%b" + recordSep
)

// CommitsSince returns commits touching prefix after since, oldest first.
func (g *GitDriver) CommitsSince(ctx context.Context, prefix string, since time.Time) ([]Commit, error) {
	args := []string{"log", "--reverse", "--format=" + logFormat}
	if !since.IsZero() {
		args = append(args, "--since="+since.UTC().Format(time.RFC3339))
	}
	args = append(args, "--", prefix)
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("vcs: log %q: %w", prefix, err)
	}
	return parseCommits(out)
}

// parseCommits splits separator-delimited git log output into Commits.
func parseCommits(out string) ([]Commit, error) {
	var commits []Commit
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		fields := strings.SplitN(rec, fieldSep, 5)
		if len(fields) < 4 {
			return nil, fmt.Errorf("vcs: malformed log record: %q", rec)
		}
		when, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("vcs: parse commit date %q: %w", fields[2], err)
		}
		c := Commit{
			Hash:    fields[0],
			Author:  fields[1],
			When:    when,
			Subject: fields[3],
		}
		if len(fields) == 5 {
			c.Body = strings.TrimSpace(fields[4])
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// DiffSince aggregates numstat counts for commits touching prefix after since.
func (g *GitDriver) DiffSince(ctx context.Context, prefix string, since time.Time) (*DiffStat, error) {
	args := []string{"log", "--numstat", "--format="}
	if !since.IsZero() {
		args = append(args, "--since="+since.UTC().Format(time.RFC3339))
	}
	args = append(args, "--", prefix)
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("vcs: diff since %q: %w", prefix, err)
	}
	return parseNumstat(out, prefix), nil
}

// parseNumstat aggregates `git log/diff --numstat` lines into a DiffStat.
// Binary files report "-" counts and contribute only to the file list.
func parseNumstat(out, prefix string) *DiffStat {
	stat := &DiffStat{}
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if add, err := strconv.Atoi(fields[0]); err == nil {
			stat.Additions += add
		}
		if del, err := strconv.Atoi(fields[1]); err == nil {
			stat.Deletions += del
		}
		p := relToPrefix(strings.Join(fields[2:], " "), prefix)
		if !seen[p] {
			seen[p] = true
			stat.Files = append(stat.Files, p)
		}
	}
	return stat
}

// RemoteChangesSince fetches the module's remote branch and returns file
// changes made there after since. Subtree remotes hold the module at their
// root, so the returned paths are already module-relative.
func (g *GitDriver) RemoteChangesSince(ctx context.Context, remote, branch, prefix string, since time.Time) ([]Change, error) {
	if _, err := g.run(ctx, "fetch", remote, branch); err != nil {
		return nil, fmt.Errorf("vcs: fetch %s %s: %w", remote, branch, err)
	}
	args := []string{"log", "FETCH_HEAD", "--name-status", "--format="}
	if !since.IsZero() {
		args = append(args, "--since="+since.UTC().Format(time.RFC3339))
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("vcs: remote log: %w", err)
	}
	return parseNameStatus(out), nil
}

// parseNameStatus converts --name-status lines into Changes, keeping the
// most recent change type per path.
func parseNameStatus(out string) []Change {
	latest := make(map[string]ChangeType)
	var order []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		var typ ChangeType
		switch fields[0][0] {
		case 'A':
			typ = ChangeAdded
		case 'D':
			typ = ChangeDeleted
		case 'R':
			typ = ChangeRenamed
		default:
			typ = ChangeModified
		}
		// git log emits newest first; the first line per path wins.
		p := fields[len(fields)-1]
		if _, ok := latest[p]; !ok {
			order = append(order, p)
			latest[p] = typ
		}
	}
	changes := make([]Change, 0, len(order))
	for _, p := range order {
		changes = append(changes, Change{Path: p, Type: latest[p]})
	}
	return changes
}

// Push performs a subtree push of the prefix history to the remote branch.
func (g *GitDriver) Push(ctx context.Context, prefix, remote, branch string) error {
	prefix = path.Clean(prefix)
	if _, err := g.run(ctx, "subtree", "push", "--prefix="+prefix, remote, branch); err != nil {
		return fmt.Errorf("vcs: subtree push %q: %w", prefix, err)
	}
	return nil
}

// Pull performs a squashed subtree pull and returns the resulting diff
// against the pre-pull HEAD.
func (g *GitDriver) Pull(ctx context.Context, prefix, remote, branch string) (*DiffStat, error) {
	prefix = path.Clean(prefix)
	before, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("vcs: rev-parse HEAD: %w", err)
	}
	before = strings.TrimSpace(before)

	msg := fmt.Sprintf("sync: pull %s from %s %s", prefix, remote, branch)
	if _, err := g.run(ctx, "subtree", "pull", "--prefix="+prefix, remote, branch, "--squash", "-m", msg); err != nil {
		return nil, fmt.Errorf("vcs: subtree pull %q: %w", prefix, err)
	}

	after, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("vcs: rev-parse HEAD after pull: %w", err)
	}
	after = strings.TrimSpace(after)
	if after == before {
		return &DiffStat{}, nil // already up to date
	}

	out, err := g.run(ctx, "diff", "--numstat", before, after, "--", prefix)
	if err != nil {
		return nil, fmt.Errorf("vcs: post-pull diff: %w", err)
	}
	return parseNumstat(out, prefix), nil
}

// Tag creates an annotated tag at HEAD.
func (g *GitDriver) Tag(ctx context.Context, name, message string) error {
	if _, err := g.run(ctx, "tag", "-a", name, "-m", message); err != nil {
		return fmt.Errorf("vcs: tag %q: %w", name, err)
	}
	return nil
}
