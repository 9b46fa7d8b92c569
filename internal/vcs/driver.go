// Package vcs abstracts the version-control operations the sync engine
// needs behind a narrow interface, so orchestration logic never shells out
// directly and tests can substitute a fake driver.
package vcs

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors used to classify driver failures. The engine maps these
// onto its retry taxonomy: unreachable and timeout are transient,
// non-fast-forward is a conflict.
var (
	// ErrRemoteUnreachable indicates the remote host could not be reached.
	ErrRemoteUnreachable = errors.New("remote unreachable")
	// ErrNonFastForward indicates the remote rejected the push because
	// histories diverged.
	ErrNonFastForward = errors.New("non-fast-forward: remote history diverged")
	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("vcs operation timed out")
)

// ChangeType describes what happened to a path.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// Change is one file-level change, with the path relative to the module
// root so local and remote change sets are directly comparable.
type Change struct {
	Path string
	Type ChangeType
}

// Commit is one commit touching a module's path prefix.
type Commit struct {
	Hash    string
	Author  string
	When    time.Time
	Subject string
	Body    string
}

// DiffStat aggregates file and byte-level counts for a commit window.
type DiffStat struct {
	Files     []string
	Additions int
	Deletions int
}

// Driver executes subtree-scoped version-control operations against one
// monorepo working tree. Implementations must be safe for sequential use
// only; the queue guarantees at most one in-flight operation per module.
type Driver interface {
	// Status returns the working-tree changes under the given path prefix,
	// with paths relative to the prefix.
	Status(ctx context.Context, prefix string) ([]Change, error)

	// CommitPaths stages everything under prefix and commits it with the
	// given message. A clean tree is a no-op.
	CommitPaths(ctx context.Context, prefix, message string) error

	// CommitsSince returns commits touching prefix made after since,
	// oldest first. A zero since means the full history.
	CommitsSince(ctx context.Context, prefix string, since time.Time) ([]Commit, error)

	// DiffSince aggregates numstat counts for commits touching prefix
	// after since.
	DiffSince(ctx context.Context, prefix string, since time.Time) (*DiffStat, error)

	// RemoteChangesSince fetches the module's remote branch and returns the
	// file changes made there after since, paths relative to the module root.
	RemoteChangesSince(ctx context.Context, remote, branch, prefix string, since time.Time) ([]Change, error)

	// Push performs a subtree push of the prefix history to the remote branch.
	Push(ctx context.Context, prefix, remote, branch string) error

	// Pull performs a squashed subtree pull from the remote branch into the
	// prefix and returns the resulting diff, or an empty stat when the
	// subtree was already up to date.
	Pull(ctx context.Context, prefix, remote, branch string) (*DiffStat, error)

	// Tag creates an annotated tag at HEAD.
	Tag(ctx context.Context, name, message string) error
}
