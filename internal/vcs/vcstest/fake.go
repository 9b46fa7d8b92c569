// Package vcstest provides an in-memory vcs.Driver for tests.
package vcstest

import (
	"context"
	"sync"
	"time"

	"github.com/modsync/modsync/internal/vcs"
)

// Fake is a scriptable vcs.Driver. Configure the result fields, run the code
// under test, then inspect the recorded calls. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// Scripted results.
	StatusChanges []vcs.Change
	Commits       []vcs.Commit
	Diff          vcs.DiffStat
	RemoteChanges []vcs.Change
	PullStat      vcs.DiffStat

	// Scripted failures. Each applies to its operation only.
	StatusErr error
	CommitErr error
	LogErr    error
	RemoteErr error
	PushErr   error
	PullErr   error
	TagErr    error

	// Recorded calls.
	CommitMessages []string
	Pushes         []string // "prefix remote branch"
	Pulls          []string
	Tags           []string
}

var _ vcs.Driver = (*Fake)(nil)

func (f *Fake) Status(ctx context.Context, prefix string) ([]vcs.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StatusChanges, f.StatusErr
}

func (f *Fake) CommitPaths(ctx context.Context, prefix, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.CommitMessages = append(f.CommitMessages, message)
	return nil
}

func (f *Fake) CommitsSince(ctx context.Context, prefix string, since time.Time) ([]vcs.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Commits, f.LogErr
}

func (f *Fake) DiffSince(ctx context.Context, prefix string, since time.Time) (*vcs.DiffStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LogErr != nil {
		return nil, f.LogErr
	}
	d := f.Diff
	return &d, nil
}

func (f *Fake) RemoteChangesSince(ctx context.Context, remote, branch, prefix string, since time.Time) ([]vcs.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RemoteChanges, f.RemoteErr
}

func (f *Fake) Push(ctx context.Context, prefix, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushErr != nil {
		return f.PushErr
	}
	f.Pushes = append(f.Pushes, prefix+" "+remote+" "+branch)
	return nil
}

func (f *Fake) Pull(ctx context.Context, prefix, remote, branch string) (*vcs.DiffStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PullErr != nil {
		return nil, f.PullErr
	}
	f.Pulls = append(f.Pulls, prefix+" "+remote+" "+branch)
	d := f.PullStat
	return &d, nil
}

func (f *Fake) Tag(ctx context.Context, name, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TagErr != nil {
		return f.TagErr
	}
	f.Tags = append(f.Tags, name)
	return nil
}

// PushCount returns how many pushes were recorded.
func (f *Fake) PushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Pushes)
}
