package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/conflict"
	"github.com/modsync/modsync/internal/engine"
	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/vcs"
	"github.com/modsync/modsync/internal/vcs/vcstest"
)

func newTestQueue(t *testing.T, fake *vcstest.Fake, cfg Config) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "modsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	eng := engine.New(s, fake, conflict.NewPredictor(fake), nil, zap.NewNop())
	return New(s, eng, nil, zap.NewNop(), cfg), s
}

func seedModule(t *testing.T, s *store.Store, name string) *store.Module {
	t.Helper()
	m := &store.Module{
		Name:    name,
		Path:    "libs/" + name,
		RepoURL: "https://example.com/org/" + name + ".git",
		Branch:  "main",
		Version: "1.0.0",
	}
	require.NoError(t, s.UpsertModule(context.Background(), m))
	return m
}

func TestProcessQueueCompletesJob(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{StatusChanges: []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}}}
	q, s := newTestQueue(t, fake, Config{})
	ctx := context.Background()
	m := seedModule(t, s, "steady")

	id, err := q.Enqueue(ctx, m.ID, store.ToRemote, 0)
	require.NoError(t, err)

	q.ProcessQueue(ctx)

	job, err := s.JobByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.JobSuccess, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 1, fake.PushCount())

	mod, err := s.ModuleByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ModuleSynced, mod.Status)
}

func TestProcessQueueReschedulesRetryableFailure(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{
		StatusChanges: []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}},
		PushErr:       vcs.ErrRemoteUnreachable,
	}
	q, s := newTestQueue(t, fake, Config{})
	ctx := context.Background()
	m := seedModule(t, s, "flaky")

	id, err := q.Enqueue(ctx, m.ID, store.ToRemote, 0)
	require.NoError(t, err)

	q.ProcessQueue(ctx)

	job, err := s.JobByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotEmpty(t, job.LastError)
	// First failure backs off at least 2^1 seconds.
	assert.GreaterOrEqual(t, job.RunAt.Sub(time.Now()), time.Second)
}

func TestProcessQueueDeadLettersNonRetryable(t *testing.T) {
	t.Parallel()
	// A predicted critical conflict is not retryable: retrying cannot
	// resolve a delete-vs-modify divergence.
	fake := &vcstest.Fake{
		StatusChanges: []vcs.Change{{Path: "README.md", Type: vcs.ChangeDeleted}},
		RemoteChanges: []vcs.Change{{Path: "README.md", Type: vcs.ChangeModified}},
	}
	q, s := newTestQueue(t, fake, Config{})
	ctx := context.Background()
	m := seedModule(t, s, "contested")

	id, err := q.Enqueue(ctx, m.ID, store.ToRemote, 0)
	require.NoError(t, err)

	q.ProcessQueue(ctx)

	job, err := s.JobByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.JobDeadLetter, job.Status)
	assert.Equal(t, 1, job.Attempts, "non-retryable failure should not burn the full attempt budget")
}

func TestRequeueFromDeadLetter(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{
		StatusChanges: []vcs.Change{{Path: "README.md", Type: vcs.ChangeDeleted}},
		RemoteChanges: []vcs.Change{{Path: "README.md", Type: vcs.ChangeModified}},
	}
	q, s := newTestQueue(t, fake, Config{})
	ctx := context.Background()
	m := seedModule(t, s, "revivable")

	id, err := q.Enqueue(ctx, m.ID, store.ToRemote, 0)
	require.NoError(t, err)
	q.ProcessQueue(ctx)

	require.NoError(t, q.Requeue(ctx, id))
	job, err := s.JobByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, job.Status)
	assert.Zero(t, job.Attempts)

	// Requeueing a job that is not dead-lettered is an error.
	assert.Error(t, q.Requeue(ctx, id))
}

func TestEnqueueCoalescesAndEmitsOnce(t *testing.T) {
	t.Parallel()
	q, s := newTestQueue(t, &vcstest.Fake{}, Config{})
	ctx := context.Background()
	m := seedModule(t, s, "dup")

	first, err := q.Enqueue(ctx, m.ID, store.FromRemote, 0)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, m.ID, store.FromRemote, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	jobs, err := s.ListJobs(ctx, store.JobPending)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStartStopTerminatesCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	fake := &vcstest.Fake{}
	q, s := newTestQueue(t, fake, Config{TickInterval: 10 * time.Millisecond})
	ctx := context.Background()
	m := seedModule(t, s, "lifecycle")

	require.NoError(t, q.Start(ctx))
	_, err := q.Enqueue(ctx, m.ID, store.ToRemote, 0)
	require.NoError(t, err)

	// Clean tree syncs as a no-op; wait for the worker to drain it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := s.ListJobs(ctx, store.JobSuccess)
		require.NoError(t, err)
		if len(jobs) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	q.Stop()

	jobs, err := s.ListJobs(ctx, store.JobSuccess)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestProcessQueueRecoversStaleJobs(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{}
	q, s := newTestQueue(t, fake, Config{StaleAfter: time.Nanosecond})
	ctx := context.Background()
	m := seedModule(t, s, "stale")

	_, err := q.Enqueue(ctx, m.ID, store.ToRemote, 0)
	require.NoError(t, err)

	// Simulate a worker that claimed and died.
	claimed, err := s.ClaimDueJobs(ctx, time.Now().Add(-time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	q.ProcessQueue(ctx)

	job, err := s.JobByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	// Recovered and immediately reprocessed to completion in the same sweep.
	assert.Contains(t, []store.JobStatus{store.JobPending, store.JobSuccess}, job.Status)
}
