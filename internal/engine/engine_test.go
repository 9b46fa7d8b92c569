package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/conflict"
	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/vcs"
	"github.com/modsync/modsync/internal/vcs/vcstest"
)

func newTestEngine(t *testing.T, fake *vcstest.Fake) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "modsync.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	eng := New(s, fake, conflict.NewPredictor(fake), nil, zap.NewNop())
	return eng, s
}

func seedModule(t *testing.T, s *store.Store, name string, configured bool) *store.Module {
	t.Helper()
	m := &store.Module{
		Name:    name,
		Path:    "libs/" + name,
		Version: "1.0.0",
	}
	if configured {
		m.RepoURL = "https://example.com/org/" + name + ".git"
		m.Branch = "main"
	}
	if err := s.UpsertModule(context.Background(), m); err != nil {
		t.Fatalf("seeding module: %v", err)
	}
	return m
}

func TestSyncToRemoteUnconfiguredModule(t *testing.T) {
	t.Parallel()
	eng, s := newTestEngine(t, &vcstest.Fake{})
	m := seedModule(t, s, "bare", false)

	_, err := eng.SyncToRemote(context.Background(), m.ID, Options{})
	if !errors.Is(err, ErrModuleNotConfigured) {
		t.Fatalf("err = %v, want ErrModuleNotConfigured", err)
	}
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindConfig {
		t.Fatalf("err = %v, want config SyncError", err)
	}
	if se.Retryable() {
		t.Error("config errors must not be retryable")
	}
}

func TestSyncToRemoteNoChangesIsNoOp(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{} // clean working tree
	eng, s := newTestEngine(t, fake)
	m := seedModule(t, s, "clean", true)

	res, err := eng.SyncToRemote(context.Background(), m.ID, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != store.OutcomeNoChange {
		t.Errorf("outcome = %s, want no_change", res.Outcome)
	}
	if fake.PushCount() != 0 {
		t.Errorf("pushed %d times for a clean tree", fake.PushCount())
	}
}

func TestSyncToRemoteDryRunLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{StatusChanges: []vcs.Change{
		{Path: "a.go", Type: vcs.ChangeModified},
		{Path: "b.go", Type: vcs.ChangeAdded},
	}}
	eng, s := newTestEngine(t, fake)
	ctx := context.Background()
	m := seedModule(t, s, "dry", true)

	res, err := eng.SyncToRemote(ctx, m.ID, Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !res.DryRun || len(res.Files) != 2 {
		t.Fatalf("result = %+v, want dry-run with 2 files", res)
	}

	if fake.PushCount() != 0 || len(fake.CommitMessages) != 0 {
		t.Error("dry run touched the repository")
	}
	got, err := s.ModuleByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.ModulePending || got.LastSynced != nil {
		t.Errorf("dry run mutated module: %+v", got)
	}
	records, err := s.RecordsForModule(ctx, m.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("dry run recorded %d attempts", len(records))
	}
}

func TestSyncToRemoteSuccess(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{
		StatusChanges: []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}},
		Commits:       []vcs.Commit{{Hash: "abc123", Subject: "fix: a"}},
		Diff:          vcs.DiffStat{Files: []string{"a.go"}, Additions: 4, Deletions: 1},
	}
	eng, s := newTestEngine(t, fake)
	ctx := context.Background()
	m := seedModule(t, s, "good", true)

	res, err := eng.SyncToRemote(ctx, m.ID, Options{Actor: store.ActorManual})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != store.OutcomeSuccess {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Additions != 4 || res.Deletions != 1 || len(res.Commits) != 1 {
		t.Errorf("result stats = %+v", res)
	}

	if len(fake.CommitMessages) != 1 || fake.CommitMessages[0] != "chore(good): sync local changes" {
		t.Errorf("commit messages = %v", fake.CommitMessages)
	}
	if fake.PushCount() != 1 {
		t.Errorf("pushes = %d, want 1", fake.PushCount())
	}

	got, err := s.ModuleByID(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.ModuleSynced || got.LastSynced == nil {
		t.Errorf("module after sync = %+v", got)
	}
	records, err := s.RecordsForModule(ctx, m.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Outcome != store.OutcomeSuccess || records[0].Actor != store.ActorManual {
		t.Errorf("records = %+v", records)
	}
}

func TestSyncToRemoteConflictBlocks(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{
		StatusChanges: []vcs.Change{{Path: "README.md", Type: vcs.ChangeDeleted}},
		RemoteChanges: []vcs.Change{{Path: "README.md", Type: vcs.ChangeModified}},
	}
	eng, s := newTestEngine(t, fake)
	ctx := context.Background()
	m := seedModule(t, s, "contested", true)

	_, err := eng.SyncToRemote(ctx, m.ID, Options{})
	if !errors.Is(err, ErrOperationConflict) {
		t.Fatalf("err = %v, want ErrOperationConflict", err)
	}
	var se *SyncError
	if !errors.As(err, &se) || se.Kind != KindConflict {
		t.Fatalf("err = %v, want conflict SyncError", err)
	}
	if se.Strategy != conflict.StrategyManual {
		t.Errorf("strategy = %s, want manual", se.Strategy)
	}
	if fake.PushCount() != 0 {
		t.Error("blocked sync still pushed")
	}

	records, err := s.RecordsForModule(ctx, m.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Outcome != store.OutcomeConflict {
		t.Errorf("records = %+v, want one conflict record", records)
	}
}

func TestSyncToRemotePushFailureMarksModuleErrored(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{
		StatusChanges: []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}},
		PushErr:       vcs.ErrRemoteUnreachable,
	}
	eng, s := newTestEngine(t, fake)
	ctx := context.Background()
	m := seedModule(t, s, "offline", true)

	_, err := eng.SyncToRemote(ctx, m.ID, Options{})
	if err == nil {
		t.Fatal("expected push failure")
	}
	if !Retryable(err) {
		t.Errorf("unreachable remote should be retryable: %v", err)
	}

	got, gerr := s.ModuleByID(ctx, m.ID)
	if gerr != nil {
		t.Fatal(gerr)
	}
	// Never stuck in syncing: failures land the module in error with the cause.
	if got.Status != store.ModuleError {
		t.Errorf("status = %s, want error", got.Status)
	}
	if got.LastSyncError == "" {
		t.Error("last_sync_error not set")
	}
}

func TestSyncFromRemotePull(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{
		PullStat: vcs.DiffStat{Files: []string{"x.go"}, Additions: 7, Deletions: 2},
	}
	eng, s := newTestEngine(t, fake)
	ctx := context.Background()
	m := seedModule(t, s, "inbound", true)

	res, err := eng.SyncFromRemote(ctx, m.ID, Options{})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res.Outcome != store.OutcomeSuccess || res.Additions != 7 || res.Deletions != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(fake.Pulls) != 1 {
		t.Errorf("pulls = %v, want 1", fake.Pulls)
	}
}

func TestSyncFromRemoteUpToDate(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{} // empty pull stat
	eng, s := newTestEngine(t, fake)
	m := seedModule(t, s, "current", true)

	res, err := eng.SyncFromRemote(context.Background(), m.ID, Options{})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res.Outcome != store.OutcomeNoChange {
		t.Errorf("outcome = %s, want no_change", res.Outcome)
	}
}

func TestBidirectionalAbortsAfterFirstFailure(t *testing.T) {
	t.Parallel()
	fake := &vcstest.Fake{
		StatusChanges: []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}},
		PushErr:       vcs.ErrRemoteUnreachable,
	}
	eng, s := newTestEngine(t, fake)
	m := seedModule(t, s, "half", true)

	res, err := eng.BidirectionalSync(context.Background(), m.ID, Options{})
	if err == nil {
		t.Fatal("expected push failure to surface")
	}
	if res.FromRemote != nil {
		t.Error("pull ran despite failed push")
	}
	if len(fake.Pulls) != 0 {
		t.Errorf("pulls = %v, want none", fake.Pulls)
	}
}

func TestRetryableClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{&SyncError{Kind: KindTransient, Err: vcs.ErrTimeout}, true},
		{&SyncError{Kind: KindConflict, Err: ErrOperationConflict}, false},
		{&SyncError{Kind: KindConfig, Err: ErrModuleNotConfigured}, false},
		{vcs.ErrRemoteUnreachable, true},
		{vcs.ErrTimeout, true},
		{errors.New("something else"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
