package conflict

import (
	"testing"

	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/vcs"
)

func TestScoreNoOverlap(t *testing.T) {
	t.Parallel()

	local := []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}}
	remote := []vcs.Change{{Path: "b.go", Type: vcs.ChangeModified}}

	a := score(local, remote, store.ToRemote)
	if len(a.Conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none", a.Conflicts)
	}
	if !a.CanAutoMerge {
		t.Error("disjoint change sets should auto-merge")
	}
	if a.SuggestedStrategy != StrategyMerge {
		t.Errorf("strategy = %s, want merge", a.SuggestedStrategy)
	}
}

func TestScoreSameTypeIsNotAConflict(t *testing.T) {
	t.Parallel()

	// Both sides modified the same file the same way; subtree merge handles it.
	local := []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}}
	remote := []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}}

	a := score(local, remote, store.ToRemote)
	if len(a.Conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none for matching change types", a.Conflicts)
	}
}

func TestScoreDeleteVersusModifyIsCritical(t *testing.T) {
	t.Parallel()

	local := []vcs.Change{{Path: "README.md", Type: vcs.ChangeDeleted}}
	remote := []vcs.Change{{Path: "README.md", Type: vcs.ChangeModified}}

	a := score(local, remote, store.ToRemote)
	if len(a.Conflicts) != 1 {
		t.Fatalf("conflicts = %v, want exactly one", a.Conflicts)
	}
	fc := a.Conflicts[0]
	if fc.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", fc.Severity)
	}
	if a.CriticalConflicts != 1 {
		t.Errorf("critical = %d, want 1", a.CriticalConflicts)
	}
	if a.CanAutoMerge {
		t.Error("critical conflict must block auto-merge")
	}
	if a.SuggestedStrategy != StrategyManual {
		t.Errorf("strategy = %s, want manual", a.SuggestedStrategy)
	}
	if fc.Resolution == "" {
		t.Error("critical conflict needs a resolution hint")
	}
}

func TestScoreAddAddIsLow(t *testing.T) {
	t.Parallel()

	local := []vcs.Change{{Path: "new.go", Type: vcs.ChangeAdded}}
	remote := []vcs.Change{{Path: "new.go", Type: vcs.ChangeRenamed}}
	a := score(local, remote, store.ToRemote)
	if len(a.Conflicts) != 1 || a.Conflicts[0].Severity != SeverityMedium {
		t.Fatalf("add-vs-rename = %+v, want one medium conflict", a.Conflicts)
	}

	// Two independent adds of the same path collide even though the change
	// types match.
	local = []vcs.Change{{Path: "new.go", Type: vcs.ChangeAdded}}
	remote = []vcs.Change{{Path: "new.go", Type: vcs.ChangeAdded}}
	a = score(local, remote, store.ToRemote)
	if len(a.Conflicts) != 1 || a.Conflicts[0].Severity != SeverityLow {
		t.Fatalf("add-vs-add = %+v, want one low conflict", a.Conflicts)
	}
	if !a.CanAutoMerge {
		t.Error("a single low conflict should not block auto-merge")
	}
	if a.Conflicts[0].Resolution == "" {
		t.Error("low conflict needs a resolution hint")
	}
}

func TestScoreStrategyFollowsDirection(t *testing.T) {
	t.Parallel()

	local := []vcs.Change{{Path: "a.go", Type: vcs.ChangeModified}}
	remote := []vcs.Change{{Path: "a.go", Type: vcs.ChangeRenamed}}

	if a := score(local, remote, store.ToRemote); a.SuggestedStrategy != StrategyOurs {
		t.Errorf("push strategy = %s, want ours", a.SuggestedStrategy)
	}
	if a := score(local, remote, store.FromRemote); a.SuggestedStrategy != StrategyTheirs {
		t.Errorf("pull strategy = %s, want theirs", a.SuggestedStrategy)
	}
}

func TestScoreTooManyConflictsBlocksAutoMerge(t *testing.T) {
	t.Parallel()

	var local, remote []vcs.Change
	paths := []string{"a.go", "b.go", "c.go", "d.go", "e.go"}
	for _, p := range paths {
		local = append(local, vcs.Change{Path: p, Type: vcs.ChangeModified})
		remote = append(remote, vcs.Change{Path: p, Type: vcs.ChangeRenamed})
	}

	a := score(local, remote, store.ToRemote)
	if len(a.Conflicts) != len(paths) {
		t.Fatalf("conflicts = %d, want %d", len(a.Conflicts), len(paths))
	}
	if a.CriticalConflicts != 0 {
		t.Fatalf("critical = %d, want 0", a.CriticalConflicts)
	}
	if a.CanAutoMerge {
		t.Error("five medium conflicts should exceed the auto-merge ceiling")
	}
}
