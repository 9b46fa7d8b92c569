package watch

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/store"
)

type recordingQueue struct {
	modules []string
}

func (r *recordingQueue) Enqueue(ctx context.Context, moduleID string, direction store.Direction, priority int) (string, error) {
	r.modules = append(r.modules, moduleID)
	return "job-1", nil
}

func TestNewFiltersToAutoSyncModules(t *testing.T) {
	t.Parallel()

	mods := []store.Module{
		{ID: "1", Name: "auth", Path: "libs/auth", AutoSync: true},
		{ID: "2", Name: "billing", Path: "libs/billing", AutoSync: false},
		{ID: "3", Name: "search", Path: "libs/search", AutoSync: true},
	}
	w, err := New("/repo", mods, &recordingQueue{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.watcher.Close()

	if len(w.targets) != 2 {
		t.Fatalf("targets = %d, want 2 (auto-sync only)", len(w.targets))
	}
	for _, tgt := range w.targets {
		if tgt.moduleID == "2" {
			t.Error("non-auto-sync module is watched")
		}
	}
}

func TestTargetForLongestPrefixWins(t *testing.T) {
	t.Parallel()

	mods := []store.Module{
		{ID: "outer", Name: "platform", Path: "libs", AutoSync: true},
		{ID: "inner", Name: "auth", Path: filepath.Join("libs", "auth"), AutoSync: true},
	}
	w, err := New("/repo", mods, &recordingQueue{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.watcher.Close()

	tgt, ok := w.targetFor(filepath.Join("/repo", "libs", "auth", "handler.go"))
	if !ok || tgt.moduleID != "inner" {
		t.Errorf("targetFor nested file = %+v ok=%v, want inner module", tgt, ok)
	}

	tgt, ok = w.targetFor(filepath.Join("/repo", "libs", "other", "x.go"))
	if !ok || tgt.moduleID != "outer" {
		t.Errorf("targetFor sibling file = %+v ok=%v, want outer module", tgt, ok)
	}

	if _, ok := w.targetFor(filepath.Join("/repo", "docs", "readme.md")); ok {
		t.Error("path outside all modules matched a target")
	}
}

func TestTargetForRejectsPrefixCollision(t *testing.T) {
	t.Parallel()

	mods := []store.Module{
		{ID: "auth", Name: "auth", Path: filepath.Join("libs", "auth"), AutoSync: true},
	}
	w, err := New("/repo", mods, &recordingQueue{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.watcher.Close()

	// "libs/auth-v2" shares the string prefix but is a different directory.
	if _, ok := w.targetFor(filepath.Join("/repo", "libs", "auth-v2", "x.go")); ok {
		t.Error("sibling directory with shared name prefix matched")
	}
}
