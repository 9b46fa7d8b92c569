// Package engine orchestrates one sync attempt for one module: conflict
// pre-check, the version-control operation, and persistence of the outcome
// onto the module and its audit trail.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/conflict"
	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/telemetry"
	"github.com/modsync/modsync/internal/vcs"
)

// Options tunes a single sync attempt.
type Options struct {
	// DryRun computes and returns the change set without mutating anything.
	DryRun bool
	// Force proceeds past an empty change set and past a blocking conflict
	// pre-check.
	Force bool
	// Message overrides the commit message used for local changes on a
	// to-remote sync.
	Message string
	// Branch overrides the module's configured target branch.
	Branch string
	// Actor attributes the attempt on its audit record.
	Actor store.Actor
}

// Result describes one completed (or skipped) sync attempt.
type Result struct {
	ModuleID  string
	Direction store.Direction
	Outcome   store.Outcome
	DryRun    bool
	Files     []string
	Commits   []string
	Additions int
	Deletions int
	Duration  time.Duration
	Analysis  *conflict.Analysis
}

// BidirectionalResult pairs the two halves of a bidirectional sync.
type BidirectionalResult struct {
	ToRemote   *Result
	FromRemote *Result
}

// Engine coordinates sync attempts. Constructed once at process start and
// passed to call sites; it holds no mutable state of its own.
type Engine struct {
	store     *store.Store
	driver    vcs.Driver
	predictor *conflict.Predictor
	emitter   *telemetry.Emitter
	log       *zap.Logger
}

// New wires an Engine. The emitter may be nil to disable telemetry.
func New(st *store.Store, driver vcs.Driver, predictor *conflict.Predictor, emitter *telemetry.Emitter, log *zap.Logger) *Engine {
	return &Engine{store: st, driver: driver, predictor: predictor, emitter: emitter, log: log}
}

// resolve loads the module and verifies it has a usable remote.
func (e *Engine) resolve(ctx context.Context, moduleID string) (*store.Module, error) {
	mod, err := e.store.ModuleByID(ctx, moduleID)
	if err != nil {
		return nil, &SyncError{Kind: KindConfig, Module: moduleID, Err: err}
	}
	if !mod.Configured() {
		return nil, &SyncError{Kind: KindConfig, Module: mod.Name, Err: fmt.Errorf("%w: %s", ErrModuleNotConfigured, mod.Name)}
	}
	return mod, nil
}

// SyncToRemote pushes the module's subtree history to its external repository.
func (e *Engine) SyncToRemote(ctx context.Context, moduleID string, opts Options) (*Result, error) {
	mod, err := e.resolve(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	e.emitSyncStart(mod, store.ToRemote)

	changes, err := e.driver.Status(ctx, mod.Path)
	if err != nil {
		return nil, e.fail(ctx, mod, store.ToRemote, opts, nil, started, err)
	}
	files := changePaths(changes)

	if len(changes) == 0 && !opts.Force {
		return &Result{ModuleID: mod.ID, Direction: store.ToRemote, Outcome: store.OutcomeNoChange}, nil
	}
	if opts.DryRun {
		return &Result{ModuleID: mod.ID, Direction: store.ToRemote, Outcome: store.OutcomeNoChange, DryRun: true, Files: files}, nil
	}

	analysis, err := e.precheck(ctx, mod, store.ToRemote, opts, files, started)
	if err != nil {
		return nil, err
	}

	if err := e.store.SetModuleStatus(ctx, mod.ID, store.ModuleSyncing, ""); err != nil {
		return nil, err
	}

	msg := opts.Message
	if msg == "" {
		msg = fmt.Sprintf("chore(%s): sync local changes", mod.Name)
	}
	branch := targetBranch(mod, opts)

	if err := e.driver.CommitPaths(ctx, mod.Path, msg); err != nil {
		return nil, e.fail(ctx, mod, store.ToRemote, opts, analysis, started, err)
	}
	if err := e.driver.Push(ctx, mod.Path, mod.RepoURL, branch); err != nil {
		return nil, e.fail(ctx, mod, store.ToRemote, opts, analysis, started, err)
	}

	return e.finish(ctx, mod, store.ToRemote, opts, files, started, analysis)
}

// SyncFromRemote pulls the external repository's history into the module's
// subtree.
func (e *Engine) SyncFromRemote(ctx context.Context, moduleID string, opts Options) (*Result, error) {
	mod, err := e.resolve(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	e.emitSyncStart(mod, store.FromRemote)
	branch := targetBranch(mod, opts)

	if opts.DryRun {
		var since time.Time
		if mod.LastSynced != nil {
			since = *mod.LastSynced
		}
		remote, err := e.driver.RemoteChangesSince(ctx, mod.RepoURL, branch, mod.Path, since)
		if err != nil {
			return nil, classify(mod.Name, err)
		}
		return &Result{ModuleID: mod.ID, Direction: store.FromRemote, Outcome: store.OutcomeNoChange, DryRun: true, Files: changePaths(remote)}, nil
	}

	analysis, err := e.precheck(ctx, mod, store.FromRemote, opts, nil, started)
	if err != nil {
		return nil, err
	}

	if err := e.store.SetModuleStatus(ctx, mod.ID, store.ModuleSyncing, ""); err != nil {
		return nil, err
	}

	stat, err := e.driver.Pull(ctx, mod.Path, mod.RepoURL, branch)
	if err != nil {
		return nil, e.fail(ctx, mod, store.FromRemote, opts, analysis, started, err)
	}

	res, err := e.finish(ctx, mod, store.FromRemote, opts, stat.Files, started, analysis)
	if err != nil {
		return nil, err
	}
	res.Additions = stat.Additions
	res.Deletions = stat.Deletions
	if len(stat.Files) == 0 {
		res.Outcome = store.OutcomeNoChange
	}
	return res, nil
}

// BidirectionalSync pushes then pulls. The first failing half aborts the
// second, and its partial result is still returned.
func (e *Engine) BidirectionalSync(ctx context.Context, moduleID string, opts Options) (*BidirectionalResult, error) {
	res := &BidirectionalResult{}
	to, err := e.SyncToRemote(ctx, moduleID, opts)
	res.ToRemote = to
	if err != nil {
		return res, err
	}
	from, err := e.SyncFromRemote(ctx, moduleID, opts)
	res.FromRemote = from
	return res, err
}

// precheck runs conflict analysis and blocks the sync when it cannot be
// auto-merged, unless forced. A blocked attempt is recorded with outcome
// conflict but does not touch module state.
func (e *Engine) precheck(ctx context.Context, mod *store.Module, dir store.Direction, opts Options, files []string, started time.Time) (*conflict.Analysis, error) {
	analysis, err := e.predictor.Analyze(ctx, mod, dir)
	if err != nil {
		return nil, classify(mod.Name, err)
	}
	if !analysis.CanAutoMerge && !opts.Force {
		e.appendRecord(ctx, mod, dir, store.OutcomeConflict, files, nil, 0, 0, opts, started)
		return nil, &SyncError{
			Kind:     KindConflict,
			Module:   mod.Name,
			Strategy: analysis.SuggestedStrategy,
			Err:      fmt.Errorf("%w: %d conflicts (%d critical)", ErrOperationConflict, len(analysis.Conflicts), analysis.CriticalConflicts),
		}
	}
	return analysis, nil
}

// fail marks the module errored with the cause, records the failed attempt,
// and returns the classified error. A driver failure must never leave the
// module stuck in syncing.
func (e *Engine) fail(ctx context.Context, mod *store.Module, dir store.Direction, opts Options, analysis *conflict.Analysis, started time.Time, cause error) error {
	se := classify(mod.Name, cause)
	if se.Strategy == "" && analysis != nil {
		se.Strategy = analysis.SuggestedStrategy
	}
	if err := e.store.SetModuleStatus(ctx, mod.ID, store.ModuleError, se.Error()); err != nil {
		e.log.Error("marking module errored", zap.String("module", mod.Name), zap.Error(err))
	}

	outcome := store.OutcomeFailure
	if se.Kind == KindConflict {
		outcome = store.OutcomeConflict
	}
	e.appendRecord(ctx, mod, dir, outcome, nil, nil, 0, 0, opts, started)
	e.emitSyncDone(mod, dir, outcome)
	return se
}

// finish marks the module synced, records the successful attempt with its
// diff statistics, and builds the result.
func (e *Engine) finish(ctx context.Context, mod *store.Module, dir store.Direction, opts Options, files []string, started time.Time, analysis *conflict.Analysis) (*Result, error) {
	now := time.Now()

	var since time.Time
	if mod.LastSynced != nil {
		since = *mod.LastSynced
	}
	var commits []string
	var additions, deletions int
	if window, err := e.driver.CommitsSince(ctx, mod.Path, since); err == nil {
		for _, c := range window {
			commits = append(commits, c.Hash)
		}
	} else {
		e.log.Warn("commit window unavailable", zap.String("module", mod.Name), zap.Error(err))
	}
	if stat, err := e.driver.DiffSince(ctx, mod.Path, since); err == nil {
		additions, deletions = stat.Additions, stat.Deletions
		if len(files) == 0 {
			files = stat.Files
		}
	} else {
		e.log.Warn("diff stats unavailable", zap.String("module", mod.Name), zap.Error(err))
	}

	if err := e.store.MarkModuleSynced(ctx, mod.ID, now); err != nil {
		return nil, err
	}
	e.appendRecord(ctx, mod, dir, store.OutcomeSuccess, files, commits, additions, deletions, opts, started)
	e.emitSyncDone(mod, dir, store.OutcomeSuccess)

	e.log.Info("sync completed",
		zap.String("module", mod.Name),
		zap.String("direction", string(dir)),
		zap.Int("files", len(files)),
		zap.Duration("duration", now.Sub(started)))

	return &Result{
		ModuleID:  mod.ID,
		Direction: dir,
		Outcome:   store.OutcomeSuccess,
		Files:     files,
		Commits:   commits,
		Additions: additions,
		Deletions: deletions,
		Duration:  now.Sub(started),
		Analysis:  analysis,
	}, nil
}

// appendRecord writes the audit entry for a completed attempt. Audit
// failures are logged, never raised: losing a record must not fail a sync.
func (e *Engine) appendRecord(ctx context.Context, mod *store.Module, dir store.Direction, outcome store.Outcome, files, commits []string, additions, deletions int, opts Options, started time.Time) {
	actor := opts.Actor
	if actor == "" {
		actor = store.ActorAutomated
	}
	rec := &store.SyncRecord{
		ModuleID:   mod.ID,
		Direction:  dir,
		Outcome:    outcome,
		Files:      files,
		Commits:    commits,
		Additions:  additions,
		Deletions:  deletions,
		Actor:      actor,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if _, err := e.store.AppendSyncRecord(ctx, rec); err != nil {
		e.log.Error("appending sync record", zap.String("module", mod.Name), zap.Error(err))
	}
}

func (e *Engine) emitSyncStart(mod *store.Module, dir store.Direction) {
	_ = e.emitter.Emit(telemetry.Event{Kind: telemetry.KindSyncStart, ModuleID: mod.ID, Data: map[string]string{"direction": string(dir)}})
}

func (e *Engine) emitSyncDone(mod *store.Module, dir store.Direction, outcome store.Outcome) {
	_ = e.emitter.Emit(telemetry.Event{Kind: telemetry.KindSyncDone, ModuleID: mod.ID, Data: map[string]string{
		"direction": string(dir),
		"outcome":   string(outcome),
	}})
}

// targetBranch picks the branch for an attempt.
func targetBranch(mod *store.Module, opts Options) string {
	if opts.Branch != "" {
		return opts.Branch
	}
	return mod.Branch
}

// changePaths projects a change set onto its paths.
func changePaths(changes []vcs.Change) []string {
	if len(changes) == 0 {
		return nil
	}
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	return paths
}
