// Package conflict scores the risk of a sync before it is attempted by
// comparing local working-tree changes against the module's remote change
// window. Analysis is pure: it never mutates state and is safe to call
// speculatively.
package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/vcs"
)

// Severity ranks how dangerous a per-file conflict is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Strategy is the recommended merge approach for a sync attempt.
type Strategy string

const (
	StrategyMerge  Strategy = "merge"
	StrategyOurs   Strategy = "ours"
	StrategyTheirs Strategy = "theirs"
	StrategyManual Strategy = "manual"
)

// maxAutoMergeConflicts is the total-conflict ceiling above which automatic
// merging is refused even without critical conflicts.
const maxAutoMergeConflicts = 5

// FileConflict describes one path changed on both sides.
type FileConflict struct {
	Path       string
	LocalType  vcs.ChangeType
	RemoteType vcs.ChangeType
	Severity   Severity
	Resolution string
}

// Analysis is the transient result of one conflict prediction. It is
// computed fresh per sync attempt and never persisted.
type Analysis struct {
	ModuleID          string
	Direction         store.Direction
	Conflicts         []FileConflict
	CriticalConflicts int
	CanAutoMerge      bool
	SuggestedStrategy Strategy
	Notes             []string
}

// Predictor computes conflict analyses for modules.
type Predictor struct {
	driver vcs.Driver
}

// NewPredictor creates a Predictor over the given driver.
func NewPredictor(driver vcs.Driver) *Predictor {
	return &Predictor{driver: driver}
}

// Analyze compares the module's local change set against its remote change
// window and scores the overlap. When the remote side cannot be fetched the
// analysis degrades to local-only scoring and says so in Notes, rather than
// failing the sync pre-check outright.
func (p *Predictor) Analyze(ctx context.Context, mod *store.Module, direction store.Direction) (*Analysis, error) {
	local, err := p.driver.Status(ctx, mod.Path)
	if err != nil {
		return nil, fmt.Errorf("conflict: local status for %q: %w", mod.Name, err)
	}

	var since time.Time
	if mod.LastSynced != nil {
		since = *mod.LastSynced
	}

	var notes []string
	remote, err := p.driver.RemoteChangesSince(ctx, mod.RepoURL, mod.Branch, mod.Path, since)
	if err != nil {
		remote = nil
		notes = append(notes, fmt.Sprintf("remote change window unavailable (%v); conflict recall is reduced", err))
	}

	analysis := score(local, remote, direction)
	analysis.ModuleID = mod.ID
	analysis.Notes = notes
	return analysis, nil
}

// score is the pure overlap-scoring core, separated from I/O for testing.
func score(local, remote []vcs.Change, direction store.Direction) *Analysis {
	remoteByPath := make(map[string]vcs.ChangeType, len(remote))
	for _, c := range remote {
		remoteByPath[c.Path] = c.Type
	}

	analysis := &Analysis{Direction: direction}
	for _, lc := range local {
		rt, ok := remoteByPath[lc.Path]
		if !ok {
			continue
		}
		// Matching change types merge cleanly, except two independent adds
		// of the same path, which still collide.
		if rt == lc.Type && rt != vcs.ChangeAdded {
			continue
		}
		fc := FileConflict{
			Path:       lc.Path,
			LocalType:  lc.Type,
			RemoteType: rt,
			Severity:   severityFor(lc.Type, rt),
		}
		fc.Resolution = resolutionFor(fc, direction)
		if fc.Severity == SeverityHigh {
			analysis.CriticalConflicts++
		}
		analysis.Conflicts = append(analysis.Conflicts, fc)
	}

	analysis.CanAutoMerge = analysis.CriticalConflicts == 0 && len(analysis.Conflicts) < maxAutoMergeConflicts
	analysis.SuggestedStrategy = suggestStrategy(analysis, direction)
	return analysis
}

// severityFor ranks a divergent change pair: any delete is high risk,
// add-vs-add is low, everything else is medium.
func severityFor(local, remote vcs.ChangeType) Severity {
	switch {
	case local == vcs.ChangeDeleted || remote == vcs.ChangeDeleted:
		return SeverityHigh
	case local == vcs.ChangeAdded && remote == vcs.ChangeAdded:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// resolutionFor writes the human-readable suggestion for one conflict.
func resolutionFor(fc FileConflict, direction store.Direction) string {
	switch fc.Severity {
	case SeverityHigh:
		return fmt.Sprintf("%s was %s locally but %s remotely; resolve by hand before syncing", fc.Path, fc.LocalType, fc.RemoteType)
	case SeverityLow:
		return fmt.Sprintf("%s was added on both sides; keep either copy", fc.Path)
	default:
		if direction == store.ToRemote {
			return fmt.Sprintf("%s changed on both sides; pushing will prefer the local version", fc.Path)
		}
		return fmt.Sprintf("%s changed on both sides; pulling will prefer the remote version", fc.Path)
	}
}

// suggestStrategy picks the recommended merge strategy: manual whenever a
// critical conflict exists, otherwise biased toward the initiating side.
func suggestStrategy(a *Analysis, direction store.Direction) Strategy {
	if a.CriticalConflicts > 0 {
		return StrategyManual
	}
	if len(a.Conflicts) == 0 {
		return StrategyMerge
	}
	if direction == store.ToRemote {
		return StrategyOurs
	}
	return StrategyTheirs
}
