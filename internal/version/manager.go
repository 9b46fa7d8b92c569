// Package version computes and applies semantic-version bumps for modules,
// classifying commit history against the conventional-commit vocabulary.
package version

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/vcs"
)

var (
	// ErrInvalidVersion indicates a supplied version does not satisfy
	// strict MAJOR.MINOR.PATCH[-prerelease] syntax.
	ErrInvalidVersion = errors.New("invalid semantic version")
	// ErrVersionNotGreater indicates a manual bump that does not move the
	// version strictly forward.
	ErrVersionNotGreater = errors.New("version must be strictly greater than current")
)

// strictVersionRe enforces the exact MAJOR.MINOR.PATCH[-prerelease] shape;
// semver.NewVersion alone would also accept loose forms like "1.2".
var strictVersionRe = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// Options configures a bump.
type Options struct {
	// Tag creates an annotated git tag <module>/v<version> after the bump.
	Tag bool
	// Cascade enqueues low-priority sync jobs for dependent modules.
	Cascade bool
	// Changelog is the release-note text stored on the Release row.
	Changelog string
}

// Result describes one applied version bump.
type Result struct {
	ModuleID   string
	ModuleName string
	OldVersion string
	NewVersion string
	Class      BumpClass
	Summary    Summary
}

// Manager applies version bumps: it reads commit history through the
// driver, persists new versions through the store, and records a Release
// per bump.
type Manager struct {
	store  *store.Store
	driver vcs.Driver
	log    *zap.Logger
}

// NewManager wires a Manager.
func NewManager(st *store.Store, driver vcs.Driver, log *zap.Logger) *Manager {
	return &Manager{store: st, driver: driver, log: log}
}

// AutoBump classifies the module's commits since its last successful sync
// and applies the resulting bump.
func (m *Manager) AutoBump(ctx context.Context, moduleName string, opts Options) (*Result, error) {
	mod, err := m.store.ModuleByName(ctx, moduleName)
	if err != nil {
		return nil, err
	}

	var since time.Time
	if mod.LastSynced != nil {
		since = *mod.LastSynced
	}
	commits, err := m.driver.CommitsSince(ctx, mod.Path, since)
	if err != nil {
		return nil, fmt.Errorf("version: commit window for %q: %w", moduleName, err)
	}

	class, summary := Classify(commits)
	current, err := semver.NewVersion(mod.Version)
	if err != nil {
		return nil, fmt.Errorf("version: current version %q of %q: %w", mod.Version, moduleName, err)
	}

	var next semver.Version
	switch class {
	case BumpMajor:
		next = current.IncMajor()
	case BumpMinor:
		next = current.IncMinor()
	default:
		next = current.IncPatch()
	}

	res := &Result{
		ModuleID:   mod.ID,
		ModuleName: mod.Name,
		OldVersion: mod.Version,
		NewVersion: next.String(),
		Class:      class,
		Summary:    summary,
	}
	if err := m.apply(ctx, mod, res, opts); err != nil {
		return nil, err
	}
	return res, nil
}

// Preview computes the version AutoBump would produce without applying it.
func (m *Manager) Preview(ctx context.Context, moduleName string) (string, error) {
	mod, err := m.store.ModuleByName(ctx, moduleName)
	if err != nil {
		return "", err
	}

	var since time.Time
	if mod.LastSynced != nil {
		since = *mod.LastSynced
	}
	commits, err := m.driver.CommitsSince(ctx, mod.Path, since)
	if err != nil {
		return "", fmt.Errorf("version: commit window for %q: %w", moduleName, err)
	}

	class, _ := Classify(commits)
	current, err := semver.NewVersion(mod.Version)
	if err != nil {
		return "", fmt.Errorf("version: current version %q of %q: %w", mod.Version, moduleName, err)
	}
	switch class {
	case BumpMajor:
		return current.IncMajor().String(), nil
	case BumpMinor:
		return current.IncMinor().String(), nil
	default:
		return current.IncPatch().String(), nil
	}
}

// Bump applies an operator-supplied version after strict validation.
func (m *Manager) Bump(ctx context.Context, moduleName, newVersion string, opts Options) (*Result, error) {
	mod, err := m.store.ModuleByName(ctx, moduleName)
	if err != nil {
		return nil, err
	}

	if !strictVersionRe.MatchString(newVersion) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, newVersion)
	}
	next, err := semver.NewVersion(newVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, newVersion, err)
	}
	current, err := semver.NewVersion(mod.Version)
	if err != nil {
		return nil, fmt.Errorf("version: current version %q of %q: %w", mod.Version, moduleName, err)
	}
	if !next.GreaterThan(current) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrVersionNotGreater, mod.Version, newVersion)
	}

	res := &Result{
		ModuleID:   mod.ID,
		ModuleName: mod.Name,
		OldVersion: mod.Version,
		NewVersion: next.String(),
		Class:      classOf(current, next),
	}
	if err := m.apply(ctx, mod, res, opts); err != nil {
		return nil, err
	}
	return res, nil
}

// classOf derives the bump class from the two versions of a manual bump.
func classOf(from *semver.Version, to *semver.Version) BumpClass {
	switch {
	case to.Major() > from.Major():
		return BumpMajor
	case to.Minor() > from.Minor():
		return BumpMinor
	case to.Patch() > from.Patch():
		return BumpPatch
	default:
		return BumpPrerelease
	}
}

// apply persists the bump: module version, Release row, optional tag,
// optional best-effort cascade to dependents.
func (m *Manager) apply(ctx context.Context, mod *store.Module, res *Result, opts Options) error {
	if err := m.store.SetModuleVersion(ctx, mod.ID, res.NewVersion); err != nil {
		return err
	}

	tag := fmt.Sprintf("%s/v%s", mod.Name, res.NewVersion)
	rel := &store.Release{
		ModuleID:  mod.ID,
		Version:   res.NewVersion,
		Tag:       tag,
		Changelog: opts.Changelog,
		Published: opts.Tag,
	}
	if err := m.store.CreateRelease(ctx, rel); err != nil {
		return err
	}

	if opts.Tag {
		msg := fmt.Sprintf("%s %s", mod.Name, res.NewVersion)
		if err := m.driver.Tag(ctx, tag, msg); err != nil {
			return fmt.Errorf("version: tag %q: %w", tag, err)
		}
	}

	if opts.Cascade {
		m.cascade(ctx, mod)
	}

	m.log.Info("version bumped",
		zap.String("module", mod.Name),
		zap.String("from", res.OldVersion),
		zap.String("to", res.NewVersion),
		zap.String("class", string(res.Class)))
	return nil
}

// cascade enqueues low-priority to-remote jobs for dependents. Failures are
// logged and swallowed: a dependent that cannot be notified must not fail
// the bump.
func (m *Manager) cascade(ctx context.Context, mod *store.Module) {
	deps, err := m.store.Dependents(ctx, mod.Name)
	if err != nil {
		m.log.Warn("cascade: listing dependents failed", zap.String("module", mod.Name), zap.Error(err))
		return
	}
	for _, dep := range deps {
		job := &store.SyncJob{ModuleID: dep.ID, Direction: store.ToRemote, Priority: 0}
		if _, _, err := m.store.EnqueueJob(ctx, job); err != nil {
			m.log.Warn("cascade: enqueue failed",
				zap.String("module", mod.Name), zap.String("dependent", dep.Name), zap.Error(err))
		}
	}
}
