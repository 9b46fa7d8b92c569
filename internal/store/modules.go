package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrModuleNotFound is returned when a lookup does not match a registered module.
var ErrModuleNotFound = errors.New("module not found")

// UpsertModule registers a module by name, or updates its registration if it
// already exists. Sync state (status, version, last_synced) is preserved on
// update. The module's ID is populated on return.
func (s *Store) UpsertModule(ctx context.Context, m *Module) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Branch == "" {
		m.Branch = "main"
	}
	if m.Version == "" {
		m.Version = "0.1.0"
	}
	if m.Status == "" {
		m.Status = ModulePending
	}
	now := formatTime(time.Now())

	const q = `
		INSERT INTO modules (id, name, path, repo_url, branch, version, auto_sync, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path       = excluded.path,
			repo_url   = excluded.repo_url,
			branch     = excluded.branch,
			auto_sync  = excluded.auto_sync,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q,
		m.ID, m.Name, m.Path, m.RepoURL, m.Branch, m.Version, m.AutoSync, string(m.Status), now, now); err != nil {
		return fmt.Errorf("store: upsert module %q: %w", m.Name, err)
	}

	// The insert may have hit the conflict branch; read back the row ID.
	var id string
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM modules WHERE name = ?", m.Name).Scan(&id); err != nil {
		return fmt.Errorf("store: read back module %q: %w", m.Name, err)
	}
	m.ID = id
	return nil
}

const moduleColumns = `id, name, path, repo_url, branch, version, auto_sync, status, last_synced, last_sync_error, created_at, updated_at`

func scanModule(row interface{ Scan(...any) error }) (*Module, error) {
	var (
		m          Module
		autoSync   int
		lastSynced sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Path, &m.RepoURL, &m.Branch, &m.Version,
		&autoSync, (*string)(&m.Status), &lastSynced, &m.LastSyncError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.AutoSync = autoSync != 0

	var err error
	if m.LastSynced, err = parseNullTime(lastSynced); err != nil {
		return nil, fmt.Errorf("parsing last_synced: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &m, nil
}

// ModuleByID returns the module with the given ID, or ErrModuleNotFound.
func (s *Store) ModuleByID(ctx context.Context, id string) (*Module, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+moduleColumns+" FROM modules WHERE id = ?", id)
	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %q", ErrModuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: module by id %q: %w", id, err)
	}
	return m, nil
}

// ModuleByName returns the module with the given name, or ErrModuleNotFound.
func (s *Store) ModuleByName(ctx context.Context, name string) (*Module, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+moduleColumns+" FROM modules WHERE name = ?", name)
	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: module by name %q: %w", name, err)
	}
	return m, nil
}

// ListModules returns all registered modules ordered by name.
func (s *Store) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+moduleColumns+" FROM modules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: list modules: %w", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan module: %w", err)
		}
		modules = append(modules, *m)
	}
	return modules, rows.Err()
}

// SetModuleStatus updates a module's sync status and last error. Passing an
// empty errMsg clears the previous error.
func (s *Store) SetModuleStatus(ctx context.Context, id string, status ModuleStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE modules SET status = ?, last_sync_error = ?, updated_at = ? WHERE id = ?",
		string(status), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: set module status %q=%q: %w", id, status, err)
	}
	return requireRow(res, ErrModuleNotFound, id)
}

// MarkModuleSynced transitions a module to synced, stamps last_synced, and
// clears any previous sync error.
func (s *Store) MarkModuleSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE modules SET status = ?, last_synced = ?, last_sync_error = '', updated_at = ? WHERE id = ?",
		string(ModuleSynced), formatTime(at), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: mark module synced %q: %w", id, err)
	}
	return requireRow(res, ErrModuleNotFound, id)
}

// SetModuleVersion persists a new semantic version onto the module.
func (s *Store) SetModuleVersion(ctx context.Context, id, version string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE modules SET version = ?, updated_at = ? WHERE id = ?",
		version, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: set module version %q=%q: %w", id, version, err)
	}
	return requireRow(res, ErrModuleNotFound, id)
}

// SetModuleDeps replaces the module's declared dependencies.
func (s *Store) SetModuleDeps(ctx context.Context, id string, deps []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin deps tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM module_deps WHERE module_id = ?", id); err != nil {
		return fmt.Errorf("store: clear deps for %q: %w", id, err)
	}
	for _, dep := range deps {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO module_deps (module_id, depends_on) VALUES (?, ?)", id, dep); err != nil {
			return fmt.Errorf("store: insert dep %q -> %q: %w", id, dep, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit deps: %w", err)
	}
	return nil
}

// Dependents returns the modules that declare a dependency on the named module.
func (s *Store) Dependents(ctx context.Context, name string) ([]Module, error) {
	const q = `SELECT ` + moduleColumns + ` FROM modules
		WHERE id IN (SELECT module_id FROM module_deps WHERE depends_on = ?)
		ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, fmt.Errorf("store: dependents of %q: %w", name, err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan dependent: %w", err)
		}
		modules = append(modules, *m)
	}
	return modules, rows.Err()
}

// requireRow converts a zero-row UPDATE into a wrapped not-found error.
func requireRow(res sql.Result, sentinel error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %q", sentinel, id)
	}
	return nil
}
