package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendSyncRecord writes one immutable audit entry for a completed sync
// attempt and returns its row ID.
func (s *Store) AppendSyncRecord(ctx context.Context, r *SyncRecord) (int64, error) {
	files, err := encodeStrings(r.Files)
	if err != nil {
		return 0, fmt.Errorf("store: encode record files: %w", err)
	}
	commits, err := encodeStrings(r.Commits)
	if err != nil {
		return 0, fmt.Errorf("store: encode record commits: %w", err)
	}
	if r.Actor == "" {
		r.Actor = ActorAutomated
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	const q = `
		INSERT INTO sync_records (module_id, direction, outcome, files, commits, additions, deletions, actor, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		r.ModuleID, string(r.Direction), string(r.Outcome), files, commits,
		r.Additions, r.Deletions, string(r.Actor), r.DurationMS, formatTime(r.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: append sync record for %q: %w", r.ModuleID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: sync record id: %w", err)
	}
	r.ID = id
	return id, nil
}

// RecordsForModule returns the audit trail for a module, newest first,
// limited to limit rows (all rows when limit <= 0).
func (s *Store) RecordsForModule(ctx context.Context, moduleID string, limit int) ([]SyncRecord, error) {
	query := `SELECT id, module_id, direction, outcome, files, commits, additions, deletions, actor, duration_ms, created_at
		FROM sync_records WHERE module_id = ? ORDER BY id DESC`
	args := []any{moduleID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: records for %q: %w", moduleID, err)
	}
	defer rows.Close()

	var records []SyncRecord
	for rows.Next() {
		var (
			r         SyncRecord
			files     string
			commits   string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ModuleID, (*string)(&r.Direction), (*string)(&r.Outcome),
			&files, &commits, &r.Additions, &r.Deletions, (*string)(&r.Actor), &r.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan sync record: %w", err)
		}
		if r.Files, err = decodeStrings(files); err != nil {
			return nil, fmt.Errorf("store: decode record files: %w", err)
		}
		if r.Commits, err = decodeStrings(commits); err != nil {
			return nil, fmt.Errorf("store: decode record commits: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: parse record timestamp: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CreateRelease persists a release row for a version bump.
func (s *Store) CreateRelease(ctx context.Context, r *Release) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO releases (id, module_id, version, tag, changelog, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		r.ID, r.ModuleID, r.Version, r.Tag, r.Changelog, r.Published, formatTime(r.CreatedAt)); err != nil {
		return fmt.Errorf("store: create release %s@%s: %w", r.ModuleID, r.Version, err)
	}
	return nil
}

// ReleasesForModule returns a module's releases, newest first.
func (s *Store) ReleasesForModule(ctx context.Context, moduleID string) ([]Release, error) {
	const q = `SELECT id, module_id, version, tag, changelog, published, created_at
		FROM releases WHERE module_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, moduleID)
	if err != nil {
		return nil, fmt.Errorf("store: releases for %q: %w", moduleID, err)
	}
	defer rows.Close()

	var releases []Release
	for rows.Next() {
		var (
			r         Release
			published int
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ModuleID, &r.Version, &r.Tag, &r.Changelog, &published, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan release: %w", err)
		}
		r.Published = published != 0
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: parse release timestamp: %w", err)
		}
		releases = append(releases, r)
	}
	return releases, rows.Err()
}
