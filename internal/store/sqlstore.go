package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/traceguard/internal/model"
)

// SqlStore implements Store with SQLite
type SqlStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at path and runs migrations.
// The parent directory is created if it does not exist; ":memory:" opens a
// private in-memory database.
func OpenSQLite(path string) (*SqlStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection keeps ":memory:" coherent too.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	if _, err := s.db.Exec(schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database connection
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- scan runs ---

type runCounters struct {
	FilesFound       int `json:"files_found"`
	FilesChanged     int `json:"files_changed"`
	FilesDeleted     int `json:"files_deleted"`
	ArtifactsCreated int `json:"artifacts_created"`
	ArtifactsUpdated int `json:"artifacts_updated"`
	Rejected         int `json:"rejected"`
	BrokenLinks      int `json:"broken_links"`
	EvidenceVerified int `json:"evidence_verified"`
}

func countersOf(r *model.ScanRun) string {
	raw, _ := json.Marshal(runCounters{
		FilesFound:       r.FilesFound,
		FilesChanged:     r.FilesChanged,
		FilesDeleted:     r.FilesDeleted,
		ArtifactsCreated: r.ArtifactsCreated,
		ArtifactsUpdated: r.ArtifactsUpdated,
		Rejected:         r.Rejected,
		BrokenLinks:      r.BrokenLinks,
		EvidenceVerified: r.EvidenceVerified,
	})
	return string(raw)
}

const runColumns = `id, repository_id, status, phase, revision, commit_message, created_at,
	started_at, completed_at, duration_ms, counters, error, error_detail`

func (s *SqlStore) CreateRun(ctx context.Context, r *model.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO scan_runs(`+runColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.RepositoryID, string(r.Status), r.Phase, r.Revision, r.CommitMessage, formatTime(r.CreatedAt),
		nullTime(r.StartedAt), nullTime(r.CompletedAt), r.DurationMS, countersOf(r), r.Error, r.ErrorDetail)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

func (s *SqlStore) UpdateRun(ctx context.Context, r *model.ScanRun) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scan_runs SET status=?, phase=?, revision=?, commit_message=?,
		started_at=?, completed_at=?, duration_ms=?, counters=?, error=?, error_detail=? WHERE id=?`,
		string(r.Status), r.Phase, r.Revision, r.CommitMessage, nullTime(r.StartedAt), nullTime(r.CompletedAt),
		r.DurationMS, countersOf(r), r.Error, r.ErrorDetail, r.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.ScanRun, error) {
	var (
		r                                 model.ScanRun
		status, createdAt, counters       string
		phase, revision, message, errMsg  sql.NullString
		errDetail, startedAt, completedAt sql.NullString
	)
	err := row.Scan(&r.ID, &r.RepositoryID, &status, &phase, &revision, &message, &createdAt,
		&startedAt, &completedAt, &r.DurationMS, &counters, &errMsg, &errDetail)
	if err != nil {
		return nil, err
	}

	r.Status = model.RunStatus(status)
	r.Phase = nullStr(phase)
	r.Revision = nullStr(revision)
	r.CommitMessage = nullStr(message)
	r.CreatedAt = parseTime(createdAt)
	r.StartedAt = timePtr(startedAt)
	r.CompletedAt = timePtr(completedAt)
	r.Error = nullStr(errMsg)
	r.ErrorDetail = nullStr(errDetail)

	var c runCounters
	if err := json.Unmarshal([]byte(counters), &c); err != nil {
		return nil, fmt.Errorf("decode counters of run %s: %w", r.ID, err)
	}
	r.FilesFound = c.FilesFound
	r.FilesChanged = c.FilesChanged
	r.FilesDeleted = c.FilesDeleted
	r.ArtifactsCreated = c.ArtifactsCreated
	r.ArtifactsUpdated = c.ArtifactsUpdated
	r.Rejected = c.Rejected
	r.BrokenLinks = c.BrokenLinks
	r.EvidenceVerified = c.EvidenceVerified
	return &r, nil
}

func (s *SqlStore) GetRun(ctx context.Context, id string) (*model.ScanRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scan_runs WHERE id=?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (s *SqlStore) ListRuns(ctx context.Context, repoID string, limit int) ([]*model.ScanRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM scan_runs
		WHERE repository_id=? ORDER BY created_at DESC LIMIT ?`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.ScanRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- fingerprints ---

func (s *SqlStore) ListFingerprints(ctx context.Context, repoID string) ([]model.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, content_id, kind, last_scanned_at
		FROM fingerprints WHERE repository_id=? ORDER BY path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Fingerprint
	for rows.Next() {
		fp := model.Fingerprint{RepositoryID: repoID}
		var kind sql.NullString
		var scannedAt string
		if err := rows.Scan(&fp.Path, &fp.ContentID, &kind, &scannedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint row: %w", err)
		}
		fp.Kind = model.Kind(nullStr(kind))
		fp.LastScannedAt = parseTime(scannedAt)
		out = append(out, fp)
	}
	return out, rows.Err()
}

func (s *SqlStore) UpsertFingerprints(ctx context.Context, fps []model.Fingerprint) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO fingerprints(repository_id, path, content_id, kind, last_scanned_at)
			VALUES(?,?,?,?,?)
			ON CONFLICT(repository_id, path) DO UPDATE SET
				content_id=excluded.content_id, kind=excluded.kind, last_scanned_at=excluded.last_scanned_at`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, fp := range fps {
			if _, err := stmt.ExecContext(ctx, fp.RepositoryID, fp.Path, fp.ContentID, string(fp.Kind), formatTime(fp.LastScannedAt)); err != nil {
				return fmt.Errorf("upsert fingerprint %s: %w", fp.Path, err)
			}
		}
		return nil
	})
}

func (s *SqlStore) DeleteFingerprints(ctx context.Context, repoID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]any{repoID}, stringArgs(paths)...)
	_, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE repository_id=? AND path IN (`+placeholders(len(paths))+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete fingerprints: %w", err)
	}
	return nil
}

// --- artifacts ---

const artifactColumns = `repository_id, kind, natural_id, parent_ref, title, description, status, risk_level,
	source_path, content_id, metadata, content, verification, scan_run_id, created_at, updated_at`

func scanArtifact(row rowScanner) (*model.Artifact, error) {
	var (
		a                                      model.Artifact
		kind, createdAt, updatedAt             string
		parent, title, desc, status, risk      sql.NullString
		contentID, metadata, content, verified sql.NullString
		runID                                  sql.NullString
	)
	err := row.Scan(&a.RepositoryID, &kind, &a.NaturalID, &parent, &title, &desc, &status, &risk,
		&a.SourcePath, &contentID, &metadata, &content, &verified, &runID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Kind = model.Kind(kind)
	a.ParentRef = nullStr(parent)
	a.Title = nullStr(title)
	a.Description = nullStr(desc)
	a.Status = nullStr(status)
	a.RiskLevel = nullStr(risk)
	a.ContentID = nullStr(contentID)
	a.Content = nullStr(content)
	a.ScanRunID = nullStr(runID)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", a.NaturalID, err)
		}
	}
	if verified.Valid && verified.String != "" {
		a.Verification = &model.Verification{}
		if err := json.Unmarshal([]byte(verified.String), a.Verification); err != nil {
			return nil, fmt.Errorf("decode verification of %s: %w", a.NaturalID, err)
		}
	}
	return &a, nil
}

func (s *SqlStore) GetArtifact(ctx context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts
		WHERE repository_id=? AND kind=? AND natural_id=?`, key.RepositoryID, string(key.Kind), key.NaturalID)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", key.Kind, key.NaturalID, err)
	}
	return a, nil
}

func (s *SqlStore) ListArtifacts(ctx context.Context, repoID string, kinds ...model.Kind) ([]*model.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE repository_id=?`
	args := []any{repoID}
	if len(kinds) > 0 {
		query += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY kind, natural_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertArtifact relies on SQLite evaluating the verification CASE against
// the stored row, so a rewrite with identical content keeps its result.
func (s *SqlStore) UpsertArtifact(ctx context.Context, a *model.Artifact) (bool, error) {
	var metadata sql.NullString
	if len(a.Metadata) > 0 {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode metadata of %s: %w", a.NaturalID, err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	now := formatTime(time.Now())

	var created bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE repository_id=? AND kind=? AND natural_id=?`,
			a.RepositoryID, string(a.Kind), a.NaturalID).Scan(&exists)
		if err != nil {
			return err
		}
		created = exists == 0

		_, err = tx.ExecContext(ctx, `INSERT INTO artifacts(`+artifactColumns+`)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,NULL,?,?,?)
			ON CONFLICT(repository_id, kind, natural_id) DO UPDATE SET
				parent_ref=excluded.parent_ref, title=excluded.title, description=excluded.description,
				status=excluded.status, risk_level=excluded.risk_level, source_path=excluded.source_path,
				content_id=excluded.content_id, metadata=excluded.metadata, scan_run_id=excluded.scan_run_id,
				verification=CASE WHEN IFNULL(artifacts.content, '') = IFNULL(excluded.content, '')
					THEN artifacts.verification ELSE NULL END,
				content=excluded.content, updated_at=excluded.updated_at`,
			a.RepositoryID, string(a.Kind), a.NaturalID, a.ParentRef, a.Title, a.Description, a.Status, a.RiskLevel,
			a.SourcePath, a.ContentID, metadata, a.Content, a.ScanRunID, now, now)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s %s: %w", a.Kind, a.NaturalID, err)
	}
	return created, nil
}

func (s *SqlStore) DeleteArtifactsByPath(ctx context.Context, repoID string, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	args := append([]any{repoID}, stringArgs(paths)...)
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE repository_id=? AND source_path IN (`+placeholders(len(paths))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SqlStore) DeleteArtifactsByPathExcept(ctx context.Context, repoID, path string, keep []model.ArtifactKey) (int, error) {
	kept := make(map[model.ArtifactKey]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}

	n := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT kind, natural_id FROM artifacts WHERE repository_id=? AND source_path=?`, repoID, path)
		if err != nil {
			return fmt.Errorf("list artifacts of %s: %w", path, err)
		}
		var stale []model.ArtifactKey
		for rows.Next() {
			k := model.ArtifactKey{RepositoryID: repoID}
			var kind string
			if err := rows.Scan(&kind, &k.NaturalID); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan artifact key: %w", err)
			}
			k.Kind = model.Kind(kind)
			if !kept[k] {
				stale = append(stale, k)
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, k := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE repository_id=? AND kind=? AND natural_id=?`,
				repoID, string(k.Kind), k.NaturalID); err != nil {
				return fmt.Errorf("delete artifact %s: %w", k.NaturalID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SqlStore) UpdateVerification(ctx context.Context, key model.ArtifactKey, v *model.Verification) error {
	var verified sql.NullString
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode verification: %w", err)
		}
		verified = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE artifacts SET verification=? WHERE repository_id=? AND kind=? AND natural_id=?`,
		verified, key.RepositoryID, string(key.Kind), key.NaturalID)
	if err != nil {
		return fmt.Errorf("update verification of %s: %w", key.NaturalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- edges ---

func (s *SqlStore) ListEdges(ctx context.Context, repoID string) ([]model.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT child_kind, child_id, parent_ref, parent_kind, valid, reason, updated_at
		FROM edges WHERE repository_id=? ORDER BY child_kind, child_id, parent_ref`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Edge
	for rows.Next() {
		e := model.Edge{RepositoryID: repoID}
		var childKind, parentKind, updated string
		var reason sql.NullString
		if err := rows.Scan(&childKind, &e.ChildID, &e.ParentRef, &parentKind, &e.Valid, &reason, &updated); err != nil {
			return nil, fmt.Errorf("scan edge row: %w", err)
		}
		e.ChildKind = model.Kind(childKind)
		e.ParentKind = model.Kind(parentKind)
		e.Reason = nullStr(reason)
		e.UpdatedAt = parseTime(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SqlStore) UpsertEdges(ctx context.Context, edges []model.Edge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO edges(repository_id, child_kind, child_id, parent_ref, parent_kind, valid, reason, updated_at)
			VALUES(?,?,?,?,?,?,?,?)
			ON CONFLICT(repository_id, child_kind, child_id, parent_ref) DO UPDATE SET
				parent_kind=excluded.parent_kind, valid=excluded.valid, reason=excluded.reason, updated_at=excluded.updated_at`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range edges {
			_, err := stmt.ExecContext(ctx, e.RepositoryID, string(e.ChildKind), e.ChildID, e.ParentRef,
				string(e.ParentKind), e.Valid, e.Reason, formatTime(e.UpdatedAt))
			if err != nil {
				return fmt.Errorf("upsert edge %s -> %s: %w", e.ParentRef, e.ChildID, err)
			}
		}
		return nil
	})
}

func (s *SqlStore) DeleteEdges(ctx context.Context, keys []model.EdgeKey) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			_, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE repository_id=? AND child_kind=? AND child_id=? AND parent_ref=?`,
				k.RepositoryID, string(k.ChildKind), k.ChildID, k.ParentRef)
			if err != nil {
				return fmt.Errorf("delete edge %s -> %s: %w", k.ParentRef, k.ChildID, err)
			}
		}
		return nil
	})
}

func (s *SqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var _ Store = (*SqlStore)(nil)
