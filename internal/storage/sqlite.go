package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"knowledgeworkspace/internal/model"
)

// SQLiteStore is the Store implementation backed by a single sqlite
// database file, following the corpus's additive-migration style:
// CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS only.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writes ourselves
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			file_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			extension TEXT,
			kind TEXT,
			folder_id TEXT,
			privacy_level TEXT,
			page_count INTEGER DEFAULT 0,
			preview_image BLOB,
			metadata TEXT,
			fast_stage INTEGER DEFAULT 0,
			deep_stage INTEGER DEFAULT 0,
			fast_text_at TEXT,
			fast_embed_at TEXT,
			deep_text_at TEXT,
			deep_embed_at TEXT,
			attempt_count INTEGER DEFAULT 0,
			failure_count INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_folder ON files(folder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_files_name ON files(name)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT NOT NULL,
			file_id TEXT NOT NULL,
			version TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			text TEXT NOT NULL,
			snippet TEXT,
			token_count INTEGER,
			char_count INTEGER,
			section_path TEXT,
			metadata TEXT,
			created_at TEXT,
			PRIMARY KEY (chunk_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file_version ON chunks(file_id, version)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED, file_id UNINDEXED, version UNINDEXED, text,
			tokenize = 'porter unicode61'
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS folders (
			folder_id TEXT PRIMARY KEY,
			path TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// LoadSettings returns the persisted settings key/value pairs. It is not
// part of the Store interface: only internal/settings depends on it,
// via a small structural Persister interface so in-memory settings
// tests don't need a sqlite file.
func (s *SQLiteStore) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveSettings upserts the given key/value pairs, bumping each row's
// version column.
func (s *SQLiteStore) SaveSettings(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO settings (key, value, version) VALUES (?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = settings.version + 1
	`)
	if err != nil {
		return fmt.Errorf("prepare settings upsert: %w", err)
	}
	defer stmt.Close()
	for k, v := range kv {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("upsert setting %q: %w", k, err)
		}
	}
	return tx.Commit()
}

func timeOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func (s *SQLiteStore) UpsertFile(ctx context.Context, rec model.FileRecord) error {
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO files (file_id, path, name, extension, kind, folder_id, privacy_level,
			page_count, preview_image, metadata, fast_stage, deep_stage,
			fast_text_at, fast_embed_at, deep_text_at, deep_embed_at,
			attempt_count, failure_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			path=excluded.path, name=excluded.name, extension=excluded.extension,
			kind=excluded.kind, folder_id=excluded.folder_id,
			privacy_level=excluded.privacy_level, page_count=excluded.page_count,
			preview_image=excluded.preview_image, metadata=excluded.metadata,
			fast_stage=excluded.fast_stage, deep_stage=excluded.deep_stage,
			fast_text_at=COALESCE(excluded.fast_text_at, files.fast_text_at),
			fast_embed_at=COALESCE(excluded.fast_embed_at, files.fast_embed_at),
			deep_text_at=COALESCE(excluded.deep_text_at, files.deep_text_at),
			deep_embed_at=COALESCE(excluded.deep_embed_at, files.deep_embed_at)
	`,
		rec.FileID, rec.Path, rec.Name, rec.Extension, string(rec.Kind), rec.FolderID,
		string(rec.PrivacyLevel), rec.PageCount, rec.PreviewImage, string(md),
		rec.FastStage, rec.DeepStage,
		timeOrNil(rec.FastTextAt), timeOrNil(rec.FastEmbedAt),
		timeOrNil(rec.DeepTextAt), timeOrNil(rec.DeepEmbedAt),
		rec.AttemptCount, rec.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

func scanFile(row interface {
	Scan(dest ...any) error
}) (model.FileRecord, error) {
	var rec model.FileRecord
	var kind, privacy, md string
	var fastTextAt, fastEmbedAt, deepTextAt, deepEmbedAt sql.NullString
	err := row.Scan(
		&rec.FileID, &rec.Path, &rec.Name, &rec.Extension, &kind, &rec.FolderID,
		&privacy, &rec.PageCount, &rec.PreviewImage, &md,
		&rec.FastStage, &rec.DeepStage,
		&fastTextAt, &fastEmbedAt, &deepTextAt, &deepEmbedAt,
		&rec.AttemptCount, &rec.FailureCount,
	)
	if err != nil {
		return rec, err
	}
	rec.Kind = model.FileKind(kind)
	rec.PrivacyLevel = model.PrivacyLevel(privacy)
	rec.FastTextAt = parseTimePtr(fastTextAt)
	rec.FastEmbedAt = parseTimePtr(fastEmbedAt)
	rec.DeepTextAt = parseTimePtr(deepTextAt)
	rec.DeepEmbedAt = parseTimePtr(deepEmbedAt)
	if md != "" {
		_ = json.Unmarshal([]byte(md), &rec.Metadata)
	}
	return rec, nil
}

const fileColumns = `file_id, path, name, extension, kind, folder_id, privacy_level,
	page_count, preview_image, metadata, fast_stage, deep_stage,
	fast_text_at, fast_embed_at, deep_text_at, deep_embed_at,
	attempt_count, failure_count`

func (s *SQLiteStore) GetFile(ctx context.Context, fileID string) (model.FileRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE file_id = ?`, fileID)
	rec, err := scanFile(row)
	if err == sql.ErrNoRows {
		return model.FileRecord{}, false, nil
	}
	if err != nil {
		return model.FileRecord{}, false, fmt.Errorf("get file: %w", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) FindFilesByName(ctx context.Context, name string) ([]model.FileRecord, error) {
	// Case-insensitive, tolerant of an omitted extension (D.1 of SPEC_FULL.md).
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE LOWER(name) = LOWER(?)
		   OR LOWER(name) = LOWER(? || extension)
		   OR LOWER(name) = LOWER(? || '.' || extension)
	`, name, name, name)
	if err != nil {
		return nil, fmt.Errorf("find files by name: %w", err)
	}
	defer rows.Close()
	var out []model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFilesInFolder(ctx context.Context, folderID string) ([]model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE folder_id = ?`, folderID)
	if err != nil {
		return nil, fmt.Errorf("get files in folder: %w", err)
	}
	defer rows.Close()
	var out []model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListPendingFast and ListPendingDeep order by rowid, sqlite's implicit
// insertion-order column, giving oldest-enqueued-first without a
// dedicated timestamp column.
func (s *SQLiteStore) ListPendingFast(ctx context.Context) ([]model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE fast_stage = 0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending fast: %w", err)
	}
	defer rows.Close()
	var out []model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPendingDeep(ctx context.Context) ([]model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE fast_stage = 2 AND deep_stage = 0 ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending deep: %w", err)
	}
	defer rows.Close()
	var out []model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateFileStage(ctx context.Context, fileID string, u StageUpdate) error {
	var sets []string
	var args []any
	if u.FastStage != nil {
		sets = append(sets, "fast_stage = ?")
		args = append(args, *u.FastStage)
	}
	if u.DeepStage != nil {
		sets = append(sets, "deep_stage = ?")
		args = append(args, *u.DeepStage)
	}
	if u.FastTextAt != nil {
		sets = append(sets, "fast_text_at = ?")
		args = append(args, timeOrNil(u.FastTextAt))
	}
	if u.FastEmbedAt != nil {
		sets = append(sets, "fast_embed_at = ?")
		args = append(args, timeOrNil(u.FastEmbedAt))
	}
	if u.DeepTextAt != nil {
		sets = append(sets, "deep_text_at = ?")
		args = append(args, timeOrNil(u.DeepTextAt))
	}
	if u.DeepEmbedAt != nil {
		sets = append(sets, "deep_embed_at = ?")
		args = append(args, timeOrNil(u.DeepEmbedAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, fileID)
	q := fmt.Sprintf(`UPDATE files SET %s WHERE file_id = ?`, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update file stage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementAttempt(ctx context.Context, fileID string) (int, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET attempt_count = attempt_count + 1 WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	var attempt int
	if err := s.db.QueryRowContext(ctx, `SELECT attempt_count FROM files WHERE file_id = ?`, fileID).Scan(&attempt); err != nil {
		return 0, fmt.Errorf("read attempt count: %w", err)
	}
	return attempt, nil
}

func (s *SQLiteStore) IncrementFailure(ctx context.Context, fileID string) (int, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET failure_count = failure_count + 1 WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("increment failure: %w", err)
	}
	var failures int
	if err := s.db.QueryRowContext(ctx, `SELECT failure_count FROM files WHERE file_id = ?`, fileID).Scan(&failures); err != nil {
		return 0, fmt.Errorf("read failure count: %w", err)
	}
	return failures, nil
}

func (s *SQLiteStore) ResetAttempts(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET attempt_count = 0, failure_count = 0 WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReplaceChunks(ctx context.Context, fileID string, chunks []model.ChunkSnapshot, version model.ChunkVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ? AND version = ?`, fileID, string(version)); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE file_id = ? AND version = ?`, fileID, string(version)); err != nil {
		return fmt.Errorf("delete old fts rows: %w", err)
	}

	insChunk, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, file_id, version, ordinal, text, snippet,
			token_count, char_count, section_path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert chunk: %w", err)
	}
	defer insChunk.Close()

	insFTS, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks_fts (chunk_id, file_id, version, text) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert fts: %w", err)
	}
	defer insFTS.Close()

	for _, c := range chunks {
		md, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := insChunk.ExecContext(ctx, c.ChunkID, fileID, string(version), c.Ordinal,
			c.Text, c.Snippet, c.TokenCount, c.CharCount, c.SectionPath, string(md),
			createdAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
		if _, err := insFTS.ExecContext(ctx, c.ChunkID, fileID, string(version), c.Text); err != nil {
			return fmt.Errorf("insert fts row for %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetChunks(ctx context.Context, fileID string, version model.ChunkVersion) ([]model.ChunkSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, file_id, ordinal, text, snippet, token_count, char_count,
			section_path, metadata, created_at, version
		FROM chunks WHERE file_id = ? AND version = ? ORDER BY ordinal ASC
	`, fileID, string(version))
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()
	var out []model.ChunkSnapshot
	for rows.Next() {
		var c model.ChunkSnapshot
		var md, createdAt, ver string
		if err := rows.Scan(&c.ChunkID, &c.FileID, &c.Ordinal, &c.Text, &c.Snippet,
			&c.TokenCount, &c.CharCount, &c.SectionPath, &md, &createdAt, &ver); err != nil {
			return nil, err
		}
		if md != "" {
			_ = json.Unmarshal([]byte(md), &c.Metadata)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		c.Version = model.ChunkVersion(ver)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&c.Files); err != nil {
		return c, fmt.Errorf("count files: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders`).Scan(&c.Folders); err != nil {
		return c, fmt.Errorf("count folders: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) KeywordSearch(ctx context.Context, query string, limit int, fileIDs []string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q := `
		SELECT chunk_id, bm25(chunks_fts) AS rank, snippet(chunks_fts, 3, '', '', '…', 10)
		FROM chunks_fts WHERE chunks_fts MATCH ?
	`
	args := []any{query}
	if len(fileIDs) > 0 {
		placeholders := make([]string, len(fileIDs))
		for i, id := range fileIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		q += fmt.Sprintf(" AND file_id IN (%s)", strings.Join(placeholders, ","))
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		// bm25() returns more-negative-is-better; invert to a positive score
		// so callers can treat higher as better, consistent with vector scores.
		var rawScore float64
		if err := rows.Scan(&r.ChunkID, &rawScore, &r.Snippet); err != nil {
			return nil, err
		}
		r.Score = -rawScore
		out = append(out, r)
	}
	return out, rows.Err()
}
