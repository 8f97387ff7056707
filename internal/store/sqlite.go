package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	recallerrors "github.com/filerecall/filerecall/internal/errors"
)

// SQLiteStore implements Store on top of an embedded SQLite database in
// WAL mode, supporting concurrent readers and a serialized single
// writer (§4.1, §5).
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	fileLocks sync.Map // path -> *sync.Mutex, serializes UpsertFile per path
}

var _ Store = (*SQLiteStore)(nil)

// validateIntegrity checks if a SQLite database file is valid before
// opening; corruption triggers an automatic rebuild from an empty file
// rather than a hard failure on startup.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (creating if necessary) the store at path. An
// empty path opens an in-memory database, useful for tests.
func NewSQLiteStore(path string, maxOpenConns, busyTimeoutMS, cacheSizeKB int) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, recallerrors.IOErr(fmt.Sprintf("failed to create data directory %s", dir), err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("store file corrupted, recreating", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, recallerrors.StoreErr(fmt.Sprintf("store corrupted at %s and cannot remove", path), removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, recallerrors.StoreErr("failed to open database", err)
	}

	if path != "" {
		if maxOpenConns <= 0 {
			maxOpenConns = 4
		}
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	} else {
		// In-memory databases are per-connection; force a single
		// connection so all operations see the same data.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(0)

	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	if cacheSizeKB <= 0 {
		cacheSizeKB = 65536
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheSizeKB),
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, recallerrors.StoreErr("failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, recallerrors.StoreErr("failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		path         TEXT NOT NULL UNIQUE,
		size         INTEGER NOT NULL,
		mtime_unix   INTEGER NOT NULL,
		mime_type    TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		scanned_at   INTEGER NOT NULL,
		tombstoned   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS content (
		file_id   INTEGER PRIMARY KEY REFERENCES files(id),
		snippet   TEXT NOT NULL DEFAULT '',
		embedding BLOB
	);

	CREATE TABLE IF NOT EXISTS activity (
		file_id       INTEGER PRIMARY KEY REFERENCES files(id),
		first_seen    INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		access_count  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS copairs (
		id1      INTEGER NOT NULL,
		id2      INTEGER NOT NULL,
		co_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (id1, id2)
	);

	CREATE INDEX IF NOT EXISTS idx_activity_last_accessed ON activity(last_accessed);
	CREATE INDEX IF NOT EXISTS idx_copairs_id2 ON copairs(id2);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) pathLock(path string) *sync.Mutex {
	v, _ := s.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// UpsertFile inserts or updates a file record. Serialized per path so
// two concurrent scans observing the same path don't race on the
// changed determination (§4.1).
func (s *SQLiteStore) UpsertFile(ctx context.Context, path string, size int64, mtime time.Time, mime, hash string) (int64, bool, error) {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, recallerrors.StoreErr("store is closed", nil)
	}

	var existingID int64
	var existingHash string
	var existingSize int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash, size FROM files WHERE path = ?`, path,
	).Scan(&existingID, &existingHash, &existingSize)

	now := time.Now()

	if err == sql.ErrNoRows {
		res, execErr := s.db.ExecContext(ctx,
			`INSERT INTO files (path, size, mtime_unix, mime_type, content_hash, scanned_at, tombstoned)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			path, size, mtime.Unix(), mime, hash, now.Unix())
		if execErr != nil {
			return 0, false, recallerrors.StoreErr("failed to insert file", execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return 0, false, recallerrors.StoreErr("failed to read inserted file id", idErr)
		}
		return id, true, nil
	}
	if err != nil {
		return 0, false, recallerrors.StoreErr("failed to query existing file", err)
	}

	changed := existingHash != hash || existingSize != size
	_, execErr := s.db.ExecContext(ctx,
		`UPDATE files SET size = ?, mtime_unix = ?, mime_type = ?, content_hash = ?, scanned_at = ?, tombstoned = 0
		 WHERE id = ?`,
		size, mtime.Unix(), mime, hash, now.Unix(), existingID)
	if execErr != nil {
		return 0, false, recallerrors.StoreErr("failed to update file", execErr)
	}
	return existingID, changed, nil
}

// PutContent replaces the content row for id atomically.
func (s *SQLiteStore) PutContent(ctx context.Context, id int64, snippet string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerrors.StoreErr("store is closed", nil)
	}

	blob := encodeEmbedding(embedding)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content (file_id, snippet, embedding) VALUES (?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET snippet = excluded.snippet, embedding = excluded.embedding`,
		id, snippet, blob)
	if err != nil {
		return recallerrors.StoreErr("failed to put content", err)
	}
	return nil
}

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	var mtimeUnix, scannedAtUnix int64
	var tombstoned int
	if err := row.Scan(&f.ID, &f.Path, &f.Size, &mtimeUnix, &f.MimeType, &f.ContentHash, &scannedAtUnix, &tombstoned); err != nil {
		return nil, err
	}
	f.ModTime = time.Unix(mtimeUnix, 0)
	f.ScannedAt = time.Unix(scannedAtUnix, 0)
	f.Tombstoned = tombstoned != 0
	return f, nil
}

// GetFileByPath returns the file at path, or nil if unknown.
func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, size, mtime_unix, mime_type, content_hash, scanned_at, tombstoned FROM files WHERE path = ?`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, recallerrors.StoreErr("failed to get file by path", err)
	}
	return f, nil
}

// GetFileByID returns the file with the given id, or nil if unknown.
func (s *SQLiteStore) GetFileByID(ctx context.Context, id int64) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, size, mtime_unix, mime_type, content_hash, scanned_at, tombstoned FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, recallerrors.StoreErr("failed to get file by id", err)
	}
	return f, nil
}

// ListLiveFiles returns every non-tombstoned file.
func (s *SQLiteStore) ListLiveFiles(ctx context.Context) ([]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, size, mtime_unix, mime_type, content_hash, scanned_at, tombstoned FROM files WHERE tombstoned = 0 ORDER BY id`)
	if err != nil {
		return nil, recallerrors.StoreErr("failed to list live files", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, recallerrors.StoreErr("failed to scan file row", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Tombstone marks id as tombstoned, idempotently, removing content but
// keeping activity/co-occurrence history (§4.1, §3 Lifecycle).
func (s *SQLiteStore) Tombstone(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerrors.StoreErr("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return recallerrors.StoreErr("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE files SET tombstoned = 1 WHERE id = ?`, id); err != nil {
		return recallerrors.StoreErr("failed to tombstone file", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content WHERE file_id = ?`, id); err != nil {
		return recallerrors.StoreErr("failed to remove content on tombstone", err)
	}
	return tx.Commit()
}

// RecordAccess creates-or-updates the ActivityRecord for id at ts and
// returns the prior last_accessed.
func (s *SQLiteStore) RecordAccess(ctx context.Context, id int64, ts time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, recallerrors.StoreErr("store is closed", nil)
	}

	var priorUnix int64
	err := s.db.QueryRowContext(ctx, `SELECT last_accessed FROM activity WHERE file_id = ?`, id).Scan(&priorUnix)
	switch err {
	case sql.ErrNoRows:
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO activity (file_id, first_seen, last_accessed, access_count) VALUES (?, ?, ?, 1)`,
			id, ts.Unix(), ts.Unix())
		if execErr != nil {
			return time.Time{}, false, recallerrors.StoreErr("failed to create activity record", execErr)
		}
		return time.Time{}, false, nil
	case nil:
		_, execErr := s.db.ExecContext(ctx,
			`UPDATE activity SET last_accessed = ?, access_count = access_count + 1 WHERE file_id = ?`,
			ts.Unix(), id)
		if execErr != nil {
			return time.Time{}, false, recallerrors.StoreErr("failed to update activity record", execErr)
		}
		return time.Unix(priorUnix, 0), true, nil
	default:
		return time.Time{}, false, recallerrors.StoreErr("failed to read activity record", err)
	}
}

// RecentlyAccessed returns ids of live files (excluding exclude) whose
// last_accessed >= since.
func (s *SQLiteStore) RecentlyAccessed(ctx context.Context, since time.Time, exclude int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT a.file_id FROM activity a
		 JOIN files f ON f.id = a.file_id
		 WHERE a.last_accessed >= ? AND a.file_id != ? AND f.tombstoned = 0
		 ORDER BY a.file_id`,
		since.Unix(), exclude)
	if err != nil {
		return nil, recallerrors.StoreErr("failed to query recently accessed files", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, recallerrors.StoreErr("failed to scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetActivity returns the ActivityRecord for id, or nil if none exists.
func (s *SQLiteStore) GetActivity(ctx context.Context, id int64) (*ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	var rec ActivityRecord
	var firstSeenUnix, lastAccessedUnix int64
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, first_seen, last_accessed, access_count FROM activity WHERE file_id = ?`, id,
	).Scan(&rec.FileID, &firstSeenUnix, &lastAccessedUnix, &rec.AccessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, recallerrors.StoreErr("failed to get activity record", err)
	}
	rec.FirstSeen = time.Unix(firstSeenUnix, 0)
	rec.LastAccessed = time.Unix(lastAccessedUnix, 0)
	return &rec, nil
}

// BumpCoPair canonicalizes (id1, id2) order and increments co_count.
func (s *SQLiteStore) BumpCoPair(ctx context.Context, id1, id2 int64) error {
	if id1 == id2 {
		return recallerrors.InvalidInput("cannot bump a copair with itself", nil)
	}
	a, b := id1, id2
	if a > b {
		a, b = b, a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerrors.StoreErr("store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO copairs (id1, id2, co_count) VALUES (?, ?, 1)
		 ON CONFLICT(id1, id2) DO UPDATE SET co_count = co_count + 1`,
		a, b)
	if err != nil {
		return recallerrors.StoreErr("failed to bump copair", err)
	}
	return nil
}

// CoCount returns the co_count between a and b, 0 if absent.
func (s *SQLiteStore) CoCount(ctx context.Context, a, b int64) (int64, error) {
	if a > b {
		a, b = b, a
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, recallerrors.StoreErr("store is closed", nil)
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT co_count FROM copairs WHERE id1 = ? AND id2 = ?`, a, b).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, recallerrors.StoreErr("failed to read copair count", err)
	}
	return count, nil
}

// CoPairsFor returns every CoPair row involving id.
func (s *SQLiteStore) CoPairsFor(ctx context.Context, id int64) ([]*CoPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id1, id2, co_count FROM copairs WHERE id1 = ? OR id2 = ?`, id, id)
	if err != nil {
		return nil, recallerrors.StoreErr("failed to query copairs", err)
	}
	defer rows.Close()

	var pairs []*CoPair
	for rows.Next() {
		p := &CoPair{}
		if err := rows.Scan(&p.ID1, &p.ID2, &p.CoCount); err != nil {
			return nil, recallerrors.StoreErr("failed to scan copair row", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// GetEmbedding returns the stored embedding for id, or nil if none.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, id int64) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM content WHERE file_id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, recallerrors.StoreErr("failed to read embedding", err)
	}
	return decodeEmbedding(blob), nil
}

// AllLiveEmbeddings returns every live (id, embedding) pair with a
// non-nil embedding, for Index rebuilds (§4.3).
func (s *SQLiteStore) AllLiveEmbeddings(ctx context.Context) (map[int64][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerrors.StoreErr("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.file_id, c.embedding FROM content c
		 JOIN files f ON f.id = c.file_id
		 WHERE f.tombstoned = 0 AND c.embedding IS NOT NULL`)
	if err != nil {
		return nil, recallerrors.StoreErr("failed to query live embeddings", err)
	}
	defer rows.Close()

	result := make(map[int64][]float32)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, recallerrors.StoreErr("failed to scan embedding row", err)
		}
		if vec := decodeEmbedding(blob); vec != nil {
			result[id] = vec
		}
	}
	return result, rows.Err()
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// encodeEmbedding packs a float32 vector as little-endian bytes for
// BLOB storage. Returns nil for a nil or empty vector.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
