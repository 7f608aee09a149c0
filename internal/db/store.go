package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/challenwang408408/challenwang-braiwave/internal/metrics"
)

// schemaVersion is stored in PRAGMA user_version. Any other value resets the store.
const schemaVersion = 1

var (
	// ErrUnavailable means the storage backend could not be opened at all.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotRecording is returned when completing a session that is already completed.
	ErrNotRecording = errors.New("session is not recording")
)

const schema = `
	CREATE TABLE sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		createdAt REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'recording',
		sampleRate INTEGER NOT NULL,
		channelCount INTEGER NOT NULL,
		durationMs INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_sessions_status ON sessions(status);
	CREATE INDEX idx_sessions_createdAt ON sessions(createdAt);

	CREATE TABLE chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sessionId INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		deltaMs REAL NOT NULL,
		kind TEXT NOT NULL,
		payload BLOB,
		byteLength INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_chunks_sessionId ON chunks(sessionId);
	CREATE INDEX idx_chunks_seq ON chunks(seq);
`

// expectedObjects lists every table and index the schema must contain.
var expectedObjects = []string{
	"sessions", "idx_sessions_status", "idx_sessions_createdAt",
	"chunks", "idx_chunks_sessionId", "idx_chunks_seq",
}

// Store is the append-only session/chunk log.
type Store struct {
	db      *sql.DB
	quota   Quota
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	Quota   Quota
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".brainwave", "sessions.sqlite")
}

// Open opens (creating if needed) the database at path and makes sure the
// schema is intact. Any failure is reported as ErrUnavailable.
func Open(path string, opts Options) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory: %v", ErrUnavailable, err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}
	// One connection serializes writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrUnavailable, err)
	}

	s := newStore(db, opts)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s, nil
}

func newStore(db *sql.DB, opts Options) *Store {
	s := &Store{
		db:      db,
		quota:   opts.Quota,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if s.quota == (Quota{}) {
		s.quota = DefaultQuota
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate resets the store when any expected structure is missing.
func (s *Store) migrate() error {
	intact, err := s.schemaIntact()
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if intact {
		return nil
	}
	s.log.Warnw("session store schema missing or outdated, recreating")
	return s.reset()
}

func (s *Store) schemaIntact() (bool, error) {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return false, err
	}
	if version != schemaVersion {
		return false, nil
	}

	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type IN ('table', 'index')`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, name := range expectedObjects {
		if !present[name] {
			return false, nil
		}
	}
	return true, nil
}

// reset drops everything the store owns and recreates the schema.
func (s *Store) reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS chunks`,
		`DROP TABLE IF EXISTS sessions`,
		schema,
		fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion),
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("reset schema: %w", err)
		}
	}
	return tx.Commit()
}

// CreateSession inserts a new recording session and its seq-0 start chunk.
func (s *Store) CreateSession() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO sessions (createdAt, status, sampleRate, channelCount, durationMs)
		VALUES (?, ?, ?, ?, 0)
	`, unixFromTime(s.now()), StatusRecording, SampleRate, ChannelCount)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session id: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO chunks (sessionId, seq, deltaMs, kind, payload, byteLength)
		VALUES (?, 0, 0, ?, NULL, 0)
	`, id, KindStart); err != nil {
		return 0, fmt.Errorf("insert start chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create session: %w", err)
	}
	return id, nil
}

// AppendChunk stores one chunk. Failures are logged and swallowed: losing a
// replay artifact must not interrupt live transcription.
func (s *Store) AppendChunk(sessionID int64, c Chunk) {
	var payload any
	byteLength := 0
	if c.Kind == KindAudio {
		payload = c.Payload
		byteLength = len(c.Payload)
	}

	_, err := s.db.Exec(`
		INSERT INTO chunks (sessionId, seq, deltaMs, kind, payload, byteLength)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, c.Seq, c.DeltaMs, c.Kind, payload, byteLength)
	if err != nil {
		s.metrics.ChunkStoreFailed()
		s.log.Warnw("failed to store chunk", "session", sessionID, "seq", c.Seq, "kind", c.Kind, "error", err)
		return
	}
	s.metrics.ChunkStored()
}

// CompleteSession marks the session completed, appends the terminal stop
// chunk and then enforces the quota.
func (s *Store) CompleteSession(sessionID int64, durationMs int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin complete session: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRow(`SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("complete session %d: %w", sessionID, ErrSessionNotFound)
		}
		return fmt.Errorf("query session: %w", err)
	}
	if status != StatusRecording {
		return fmt.Errorf("complete session %d: %w", sessionID, ErrNotRecording)
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET status = ?, durationMs = ? WHERE id = ?
	`, StatusCompleted, durationMs, sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	var nextSeq int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(seq), -1) + 1 FROM chunks WHERE sessionId = ?
	`, sessionID).Scan(&nextSeq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO chunks (sessionId, seq, deltaMs, kind, payload, byteLength)
		VALUES (?, ?, ?, ?, NULL, 0)
	`, sessionID, nextSeq, float64(durationMs), KindStop); err != nil {
		return fmt.Errorf("insert stop chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete session: %w", err)
	}

	if _, err := s.EnforceQuota(s.quota); err != nil {
		s.log.Warnw("quota enforcement failed", "error", err)
	}
	return nil
}

// EnforceQuota deletes the oldest sessions until at most q.MaxSessions remain
// and their summed payload is at most q.MaxBytes. A non-positive bound is
// not enforced. It returns the evicted session ids, oldest first.
func (s *Store) EnforceQuota(q Quota) ([]int64, error) {
	infos, err := s.ListSessions()
	if err != nil {
		return nil, err
	}

	var total int64
	for _, info := range infos {
		total += info.PayloadBytes
	}

	over := func(count int, bytes int64) bool {
		return (q.MaxSessions > 0 && count > q.MaxSessions) ||
			(q.MaxBytes > 0 && bytes > q.MaxBytes)
	}

	var evicted []int64
	for len(infos) > 0 && over(len(infos), total) {
		oldest := infos[0]
		if err := s.DeleteSession(oldest.ID); err != nil {
			return evicted, fmt.Errorf("evict session %d: %w", oldest.ID, err)
		}
		s.metrics.SessionEvicted()
		s.log.Infow("evicted session", "session", oldest.ID, "bytes", oldest.PayloadBytes)
		evicted = append(evicted, oldest.ID)
		total -= oldest.PayloadBytes
		infos = infos[1:]
	}
	return evicted, nil
}

// DeleteSession removes a session and all its chunks. Deleting an unknown
// session is not an error.
func (s *Store) DeleteSession(sessionID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE sessionId = ?`, sessionID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// LatestCompletedSession returns the most recently created completed session, if any.
func (s *Store) LatestCompletedSession() (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, createdAt, status, sampleRate, channelCount, durationMs
		FROM sessions
		WHERE status = ?
		ORDER BY createdAt DESC, id DESC
		LIMIT 1
	`, StatusCompleted)
	return scanSession(row)
}

// Session returns the session with the given id, or nil if it does not exist.
func (s *Store) Session(sessionID int64) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, createdAt, status, sampleRate, channelCount, durationMs
		FROM sessions
		WHERE id = ?
	`, sessionID)
	return scanSession(row)
}

// SessionChunks returns every chunk of a session ordered by seq.
func (s *Store) SessionChunks(sessionID int64) ([]Chunk, error) {
	rows, err := s.db.Query(`
		SELECT id, sessionId, seq, deltaMs, kind, payload, byteLength
		FROM chunks
		WHERE sessionId = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Seq, &c.DeltaMs,
			&c.Kind, &c.Payload, &c.ByteLength); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	return chunks, nil
}

// ListSessions returns every session with chunk totals, oldest first.
func (s *Store) ListSessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.createdAt, s.status, s.sampleRate, s.channelCount, s.durationMs,
			COUNT(c.id), COALESCE(SUM(c.byteLength), 0)
		FROM sessions s
		LEFT JOIN chunks c ON c.sessionId = s.id
		GROUP BY s.id
		ORDER BY s.createdAt ASC, s.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var createdAt float64
		if err := rows.Scan(&info.ID, &createdAt, &info.Status, &info.SampleRate,
			&info.ChannelCount, &info.DurationMs, &info.Chunks, &info.PayloadBytes); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.CreatedAt = timeFromUnix(createdAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var createdAt float64
	if err := row.Scan(&sess.ID, &createdAt, &sess.Status,
		&sess.SampleRate, &sess.ChannelCount, &sess.DurationMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.CreatedAt = timeFromUnix(createdAt)
	return &sess, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
