package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	VoiceActive = "active"
	VoiceEnded  = "ended"
)

// VoiceSession is one row of the voice session log.
type VoiceSession struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	AudioPath string     `json:"audio_path"`
}

// TranscriptInfo describes a stored transcript without its payload.
type TranscriptInfo struct {
	Identity  string    `json:"identity"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int       `json:"size"`
}

// SQLiteStore keeps whole-value blobs (chat transcripts keyed by identity,
// the logged-in user record) and the voice session log.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "jarvis.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			identity TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}

	// Single row: one identity is logged in at a time.
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_record (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create session_record table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS voice_sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			audio_path TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create voice_sessions table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_voice_sessions_started_at ON voice_sessions(started_at)"); err != nil {
		return fmt.Errorf("create voice_sessions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// GetTranscript returns the stored payload for identity, or nil when there
// is none.
func (s *SQLiteStore) GetTranscript(identity string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM transcripts WHERE identity = ?`, identity).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transcript %s: %w", identity, err)
	}
	return payload, nil
}

// PutTranscript replaces the whole payload for identity.
func (s *SQLiteStore) PutTranscript(identity string, payload []byte, updatedAt time.Time) error {
	if strings.TrimSpace(identity) == "" {
		return errors.New("transcript identity is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO transcripts(identity, payload, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		identity,
		payload,
		updatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put transcript %s: %w", identity, err)
	}
	return nil
}

func (s *SQLiteStore) ListTranscripts() ([]TranscriptInfo, error) {
	rows, err := s.db.Query(
		`SELECT identity, updated_at, length(payload) FROM transcripts ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TranscriptInfo
	for rows.Next() {
		var info TranscriptInfo
		var updatedAt string
		if err := rows.Scan(&info.Identity, &updatedAt, &info.Size); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse transcript %s updated_at: %w", info.Identity, err)
		}
		info.UpdatedAt = parsed
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	return out, nil
}

// GetSessionRecord returns the logged-in user record, or nil when nobody is
// logged in.
func (s *SQLiteStore) GetSessionRecord() ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM session_record WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session record: %w", err)
	}
	return payload, nil
}

func (s *SQLiteStore) PutSessionRecord(payload []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO session_record(id, payload, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		payload,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put session record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSessionRecord() error {
	if _, err := s.db.Exec(`DELETE FROM session_record`); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateVoiceSession(id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("voice session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO voice_sessions(id, started_at, status) VALUES(?, ?, ?)`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		VoiceActive,
	)
	if err != nil {
		return fmt.Errorf("create voice session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndVoiceSession(id string, endedAt time.Time, audioPath string) error {
	res, err := s.db.Exec(
		`UPDATE voice_sessions SET ended_at = ?, status = ?, audio_path = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		VoiceEnded,
		audioPath,
		id,
	)
	if err != nil {
		return fmt.Errorf("end voice session %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end voice session rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListVoiceSessions returns the most recent sessions first. limit <= 0 means
// no limit.
func (s *SQLiteStore) ListVoiceSessions(limit int) ([]VoiceSession, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, status, audio_path
		 FROM voice_sessions
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query voice sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanVoiceSessions(rows)
}

func scanVoiceSessions(rows *sql.Rows) ([]VoiceSession, error) {
	sessions := make([]VoiceSession, 0, 16)
	for rows.Next() {
		var sess VoiceSession
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&sess.ID, &startedAt, &endedAt, &sess.Status, &sess.AudioPath); err != nil {
			return nil, fmt.Errorf("scan voice session: %w", err)
		}

		parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		sess.StartedAt = parsedStart

		if endedAt.Valid {
			parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			sess.EndedAt = &parsedEnd
		}

		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voice session rows: %w", err)
	}

	return sessions, nil
}
