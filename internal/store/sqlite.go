// Package store is the Store Gateway (spec §4.A): typed operations on users
// and matches, backed by SQLite, with idempotent schema bootstrap.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Store is the Store Gateway. It owns the one *sql.DB for the process; all
// callers reach the durable layer through its methods only.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if absent) the SQLite database file at path and
// bootstraps its schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// storms under concurrent handler goroutines and keeps the driver's
	// locking semantics simple to reason about.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.bootstrap(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) bootstrap() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		rate INTEGER NOT NULL DEFAULT 1500,
		match_history TEXT NOT NULL DEFAULT '[]',
		memos TEXT NOT NULL DEFAULT '',
		battle_records TEXT NOT NULL DEFAULT '',
		registered_decks TEXT NOT NULL DEFAULT '',
		current_match_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_login_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		player1_id TEXT NOT NULL,
		player2_id TEXT NOT NULL,
		player1_report TEXT,
		player2_report TEXT,
		resolved_at DATETIME,
		FOREIGN KEY (player1_id) REFERENCES users(id),
		FOREIGN KEY (player2_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_matches_players ON matches(player1_id, player2_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: bootstrap: %w", err)
	}
	return s.ensureColumns()
}

// ensureColumns adds any column named in the schema above but missing from
// an older database file, keeping bootstrap idempotent across schema
// revisions without a migration framework.
func (s *Store) ensureColumns() error {
	wantUsers := map[string]string{
		"rate":             "INTEGER NOT NULL DEFAULT 1500",
		"match_history":    "TEXT NOT NULL DEFAULT '[]'",
		"memos":            "TEXT NOT NULL DEFAULT ''",
		"battle_records":   "TEXT NOT NULL DEFAULT ''",
		"registered_decks": "TEXT NOT NULL DEFAULT ''",
		"current_match_id": "TEXT",
		"last_login_at":    "DATETIME DEFAULT CURRENT_TIMESTAMP",
	}
	if err := s.ensureTableColumns("users", wantUsers); err != nil {
		return err
	}
	wantMatches := map[string]string{
		"player1_report": "TEXT",
		"player2_report": "TEXT",
		"resolved_at":    "DATETIME",
	}
	return s.ensureTableColumns("matches", wantMatches)
}

func (s *Store) ensureTableColumns(table string, want map[string]string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("store: table_info(%s): %w", table, err)
	}
	present := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		present[name] = true
	}
	rows.Close()

	for col, def := range want {
		if present[col] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col, def)); err != nil {
			return fmt.Errorf("store: add column %s.%s: %w", table, col, err)
		}
	}
	return nil
}

// InsertUser hashes password, mints an id, and inserts the user row.
func (s *Store) InsertUser(username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("store: hash password: %w", err)
	}

	id := uuid.New()
	_, err = s.db.Exec(
		`INSERT INTO users (id, username, password_hash, rate, match_history, memos, battle_records, registered_decks)
		 VALUES (?, ?, ?, ?, '[]', '', '', '')`,
		id.String(), username, string(hash), InitialRating,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUniqueViolation
		}
		s.log.Warn("insert user failed", zap.Error(err))
		return nil, ErrTransient
	}
	return s.FetchUser(id)
}

// VerifyPassword compares a plaintext password against the user's stored
// verifier. It never surfaces the bcrypt error to callers, only a bool.
func VerifyPassword(u *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// FetchUser loads a user by id.
func (s *Store) FetchUser(id uuid.UUID) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, username, password_hash, rate, match_history, memos, battle_records, registered_decks, current_match_id, created_at, last_login_at
		 FROM users WHERE id = ?`, id.String()))
}

// FetchUserByName loads a user by username.
func (s *Store) FetchUserByName(name string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, username, password_hash, rate, match_history, memos, battle_records, registered_decks, current_match_id, created_at, last_login_at
		 FROM users WHERE username = ?`, name))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var (
		u               User
		idStr           string
		currentMatchID  sql.NullString
		historyJSON     string
	)
	err := row.Scan(&idStr, &u.Username, &u.PasswordHash, &u.Rate, &historyJSON,
		&u.Memos, &u.BattleRecords, &u.RegisteredDecks, &currentMatchID, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.Warn("scan user failed", zap.Error(err))
		return nil, ErrTransient
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, ErrTransient
	}
	u.ID = id

	if currentMatchID.Valid && currentMatchID.String != "" {
		mid, err := uuid.Parse(currentMatchID.String)
		if err == nil {
			u.CurrentMatchID = &mid
		}
	}

	var history []string
	if err := json.Unmarshal([]byte(historyJSON), &history); err == nil {
		u.MatchHistory = history
	}

	return &u, nil
}

// PatchUser applies a partial update to exactly one enumerated field.
func (s *Store) PatchUser(id uuid.UUID, field PartialField, value interface{}) error {
	var (
		column string
		arg    interface{}
	)
	switch field {
	case FieldRate:
		column, arg = "rate", value
	case FieldMatchHistory:
		history, ok := value.([]string)
		if !ok {
			return fmt.Errorf("store: patch matchHistory: unexpected value type %T", value)
		}
		if len(history) > HistoryCap {
			history = history[:HistoryCap]
		}
		encoded, err := json.Marshal(history)
		if err != nil {
			return err
		}
		column, arg = "match_history", string(encoded)
	case FieldMemos:
		column, arg = "memos", value
	case FieldBattleRecords:
		column, arg = "battle_records", value
	case FieldRegisteredDecks:
		column, arg = "registered_decks", value
	case FieldCurrentMatchID:
		if value == nil {
			column, arg = "current_match_id", nil
		} else if mid, ok := value.(uuid.UUID); ok {
			column, arg = "current_match_id", mid.String()
		} else {
			return fmt.Errorf("store: patch currentMatchId: unexpected value type %T", value)
		}
	case FieldUsername:
		column, arg = "username", value
	default:
		return fmt.Errorf("store: unknown patch field %q", field)
	}

	_, err := s.db.Exec(fmt.Sprintf("UPDATE users SET %s = ? WHERE id = ?", column), arg, id.String())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUniqueViolation
		}
		s.log.Warn("patch user failed", zap.String("field", string(field)), zap.Error(err))
		return ErrTransient
	}
	return nil
}

// TouchLastLogin stamps a user's last-login time to now.
func (s *Store) TouchLastLogin(id uuid.UUID) error {
	_, err := s.db.Exec("UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = ?", id.String())
	if err != nil {
		s.log.Warn("touch last login failed", zap.Error(err))
		return ErrTransient
	}
	return nil
}

// InsertMatch mints a match id and persists both players with null reports.
func (s *Store) InsertMatch(p1, p2 uuid.UUID) (*Match, error) {
	id := uuid.New()
	_, err := s.db.Exec(
		"INSERT INTO matches (id, player1_id, player2_id) VALUES (?, ?, ?)",
		id.String(), p1.String(), p2.String(),
	)
	if err != nil {
		s.log.Warn("insert match failed", zap.Error(err))
		return nil, ErrTransient
	}
	return s.FetchMatch(id)
}

// FetchMatch loads a match by id.
func (s *Store) FetchMatch(id uuid.UUID) (*Match, error) {
	row := s.db.QueryRow(
		`SELECT id, player1_id, player2_id, player1_report, player2_report, resolved_at
		 FROM matches WHERE id = ?`, id.String())

	var (
		m                   Match
		idStr, p1Str, p2Str string
		p1Report, p2Report  sql.NullString
		resolvedAt          sql.NullTime
	)
	err := row.Scan(&idStr, &p1Str, &p2Str, &p1Report, &p2Report, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.Warn("scan match failed", zap.Error(err))
		return nil, ErrTransient
	}

	m.ID, _ = uuid.Parse(idStr)
	m.Player1ID, _ = uuid.Parse(p1Str)
	m.Player2ID, _ = uuid.Parse(p2Str)
	if p1Report.Valid {
		r := Report(p1Report.String)
		m.Player1Rept = &r
	}
	if p2Report.Valid {
		r := Report(p2Report.String)
		m.Player2Rept = &r
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return &m, nil
}

// PatchMatchReport writes the report for slot 1 or 2 of a match. It does not
// itself enforce the "already resolved"/"already reported" invariants —
// those are the Match Coordinator's responsibility, checked by its own read
// of the match before this write happens.
func (s *Store) PatchMatchReport(id uuid.UUID, slot int, value Report) error {
	var column string
	switch slot {
	case 1:
		column = "player1_report"
	case 2:
		column = "player2_report"
	default:
		return fmt.Errorf("store: invalid report slot %d", slot)
	}
	_, err := s.db.Exec(fmt.Sprintf("UPDATE matches SET %s = ? WHERE id = ?", column), string(value), id.String())
	if err != nil {
		s.log.Warn("patch match report failed", zap.Error(err))
		return ErrTransient
	}
	return nil
}

// MarkMatchResolved stamps resolved_at, but only if it is still null,
// guarding against double-resolution under a racing retry.
func (s *Store) MarkMatchResolved(id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE matches SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL",
		at, id.String(),
	)
	if err != nil {
		s.log.Warn("mark match resolved failed", zap.Error(err))
		return false, ErrTransient
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ErrTransient
	}
	return n == 1, nil
}

// TopByRating returns the top-rated users, ties broken by username.
func (s *Store) TopByRating(limit int) ([]RankedUser, error) {
	rows, err := s.db.Query(
		"SELECT id, username, rate FROM users ORDER BY rate DESC, username ASC LIMIT ?", limit)
	if err != nil {
		s.log.Warn("top by rating failed", zap.Error(err))
		return nil, ErrTransient
	}
	defer rows.Close()

	out := make([]RankedUser, 0, limit)
	for rows.Next() {
		var ru RankedUser
		var idStr string
		if err := rows.Scan(&idStr, &ru.Username, &ru.Rate); err != nil {
			return nil, ErrTransient
		}
		ru.ID, _ = uuid.Parse(idStr)
		out = append(out, ru)
	}
	return out, nil
}
