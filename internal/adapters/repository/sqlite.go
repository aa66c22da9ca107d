package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/dotabod/backend-sub002/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	token             TEXT NOT NULL UNIQUE,
	display_name      TEXT NOT NULL DEFAULT '',
	locale            TEXT NOT NULL DEFAULT '',
	tier              TEXT NOT NULL DEFAULT '',
	account_id        TEXT NOT NULL DEFAULT '',
	broadcaster_id    TEXT NOT NULL DEFAULT '',
	rating            INTEGER NOT NULL DEFAULT 0,
	stream_started_at INTEGER
);

CREATE TABLE IF NOT EXISTS settings (
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	key     TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS matches (
	user_id       TEXT NOT NULL,
	match_id      TEXT NOT NULL,
	my_team       TEXT NOT NULL DEFAULT '',
	hero_name     TEXT NOT NULL DEFAULT '',
	prediction_id TEXT NOT NULL DEFAULT '',
	server_id     TEXT NOT NULL DEFAULT '',
	lobby_type    INTEGER,
	is_party      INTEGER NOT NULL DEFAULT 0,
	won           INTEGER,
	radiant_score INTEGER,
	dire_score    INTEGER,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (user_id, match_id)
);

CREATE INDEX IF NOT EXISTS matches_user_created ON matches (user_id, created_at);
`

const matchColumns = `match_id, user_id, my_team, hero_name, prediction_id, server_id,
	lobby_type, is_party, won, radiant_score, dire_score, created_at, updated_at`

// SQLiteStore implements Store on an embedded SQLite database. All access
// goes through a single connection so writes never contend.
type SQLiteStore struct {
	db          *sql.DB
	busyTimeout time.Duration
	now         func() time.Time
	logger      logger.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrInvalidInput)
	}
	s := &SQLiteStore{
		busyTimeout: 5 * time.Second,
		now:         time.Now,
		logger:      logger.Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += fmt.Sprintf("?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		s.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s.db = db
	s.logger.Info(ctx, "database opened", logger.String("path", path))
	return s, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

// PutUser inserts or replaces a user.
func (s *SQLiteStore) PutUser(ctx context.Context, u User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if u.ID == "" || u.Token == "" {
		return fmt.Errorf("%w: user id and token are required", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, token, display_name, locale, tier, account_id, broadcaster_id, rating, stream_started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	token = excluded.token,
	display_name = excluded.display_name,
	locale = excluded.locale,
	tier = excluded.tier,
	account_id = excluded.account_id,
	broadcaster_id = excluded.broadcaster_id,
	rating = excluded.rating,
	stream_started_at = excluded.stream_started_at
`, u.ID, u.Token, u.DisplayName, u.Locale, u.Tier, u.AccountID, u.BroadcasterID, u.Rating, nullTime(u.StreamStartedAt))
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// UserByToken returns the user owning token.
func (s *SQLiteStore) UserByToken(ctx context.Context, token string) (User, error) {
	if err := s.ready(ctx); err != nil {
		return User{}, err
	}
	var (
		u       User
		started sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, token, display_name, locale, tier, account_id, broadcaster_id, rating, stream_started_at
FROM users WHERE token = ?
`, token).Scan(&u.ID, &u.Token, &u.DisplayName, &u.Locale, &u.Tier, &u.AccountID, &u.BroadcasterID, &u.Rating, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("user by token: %w", err)
	}
	u.StreamStartedAt = timePtr(started)
	return u, nil
}

// UpdateRating stores a new rating for the user.
func (s *SQLiteStore) UpdateRating(ctx context.Context, userID string, rating int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET rating = ? WHERE id = ?`, rating, userID)
	if err != nil {
		return fmt.Errorf("update rating: %w", err)
	}
	return affected(res)
}

// Settings returns the user's settings in insertion order.
func (s *SQLiteStore) Settings(ctx context.Context, userID string) ([]Setting, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		st := Setting{UserID: userID}
		if err := rows.Scan(&st.Key, &st.Value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return out, nil
}

// UpsertSetting inserts or updates one setting, keeping its position.
func (s *SQLiteStore) UpsertSetting(ctx context.Context, st Setting) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if st.UserID == "" || st.Key == "" {
		return fmt.Errorf("%w: setting user and key are required", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings (user_id, key, value) VALUES (?, ?, ?)
ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value
`, st.UserID, st.Key, st.Value)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// CreateMatch inserts a match row unless one already exists.
func (s *SQLiteStore) CreateMatch(ctx context.Context, m Match) error { //nolint:gocritic // hugeParam: rows are passed by value
	if err := s.ready(ctx); err != nil {
		return err
	}
	if m.UserID == "" || m.MatchID == "" {
		return fmt.Errorf("%w: match user and id are required", ErrInvalidInput)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO matches (`+matchColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, match_id) DO NOTHING
`, m.MatchID, m.UserID, m.MyTeam, m.HeroName, m.PredictionID, m.ServerID,
		nullInt(m.LobbyType), m.IsParty, nullBool(m.Won), nullInt(m.RadiantScore), nullInt(m.DireScore),
		m.CreatedAt.UTC().UnixMilli(), s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

// Match returns one match of a user.
func (s *SQLiteStore) Match(ctx context.Context, userID, matchID string) (Match, error) {
	if err := s.ready(ctx); err != nil {
		return Match{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE user_id = ? AND match_id = ?`, userID, matchID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrNotFound
	}
	if err != nil {
		return Match{}, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

// AttachPrediction links a prediction to a match.
func (s *SQLiteStore) AttachPrediction(ctx context.Context, userID, matchID, predictionID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE matches SET prediction_id = ?, updated_at = ? WHERE user_id = ? AND match_id = ?
`, predictionID, s.now().UTC().UnixMilli(), userID, matchID)
	if err != nil {
		return fmt.Errorf("attach prediction: %w", err)
	}
	return affected(res)
}

// ResolveMatch stores the final result if the match is still unresolved.
// A missing row is inserted already resolved.
func (s *SQLiteStore) ResolveMatch(ctx context.Context, m Match) (bool, error) { //nolint:gocritic // hugeParam: rows are passed by value
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if m.Won == nil {
		return false, fmt.Errorf("%w: resolve without a result", ErrInvalidInput)
	}
	if err := s.CreateMatch(ctx, Match{MatchID: m.MatchID, UserID: m.UserID, MyTeam: m.MyTeam, HeroName: m.HeroName, CreatedAt: m.CreatedAt}); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE matches SET
	won = ?,
	lobby_type = COALESCE(?, lobby_type),
	is_party = ?,
	server_id = CASE WHEN ? = '' THEN server_id ELSE ? END,
	prediction_id = CASE WHEN ? = '' THEN prediction_id ELSE ? END,
	radiant_score = COALESCE(?, radiant_score),
	dire_score = COALESCE(?, dire_score),
	updated_at = ?
WHERE user_id = ? AND match_id = ? AND won IS NULL
`, nullBool(m.Won), nullInt(m.LobbyType), m.IsParty,
		m.ServerID, m.ServerID, m.PredictionID, m.PredictionID,
		nullInt(m.RadiantScore), nullInt(m.DireScore), s.now().UTC().UnixMilli(),
		m.UserID, m.MatchID)
	if err != nil {
		return false, fmt.Errorf("resolve match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve match: %w", err)
	}
	return n == 1, nil
}

// RecordSince counts the user's resolved matches created at or after since.
func (s *SQLiteStore) RecordSince(ctx context.Context, userID string, since time.Time) (Record, error) {
	if err := s.ready(ctx); err != nil {
		return Record{}, err
	}
	var wins, losses sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT
	SUM(CASE WHEN won = 1 THEN 1 ELSE 0 END),
	SUM(CASE WHEN won = 0 THEN 1 ELSE 0 END)
FROM matches
WHERE user_id = ? AND created_at >= ? AND won IS NOT NULL
`, userID, since.UTC().UnixMilli()).Scan(&wins, &losses)
	if err != nil {
		return Record{}, fmt.Errorf("record since: %w", err)
	}
	return Record{Wins: int(wins.Int64), Losses: int(losses.Int64)}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (Match, error) {
	var (
		m                    Match
		lobby, radiant, dire sql.NullInt64
		won                  sql.NullBool
		createdAt, updatedAt int64
	)
	err := row.Scan(&m.MatchID, &m.UserID, &m.MyTeam, &m.HeroName, &m.PredictionID, &m.ServerID,
		&lobby, &m.IsParty, &won, &radiant, &dire, &createdAt, &updatedAt)
	if err != nil {
		return Match{}, err
	}
	m.LobbyType = intPtr(lobby)
	m.RadiantScore = intPtr(radiant)
	m.DireScore = intPtr(dire)
	if won.Valid {
		w := won.Bool
		m.Won = &w
	}
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return m, nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UTC().UnixMilli(), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
