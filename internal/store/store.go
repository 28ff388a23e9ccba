package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection for subjects and their captures.
type Store struct {
	conn *pgx.Conn
}

// User is a row of the users table.
type User struct {
	ID        int
	Name      string
	Gender    string
	Extra     string
	Timestamp string
	Captures  int
}

// CaptureRow is a row of the captures table.
type CaptureRow struct {
	ID          int
	UserID      int
	FingerLabel string
	CaptureIdx  int
	FilePath    string
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			user_id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			gender TEXT,
			extra TEXT,
			timestamp TEXT
		);
		CREATE TABLE IF NOT EXISTS captures (
			id SERIAL PRIMARY KEY,
			user_id INT REFERENCES users(user_id),
			finger_label TEXT,
			capture_idx INT,
			file_path TEXT
		);
		CREATE INDEX IF NOT EXISTS captures_user_id_idx ON captures (user_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Ping checks the connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Tx groups the inserts for one saved session.
type Tx struct {
	tx pgx.Tx
}

// Begin opens a transaction. Callers must Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// InsertUser adds a subject row and returns its generated user_id.
func (t *Tx) InsertUser(ctx context.Context, name, gender, extra string, ts time.Time) (int, error) {
	var id int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO users (name, gender, extra, timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING user_id
	`, name, gender, extra, FormatTimestamp(ts)).Scan(&id)
	return id, err
}

// InsertCapture records one saved capture file.
func (t *Tx) InsertCapture(ctx context.Context, userID int, fingerLabel string, captureIdx int, filePath string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO captures (user_id, finger_label, capture_idx, file_path)
		VALUES ($1, $2, $3, $4)
	`, userID, fingerLabel, captureIdx, filePath)
	return err
}

// Commit makes the inserts visible.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback discards the inserts. It is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// FormatTimestamp renders ts the way the users.timestamp column stores it.
func FormatTimestamp(ts time.Time) string {
	return ts.Format("20060102_150405")
}

// ListUsers returns every subject with the number of captures recorded for it.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT u.user_id, u.name, COALESCE(u.gender, ''), COALESCE(u.extra, ''), COALESCE(u.timestamp, ''), COUNT(c.id)
		FROM users u
		LEFT JOIN captures c ON c.user_id = u.user_id
		GROUP BY u.user_id
		ORDER BY u.user_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Gender, &u.Extra, &u.Timestamp, &u.Captures); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser fetches one subject. It returns pgx.ErrNoRows if the id is unknown.
func (s *Store) GetUser(ctx context.Context, id int) (User, error) {
	var u User
	err := s.conn.QueryRow(ctx, `
		SELECT user_id, name, COALESCE(gender, ''), COALESCE(extra, ''), COALESCE(timestamp, '')
		FROM users WHERE user_id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Gender, &u.Extra, &u.Timestamp)
	return u, err
}

// GetCaptures returns the capture rows for a subject in insertion order.
func (s *Store) GetCaptures(ctx context.Context, userID int) ([]CaptureRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, user_id, finger_label, capture_idx, file_path
		FROM captures WHERE user_id = $1
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CaptureRow
	for rows.Next() {
		var c CaptureRow
		if err := rows.Scan(&c.ID, &c.UserID, &c.FingerLabel, &c.CaptureIdx, &c.FilePath); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS captures CASCADE;
		DROP TABLE IF EXISTS users CASCADE;
	`)
	return err
}
