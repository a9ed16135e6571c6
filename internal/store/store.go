package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides read-write access to the VoxJot SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS transcriptions (
		id TEXT PRIMARY KEY,
		userId TEXT NOT NULL,
		originalText TEXT NOT NULL,
		processedText TEXT,
		status TEXT NOT NULL DEFAULT 'processing',
		createdAt REAL NOT NULL,
		updatedAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		userId TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		createdAt REAL NOT NULL,
		updatedAt REAL NOT NULL,
		UNIQUE(userId, name)
	);

	CREATE TABLE IF NOT EXISTS processed_items (
		id TEXT PRIMARY KEY,
		userId TEXT NOT NULL,
		transcriptionId TEXT NOT NULL REFERENCES transcriptions(id),
		categoryId TEXT NOT NULL REFERENCES categories(id),
		content TEXT NOT NULL,
		itemType TEXT NOT NULL CHECK (itemType IN
			('reminder', 'task', 'note', 'contact_action', 'calendar_event')),
		dueDate REAL,
		calendarEventId TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		createdAt REAL NOT NULL,
		updatedAt REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_user ON processed_items(userId, createdAt);

	CREATE TABLE IF NOT EXISTS calendar_credentials (
		userId TEXT PRIMARY KEY,
		accessToken TEXT NOT NULL DEFAULT '',
		refreshToken TEXT NOT NULL DEFAULT '',
		expiryMillis INTEGER NOT NULL DEFAULT 0,
		connected INTEGER NOT NULL DEFAULT 0,
		updatedAt REAL NOT NULL
	);
`

// Open opens (or creates) the database at path with WAL enabled and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory database. Used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTranscription inserts a transcription in the processing state.
func (s *Store) CreateTranscription(userID, originalText string) (*Transcription, error) {
	now := time.Now()
	t := &Transcription{
		ID:           uuid.NewString(),
		UserID:       userID,
		OriginalText: originalText,
		Status:       StatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.Exec(`
		INSERT INTO transcriptions (id, userId, originalText, status, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.OriginalText, t.Status, unixFloat(now), unixFloat(now))
	if err != nil {
		return nil, fmt.Errorf("insert transcription: %w", err)
	}
	return t, nil
}

// CompleteTranscription marks a transcription completed with the joined
// content of its created items.
func (s *Store) CompleteTranscription(id, processedText string) error {
	_, err := s.db.Exec(`
		UPDATE transcriptions
		SET status = ?, processedText = ?, updatedAt = ?
		WHERE id = ?
	`, StatusCompleted, processedText, unixFloat(time.Now()), id)
	if err != nil {
		return fmt.Errorf("complete transcription: %w", err)
	}
	return nil
}

// MarkTranscriptionError marks a transcription failed.
func (s *Store) MarkTranscriptionError(id string) error {
	_, err := s.db.Exec(`
		UPDATE transcriptions SET status = ?, updatedAt = ? WHERE id = ?
	`, StatusError, unixFloat(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark transcription error: %w", err)
	}
	return nil
}

// GetTranscription returns one transcription for the user, or nil.
func (s *Store) GetTranscription(userID, id string) (*Transcription, error) {
	row := s.db.QueryRow(`
		SELECT id, userId, originalText, processedText, status, createdAt, updatedAt
		FROM transcriptions
		WHERE userId = ? AND id = ?
	`, userID, id)

	var t Transcription
	var processed sql.NullString
	var createdAt, updatedAt float64
	if err := row.Scan(&t.ID, &t.UserID, &t.OriginalText, &processed, &t.Status,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transcription: %w", err)
	}
	if processed.Valid {
		t.ProcessedText = &processed.String
	}
	t.CreatedAt = timeFromUnix(createdAt)
	t.UpdatedAt = timeFromUnix(updatedAt)
	return &t, nil
}

// LatestTranscription returns the user's most recent transcription, or nil
// when the user has none.
func (s *Store) LatestTranscription(userID string) (*Transcription, error) {
	row := s.db.QueryRow(`
		SELECT id, userId, originalText, processedText, status, createdAt, updatedAt
		FROM transcriptions
		WHERE userId = ?
		ORDER BY createdAt DESC
		LIMIT 1
	`, userID)

	var t Transcription
	var processed sql.NullString
	var createdAt, updatedAt float64
	if err := row.Scan(&t.ID, &t.UserID, &t.OriginalText, &processed, &t.Status,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transcription: %w", err)
	}
	if processed.Valid {
		t.ProcessedText = &processed.String
	}
	t.CreatedAt = timeFromUnix(createdAt)
	t.UpdatedAt = timeFromUnix(updatedAt)
	return &t, nil
}

// CategoryNames returns the user's category names, oldest first.
func (s *Store) CategoryNames(userID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT name FROM categories WHERE userId = ? ORDER BY createdAt ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ResolveCategory returns the id of the user's category with the given name,
// creating it if absent. The UNIQUE(userId, name) constraint plus
// ON CONFLICT makes concurrent resolves of a brand-new name converge on a
// single row instead of racing read-then-insert.
func (s *Store) ResolveCategory(userID, name string) (string, error) {
	now := unixFloat(time.Now())
	row := s.db.QueryRow(`
		INSERT INTO categories (id, userId, name, description, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(userId, name) DO UPDATE SET updatedAt = excluded.updatedAt
		RETURNING id
	`, uuid.NewString(), userID, name, autoDescription(name), now, now)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("resolve category: %w", err)
	}
	return id, nil
}

func autoDescription(name string) string {
	return "Auto-created category for " + strings.ToLower(name)
}

// CreateItem inserts a processed item, assigning id and timestamps.
func (s *Store) CreateItem(item *ProcessedItem) error {
	now := time.Now()
	item.ID = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now

	var due interface{}
	if item.DueDate != nil {
		due = unixFloat(*item.DueDate)
	}
	var eventID interface{}
	if item.CalendarEventID != nil {
		eventID = *item.CalendarEventID
	}

	_, err := s.db.Exec(`
		INSERT INTO processed_items
			(id, userId, transcriptionId, categoryId, content, itemType,
			 dueDate, calendarEventId, completed, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.UserID, item.TranscriptionID, item.CategoryID, item.Content,
		item.ItemType, due, eventID, boolInt(item.Completed),
		unixFloat(now), unixFloat(now))
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// SetItemCalendarEvent records the remote calendar event id on an item.
func (s *Store) SetItemCalendarEvent(userID, itemID, eventID string) error {
	_, err := s.db.Exec(`
		UPDATE processed_items SET calendarEventId = ?, updatedAt = ?
		WHERE userId = ? AND id = ?
	`, eventID, unixFloat(time.Now()), userID, itemID)
	if err != nil {
		return fmt.Errorf("set calendar event id: %w", err)
	}
	return nil
}

// ItemsForUser returns the user's most recent items, newest first.
func (s *Store) ItemsForUser(userID string, limit int) ([]ProcessedItem, error) {
	rows, err := s.db.Query(`
		SELECT id, userId, transcriptionId, categoryId, content, itemType,
		       dueDate, calendarEventId, completed, createdAt, updatedAt
		FROM processed_items
		WHERE userId = ?
		ORDER BY createdAt DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []ProcessedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ItemsForTranscription returns items created from one transcription, oldest
// first.
func (s *Store) ItemsForTranscription(userID, transcriptionID string) ([]ProcessedItem, error) {
	rows, err := s.db.Query(`
		SELECT id, userId, transcriptionId, categoryId, content, itemType,
		       dueDate, calendarEventId, completed, createdAt, updatedAt
		FROM processed_items
		WHERE userId = ? AND transcriptionId = ?
		ORDER BY createdAt ASC
	`, userID, transcriptionID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []ProcessedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(rows *sql.Rows) (ProcessedItem, error) {
	var item ProcessedItem
	var due sql.NullFloat64
	var eventID sql.NullString
	var completed int
	var createdAt, updatedAt float64

	if err := rows.Scan(&item.ID, &item.UserID, &item.TranscriptionID,
		&item.CategoryID, &item.Content, &item.ItemType, &due, &eventID,
		&completed, &createdAt, &updatedAt); err != nil {
		return ProcessedItem{}, fmt.Errorf("scan item: %w", err)
	}
	if due.Valid {
		t := timeFromUnix(due.Float64)
		item.DueDate = &t
	}
	if eventID.Valid {
		item.CalendarEventID = &eventID.String
	}
	item.Completed = completed != 0
	item.CreatedAt = timeFromUnix(createdAt)
	item.UpdatedAt = timeFromUnix(updatedAt)
	return item, nil
}

// ToggleItemCompleted flips an item's completed flag.
func (s *Store) ToggleItemCompleted(userID, itemID string) error {
	res, err := s.db.Exec(`
		UPDATE processed_items SET completed = 1 - completed, updatedAt = ?
		WHERE userId = ? AND id = ?
	`, unixFloat(time.Now()), userID, itemID)
	if err != nil {
		return fmt.Errorf("toggle item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("item not found: %s", itemID)
	}
	return nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(userID, itemID string) error {
	res, err := s.db.Exec(`
		DELETE FROM processed_items WHERE userId = ? AND id = ?
	`, userID, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("item not found: %s", itemID)
	}
	return nil
}

// Credential returns the user's calendar credential, or nil if none stored.
func (s *Store) Credential(userID string) (*CalendarCredential, error) {
	row := s.db.QueryRow(`
		SELECT userId, accessToken, refreshToken, expiryMillis, connected, updatedAt
		FROM calendar_credentials
		WHERE userId = ?
	`, userID)

	var cred CalendarCredential
	var connected int
	var updatedAt float64
	if err := row.Scan(&cred.UserID, &cred.AccessToken, &cred.RefreshToken,
		&cred.ExpiryMillis, &connected, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	cred.Connected = connected != 0
	cred.UpdatedAt = timeFromUnix(updatedAt)
	return &cred, nil
}

// SaveCredential upserts the user's calendar credential.
func (s *Store) SaveCredential(cred *CalendarCredential) error {
	now := unixFloat(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO calendar_credentials
			(userId, accessToken, refreshToken, expiryMillis, connected, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(userId) DO UPDATE SET
			accessToken = excluded.accessToken,
			refreshToken = excluded.refreshToken,
			expiryMillis = excluded.expiryMillis,
			connected = excluded.connected,
			updatedAt = excluded.updatedAt
	`, cred.UserID, cred.AccessToken, cred.RefreshToken, cred.ExpiryMillis,
		boolInt(cred.Connected), now)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// UpdateAccessToken stores a refreshed access token and its new expiry.
// Last write wins when concurrent refreshes race.
func (s *Store) UpdateAccessToken(userID, accessToken string, expiryMillis int64) error {
	_, err := s.db.Exec(`
		UPDATE calendar_credentials
		SET accessToken = ?, expiryMillis = ?, updatedAt = ?
		WHERE userId = ?
	`, accessToken, expiryMillis, unixFloat(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	return nil
}

// DisconnectCalendar clears all stored credential fields for the user.
func (s *Store) DisconnectCalendar(userID string) error {
	_, err := s.db.Exec(`
		UPDATE calendar_credentials
		SET accessToken = '', refreshToken = '', expiryMillis = 0,
		    connected = 0, updatedAt = ?
		WHERE userId = ?
	`, unixFloat(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("disconnect calendar: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
