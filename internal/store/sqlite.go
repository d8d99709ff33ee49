package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err = migrateUp(db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return newWithDB(db), nil
}

func newWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// User methods

const userColumns = "id, email, first_name, last_name, profile_image_url, credits, stripe_customer_id, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var user User
	var customerID sql.NullString
	err := row.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.ProfileImageURL,
		&user.Credits, &customerID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		user.StripeCustomerID = &customerID.String
	}
	return &user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// UpsertUser creates the user on first sign-in with the default balance and
// refreshes the profile fields afterwards. Credits are never touched here.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) (*User, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (id, email, first_name, last_name, profile_image_url, credits, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            email = excluded.email,
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            profile_image_url = excluded.profile_image_url,
            updated_at = excluded.updated_at`,
		user.ID, user.Email, user.FirstName, user.LastName, user.ProfileImageURL, DefaultCredits, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return s.GetUser(ctx, user.ID)
}

// UpdateUserCredits sets the balance outright. Generation and payment paths
// use DebitAndRecordEdit and CreditPayment instead.
func (s *SQLiteStore) UpdateUserCredits(ctx context.Context, userID string, credits int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET credits = ?, updated_at = ? WHERE id = ?", credits, s.now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update credits: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) UpdateUserStripeInfo(ctx context.Context, userID, customerID string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ?", customerID, s.now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update stripe customer: %w", err)
	}
	return requireAffected(res)
}

// Ledger methods

// DebitAndRecordEdit charges cost credits and records the edit in a single
// transaction. The debit only applies while the balance covers it, so two
// concurrent generations cannot both spend the same credits.
func (s *SQLiteStore) DebitAndRecordEdit(ctx context.Context, userID string, cost int, edit *Edit) (int, error) {
	settingsJSON, err := json.Marshal(edit.Settings)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx,
		"UPDATE users SET credits = credits - ?, updated_at = ? WHERE id = ? AND credits >= ?",
		cost, now, userID, cost)
	if err != nil {
		return 0, fmt.Errorf("failed to debit credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read debit result: %w", err)
	}
	if affected == 0 {
		return 0, ErrInsufficientCredits
	}

	edit.ID = uuid.NewString()
	edit.UserID = userID
	edit.CreditCost = cost
	edit.CreatedAt = now
	_, err = tx.ExecContext(ctx, `
        INSERT INTO edits (id, user_id, base_image_id, result_url, prompt, ai_prompt, settings, credit_cost, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edit.ID, edit.UserID, edit.BaseImageID, edit.ResultURL, edit.Prompt, edit.AIPrompt, string(settingsJSON), edit.CreditCost, edit.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert edit: %w", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, "SELECT credits FROM users WHERE id = ?", userID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}
	return remaining, nil
}

// CreditPayment adds credits for a confirmed payment. Each payment id is
// credited at most once; a repeat reports applied=false.
func (s *SQLiteStore) CreditPayment(ctx context.Context, paymentID, userID string, credits int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO payment_events (id, user_id, credits, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING",
		paymentID, userID, credits, now)
	if err != nil {
		return false, fmt.Errorf("failed to record payment event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read payment event result: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, "UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ?", credits, now, userID)
	if err != nil {
		return false, fmt.Errorf("failed to credit user: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit credit: %w", err)
	}
	return true, nil
}

// Image methods

func (s *SQLiteStore) CreateImage(ctx context.Context, image *Image) error {
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	image.CreatedAt = s.now()
	if image.Meta == nil {
		image.Meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(image.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal image meta: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO images (id, owner_id, url, filename, size, width, height, meta, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		image.ID, image.OwnerID, image.URL, image.Filename, image.Size, image.Width, image.Height, string(metaJSON), image.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

const imageColumns = "id, owner_id, url, filename, size, width, height, meta, created_at"

func scanImage(row interface{ Scan(...any) error }) (*Image, error) {
	var image Image
	var metaJSON string
	if err := row.Scan(&image.ID, &image.OwnerID, &image.URL, &image.Filename, &image.Size,
		&image.Width, &image.Height, &metaJSON, &image.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &image.Meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image meta: %w", err)
	}
	return &image, nil
}

func (s *SQLiteStore) GetImage(ctx context.Context, id string) (*Image, error) {
	image, err := scanImage(s.db.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return image, nil
}

// GetUserImages returns the owner's images, newest first.
func (s *SQLiteStore) GetUserImages(ctx context.Context, ownerID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	images := []Image{}
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, *image)
	}
	return images, rows.Err()
}

func (s *SQLiteStore) DeleteImage(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return requireAffected(res)
}

// Edit methods

const editColumns = "id, user_id, base_image_id, result_url, prompt, ai_prompt, settings, credit_cost, created_at"

func (s *SQLiteStore) queryEdits(ctx context.Context, query string, args ...any) ([]Edit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edits: %w", err)
	}
	defer rows.Close()

	edits := []Edit{}
	for rows.Next() {
		var edit Edit
		var baseImageID sql.NullString
		var settingsJSON string
		if err := rows.Scan(&edit.ID, &edit.UserID, &baseImageID, &edit.ResultURL, &edit.Prompt,
			&edit.AIPrompt, &settingsJSON, &edit.CreditCost, &edit.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edit row: %w", err)
		}
		if baseImageID.Valid {
			edit.BaseImageID = &baseImageID.String
		}
		if err := json.Unmarshal([]byte(settingsJSON), &edit.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edit settings: %w", err)
		}
		edits = append(edits, edit)
	}
	return edits, rows.Err()
}

// GetUserEdits returns every generation by the user, newest first.
func (s *SQLiteStore) GetUserEdits(ctx context.Context, userID string) ([]Edit, error) {
	return s.queryEdits(ctx,
		"SELECT "+editColumns+" FROM edits WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", userID)
}

func (s *SQLiteStore) GetImageEdits(ctx context.Context, imageID string) ([]Edit, error) {
	return s.queryEdits(ctx,
		"SELECT "+editColumns+" FROM edits WHERE base_image_id = ? ORDER BY created_at DESC, rowid DESC", imageID)
}

// Chat methods

func (s *SQLiteStore) CreateChatMessage(ctx context.Context, msg *ChatMessage) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid chat role %q", msg.Role)
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_messages (id, user_id, image_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.UserID, msg.ImageID, string(msg.Role), msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// GetUserChatMessages returns the conversation in creation order; rows
// created in the same instant keep their insertion order.
func (s *SQLiteStore) GetUserChatMessages(ctx context.Context, userID string, imageID *string) ([]ChatMessage, error) {
	query := "SELECT id, user_id, image_id, role, content, created_at FROM chat_messages WHERE user_id = ?"
	args := []any{userID}
	if imageID != nil {
		query += " AND image_id = ?"
		args = append(args, *imageID)
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	messages := []ChatMessage{}
	for rows.Next() {
		var msg ChatMessage
		var imgID sql.NullString
		var role string
		if err := rows.Scan(&msg.ID, &msg.UserID, &imgID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		if imgID.Valid {
			msg.ImageID = &imgID.String
		}
		msg.Role = Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) ClearUserChat(ctx context.Context, userID string, imageID *string) (int64, error) {
	query := "DELETE FROM chat_messages WHERE user_id = ?"
	args := []any{userID}
	if imageID != nil {
		query += " AND image_id = ?"
		args = append(args, *imageID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chat: %w", err)
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
