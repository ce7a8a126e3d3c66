package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"krushilink/internal/models"
)

const userColumns = `id, role, name, phone, village, lat, lng, verified, verified_at,
                     blocked, blocked_reason, telegram_chat_id, fcm_token, created_at, updated_at`

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (` + userColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	lat, lng := pointArgs(user.Location)
	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Role,
		user.Name,
		user.Phone,
		user.Village,
		lat,
		lng,
		user.Verified,
		utcPtr(user.VerifiedAt),
		user.Blocked,
		user.BlockedReason,
		chatIDArg(user.TelegramChatID),
		user.FCMToken,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Phone, ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return db.queryUser(ctx, query, id)
}

func (db *DB) GetUserByTelegramChatID(ctx context.Context, chatID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_chat_id = ?`
	return db.queryUser(ctx, query, chatID)
}

func (db *DB) queryUser(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u      models.User
		lat    sql.NullFloat64
		lng    sql.NullFloat64
		chatID sql.NullInt64
	)
	err := row.Scan(
		&u.ID, &u.Role, &u.Name, &u.Phone, &u.Village, &lat, &lng, &u.Verified, &u.VerifiedAt,
		&u.Blocked, &u.BlockedReason, &chatID, &u.FCMToken, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		u.Location = &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	u.TelegramChatID = chatID.Int64
	return &u, nil
}

// UpdateUserProfile overwrites the editable profile fields.
func (db *DB) UpdateUserProfile(ctx context.Context, user *models.User) error {
	query := `UPDATE users SET name = ?, village = ?, lat = ?, lng = ?, updated_at = ? WHERE id = ?`
	lat, lng := pointArgs(user.Location)
	now := time.Now().UTC()
	if err := db.execOne(ctx, "user", query, user.Name, user.Village, lat, lng, now, user.ID); err != nil {
		return err
	}
	user.UpdatedAt = now
	return nil
}

func (db *DB) SetUserVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	query := `UPDATE users SET verified = 1, verified_at = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "user", query, utc(verifiedAt), time.Now().UTC(), id)
}

func (db *DB) SetUserBlocked(ctx context.Context, id string, blocked bool, reason string) error {
	query := `UPDATE users SET blocked = ?, blocked_reason = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "user", query, blocked, reason, time.Now().UTC(), id)
}

func (db *DB) SetTelegramChatID(ctx context.Context, id string, chatID int64) error {
	query := `UPDATE users SET telegram_chat_id = ?, updated_at = ? WHERE id = ?`
	err := db.execOne(ctx, "user", query, chatIDArg(chatID), time.Now().UTC(), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("telegram chat %d: %w", chatID, ErrDuplicate)
	}
	return err
}

func (db *DB) SetFCMToken(ctx context.Context, id, token string) error {
	query := `UPDATE users SET fcm_token = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "user", query, token, time.Now().UTC(), id)
}

// ListUsers returns users ordered by creation time. An empty role matches everyone.
func (db *DB) ListUsers(ctx context.Context, role models.Role, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE (? = '' OR role = ?)
              ORDER BY created_at ASC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, role, role, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *DB) CreateTelegramLink(ctx context.Context, link *models.TelegramLink) error {
	query := `INSERT INTO telegram_links (code, user_id, expires_at) VALUES (?, ?, ?)`
	_, err := db.ExecContext(ctx, query, link.Code, link.UserID, utc(link.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("link code: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to create telegram link: %w", err)
	}
	return nil
}

// ConsumeTelegramLink deletes the code and returns the user it was issued for.
// Expired codes are reported as not found.
func (db *DB) ConsumeTelegramLink(ctx context.Context, code string, now time.Time) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		userID    string
		expiresAt time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT user_id, expires_at FROM telegram_links WHERE code = ?`, code).
		Scan(&userID, &expiresAt)
	if err != nil {
		return "", notFound(err, "telegram link")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM telegram_links WHERE code = ?`, code); err != nil {
		return "", fmt.Errorf("failed to delete telegram link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit telegram link: %w", err)
	}
	if !now.Before(expiresAt) {
		return "", fmt.Errorf("telegram link expired: %w", ErrNotFound)
	}
	return userID, nil
}

func (db *DB) execOne(ctx context.Context, what, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func pointArgs(p *models.GeoPoint) (lat, lng interface{}) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

func chatIDArg(chatID int64) interface{} {
	if chatID == 0 {
		return nil
	}
	return chatID
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
