package database

import (
	"context"
	"fmt"
	"time"

	"krushilink/internal/models"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `INSERT INTO notifications (id, recipient_id, title, body, category, related_id, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, query, n.ID, n.RecipientID, n.Title, n.Body, n.Category, n.RelatedID, utc(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (db *DB) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	query := `SELECT id, recipient_id, title, body, category, related_id, read_at, created_at
              FROM notifications
              WHERE recipient_id = ? AND (? = 0 OR read_at IS NULL)
              ORDER BY created_at DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var list []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.Category, &n.RelatedID, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		list = append(list, &n)
	}
	return list, rows.Err()
}

// MarkNotificationRead is idempotent; the first read time wins.
func (db *DB) MarkNotificationRead(ctx context.Context, id, recipientID string, at time.Time) error {
	query := `UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND recipient_id = ?`
	return db.execOne(ctx, "notification", query, utc(at), id, recipientID)
}
