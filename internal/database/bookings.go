package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"krushilink/internal/models"
)

const bookingColumns = `id, farmer_id, driver_id, service_type, equipment_id, price_per_acre, acreage, total_price,
                        lat, lng, address, notes, status, payment_method, payment_status, payment_due_date,
                        payment_reference, payment_note, paid_at, reminder_count, last_reminder_sent,
                        requested_time, scheduled_time, completed_time, created_at, updated_at, version`

func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if b.RequestedTime.IsZero() {
		b.RequestedTime = now
	}
	_, err := db.ExecContext(ctx, query,
		b.ID,
		b.FarmerID,
		b.DriverID,
		b.ServiceType,
		b.EquipmentID,
		b.PricePerAcre,
		b.Acreage,
		b.TotalPrice,
		b.Location.Lat,
		b.Location.Lng,
		b.Address,
		b.Notes,
		b.Status,
		b.PaymentMethod,
		b.PaymentStatus,
		utcPtr(b.PaymentDueDate),
		b.PaymentReference,
		b.PaymentNote,
		utcPtr(b.PaidAt),
		b.ReminderCount,
		utcPtr(b.LastReminderSent),
		utc(b.RequestedTime),
		utcPtr(b.ScheduledTime),
		utcPtr(b.CompletedTime),
		now,
		now,
		1,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking %s: %w", b.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return b, nil
}

// SaveBookingWithVersion writes every mutable field of b if the stored row is
// still at expectedVersion, and bumps the version by one.
func (db *DB) SaveBookingWithVersion(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	query := `UPDATE bookings SET
                status = ?, payment_method = ?, payment_status = ?, payment_due_date = ?,
                payment_reference = ?, payment_note = ?, paid_at = ?, reminder_count = ?,
                last_reminder_sent = ?, scheduled_time = ?, completed_time = ?, notes = ?,
                updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	result, err := db.ExecContext(ctx, query,
		b.Status,
		b.PaymentMethod,
		b.PaymentStatus,
		utcPtr(b.PaymentDueDate),
		b.PaymentReference,
		b.PaymentNote,
		utcPtr(b.PaidAt),
		b.ReminderCount,
		utcPtr(b.LastReminderSent),
		utcPtr(b.ScheduledTime),
		utcPtr(b.CompletedTime),
		b.Notes,
		utc(updatedAt),
		b.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	if rows == 0 {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, b.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("booking %s: %w", b.ID, ErrNotFound)
		}
		return ErrConcurrentModification
	}
	b.Version = expectedVersion + 1
	return nil
}

// ListBookingsByUser returns bookings where the user is either party, newest first.
func (db *DB) ListBookingsByUser(ctx context.Context, userID string, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE farmer_id = ? OR driver_id = ?
              ORDER BY created_at DESC LIMIT ?`
	return db.queryBookings(ctx, "user bookings", query, userID, userID, limit)
}

// ListBookingsByRange returns bookings created in [from, to).
func (db *DB) ListBookingsByRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE created_at >= ? AND created_at < ?
              ORDER BY created_at ASC`
	return db.queryBookings(ctx, "bookings by range", query, utc(from), utc(to))
}

// ListPendingPayments returns completed, unpaid bookings that are due: either the
// due date is set and not after dueBefore, or no due date is set and the work was
// completed before completedBefore.
func (db *DB) ListPendingPayments(ctx context.Context, dueBefore, completedBefore time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND payment_status = ?
                AND ((payment_due_date IS NOT NULL AND payment_due_date <= ?)
                  OR (payment_due_date IS NULL AND completed_time <= ?))
              ORDER BY completed_time ASC`
	return db.queryBookings(ctx, "pending payments", query,
		models.StatusCompleted, models.PaymentPending, utc(dueBefore), utc(completedBefore))
}

func (db *DB) queryBookings(ctx context.Context, what, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.FarmerID, &b.DriverID, &b.ServiceType, &b.EquipmentID, &b.PricePerAcre, &b.Acreage, &b.TotalPrice,
		&b.Location.Lat, &b.Location.Lng, &b.Address, &b.Notes, &b.Status, &b.PaymentMethod, &b.PaymentStatus, &b.PaymentDueDate,
		&b.PaymentReference, &b.PaymentNote, &b.PaidAt, &b.ReminderCount, &b.LastReminderSent,
		&b.RequestedTime, &b.ScheduledTime, &b.CompletedTime, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
