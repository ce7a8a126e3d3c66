// Package export builds the admin booking report as an Excel workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"krushilink/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	summarySheet  = "Summary"
)

var bookingHeaders = []string{
	"Booking ID", "Created", "Farmer", "Farmer phone", "Driver", "Driver phone", "Service",
	"Acreage", "Price/acre", "Total", "Address", "Status", "Payment method", "Payment status",
	"Due date", "Reminders", "Reference", "Paid at", "Completed at",
}

type BookingSource interface {
	ListBookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
}

type UserSource interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Exporter struct {
	bookings BookingSource
	users    UserSource
	dir      string
	logger   *zerolog.Logger
}

func NewExporter(bookings BookingSource, users UserSource, dir string, logger *zerolog.Logger) *Exporter {
	l := logger.With().Str("component", "export").Logger()
	return &Exporter{bookings: bookings, users: users, dir: dir, logger: &l}
}

// Write streams the report for bookings created in [from, to) to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, from, to time.Time) error {
	f, err := e.build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveFile writes the report into the exports directory and returns its path.
func (e *Exporter) SaveFile(ctx context.Context, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	f, err := e.build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(e.dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	e.logger.Info().Str("file_path", path).Msg("Excel file created")
	return path, nil
}

func FileName(from, to time.Time) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func (e *Exporter) build(ctx context.Context, from, to time.Time) (*excelize.File, error) {
	bookings, err := e.bookings.ListBookingsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	users := e.lookupUsers(ctx, bookings)
	return Build(from, to, bookings, users)
}

// lookupUsers resolves the parties once each. Missing users leave blank name cells.
func (e *Exporter) lookupUsers(ctx context.Context, bookings []*models.Booking) map[string]*models.User {
	users := make(map[string]*models.User)
	for _, b := range bookings {
		for _, id := range []string{b.FarmerID, b.DriverID} {
			if _, seen := users[id]; seen {
				continue
			}
			u, err := e.users.GetUser(ctx, id)
			if err != nil {
				e.logger.Warn().Err(err).Str("user_id", id).Msg("export user lookup")
			}
			users[id] = u
		}
	}
	return users
}

// Build lays out the workbook: one row per booking plus a summary sheet.
func Build(from, to time.Time, bookings []*models.Booking, users map[string]*models.User) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range bookingHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(bookingsSheet, cell, h)
		_ = f.SetCellStyle(bookingsSheet, cell, cell, headerStyle)
	}

	for i, b := range bookings {
		row := bookingRow(b, users[b.FarmerID], users[b.DriverID])
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(bookingsSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(bookingsSheet, "A", "A", 38)
	_ = f.SetColWidth(bookingsSheet, "B", "S", 16)
	_ = f.SetPanes(bookingsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if err := writeSummary(f, from, to, bookings); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func bookingRow(b *models.Booking, farmer, driver *models.User) []interface{} {
	acreage, _ := b.Acreage.Float64()
	price, _ := b.PricePerAcre.Float64()
	total, _ := b.TotalPrice.Float64()
	return []interface{}{
		b.ID,
		b.CreatedAt.Format("2006-01-02 15:04"),
		farmer.DisplayName(),
		phone(farmer),
		driver.DisplayName(),
		phone(driver),
		b.ServiceType,
		acreage,
		price,
		total,
		b.Address,
		string(b.Status),
		string(b.PaymentMethod),
		string(b.PaymentStatus),
		formatTime(b.PaymentDueDate, "2006-01-02"),
		b.ReminderCount,
		b.PaymentReference,
		formatTime(b.PaidAt, "2006-01-02 15:04"),
		formatTime(b.CompletedTime, "2006-01-02 15:04"),
	}
}

func writeSummary(f *excelize.File, from, to time.Time, bookings []*models.Booking) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	byStatus := make(map[models.BookingStatus]int)
	var billed, collected, outstanding decimal.Decimal
	for _, b := range bookings {
		byStatus[b.Status]++
		if b.Status != models.StatusCompleted {
			continue
		}
		billed = billed.Add(b.TotalPrice)
		if b.PaymentStatus == models.PaymentPaid {
			collected = collected.Add(b.TotalPrice)
		} else {
			outstanding = outstanding.Add(b.TotalPrice)
		}
	}

	rows := [][]interface{}{
		{"Period", fmt.Sprintf("%s - %s", from.Format("02 Jan 2006"), to.Format("02 Jan 2006"))},
		{"Bookings", len(bookings)},
	}
	for _, st := range []models.BookingStatus{
		models.StatusRequested, models.StatusAccepted, models.StatusInProgress,
		models.StatusCompleted, models.StatusRejected, models.StatusCanceled,
	} {
		rows = append(rows, []interface{}{string(st), byStatus[st]})
	}
	rows = append(rows,
		[]interface{}{"Billed", billed.StringFixed(2)},
		[]interface{}{"Collected", collected.StringFixed(2)},
		[]interface{}{"Outstanding", outstanding.StringFixed(2)},
	)

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow(summarySheet, cell, &r); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 16)
	_ = f.SetColWidth(summarySheet, "B", "B", 28)
	return nil
}

func phone(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.Phone
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}
