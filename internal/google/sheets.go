package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"krushilink/internal/models"
	"krushilink/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	lastColumn = "S"
)

var errRowNotFound = errors.New("booking row not found")

var ledgerHeader = []interface{}{
	"ID", "Farmer", "Driver", "Service", "Equipment", "Acreage", "Price/acre", "Total",
	"Status", "Payment method", "Payment status", "Payment reference", "Paid at",
	"Reminders", "Scheduled", "Completed", "Created", "Updated", "Version",
}

// SheetsLedger mirrors bookings into one sheet of a spreadsheet, one row per
// booking keyed by the id in column A.
type SheetsLedger struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *zerolog.Logger

	cacheMu  sync.RWMutex
	rowCache map[string]int
}

// NewSheetsLedger authenticates with a service account credentials file.
func NewSheetsLedger(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, logger *zerolog.Logger) (*SheetsLedger, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return NewSheetsLedgerWithOptions(ctx, spreadsheetID, sheetName, logger, option.WithHTTPClient(cfg.Client(ctx)))
}

func NewSheetsLedgerWithOptions(ctx context.Context, spreadsheetID, sheetName string, logger *zerolog.Logger, opts ...option.ClientOption) (*SheetsLedger, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	if sheetName == "" {
		sheetName = "Bookings"
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	l := logger.With().Str("component", "ledger").Logger()
	return &SheetsLedger{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        &l,
		rowCache:      make(map[string]int),
	}, nil
}

// ServiceAccountEmail returns the address the spreadsheet has to be shared with.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}
	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

func (s *SheetsLedger) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ledger connection test: %w", err)
	}
	return nil
}

// WarmUpCache reads the id column, rebuilds the row index and writes the
// header when the sheet is empty.
func (s *SheetsLedger) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.idRange()).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read ledger ids: %w", err)
	}

	if len(resp.Values) == 0 {
		if err := s.writeRow(ctx, 1, ledgerHeader); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if id := cellID(row); id != "" && i > 0 {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	s.logger.Debug().Int("rows", len(cache)).Msg("Ledger cache warmed up")
	return nil
}

// RefreshPeriodically rebuilds the row index until ctx is done. Rows moved by
// hand in the sheet are picked up on the next refresh.
func (s *SheetsLedger) RefreshPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := s.WarmUpCache(refreshCtx); err != nil {
				s.logger.Warn().Err(err).Msg("Ledger cache refresh failed")
			}
			cancel()
		}
	}
}

// UpsertBooking updates the booking's row or appends a new one.
func (s *SheetsLedger) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil || booking.ID == "" {
		return errors.New("booking id is required")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.ID)
	if errors.Is(err, errRowNotFound) {
		return s.appendBooking(ctx, booking)
	}
	if err != nil {
		return err
	}
	return s.writeRow(ctx, rowIdx, bookingRowValues(booking))
}

// FindBookingRow returns the 1-based row holding bookingID.
func (s *SheetsLedger) FindBookingRow(ctx context.Context, bookingID string) (int, error) {
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.idRange()).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read ledger ids: %w", err)
	}
	for i, row := range resp.Values {
		if i > 0 && cellID(row) == bookingID {
			s.setCachedRow(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

// ReplaceAll rewrites every data row below the header.
func (s *SheetsLedger) ReplaceAll(ctx context.Context, bookings []*models.Booking) error {
	clearRange := s.sheetName + "!A2:" + lastColumn
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}

	values := make([][]interface{}, 0, len(bookings))
	for _, b := range bookings {
		values = append(values, bookingRowValues(b))
	}
	if len(values) > 0 {
		_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A2", &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
	}

	cache := make(map[string]int, len(bookings))
	for i, b := range bookings {
		cache[b.ID] = i + 2
	}
	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *SheetsLedger) appendBooking(ctx context.Context, booking *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.idRange(), &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(booking.ID, row)
		}
	}
	return nil
}

func (s *SheetsLedger) writeRow(ctx context.Context, row int, values []interface{}) error {
	rangeData := fmt.Sprintf("%s!A%d:%s%d", s.sheetName, row, lastColumn, row)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		s.deleteCachedRow(fmt.Sprint(values[0]))
		return fmt.Errorf("update ledger row %d: %w", row, err)
	}
	return nil
}

func (s *SheetsLedger) idRange() string {
	return s.sheetName + "!A:A"
}

func (s *SheetsLedger) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsLedger) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsLedger) deleteCachedRow(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

// LedgerHandler adapts the ledger to the delivery worker.
func LedgerHandler(ledger interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
}) worker.Handler {
	return func(ctx context.Context, task *models.DeliveryTask) error {
		var booking models.Booking
		if err := worker.DecodePayload(task, &booking); err != nil {
			return err
		}
		return ledger.UpsertBooking(ctx, &booking)
	}
}

func cellID(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[0]))
}

var rangeRowPattern = regexp.MustCompile(`![A-Z]+(\d+)`)

// rowFromRange extracts the first row number from an A1 range like "Bookings!A10:S10".
func rowFromRange(r string) (int, bool) {
	m := rangeRowPattern.FindStringSubmatch(r)
	if m == nil {
		return 0, false
	}
	row, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return row, true
}

func bookingRowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.FarmerID,
		b.DriverID,
		b.ServiceType,
		b.EquipmentID,
		b.Acreage.String(),
		b.PricePerAcre.StringFixed(2),
		b.TotalPrice.StringFixed(2),
		string(b.Status),
		string(b.PaymentMethod),
		string(b.PaymentStatus),
		b.PaymentReference,
		formatTime(b.PaidAt),
		b.ReminderCount,
		formatTime(b.ScheduledTime),
		formatTime(b.CompletedTime),
		b.CreatedAt.Format(timeLayout),
		b.UpdatedAt.Format(timeLayout),
		b.Version,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}
