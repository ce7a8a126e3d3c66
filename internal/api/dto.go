package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"krushilink/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

type registerRequest struct {
	Role    string   `json:"role" validate:"required,oneof=farmer driver"`
	Name    string   `json:"name" validate:"max=100"`
	Phone   string   `json:"phone" validate:"required,min=6,max=20"`
	Village string   `json:"village" validate:"max=100"`
	Lat     *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng     *float64 `json:"lng" validate:"omitempty,longitude"`
}

type profileRequest struct {
	Name    string   `json:"name" validate:"max=100"`
	Village string   `json:"village" validate:"max=100"`
	Lat     *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng     *float64 `json:"lng" validate:"omitempty,longitude"`
}

type fcmTokenRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

type telegramRequest struct {
	ChatID int64 `json:"chat_id" validate:"required"`
}

type equipmentRequest struct {
	ServiceType  string          `json:"service_type" validate:"required"`
	Name         string          `json:"name" validate:"required,max=100"`
	PricePerAcre decimal.Decimal `json:"price_per_acre"`
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

type bookingRequest struct {
	DriverID       string          `json:"driver_id" validate:"required"`
	EquipmentID    string          `json:"equipment_id" validate:"required"`
	Acreage        decimal.Decimal `json:"acreage"`
	Lat            *float64        `json:"lat" validate:"required,latitude"`
	Lng            *float64        `json:"lng" validate:"required,longitude"`
	Address        string          `json:"address" validate:"max=300"`
	Notes          string          `json:"notes" validate:"max=1000"`
	ScheduledTime  *time.Time      `json:"scheduled_time"`
	PaymentMethod  string          `json:"payment_method" validate:"omitempty,oneof=cash later"`
	PaymentDueDate *time.Time      `json:"payment_due_date"`
}

type paymentRequest struct {
	Status    string `json:"status" validate:"omitempty,oneof=paid failed"`
	Reference string `json:"reference" validate:"max=255"`
	Reason    string `json:"reason" validate:"max=500"`
}

type blockRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// optionalPoint requires lat and lng together.
func optionalPoint(lat, lng *float64) (*models.GeoPoint, error) {
	if lat == nil && lng == nil {
		return nil, nil
	}
	if lat == nil || lng == nil {
		return nil, fmt.Errorf("%w: lat and lng must be set together", errBadRequest)
	}
	return &models.GeoPoint{Lat: *lat, Lng: *lng}, nil
}

// decodeJSON reads a JSON body into dest and validates it.
func decodeJSON(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fe.Field()+" "+validationMessage(fe))
	}
	return fmt.Errorf("%w: %s", errBadRequest, strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "latitude", "longitude":
		return "is out of range"
	}
	return "is invalid"
}

func queryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, fmt.Errorf("%w: %s must be an integer between %d and %d", errBadRequest, key, min, max)
	}
	return v, nil
}

func queryFloat(r *http.Request, key string, required bool) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		if required {
			return 0, fmt.Errorf("%w: %s is required", errBadRequest, key)
		}
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errBadRequest, key)
	}
	return v, nil
}

func queryDate(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", errBadRequest, key)
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s; expected YYYY-MM-DD", errBadRequest, key)
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Error: message, Code: errorCode(statusCode)})
}
