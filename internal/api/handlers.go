package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"krushilink/internal/export"
	"krushilink/internal/lifecycle"
	"krushilink/internal/models"
	"krushilink/internal/service"
)

type registerResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	location, err := optionalPoint(req.Lat, req.Lng)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.svc.Users.Register(r.Context(), service.RegisterRequest{
		Role:     models.Role(req.Role),
		Name:     req.Name,
		Phone:    req.Phone,
		Village:  req.Village,
		Location: location,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.tokens.Mint(user.ID, user.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{User: user, Token: token})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	user, err := s.svc.Users.GetUser(r.Context(), actor.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	location, err := optionalPoint(req.Lat, req.Lng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.svc.Users.UpdateProfile(r.Context(), actor.UserID, req.Name, req.Village, location)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleFCMToken(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var req fcmTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Users.SetFCMToken(r.Context(), actor.UserID, req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLinkTelegram lets support attach a chat by hand. Users link through /start CODE.
func (s *HTTPServer) handleLinkTelegram(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var req telegramRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Users.AssignTelegramChat(r.Context(), actor, r.PathValue("id"), req.ChatID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTelegramLinkCode issues a one-time code the user sends to the bot as /start CODE.
func (s *HTTPServer) handleTelegramLinkCode(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	link, err := s.svc.Users.IssueTelegramLink(r.Context(), actor.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *HTTPServer) handleAddEquipment(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var req equipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	eq, err := s.svc.Equipment.AddEquipment(r.Context(), actor, service.AddEquipmentRequest{
		ServiceType:  req.ServiceType,
		Name:         req.Name,
		PricePerAcre: req.PricePerAcre,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, eq)
}

func (s *HTTPServer) handleDeactivateEquipment(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	if err := s.svc.Equipment.DeactivateEquipment(r.Context(), actor, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDriverEquipment lists active equipment; the owner and admins may ask for all=true.
func (s *HTTPServer) handleDriverEquipment(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	driverID := r.PathValue("id")
	activeOnly := true
	if r.URL.Query().Get("all") == "true" && (actor.UserID == driverID || actor.Role == models.RoleAdmin) {
		activeOnly = false
	}
	list, err := s.svc.Equipment.ListDriverEquipment(r.Context(), driverID, activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"equipment": list})
}

func (s *HTTPServer) handleUpdateLocation(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p := models.GeoPoint{Lat: *req.Lat, Lng: *req.Lng}
	if err := s.svc.Discovery.UpdateDriverLocation(r.Context(), actor.UserID, p); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRemoveLocation(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	if actor.Role != models.RoleDriver {
		s.fail(w, r, fmt.Errorf("%w: only drivers share their location", service.ErrForbidden))
		return
	}
	if err := s.svc.Discovery.RemoveDriverLocation(r.Context(), actor.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleNearbyDrivers(w http.ResponseWriter, r *http.Request, _ lifecycle.Actor) {
	lat, err := queryFloat(r, "lat", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	lng, err := queryFloat(r, "lng", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	radius, err := queryFloat(r, "radius_km", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0, 0, 100)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	drivers, err := s.svc.Discovery.FindNearbyDrivers(r.Context(), service.NearbyQuery{
		Center:      models.GeoPoint{Lat: lat, Lng: lng},
		RadiusKm:    radius,
		ServiceType: r.URL.Query().Get("service_type"),
		Limit:       limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	if actor.Role != models.RoleFarmer {
		s.fail(w, r, fmt.Errorf("%w: only farmers create bookings", service.ErrForbidden))
		return
	}
	var req bookingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	booking, err := s.svc.Bookings.CreateBooking(r.Context(), service.CreateBookingRequest{
		FarmerID:       actor.UserID,
		DriverID:       req.DriverID,
		EquipmentID:    req.EquipmentID,
		Acreage:        req.Acreage,
		Location:       models.GeoPoint{Lat: *req.Lat, Lng: *req.Lng},
		Address:        req.Address,
		Notes:          req.Notes,
		ScheduledTime:  req.ScheduledTime,
		PaymentMethod:  models.PaymentMethod(req.PaymentMethod),
		PaymentDueDate: req.PaymentDueDate,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	limit, err := queryInt(r, "limit", 50, 1, 100)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	bookings, err := s.svc.Bookings.ListUserBookings(r.Context(), actor.UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	booking, err := s.svc.Bookings.GetBooking(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleBookingAction(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	action, err := lifecycle.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	booking, err := s.svc.Bookings.ApplyAction(r.Context(), r.PathValue("id"), actor, action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// handlePayment records a payment, or a failed attempt when status is "failed".
func (s *HTTPServer) handlePayment(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	var (
		booking *models.Booking
		err     error
	)
	if req.Status == string(models.PaymentFailed) {
		booking, err = s.svc.Bookings.RecordPaymentFailure(r.Context(), r.PathValue("id"), actor, req.Reason)
	} else {
		booking, err = s.svc.Bookings.RecordPayment(r.Context(), r.PathValue("id"), actor, req.Reference)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleReminder(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	booking, err := s.svc.Bookings.SendReminder(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	limit, err := queryInt(r, "limit", 50, 1, 100)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	unread := r.URL.Query().Get("unread") == "true"
	list, err := s.svc.Inbox.List(r.Context(), actor.UserID, unread, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	if err := s.svc.Inbox.MarkRead(r.Context(), r.PathValue("id"), actor.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleVerifyDriver(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	user, err := s.svc.Users.VerifyDriver(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleBlockUser(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var req blockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Users.BlockUser(r.Context(), actor, r.PathValue("id"), req.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUnblockUser(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	if err := s.svc.Users.UnblockUser(r.Context(), actor, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	var role models.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, err := models.ParseRole(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		role = parsed
	}
	limit, err := queryInt(r, "limit", 50, 1, 200)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1_000_000)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	users, err := s.svc.Users.ListUsers(r.Context(), actor, role, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleExportBookings streams an xlsx report for bookings created between
// from and to, both dates inclusive.
func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	if actor.Role != models.RoleAdmin {
		s.fail(w, r, fmt.Errorf("%w: admin only", service.ErrForbidden))
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := s.svc.Exporter.Write(r.Context(), &buf, from, to.AddDate(0, 0, 1)); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handlePendingPayments(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	if actor.Role != models.RoleAdmin {
		s.fail(w, r, fmt.Errorf("%w: admin only", service.ErrForbidden))
		return
	}
	days, err := queryInt(r, "older_than_days", 0, 0, 365)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	olderThan := time.Now().UTC().AddDate(0, 0, -days)
	bookings, err := s.svc.Bookings.ListPendingPayments(r.Context(), olderThan)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleReopenPayment(w http.ResponseWriter, r *http.Request, actor lifecycle.Actor) {
	booking, err := s.svc.Bookings.ReopenPayment(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}
