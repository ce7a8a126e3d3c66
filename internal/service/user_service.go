package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"krushilink/internal/domain"
	"krushilink/internal/lifecycle"
	"krushilink/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type RegisterRequest struct {
	Role     models.Role
	Name     string
	Phone    string
	Village  string
	Location *models.GeoPoint
}

type UserService struct {
	repo   domain.UserRepository
	geo    domain.GeoIndex
	logger *zerolog.Logger
	now    func() time.Time
}

func NewUserService(repo domain.UserRepository, geo domain.GeoIndex, logger *zerolog.Logger) *UserService {
	l := logger.With().Str("component", "user_service").Logger()
	return &UserService{
		repo:   repo,
		geo:    geo,
		logger: &l,
		now:    time.Now,
	}
}

// Register creates a farmer or a driver. Drivers start unverified and are not
// bookable until an admin verifies them.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if req.Role != models.RoleFarmer && req.Role != models.RoleDriver {
		return nil, validationError("role must be farmer or driver")
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, validationError("phone is required")
	}
	if req.Location != nil && !req.Location.Valid() {
		return nil, validationError("location out of range")
	}

	user := &models.User{
		ID:       uuid.NewString(),
		Role:     req.Role,
		Name:     strings.TrimSpace(req.Name),
		Phone:    phone,
		Village:  strings.TrimSpace(req.Village),
		Location: req.Location,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, storeError(err, "register user")
	}
	s.logger.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("User registered")
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

func (s *UserService) GetUserByTelegramChatID(ctx context.Context, chatID int64) (*models.User, error) {
	user, err := s.repo.GetUserByTelegramChatID(ctx, chatID)
	if err != nil {
		return nil, storeError(err, "telegram user")
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id, name, village string, location *models.GeoPoint) (*models.User, error) {
	if location != nil && !location.Valid() {
		return nil, validationError("location out of range")
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" {
		user.Name = name
	}
	if village = strings.TrimSpace(village); village != "" {
		user.Village = village
	}
	if location != nil {
		user.Location = location
	}
	if err := s.repo.UpdateUserProfile(ctx, user); err != nil {
		return nil, storeError(err, "update profile")
	}
	return user, nil
}

func (s *UserService) SetFCMToken(ctx context.Context, id, token string) error {
	return storeError(s.repo.SetFCMToken(ctx, id, strings.TrimSpace(token)), "fcm token")
}

// LinkTelegram binds a chat to the user. A chat can belong to one user only.
func (s *UserService) LinkTelegram(ctx context.Context, id string, chatID int64) error {
	if chatID == 0 {
		return validationError("chat id is required")
	}
	return storeError(s.repo.SetTelegramChatID(ctx, id, chatID), "link telegram")
}

// AssignTelegramChat is the admin override for linking a chat without a code.
func (s *UserService) AssignTelegramChat(ctx context.Context, admin lifecycle.Actor, userID string, chatID int64) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	if err := s.LinkTelegram(ctx, userID, chatID); err != nil {
		return err
	}
	s.logger.Info().Str("admin_id", admin.UserID).Str("user_id", userID).Int64("chat_id", chatID).Msg("Telegram chat assigned")
	return nil
}

// IssueTelegramLink creates a one-time code the user sends to the bot as /start CODE.
func (s *UserService) IssueTelegramLink(ctx context.Context, id string) (*models.TelegramLink, error) {
	if _, err := s.GetUser(ctx, id); err != nil {
		return nil, err
	}
	code, err := linkCode()
	if err != nil {
		return nil, fmt.Errorf("generate link code: %w", err)
	}
	link := &models.TelegramLink{
		Code:      code,
		UserID:    id,
		ExpiresAt: s.now().Add(models.TelegramLinkTTL),
	}
	if err := s.repo.CreateTelegramLink(ctx, link); err != nil {
		return nil, storeError(err, "telegram link")
	}
	return link, nil
}

// CompleteTelegramLink consumes a code received by the bot and links the chat.
func (s *UserService) CompleteTelegramLink(ctx context.Context, code string, chatID int64) (*models.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, validationError("link code is required")
	}
	userID, err := s.repo.ConsumeTelegramLink(ctx, code, s.now())
	if err != nil {
		return nil, storeError(err, "telegram link")
	}
	if err := s.LinkTelegram(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

func (s *UserService) VerifyDriver(ctx context.Context, admin lifecycle.Actor, driverID string) (*models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	driver, err := s.GetUser(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver.Role != models.RoleDriver {
		return nil, validationError("user %s is not a driver", driverID)
	}
	now := s.now()
	if err := s.repo.SetUserVerified(ctx, driverID, now); err != nil {
		return nil, storeError(err, "verify driver")
	}
	driver.Verified = true
	driver.VerifiedAt = &now
	s.logger.Info().Str("admin_id", admin.UserID).Str("driver_id", driverID).Msg("Driver verified")
	return driver, nil
}

// BlockUser hides a blocked driver from discovery right away.
func (s *UserService) BlockUser(ctx context.Context, admin lifecycle.Actor, userID, reason string) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	if err := s.repo.SetUserBlocked(ctx, userID, true, strings.TrimSpace(reason)); err != nil {
		return storeError(err, "block user")
	}
	if s.geo != nil {
		if err := s.geo.RemoveLocation(ctx, userID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("remove blocked user location")
		}
	}
	s.logger.Info().Str("admin_id", admin.UserID).Str("user_id", userID).Str("reason", reason).Msg("User blocked")
	return nil
}

func (s *UserService) UnblockUser(ctx context.Context, admin lifecycle.Actor, userID string) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	return storeError(s.repo.SetUserBlocked(ctx, userID, false, ""), "unblock user")
}

func (s *UserService) ListUsers(ctx context.Context, admin lifecycle.Actor, role models.Role, limit, offset int) ([]*models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.repo.ListUsers(ctx, role, limit, offset)
	if err != nil {
		return nil, storeError(err, "list users")
	}
	return users, nil
}

func requireAdmin(actor lifecycle.Actor) error {
	if actor.Role != models.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

const linkAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func linkCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = linkAlphabet[int(b)%len(linkAlphabet)]
	}
	return string(buf), nil
}
