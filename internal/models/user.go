package models

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
	// RoleSystem is used for scheduler-initiated actions such as automatic reminders.
	RoleSystem Role = "system"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleFarmer, RoleDriver, RoleAdmin, RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

type User struct {
	ID             string     `json:"id"`
	Role           Role       `json:"role"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	Village        string     `json:"village,omitempty"`
	Location       *GeoPoint  `json:"location,omitempty"`
	Verified       bool       `json:"verified"`
	Blocked        bool       `json:"blocked"`
	BlockedReason  string     `json:"blocked_reason,omitempty"`
	TelegramChatID int64      `json:"telegram_chat_id,omitempty"`
	FCMToken       string     `json:"-"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CanBeBooked reports whether a driver is visible to farmers.
func (u *User) CanBeBooked() bool {
	return u != nil && u.Role == RoleDriver && u.Verified && !u.Blocked
}

func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return u.Phone
}

// TelegramLink is a short one-time code that binds a Telegram chat to a user.
type TelegramLink struct {
	Code      string    `json:"code"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
