package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierElite Tier = "elite"
)

// Account is the single logical identity every linked credential resolves to.
// Accounts are never hard-deleted here; deletion belongs to the admin surface.
type Account struct {
	ID                uuid.UUID
	Email             string
	PasswordHash      string
	EmailVerified     bool
	Role              Role
	Status            Status
	Tier              Tier
	TwoFactorEnabled  bool
	PasswordChangedAt *time.Time
	DisplayName       string
	AvatarURL         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}

func (a Account) IsActive() bool {
	return a.Status.IsUsable()
}

func (s Status) IsUsable() bool {
	return s == StatusActive
}

// ParseRole maps a stored role onto the known set.
// The second return value reports whether the default was applied.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, false
	case RoleAdmin:
		return RoleAdmin, false
	default:
		return RoleUser, true
	}
}

// ParseTier maps a stored tier onto the known set, defaulting to free.
func ParseTier(raw string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierFree:
		return TierFree, false
	case TierPro:
		return TierPro, false
	case TierElite:
		return TierElite, false
	default:
		return TierFree, true
	}
}

// ParseStatus defaults unknown values to active so that a corrupt status
// never locks an account out on its own.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, false
	case StatusSuspended:
		return StatusSuspended, false
	case StatusBanned:
		return StatusBanned, false
	default:
		return StatusActive, true
	}
}

// Profile is the read model consumed by session refresh and internal callers.
type Profile struct {
	AccountID         uuid.UUID
	Email             string
	Role              Role
	Tier              Tier
	Status            Status
	PasswordChangedAt *time.Time
}

func (a Account) Profile() Profile {
	return Profile{
		AccountID:         a.ID,
		Email:             a.Email,
		Role:              a.Role,
		Tier:              a.Tier,
		Status:            a.Status,
		PasswordChangedAt: a.PasswordChangedAt,
	}
}
