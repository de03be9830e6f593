package postgres

import (
	"time"

	"github.com/google/uuid"
)

type accountModel struct {
	AccountID         uuid.UUID  `gorm:"column:account_id;type:uuid;primaryKey"`
	Email             *string    `gorm:"column:email"`
	PasswordHash      *string    `gorm:"column:password_hash"`
	EmailVerified     bool       `gorm:"column:email_verified"`
	Role              *string    `gorm:"column:role"`
	Tier              *string    `gorm:"column:tier"`
	Status            *string    `gorm:"column:status"`
	TwoFactorEnabled  bool       `gorm:"column:two_factor_enabled"`
	PasswordChangedAt *time.Time `gorm:"column:password_changed_at"`
	DisplayName       string     `gorm:"column:display_name"`
	AvatarURL         string     `gorm:"column:avatar_url"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "accounts" }

type linkedIdentityModel struct {
	IdentityID        uuid.UUID  `gorm:"column:identity_id;type:uuid;primaryKey"`
	AccountID         uuid.UUID  `gorm:"column:account_id;type:uuid"`
	Kind              string     `gorm:"column:kind"`
	ChainFamily       *string    `gorm:"column:chain_family"`
	Address           *string    `gorm:"column:address"`
	ChainID           *string    `gorm:"column:chain_id"`
	LastLoginAt       *time.Time `gorm:"column:last_login_at"`
	Provider          *string    `gorm:"column:provider"`
	ProviderAccountID *string    `gorm:"column:provider_account_id"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
}

func (linkedIdentityModel) TableName() string { return "linked_identities" }

type passwordResetTokenModel struct {
	TokenID   uuid.UUID  `gorm:"column:token_id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID  `gorm:"column:account_id;type:uuid"`
	TokenHash string     `gorm:"column:token_hash"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	ExpiresAt time.Time  `gorm:"column:expires_at"`
	UsedAt    *time.Time `gorm:"column:used_at"`
}

func (passwordResetTokenModel) TableName() string { return "password_reset_tokens" }

type identityOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
}

func (identityOutboxModel) TableName() string { return "identity_outbox" }
