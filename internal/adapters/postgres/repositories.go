package postgres

import (
	"gorm.io/gorm"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

type Repositories struct {
	Accounts *AccountStore
	Resets   ports.PasswordResetRepository
	Outbox   ports.OutboxRepository
}

func NewRepositories(db *gorm.DB, hasher ports.PasswordHasher, metrics ports.Metrics) Repositories {
	return Repositories{
		Accounts: NewAccountStore(db, hasher, metrics),
		Resets:   &resetRepository{db: db},
		Outbox:   &outboxRepository{db: db},
	}
}
