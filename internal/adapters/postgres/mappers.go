package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

// toDomainAccount maps a row, defaulting missing or unknown role/tier/status
// so a partially written account still resolves to a usable profile.
func toDomainAccount(ctx context.Context, row accountModel, metrics ports.Metrics) domain.Account {
	role, roleDefaulted := domain.ParseRole(deref(row.Role))
	tier, tierDefaulted := domain.ParseTier(deref(row.Tier))
	status, statusDefaulted := domain.ParseStatus(deref(row.Status))
	for field, defaulted := range map[string]bool{"role": roleDefaulted, "tier": tierDefaulted, "status": statusDefaulted} {
		if !defaulted {
			continue
		}
		metrics.ObserveProfileDefault(field)
		adapterLogger().WarnContext(ctx, "account profile field defaulted",
			"operation", "map_account",
			"outcome", "degraded",
			"account_id", row.AccountID.String(),
			"field", field,
		)
	}

	return domain.Account{
		ID:                row.AccountID,
		Email:             deref(row.Email),
		PasswordHash:      deref(row.PasswordHash),
		EmailVerified:     row.EmailVerified,
		Role:              role,
		Tier:              tier,
		Status:            status,
		TwoFactorEnabled:  row.TwoFactorEnabled,
		PasswordChangedAt: utcPtr(row.PasswordChangedAt),
		DisplayName:       row.DisplayName,
		AvatarURL:         row.AvatarURL,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
}

func toAccountModel(account domain.Account, now time.Time) accountModel {
	return accountModel{
		AccountID:         account.ID,
		Email:             nullableString(account.Email),
		PasswordHash:      nullableString(account.PasswordHash),
		EmailVerified:     account.EmailVerified,
		Role:              nullableString(string(account.Role)),
		Tier:              nullableString(string(account.Tier)),
		Status:            nullableString(string(account.Status)),
		TwoFactorEnabled:  account.TwoFactorEnabled,
		PasswordChangedAt: account.PasswordChangedAt,
		DisplayName:       account.DisplayName,
		AvatarURL:         account.AvatarURL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func toDomainIdentity(row linkedIdentityModel) domain.LinkedIdentity {
	identity := domain.LinkedIdentity{
		ID:        row.IdentityID,
		AccountID: row.AccountID,
		Kind:      domain.IdentityKind(row.Kind),
		CreatedAt: row.CreatedAt.UTC(),
	}
	switch identity.Kind {
	case domain.IdentityWallet:
		identity.Wallet = &domain.WalletIdentity{
			ChainFamily: domain.ChainFamily(deref(row.ChainFamily)),
			Address:     deref(row.Address),
			ChainID:     deref(row.ChainID),
			LastLoginAt: utcPtr(row.LastLoginAt),
		}
	case domain.IdentityOAuth:
		identity.OAuth = &domain.OAuthIdentity{
			Provider:          deref(row.Provider),
			ProviderAccountID: deref(row.ProviderAccountID),
		}
	}
	return identity
}

func toIdentityModel(accountID uuid.UUID, identity domain.LinkedIdentity, now time.Time) linkedIdentityModel {
	rec := linkedIdentityModel{
		IdentityID: uuid.New(),
		AccountID:  accountID,
		Kind:       string(identity.Kind),
		CreatedAt:  now,
	}
	if identity.Wallet != nil {
		rec.ChainFamily = nullableString(string(identity.Wallet.ChainFamily))
		rec.Address = nullableString(identity.Wallet.Address)
		rec.ChainID = nullableString(identity.Wallet.ChainID)
	}
	if identity.OAuth != nil {
		rec.Provider = nullableString(identity.OAuth.Provider)
		rec.ProviderAccountID = nullableString(identity.OAuth.ProviderAccountID)
	}
	return rec
}

func toOutboxRecord(row identityOutboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
