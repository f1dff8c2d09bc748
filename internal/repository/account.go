package repository

import (
	"context"
	"time"

	"donation-platform/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository writes only the billing-owned columns of accounts.
// An account row that does not exist yet is created with just those columns.
type AccountRepository interface {
	FindByID(ctx context.Context, accountID string) (*model.Account, error)
	UpsertAccess(ctx context.Context, tx *gorm.DB, flag model.AccountAccessFlag) error
	MarkDonated(ctx context.Context, tx *gorm.DB, accountID string, amount int64, at time.Time) error
	ListWithAccess(ctx context.Context) ([]string, error)
}

type accountRepoImpl struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepoImpl{
		db: db,
	}
}

func (r *accountRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *accountRepoImpl) FindByID(ctx context.Context, accountID string) (*model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).
		Where("id = ?", accountID).
		Limit(1).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	return &accounts[0], nil
}

func (r *accountRepoImpl) UpsertAccess(ctx context.Context, tx *gorm.DB, flag model.AccountAccessFlag) error {
	tier := flag.Tier
	if tier == "" {
		tier = model.TierFree
	}

	account := &model.Account{
		ID:                 flag.AccountID,
		HasActiveAccess:    flag.HasActiveAccess,
		SubscriptionStatus: flag.Status,
		SubscriptionTier:   tier,
		AccessUpdatedAt:    flag.UpdatedAt,
	}

	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"has_active_access":   flag.HasActiveAccess,
			"subscription_status": flag.Status,
			"subscription_tier":   tier,
			"access_updated_at":   flag.UpdatedAt,
			"updated_at":          time.Now(),
		}),
	}).Create(account).Error
}

func (r *accountRepoImpl) MarkDonated(ctx context.Context, tx *gorm.DB, accountID string, amount int64, at time.Time) error {
	account := &model.Account{
		ID:                 accountID,
		SubscriptionTier:   model.TierFree,
		HasDonated:         true,
		LastDonationAt:     &at,
		LastDonationAmount: amount,
	}

	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"has_donated":          true,
			"last_donation_at":     at,
			"last_donation_amount": amount,
			"updated_at":           time.Now(),
		}),
	}).Create(account).Error
}

func (r *accountRepoImpl) ListWithAccess(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("has_active_access = ?", true).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}

	return ids, nil
}
