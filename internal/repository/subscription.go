package repository

import (
	"context"

	"donation-platform/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionRepository stores one SubscriptionRecord per account.
// Finders return (nil, nil) when nothing matches.
type SubscriptionRepository interface {
	FindByAccountID(ctx context.Context, tx *gorm.DB, accountID string) (*model.SubscriptionRecord, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*model.SubscriptionRecord, error)
	FindByCustomerID(ctx context.Context, customerID string) (*model.SubscriptionRecord, error)
	Upsert(ctx context.Context, tx *gorm.DB, rec *model.SubscriptionRecord) error
	ListAccountIDs(ctx context.Context) ([]string, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *subscriptionRepoImpl) FindByAccountID(ctx context.Context, tx *gorm.DB, accountID string) (*model.SubscriptionRecord, error) {
	return r.findOne(ctx, r.conn(tx), "account_id = ?", accountID)
}

func (r *subscriptionRepoImpl) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*model.SubscriptionRecord, error) {
	return r.findOne(ctx, r.db, "external_subscription_id = ?", subscriptionID)
}

func (r *subscriptionRepoImpl) FindByCustomerID(ctx context.Context, customerID string) (*model.SubscriptionRecord, error) {
	return r.findOne(ctx, r.db, "external_customer_id = ?", customerID)
}

func (r *subscriptionRepoImpl) findOne(ctx context.Context, db *gorm.DB, query string, arg string) (*model.SubscriptionRecord, error) {
	if arg == "" {
		return nil, nil
	}

	var recs []model.SubscriptionRecord
	err := db.WithContext(ctx).
		Where(query, arg).
		Order("updated_at DESC").
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	return &recs[0], nil
}

func (r *subscriptionRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, rec *model.SubscriptionRecord) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"tier",
			"external_customer_id",
			"external_subscription_id",
			"external_price_id",
			"start_date",
			"current_period_end",
			"cancel_at_period_end",
			"last_event_id",
			"updated_at",
		}),
	}).Create(rec).Error
}

func (r *subscriptionRepoImpl) ListAccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.SubscriptionRecord{}).
		Order("account_id").
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, err
	}

	return ids, nil
}
