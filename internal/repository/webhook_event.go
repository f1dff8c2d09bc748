package repository

import (
	"context"
	"time"

	"donation-platform/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEventRepository is the inbox of received processor events.
type WebhookEventRepository interface {
	// Record stores evt unless its id is already known; it returns the stored row
	// and whether this call created it.
	Record(ctx context.Context, evt *model.WebhookEvent) (*model.WebhookEvent, bool, error)
	Get(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
	MarkDropped(ctx context.Context, eventID, reason string, at time.Time) error
	MarkFailed(ctx context.Context, eventID, reason string, nextAttemptAt time.Time) error
	// ListDue returns failed events whose backoff has elapsed, plus pending events
	// received before stuckBefore whose processing never reported an outcome.
	ListDue(ctx context.Context, now, stuckBefore time.Time, maxAttempts, limit int) ([]*model.WebhookEvent, error)
}

type webhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepositoryImpl{db: db}
}

func (r *webhookEventRepositoryImpl) Record(ctx context.Context, evt *model.WebhookEvent) (*model.WebhookEvent, bool, error) {
	if evt.Status == "" {
		evt.Status = model.WebhookEventPending
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(evt)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return evt, true, nil
	}

	existing, err := r.Get(ctx, evt.EventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *webhookEventRepositoryImpl) Get(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	var evt model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&evt).Error
	if err != nil {
		return nil, err
	}

	return &evt, nil
}

func (r *webhookEventRepositoryImpl) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":          model.WebhookEventProcessed,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      "",
			"next_attempt_at": nil,
			"processed_at":    at,
		}).Error
}

func (r *webhookEventRepositoryImpl) MarkDropped(ctx context.Context, eventID, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":          model.WebhookEventDropped,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      reason,
			"next_attempt_at": nil,
			"processed_at":    at,
		}).Error
}

func (r *webhookEventRepositoryImpl) MarkFailed(ctx context.Context, eventID, reason string, nextAttemptAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Where("status IN ?", []model.WebhookEventStatus{model.WebhookEventPending, model.WebhookEventFailed}).
		Updates(map[string]interface{}{
			"status":          model.WebhookEventFailed,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      reason,
			"next_attempt_at": nextAttemptAt,
		}).Error
}

func (r *webhookEventRepositoryImpl) ListDue(ctx context.Context, now, stuckBefore time.Time, maxAttempts, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where(
			r.db.Where("status = ? AND next_attempt_at <= ?", model.WebhookEventFailed, now).
				Or("status = ? AND created_at <= ?", model.WebhookEventPending, stuckBefore),
		).
		Where("attempts < ?", maxAttempts).
		Order("event_created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	return events, nil
}
