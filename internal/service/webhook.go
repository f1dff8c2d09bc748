package service

import (
	"context"
	"sync"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/config"
	"donation-platform/internal/model"
	"donation-platform/internal/repository"

	"github.com/rs/zerolog"
)

const maxRedriveBackoff = 6 * time.Hour

type ReceiveResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
}

// WebhookService accepts signed deliveries, records them in the inbox and
// processes them off the request path.
type WebhookService interface {
	Receive(ctx context.Context, payload []byte, signatureHeader string) (*ReceiveResult, error)
	RedriveDue(ctx context.Context) (int, error)
	RunRedrive(ctx context.Context, interval time.Duration)
	// Wait blocks until every dispatched event has finished processing.
	Wait()
}

type webhookServiceImpl struct {
	verifier EventVerifier
	router   EventRouter
	inbox    repository.WebhookEventRepository
	cfg      config.Inbox
	log      zerolog.Logger
	inflight sync.WaitGroup
	now      func() time.Time
}

func NewWebhookService(
	verifier EventVerifier,
	router EventRouter,
	inbox repository.WebhookEventRepository,
	inboxCfg *config.Inbox,
	log zerolog.Logger,
) WebhookService {
	cfg := *inboxCfg
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = time.Minute
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &webhookServiceImpl{
		verifier: verifier,
		router:   router,
		inbox:    inbox,
		cfg:      cfg,
		log:      log.With().Str("component", "webhook").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *webhookServiceImpl) Receive(ctx context.Context, payload []byte, signatureHeader string) (*ReceiveResult, error) {
	const op = "webhook.Receive"

	evt, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		s.log.Warn().
			Bool("security", true).
			Err(err).
			Int("payload_bytes", len(payload)).
			Msg("rejected webhook delivery")
		return nil, err
	}

	result := &ReceiveResult{EventID: evt.ID, EventType: evt.ProcessorType}
	if evt.Type == model.EventUnknown {
		result.Ignored = true
		s.log.Debug().Str("event_id", evt.ID).Str("event_type", evt.ProcessorType).Msg("ignoring unhandled event type")
		return result, nil
	}

	stored, created, err := s.inbox.Record(ctx, &model.WebhookEvent{
		EventID:        evt.ID,
		EventType:      evt.ProcessorType,
		Payload:        string(payload),
		EventCreatedAt: evt.CreatedAt,
		Status:         model.WebhookEventPending,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	if !created && stored.Done() {
		result.Duplicate = true
		s.log.Info().Str("event_id", evt.ID).Str("status", string(stored.Status)).Msg("duplicate delivery acknowledged")
		return result, nil
	}

	attempts := stored.Attempts
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		// the delivery request is already answered, so processing gets its own deadline
		pctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
		defer cancel()
		s.process(pctx, evt, attempts)
	}()

	return result, nil
}

func (s *webhookServiceImpl) process(ctx context.Context, evt *model.InboundEvent, attempts int) {
	log := s.log.With().Str("event_id", evt.ID).Str("event_type", evt.ProcessorType).Logger()

	err := s.router.Route(ctx, evt)
	now := s.now()

	// a cancelled processing context must not prevent recording the outcome
	markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if markErr := s.inbox.MarkProcessed(markCtx, evt.ID, now); markErr != nil {
			log.Error().Err(markErr).Msg("failed to mark event processed")
		}
		log.Debug().Msg("event processed")

	case !apperr.Retryable(err):
		if markErr := s.inbox.MarkDropped(markCtx, evt.ID, err.Error(), now); markErr != nil {
			log.Error().Err(markErr).Msg("failed to mark event dropped")
		}
		log.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("event dropped")

	default:
		next := now.Add(s.backoff(attempts))
		if markErr := s.inbox.MarkFailed(markCtx, evt.ID, err.Error(), next); markErr != nil {
			log.Error().Err(markErr).Msg("failed to mark event failed")
		}
		ev := log.Error().Err(err).Str("kind", string(apperr.KindOf(err))).Int("attempt", attempts+1)
		if attempts+1 >= s.cfg.MaxAttempts {
			ev.Msg("event failed, giving up")
			return
		}
		ev.Time("next_attempt_at", next).Msg("event failed, will retry")
	}
}

func (s *webhookServiceImpl) backoff(attempts int) time.Duration {
	delay := s.cfg.BaseBackoff
	for i := 0; i < attempts && delay < maxRedriveBackoff; i++ {
		delay *= 2
	}
	if delay > maxRedriveBackoff {
		delay = maxRedriveBackoff
	}
	return delay
}

// RedriveDue processes failed events whose backoff has elapsed and pending events
// abandoned past the processing deadline, one at a time.
func (s *webhookServiceImpl) RedriveDue(ctx context.Context) (int, error) {
	const op = "webhook.RedriveDue"

	// a pending row older than the processing deadline lost its worker, e.g. to a crash
	now := s.now()
	due, err := s.inbox.ListDue(ctx, now, now.Add(-s.cfg.ProcessTimeout), s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, op, err)
	}

	for _, row := range due {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		evt, err := s.verifier.Decode([]byte(row.Payload))
		if err != nil {
			if markErr := s.inbox.MarkDropped(ctx, row.EventID, err.Error(), s.now()); markErr != nil {
				s.log.Error().Err(markErr).Str("event_id", row.EventID).Msg("failed to mark event dropped")
			}
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
		s.process(pctx, evt, row.Attempts)
		cancel()
	}

	if len(due) > 0 {
		s.log.Info().Int("events", len(due)).Msg("redrive pass finished")
	}
	return len(due), nil
}

func (s *webhookServiceImpl) RunRedrive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RedriveDue(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("redrive pass failed")
			}
		}
	}
}

func (s *webhookServiceImpl) Wait() {
	s.inflight.Wait()
}
