package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"crypto-gateway/config"
	"crypto-gateway/idempotency"
	"crypto-gateway/logging"
	"crypto-gateway/models"
	"crypto-gateway/monitoring"
	"crypto-gateway/notify"
	"crypto-gateway/providers"
	"crypto-gateway/storage"
)

const rememberTimeout = 2 * time.Second

// Reconciler applies verified gateway webhooks to stored transactions
type Reconciler struct {
	tracer    trace.Tracer
	gateways  config.GatewaySource
	providers *providers.Registry
	store     storage.TransactionStore
	guard     idempotency.Guard
	notifier  notify.Notifier
}

// NewReconciler creates a new webhook reconciler
func NewReconciler(
	tracer trace.Tracer,
	gateways config.GatewaySource,
	registry *providers.Registry,
	store storage.TransactionStore,
	guard idempotency.Guard,
	notifier notify.Notifier,
) *Reconciler {
	return &Reconciler{
		tracer:    tracer,
		gateways:  gateways,
		providers: registry,
		store:     store,
		guard:     guard,
		notifier:  notifier,
	}
}

// ProcessWebhook verifies, parses and applies one delivery. Replays,
// deliveries for terminal transactions and non-final events succeed without
// changing anything; the Outcome says which case applied.
func (r *Reconciler) ProcessWebhook(ctx context.Context, p models.Provider, body []byte, header http.Header) (models.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "process_webhook")
	defer span.End()

	span.SetAttributes(attribute.String("webhook.gateway", p.String()))
	logger := logging.WithTraceContext(span)

	adapter, err := r.providers.Provider(p)
	if err != nil {
		return r.finish(ctx, span, p, models.OutcomeRejected, err)
	}

	// Inactive gateways still reconcile payments created before deactivation
	gw, err := r.gateways.Gateway(ctx, p)
	if err != nil {
		if !errors.Is(err, config.ErrGatewayNotFound) {
			logger.Error("Gateway configuration lookup failed", zap.Error(err))
		}
		return r.finish(ctx, span, p, models.OutcomeRejected, fmt.Errorf("%w: %s", models.ErrGatewayUnavailable, p))
	}

	if !adapter.VerifyWebhook(ctx, providers.WebhookRequest{Body: body, Header: header}, gw) {
		logger.Warn("Webhook signature verification failed",
			zap.String("gateway", p.String()),
			zap.Int("body_bytes", len(body)),
		)
		return r.finish(ctx, span, p, models.OutcomeRejected, models.ErrSignatureInvalid)
	}

	ev, err := adapter.ParseWebhook(body)
	if err != nil {
		logger.Warn("Webhook payload could not be parsed",
			zap.Error(err),
			zap.String("gateway", p.String()),
		)
		return r.finish(ctx, span, p, models.OutcomeRejected, err)
	}

	status := adapter.MapStatus(ev.Event)
	span.SetAttributes(
		attribute.String("webhook.external_id", ev.ExternalID),
		attribute.String("webhook.event", ev.Event),
		attribute.String("webhook.mapped_status", string(status)),
	)

	key := idempotency.Key(p, ev.ExternalID, body)
	seen, err := r.guard.Seen(ctx, key)
	if err != nil {
		// Fall back to the store's status compare-and-swap
		logger.Warn("Webhook delivery guard unavailable", zap.Error(err))
		seen = false
	}
	if seen {
		logger.Info("Duplicate webhook delivery dropped",
			zap.String("gateway", p.String()),
			zap.String("external_id", ev.ExternalID),
		)
		return r.finish(ctx, span, p, models.OutcomeDuplicate, nil)
	}

	outcome, tx, err := r.apply(ctx, p, ev, status, body)
	if err != nil {
		logger.Error("Webhook processing failed",
			zap.Error(err),
			zap.String("gateway", p.String()),
			zap.String("external_id", ev.ExternalID),
		)
		return r.finish(ctx, span, p, models.OutcomeRejected, err)
	}

	r.audit(ctx, p, ev, status, outcome, body)

	// Unknown stays unmarked: a webhook can overtake the insert of its own
	// transaction and the provider's retry must reach the store again
	if outcome != models.OutcomeUnknown {
		r.remember(ctx, key)
	}

	if outcome == models.OutcomeApplied {
		r.publishTransition(ctx, *tx)
	}

	logger.Info("Webhook processed",
		zap.String("gateway", p.String()),
		zap.String("external_id", ev.ExternalID),
		zap.String("event", ev.Event),
		zap.String("mapped_status", string(status)),
		zap.String("outcome", string(outcome)),
	)
	return r.finish(ctx, span, p, outcome, nil)
}

func (r *Reconciler) apply(ctx context.Context, p models.Provider, ev providers.WebhookEvent, status models.Status, body []byte) (models.Outcome, *storage.ApplyResult, error) {
	if status == models.StatusPending {
		_, err := r.store.GetByExternalID(ctx, p, ev.ExternalID)
		if errors.Is(err, storage.ErrNotFound) {
			return models.OutcomeUnknown, nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", models.ErrPersistence, err)
		}
		return models.OutcomeIgnored, nil, nil
	}

	res, err := r.store.Apply(ctx, storage.Transition{
		Provider:   p,
		ExternalID: ev.ExternalID,
		Status:     status,
		Payload:    body,
	})
	if errors.Is(err, storage.ErrNotFound) {
		logging.FromContext(ctx).Warn("Webhook for unknown transaction",
			zap.Error(models.ErrUnknownTransaction),
			zap.String("gateway", p.String()),
			zap.String("external_id", ev.ExternalID),
		)
		return models.OutcomeUnknown, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	if !res.Applied {
		return models.OutcomeDuplicate, &res, nil
	}

	if res.CoinsCredited > 0 {
		monitoring.CoinsCredited.Add(ctx, res.CoinsCredited,
			metric.WithAttributes(attribute.String("gateway", p.String())),
		)
	}
	return models.OutcomeApplied, &res, nil
}

// remember marks a settled delivery, detached from the request's cancellation
func (r *Reconciler) remember(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rememberTimeout)
	defer cancel()
	if err := r.guard.Remember(ctx, key); err != nil {
		logging.FromContext(ctx).Warn("Failed to remember webhook delivery", zap.Error(err))
	}
}

func (r *Reconciler) audit(ctx context.Context, p models.Provider, ev providers.WebhookEvent, status models.Status, outcome models.Outcome, body []byte) {
	err := r.store.RecordDelivery(ctx, &models.Delivery{
		ID:           uuid.NewString(),
		Provider:     p,
		ExternalID:   ev.ExternalID,
		Event:        ev.Event,
		MappedStatus: status,
		Outcome:      outcome,
		Payload:      body,
		ReceivedAt:   time.Now().UTC(),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("Failed to record webhook delivery",
			zap.Error(err),
			zap.String("gateway", p.String()),
			zap.String("external_id", ev.ExternalID),
		)
	}
}

func (r *Reconciler) publishTransition(ctx context.Context, res storage.ApplyResult) {
	evType := notify.EventPaymentFailed
	if res.Transaction.Status == models.StatusConfirmed {
		evType = notify.EventPaymentConfirmed
	}
	ev := notify.NewEvent(evType, res.Transaction)
	ev.Coins = res.CoinsCredited

	if err := r.notifier.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("Failed to publish payment event",
			zap.Error(err),
			zap.String("transaction_id", res.Transaction.ID),
			zap.String("event_type", string(evType)),
		)
	}
}

func (r *Reconciler) finish(ctx context.Context, span trace.Span, p models.Provider, outcome models.Outcome, err error) (models.Outcome, error) {
	monitoring.WebhookCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("gateway", p.String()),
			attribute.String("outcome", string(outcome)),
		),
	)
	span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	return outcome, err
}
