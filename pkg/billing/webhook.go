package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/observability"
)

// errEventInFlight is returned for a redelivery that races an unfinished
// attempt. The 503 makes the processor redeliver later.
var errEventInFlight = &apperr.Error{
	Kind:    apperr.KindInternal,
	Code:    apperr.CodeInternal,
	Message: "Webhook event is still being processed",
	Status:  http.StatusServiceUnavailable,
}

// WebhookService verifies, decodes and reconciles processor webhooks
type WebhookService struct {
	processor  Processor
	reconciler *Reconciler
	claims     EventClaims
	metrics    *observability.Metrics
}

// NewWebhookService creates a new WebhookService. claims may be nil to
// process every delivery.
func NewWebhookService(processor Processor, reconciler *Reconciler, claims EventClaims, metrics *observability.Metrics) *WebhookService {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &WebhookService{
		processor:  processor,
		reconciler: reconciler,
		claims:     claims,
		metrics:    metrics,
	}
}

// Handle processes one webhook delivery. The returned error is always an
// *apperr.Error whose status is the response status for the processor.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) error {
	if signature == "" {
		s.record("unknown", "malformed")
		return apperr.Validation("Stripe webhook signature not provided")
	}

	evt, err := s.processor.ConstructEvent(payload, signature)
	if err != nil {
		s.record("unknown", "invalid_signature")
		return &apperr.Error{
			Kind:    apperr.KindInternal,
			Code:    apperr.CodeInternal,
			Message: "Error constructing Stripe webhook event",
			Err:     err,
		}
	}

	eventType := string(evt.Type)
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"event_id":   evt.ID,
		"event_type": eventType,
	})

	decoded, err := DecodeEvent(evt)
	if err != nil {
		if apperr.IsKind(err, apperr.KindUnhandledEvent) {
			s.record(eventType, "unhandled")
			logger.Warn("Unhandled webhook event type")
		} else {
			s.record(eventType, "malformed")
			logger.WithError(err).Warn("Malformed webhook event")
		}
		return err
	}

	claimed := s.claims != nil && evt.ID != ""
	if claimed {
		state, err := s.claims.Claim(ctx, evt.ID, eventType)
		if err != nil {
			s.record(eventType, "failed")
			return apperr.Internal(err)
		}
		switch state {
		case ClaimProcessed:
			s.record(eventType, "duplicate")
			logger.Info("Webhook event already processed")
			return nil
		case ClaimInFlight:
			s.record(eventType, "in_flight")
			logger.Info("Webhook event is being processed by another delivery")
			return errEventInFlight
		}
	}

	if err := s.reconciler.Apply(ctx, decoded); err != nil {
		if claimed {
			if releaseErr := s.claims.Release(context.WithoutCancel(ctx), evt.ID); releaseErr != nil {
				logger.WithError(releaseErr).Error("Failed to release webhook event claim")
			}
		}
		s.record(eventType, "failed")
		logger.WithField("customer_id", decoded.Customer()).WithError(err).Error("Failed to reconcile webhook event")
		return classifyReconcileError(err)
	}

	if claimed {
		// applied and acknowledged, so no redelivery will follow
		if err := s.claims.Complete(context.WithoutCancel(ctx), evt.ID); err != nil {
			logger.WithError(err).Error("Failed to mark webhook event processed")
		}
	}

	s.record(eventType, "processed")
	logger.WithField("customer_id", decoded.Customer()).Info("Webhook event reconciled")
	return nil
}

func (s *WebhookService) record(eventType, outcome string) {
	s.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// classifyReconcileError keeps validation, internal and conflict errors as
// they are and reports anything else as a generic processing failure
func classifyReconcileError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindValidation, apperr.KindInternal, apperr.KindConflict, apperr.KindUnhandledEvent:
			return err
		}
	}
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Code:    apperr.CodeValidationFailed,
		Message: "Error processing Stripe webhook event",
		Err:     err,
	}
}
