package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/async"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/users"
	"github.com/stripe/stripe-go/v79"
)

// RetentionNotifier sends the offer mail to a user about to churn
type RetentionNotifier interface {
	SendRetentionEmail(ctx context.Context, to string) error
}

const retentionEmailTimeout = 30 * time.Second

// Reconciler applies decoded processor events to user state. Every
// mutation is a single-row update joined by the processor customer id.
type Reconciler struct {
	users     users.Store
	plans     *Registry
	processor Processor
	notifier  RetentionNotifier
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewReconciler creates a new Reconciler. notifier may be nil, in which
// case retention emails are skipped.
func NewReconciler(userStore users.Store, plans *Registry, processor Processor, notifier RetentionNotifier, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Reconciler{
		users:     userStore,
		plans:     plans,
		processor: processor,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
	}
}

// Apply runs the reconciliation rule of the event
func (r *Reconciler) Apply(ctx context.Context, evt Event) error {
	return evt.apply(ctx, r)
}

func (r *Reconciler) update(ctx context.Context, customerID string, update users.PaymentUpdate) (*users.User, error) {
	user, err := r.users.UpdateByProcessorID(ctx, customerID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update user for customer %s: %w", customerID, err)
	}
	return user, nil
}

func (e CheckoutSessionCompleted) apply(ctx context.Context, r *Reconciler) error {
	priceIDs, err := r.processor.CheckoutSessionPriceIDs(ctx, e.SessionID)
	if err != nil {
		return &apperr.Error{
			Kind:    apperr.KindInternal,
			Code:    apperr.CodeInternal,
			Message: "Error parsing Stripe line items",
			Err:     err,
		}
	}
	priceID, err := singlePriceID(priceIDs)
	if err != nil {
		return err
	}
	plan, err := r.plans.ByPriceID(priceID)
	if err != nil {
		return err
	}

	// credit packs are granted on payment_intent.succeeded
	if plan.Effect.Kind == EffectCredits {
		return nil
	}

	planID := string(plan.ID)
	_, err = r.update(ctx, e.CustomerID, users.PaymentUpdate{SubscriptionPlan: &planID})
	return err
}

func (e InvoicePaid) apply(ctx context.Context, r *Reconciler) error {
	paid := e.PeriodStart
	_, err := r.update(ctx, e.CustomerID, users.PaymentUpdate{DatePaid: &paid})
	return err
}

func (e PaymentIntentSucceeded) apply(ctx context.Context, r *Reconciler) error {
	// subscription payments are reconciled through invoice.paid
	if e.HasInvoice {
		return nil
	}
	if e.PriceID == "" {
		return apperr.Validation("No price id found in payment intent")
	}
	plan, err := r.plans.ByPriceID(e.PriceID)
	if err != nil {
		return err
	}
	if plan.Effect.Kind == EffectSubscription {
		return nil
	}

	paid := e.Created
	if _, err := r.update(ctx, e.CustomerID, users.PaymentUpdate{
		CreditsIncrement: plan.Effect.Amount,
		DatePaid:         &paid,
	}); err != nil {
		return err
	}
	r.metrics.CreditsGrantedTotal.Add(float64(plan.Effect.Amount))
	return nil
}

func (e SubscriptionUpdated) apply(ctx context.Context, r *Reconciler) error {
	priceID, err := singlePriceID(e.PriceIDs)
	if err != nil {
		return err
	}
	plan, err := r.plans.ByPriceID(priceID)
	if err != nil {
		return err
	}

	var status users.SubscriptionStatus
	switch e.Status {
	case stripe.SubscriptionStatusActive:
		status = users.StatusActive
		if e.CancelAtPeriodEnd {
			status = users.StatusCancelAtPeriodEnd
		}
	case stripe.SubscriptionStatusPastDue:
		status = users.StatusPastDue
	default:
		r.logger.WithFields(map[string]interface{}{
			"customer_id": e.CustomerID,
			"status":      string(e.Status),
		}).Debug("Subscription status has no mapping, leaving user unchanged")
		return nil
	}

	planID := string(plan.ID)
	user, err := r.update(ctx, e.CustomerID, users.PaymentUpdate{
		SubscriptionPlan:   &planID,
		SubscriptionStatus: &status,
	})
	if err != nil {
		return err
	}

	if status == users.StatusCancelAtPeriodEnd && user.HasEmail() {
		r.sendRetentionEmail(ctx, *user.Email)
	}
	return nil
}

func (e SubscriptionDeleted) apply(ctx context.Context, r *Reconciler) error {
	status := users.StatusDeleted
	_, err := r.update(ctx, e.CustomerID, users.PaymentUpdate{SubscriptionStatus: &status})
	return err
}

// sendRetentionEmail mails the user in the background; a failed send never
// fails the webhook that triggered it
func (r *Reconciler) sendRetentionEmail(ctx context.Context, to string) {
	if r.notifier == nil {
		r.metrics.RetentionEmailsTotal.WithLabelValues("skipped").Inc()
		return
	}

	async.SafeGo(context.WithoutCancel(ctx), r.logger, retentionEmailTimeout, "retention email", func(ctx context.Context) error {
		if err := r.notifier.SendRetentionEmail(ctx, to); err != nil {
			r.metrics.RetentionEmailsTotal.WithLabelValues("error").Inc()
			return err
		}
		r.metrics.RetentionEmailsTotal.WithLabelValues("sent").Inc()
		return nil
	})
}
