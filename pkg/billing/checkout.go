package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/users"
)

// CheckoutService starts payments for authenticated users
type CheckoutService struct {
	processor Processor
	users     users.Store
	plans     *Registry
	clientURL string
	portalURL string
	metrics   *observability.Metrics
}

// NewCheckoutService creates a new CheckoutService. clientURL is the web
// client origin the processor redirects back to; portalURL is the static
// customer portal link.
func NewCheckoutService(processor Processor, userStore users.Store, plans *Registry, clientURL, portalURL string, metrics *observability.Metrics) *CheckoutService {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &CheckoutService{
		processor: processor,
		users:     userStore,
		plans:     plans,
		clientURL: strings.TrimRight(clientURL, "/"),
		portalURL: portalURL,
		metrics:   metrics,
	}
}

// CreateCheckoutSession creates a checkout session for the plan and records
// the processor customer on the user
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, user *users.User, planID PlanID) (*CheckoutSession, error) {
	if user == nil {
		return nil, apperr.Unauthenticated("Only authenticated users are allowed to perform this operation")
	}

	plan, ok := s.plans.Get(planID)
	if !ok {
		return nil, apperr.Validation("Operation arguments validation failed: unknown plan %q", planID)
	}
	if plan.PriceID == "" {
		return nil, apperr.Internal(fmt.Errorf("plan %q has no price id configured", planID))
	}
	if !user.HasEmail() {
		return nil, apperr.Forbidden("User needs an email to make a payment.")
	}

	logger := observability.FromContext(ctx).WithField("plan", string(planID))

	session, err := s.createSession(ctx, user, plan)
	if err != nil {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(string(planID), "error").Inc()
		logger.WithError(err).Error("Failed to create checkout session")
		return nil, err
	}

	s.metrics.CheckoutSessionsTotal.WithLabelValues(string(planID), "created").Inc()
	logger.WithField("session_id", session.SessionID).Info("Checkout session created")
	return session, nil
}

func (s *CheckoutService) createSession(ctx context.Context, user *users.User, plan Plan) (*CheckoutSession, error) {
	customerID, err := s.processor.EnsureCustomer(ctx, *user.Email)
	if err != nil {
		return nil, err
	}

	session, err := s.processor.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    plan.PriceID,
		Mode:       plan.CheckoutMode(),
		SuccessURL: s.clientURL + "/checkout?success=true",
		CancelURL:  s.clientURL + "/checkout?canceled=true",
	})
	if err != nil {
		return nil, err
	}

	if err := s.users.SetProcessorID(ctx, user.ID, customerID); err != nil {
		return nil, err
	}

	if session.SessionURL == "" {
		return nil, &apperr.Error{
			Kind:    apperr.KindInternal,
			Code:    apperr.CodeInternal,
			Message: "Error creating Stripe Checkout Session",
			Err:     errors.New("processor returned an empty session url"),
		}
	}
	return session, nil
}

// CustomerPortalURL returns the processor's customer portal link
func (s *CheckoutService) CustomerPortalURL(ctx context.Context, user *users.User) (string, error) {
	if user == nil {
		return "", apperr.Unauthenticated("Only authenticated users are allowed to perform this operation")
	}
	if s.portalURL == "" {
		return "", apperr.Internal(errors.New("customer portal url is not configured"))
	}
	return s.portalURL, nil
}
