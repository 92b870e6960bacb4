package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// CheckoutParams are the inputs to a processor checkout session
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	// Mode is "subscription" or "payment"
	Mode       string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a created processor checkout session
type CheckoutSession struct {
	SessionURL string `json:"sessionUrl"`
	SessionID  string `json:"sessionId"`
}

// Processor is the payment processor as seen by checkout and the webhook reconciler
type Processor interface {
	// EnsureCustomer returns the id of the customer with this email, creating one if needed
	EnsureCustomer(ctx context.Context, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	// CheckoutSessionPriceIDs returns the price id of every line item of a session
	CheckoutSessionPriceIDs(ctx context.Context, sessionID string) ([]string, error)
	// ConstructEvent verifies the webhook signature and parses the event
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// ClientOption customizes the Stripe API client
type ClientOption func(*stripe.BackendConfig)

// WithBackendURL points the API backend at another base URL, e.g. a test server
func WithBackendURL(url string) ClientOption {
	return func(c *stripe.BackendConfig) {
		c.URL = stripe.String(strings.TrimRight(url, "/"))
	}
}

// NewStripeClient builds an explicitly configured Stripe client. It never
// touches the package-level stripe.Key so several clients can coexist.
func NewStripeClient(cfg config.StripeConfig, logger *observability.Logger, opts ...ClientOption) *client.API {
	if logger == nil {
		logger = observability.NopLogger()
	}

	newConfig := func() *stripe.BackendConfig {
		return &stripe.BackendConfig{
			HTTPClient: &http.Client{
				Timeout:   cfg.RequestTimeout,
				Transport: observability.InstrumentedTransport(http.DefaultTransport),
			},
			MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
			LeveledLogger:     logger.WithField("component", "stripe"),
		}
	}

	apiConfig := newConfig()
	for _, opt := range opts {
		opt(apiConfig)
	}

	return client.New(cfg.APIKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, apiConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, newConfig()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, newConfig()),
	})
}

// StripeProcessor implements Processor with the Stripe API
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
	metrics       *observability.Metrics
}

// NewStripeProcessor creates a new StripeProcessor
func NewStripeProcessor(api *client.API, webhookSecret string, metrics *observability.Metrics) *StripeProcessor {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &StripeProcessor{api: api, webhookSecret: webhookSecret, metrics: metrics}
}

func (p *StripeProcessor) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.ProcessorRequestSeconds.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// EnsureCustomer looks up a customer by email and creates one when none exists
func (p *StripeProcessor) EnsureCustomer(ctx context.Context, email string) (customerID string, err error) {
	defer func(start time.Time) { p.observe("ensure_customer", start, err) }(time.Now())

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := p.api.Customers.List(listParams)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to list customers: %w", err)
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession creates a hosted checkout session for a single price
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (out *CheckoutSession, err error) {
	defer func(start time.Time) { p.observe("create_checkout_session", start, err) }(time.Now())

	params := &stripe.CheckoutSessionParams{
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		Mode:         stripe.String(in.Mode),
		SuccessURL:   stripe.String(in.SuccessURL),
		CancelURL:    stripe.String(in.CancelURL),
		AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{Enabled: stripe.Bool(true)},
		CustomerUpdate: &stripe.CheckoutSessionCustomerUpdateParams{
			Address: stripe.String("auto"),
		},
		Customer: stripe.String(in.CustomerID),
	}
	if in.Mode == string(stripe.CheckoutSessionModePayment) {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"priceId": in.PriceID},
		}
	}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{SessionURL: session.URL, SessionID: session.ID}, nil
}

// CheckoutSessionPriceIDs retrieves the session with its line items expanded
func (p *StripeProcessor) CheckoutSessionPriceIDs(ctx context.Context, sessionID string) (ids []string, err error) {
	defer func(start time.Time) { p.observe("get_checkout_session", start, err) }(time.Now())

	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("line_items")
	params.Context = ctx

	session, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if session.LineItems == nil {
		return nil, nil
	}

	ids = make([]string, 0, len(session.LineItems.Data))
	for _, item := range session.LineItems.Data {
		if item.Price == nil {
			ids = append(ids, "")
			continue
		}
		ids = append(ids, item.Price.ID)
	}
	return ids, nil
}

// ConstructEvent verifies the Stripe-Signature header against the webhook secret
func (p *StripeProcessor) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}
