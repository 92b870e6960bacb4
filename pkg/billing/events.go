package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/stripe/stripe-go/v79"
)

// Processor event types with a reconciliation rule
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventInvoicePaid              = "invoice.paid"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
)

// Event is a decoded webhook event. The set of implementations is closed:
// every variant lives in this package and knows how to apply itself.
type Event interface {
	Type() string
	// Customer is the processor customer id the event is about
	Customer() string
	apply(ctx context.Context, r *Reconciler) error
}

// CheckoutSessionCompleted is sent when a hosted checkout finishes
type CheckoutSessionCompleted struct {
	SessionID  string
	CustomerID string
}

// InvoicePaid is sent for every paid subscription invoice
type InvoicePaid struct {
	CustomerID  string
	PeriodStart time.Time
}

// PaymentIntentSucceeded is sent for every successful charge, including
// those backing subscription invoices
type PaymentIntentSucceeded struct {
	CustomerID string
	PriceID    string
	HasInvoice bool
	Created    time.Time
}

// SubscriptionUpdated is sent on any subscription change
type SubscriptionUpdated struct {
	CustomerID        string
	Status            stripe.SubscriptionStatus
	CancelAtPeriodEnd bool
	PriceIDs          []string
}

// SubscriptionDeleted is sent when a subscription ends
type SubscriptionDeleted struct {
	CustomerID string
}

func (CheckoutSessionCompleted) Type() string { return EventCheckoutSessionCompleted }
func (InvoicePaid) Type() string              { return EventInvoicePaid }
func (PaymentIntentSucceeded) Type() string   { return EventPaymentIntentSucceeded }
func (SubscriptionUpdated) Type() string      { return EventSubscriptionUpdated }
func (SubscriptionDeleted) Type() string      { return EventSubscriptionDeleted }

func (e CheckoutSessionCompleted) Customer() string { return e.CustomerID }
func (e InvoicePaid) Customer() string              { return e.CustomerID }
func (e PaymentIntentSucceeded) Customer() string   { return e.CustomerID }
func (e SubscriptionUpdated) Customer() string      { return e.CustomerID }
func (e SubscriptionDeleted) Customer() string      { return e.CustomerID }

var errMissingCustomer = errors.New("event object has no customer")

func malformedEvent(err error) error {
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Code:    apperr.CodeValidationFailed,
		Message: "Error parsing Stripe event object",
		Err:     err,
	}
}

// DecodeEvent maps a verified processor event to its variant. Event types
// without a rule yield an UnhandledEvent error; objects that do not match
// the expected shape yield a validation error.
func DecodeEvent(evt stripe.Event) (Event, error) {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		switch string(evt.Type) {
		case EventCheckoutSessionCompleted, EventInvoicePaid, EventPaymentIntentSucceeded,
			EventSubscriptionUpdated, EventSubscriptionDeleted:
			return nil, malformedEvent(errors.New("event has no data object"))
		}
		return nil, apperr.UnhandledEvent(string(evt.Type))
	}
	raw := evt.Data.Raw

	switch string(evt.Type) {
	case EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, malformedEvent(err)
		}
		if session.ID == "" {
			return nil, malformedEvent(errors.New("checkout session has no id"))
		}
		customer, err := customerID(session.Customer)
		if err != nil {
			return nil, err
		}
		return CheckoutSessionCompleted{SessionID: session.ID, CustomerID: customer}, nil

	case EventInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(raw, &invoice); err != nil {
			return nil, malformedEvent(err)
		}
		customer, err := customerID(invoice.Customer)
		if err != nil {
			return nil, err
		}
		return InvoicePaid{CustomerID: customer, PeriodStart: unixTime(invoice.PeriodStart)}, nil

	case EventPaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return nil, malformedEvent(err)
		}
		customer, err := customerID(intent.Customer)
		if err != nil {
			return nil, err
		}
		return PaymentIntentSucceeded{
			CustomerID: customer,
			PriceID:    intent.Metadata["priceId"],
			HasInvoice: intent.Invoice != nil && intent.Invoice.ID != "",
			Created:    unixTime(intent.Created),
		}, nil

	case EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, malformedEvent(err)
		}
		customer, err := customerID(sub.Customer)
		if err != nil {
			return nil, err
		}
		var priceIDs []string
		if sub.Items != nil {
			for _, item := range sub.Items.Data {
				if item.Price == nil {
					priceIDs = append(priceIDs, "")
					continue
				}
				priceIDs = append(priceIDs, item.Price.ID)
			}
		}
		return SubscriptionUpdated{
			CustomerID:        customer,
			Status:            sub.Status,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			PriceIDs:          priceIDs,
		}, nil

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, malformedEvent(err)
		}
		customer, err := customerID(sub.Customer)
		if err != nil {
			return nil, err
		}
		return SubscriptionDeleted{CustomerID: customer}, nil
	}

	return nil, apperr.UnhandledEvent(string(evt.Type))
}

func customerID(c *stripe.Customer) (string, error) {
	if c == nil || c.ID == "" {
		return "", malformedEvent(errMissingCustomer)
	}
	return c.ID, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// singlePriceID returns the only price id of a line item list
func singlePriceID(priceIDs []string) (string, error) {
	switch len(priceIDs) {
	case 0:
		return "", apperr.Validation("No items in stripe event object")
	case 1:
		return priceIDs[0], nil
	default:
		return "", apperr.Validation("More than one item in stripe event object")
	}
}
