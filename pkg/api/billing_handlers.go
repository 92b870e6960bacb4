package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/httputil"
	"github.com/platinummonkey/docmeter/pkg/middleware"
)

// StripeSignatureHeader carries the webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// BillingHandlers handles checkout and customer portal requests
type BillingHandlers struct {
	checkout CheckoutCreator
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(checkout CheckoutCreator) *BillingHandlers {
	return &BillingHandlers{checkout: checkout}
}

// RegisterRoutes registers billing routes on the authenticated /api router
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/checkout", h.CreateCheckoutSession).Methods(http.MethodPost)
	router.HandleFunc("/billing/portal", h.CustomerPortal).Methods(http.MethodGet)
}

// CreateCheckoutSession starts a checkout session for the requested plan
func (h *BillingHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, apperr.Validation("Operation arguments validation failed: %v", err))
		return
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), middleware.CurrentUser(r), req.Plan)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, session)
}

// CustomerPortal returns the customer portal URL as a JSON string
func (h *BillingHandlers) CustomerPortal(w http.ResponseWriter, r *http.Request) {
	url, err := h.checkout.CustomerPortalURL(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, url)
}

// WebhookHandlers receives processor webhooks
type WebhookHandlers struct {
	webhooks WebhookHandler
}

// NewWebhookHandlers creates a new WebhookHandlers
func NewWebhookHandlers(webhooks WebhookHandler) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// RegisterRoutes registers the webhook route
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/stripe", h.HandleStripe).Methods(http.MethodPost)
}

// HandleStripe verifies the raw body against its signature and reconciles the event
func (h *WebhookHandlers) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.Validation("Error reading Stripe webhook body"))
		return
	}

	if err := h.webhooks.Handle(r.Context(), payload, r.Header.Get(StripeSignatureHeader)); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, WebhookResponse{Received: true})
}
