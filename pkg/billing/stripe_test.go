package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStripeTestServer serves canned Stripe API responses and records request forms
func newStripeTestServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) *StripeProcessor {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		handler, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			t.Errorf("unexpected Stripe request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	api := NewStripeClient(config.StripeConfig{
		APIKey:         "sk_test_123",
		RequestTimeout: 5 * time.Second,
	}, nil, WithBackendURL(server.URL))
	return NewStripeProcessor(api, testWebhookSecret, nil)
}

func TestStripeProcessor_EnsureCustomerExisting(t *testing.T) {
	p := newStripeTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/customers": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "ada@example.com", r.Form.Get("email"))
			w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,
				"data":[{"id":"cus_existing","object":"customer","email":"ada@example.com"}]}`))
		},
	})

	id, err := p.EnsureCustomer(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)
}

func TestStripeProcessor_EnsureCustomerCreates(t *testing.T) {
	created := false
	p := newStripeTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/customers": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[]}`))
		},
		"POST /v1/customers": func(w http.ResponseWriter, r *http.Request) {
			created = true
			assert.Equal(t, "ada@example.com", r.PostForm.Get("email"))
			w.Write([]byte(`{"id":"cus_new","object":"customer"}`))
		},
	})

	id, err := p.EnsureCustomer(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
	assert.True(t, created)
}

func TestStripeProcessor_CreateCheckoutSession(t *testing.T) {
	p := newStripeTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/checkout/sessions": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "price_credits10", r.PostForm.Get("line_items[0][price]"))
			assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
			assert.Equal(t, "payment", r.PostForm.Get("mode"))
			assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
			assert.Equal(t, "true", r.PostForm.Get("automatic_tax[enabled]"))
			assert.Equal(t, "auto", r.PostForm.Get("customer_update[address]"))
			assert.Equal(t, "price_credits10", r.PostForm.Get("payment_intent_data[metadata][priceId]"))
			w.Write([]byte(`{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_1"}`))
		},
	})

	session, err := p.CreateCheckoutSession(context.Background(), CheckoutParams{
		CustomerID: "cus_1",
		PriceID:    "price_credits10",
		Mode:       "payment",
		SuccessURL: "https://app/checkout?success=true",
		CancelURL:  "https://app/checkout?canceled=true",
	})
	require.NoError(t, err)
	assert.Equal(t, &CheckoutSession{SessionURL: "https://checkout.stripe.com/c/cs_1", SessionID: "cs_1"}, session)
}

func TestStripeProcessor_SubscriptionCheckoutHasNoIntentMetadata(t *testing.T) {
	p := newStripeTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/checkout/sessions": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "subscription", r.PostForm.Get("mode"))
			assert.Empty(t, r.PostForm.Get("payment_intent_data[metadata][priceId]"))
			w.Write([]byte(`{"id":"cs_2","object":"checkout.session","url":"https://checkout"}`))
		},
	})

	_, err := p.CreateCheckoutSession(context.Background(), CheckoutParams{
		CustomerID: "cus_1", PriceID: "price_pro", Mode: "subscription",
	})
	require.NoError(t, err)
}

func TestStripeProcessor_CheckoutSessionPriceIDs(t *testing.T) {
	p := newStripeTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/checkout/sessions/cs_1": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "line_items", r.Form.Get("expand[0]"))
			w.Write([]byte(`{"id":"cs_1","object":"checkout.session","line_items":{"object":"list","has_more":false,"url":"/v1/checkout/sessions/cs_1/line_items",
				"data":[{"id":"li_1","object":"item","quantity":1,"price":{"id":"price_pro","object":"price"}}]}}`))
		},
	})

	ids, err := p.CheckoutSessionPriceIDs(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"price_pro"}, ids)
}

func TestStripeProcessor_APIError(t *testing.T) {
	p := newStripeTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /v1/checkout/sessions/cs_missing": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`))
		},
	})

	_, err := p.CheckoutSessionPriceIDs(context.Background(), "cs_missing")
	assert.Error(t, err)
}

func TestStripeProcessor_ConstructEvent(t *testing.T) {
	p := NewStripeProcessor(nil, testWebhookSecret, nil)
	payload, sig := signedPayload(t, "evt_1", EventInvoicePaid, `{"id":"in_1","customer":"cus_1","period_start":1}`)

	evt, err := p.ConstructEvent(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventInvoicePaid, string(evt.Type))

	_, err = p.ConstructEvent(payload, "t=1,v1=bad")
	assert.Error(t, err)

	other := NewStripeProcessor(nil, "whsec_other", nil)
	_, err = other.ConstructEvent(payload, sig)
	assert.Error(t, err)
}
