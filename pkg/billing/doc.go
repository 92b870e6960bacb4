// Package billing connects users to Stripe: plan registry, checkout, and
// webhook reconciliation of subscription and credit state.
//
// # Plans
//
// A Registry maps plan ids to Stripe price ids and an effect:
//
//	hobby      subscription
//	pro        subscription
//	credits10  +10 credits (one-time payment)
//
// Price ids come from PAYMENTS_*_PLAN_ID or from a YAML file:
//
//	plans:
//	  - id: pro
//	    priceId: ${PAYMENTS_PRO_SUBSCRIPTION_PLAN_ID}
//	    effect: {kind: subscription}
//
// # Checkout
//
//	session, err := checkout.CreateCheckoutSession(ctx, user, billing.PlanPro)
//	// session.SessionURL is the hosted payment page
//
// The processor customer is looked up by email (or created) and written to
// users.payment_processor_user_id, which is the join key for webhooks.
//
// # Webhooks
//
// WebhookService.Handle verifies the signature, decodes the event into one
// of the Event variants and applies it through the Reconciler:
//
//	checkout.session.completed     subscription plan -> subscription_plan
//	invoice.paid                   date_paid = period start
//	payment_intent.succeeded       credit plan -> credits += amount, date_paid
//	customer.subscription.updated  subscription_status + subscription_plan
//	customer.subscription.deleted  subscription_status = deleted
//
// Other event types are rejected with 422. Event ids are claimed in
// processed_webhook_events before reconciling. A claim stays "processing"
// until the update is applied and then becomes "done"; a failed update
// releases it. Redeliveries of a done event are acknowledged with 200,
// while a redelivery that races a processing claim gets 503 so Stripe
// retries it. A processing claim older than DefaultClaimLease belongs to
// a crashed attempt and is taken over.
//
// # Related Packages
//
//   - pkg/users: user persistence and PaymentUpdate
//   - pkg/credits: spending the credits granted here
package billing
