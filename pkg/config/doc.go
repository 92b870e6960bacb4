// Package config loads docmeter configuration from environment variables.
//
// Variable names follow the deployment conventions of the web client
// (DATABASE_URL, STRIPE_*, PAYMENTS_*_PLAN_ID, PLAUSIBLE_*, SMTP_*, AWS_S3_*,
// BASE_URL); service tuning knobs use the DOCMETER_ prefix. A .env file is
// honoured for local development.
package config
