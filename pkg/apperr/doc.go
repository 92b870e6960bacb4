// Package apperr defines the error taxonomy shared by every docmeter component.
//
// Each error carries a Kind that maps to exactly one HTTP status:
//
//	Unauthenticated        401  UNAUTHENTICATED
//	Forbidden              403  FORBIDDEN
//	ValidationFailed       400  VALIDATION_FAILED (422 via Unprocessable)
//	InsufficientCredits    402  NO_CREDITS
//	UnhandledWebhookEvent  422  UNHANDLED_EVENT
//	UpstreamUnavailable    502  UPSTREAM_UNAVAILABLE
//	PersistenceConflict    422  PERSISTENCE_CONFLICT (500 for missing schema)
//
// Boundaries produce these errors directly; storage layers translate driver
// errors with FromDB. httputil.WriteAppError renders them as {"error": msg}.
package apperr
