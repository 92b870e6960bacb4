// Package api is the docmeter HTTP surface.
//
// Routes:
//
//	POST /api/credits/spend          spend one credit (402 NO_CREDITS at zero)
//	POST /api/billing/checkout       {"plan": "hobby"|"pro"|"credits10"} -> {sessionUrl, sessionId}
//	GET  /api/billing/portal         customer portal URL
//	GET  /api/me                     current user
//	POST /api/logout                 end the caller's session
//	POST /api/chatbot                {"messages": [{role, content}]} -> reply string
//	POST /api/files                  presigned upload for {fileType, name}
//	GET  /api/files                  caller's files
//	GET  /api/files/download?key=    presigned download URL
//	GET  /api/admin/stats            latest daily stats and the last seven days
//	GET  /api/admin/users            paginated user listing
//	PUT  /api/admin/users/{id}/admin toggle the admin flag
//	GET  /api/admin/logs?level=      recent job log rows
//	POST /webhooks/stripe            signed processor webhooks
//	POST /analyze, /compare, ...     relayed to the document-analysis service
//	GET  /health, /health/live, /health/ready, /metrics
//
// Every /api route requires a bearer session. Errors are written as
// {"error": message} with the status of their apperr kind.
package api
