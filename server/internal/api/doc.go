// Package api implements the HTTP REST API for tpsmeter-server.
//
// New(src, opts...) returns an http.Handler that serves:
//
//	GET  /api/v1/health                                  liveness plus window summary
//	GET  /api/v1/tps                                     current output tokens per second
//	POST /api/v1/tps/reset                               clear the window
//	GET  /api/v1/alerts                                  firing and recently resolved alerts
//	GET  /api/v1/checks/config                           stream-check settings
//	PUT  /api/v1/checks/config                           replace stream-check settings
//	POST /api/v1/checks/{provider}/{app}                 record a check result
//	GET  /api/v1/checks/{provider}/{app}/latest          most recent result
//	GET  /api/v1/checks/{provider}/{app}/history?limit=N newest first
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. Check endpoints return 503 unless a check store
// is attached with WithChecks.
package api
