// Package api implements the DrowseGuard REST API.
//
// All endpoints are JSON and live under /api/v1/:
//
//	GET  /api/v1/health                    registry counts and overall state
//	GET  /api/v1/streams                   all registered streams
//	GET  /api/v1/streams/{id}              one stream
//	POST /api/v1/streams/{id}/start        start a monitoring session
//	POST /api/v1/streams/{id}/stop         stop it, returning the final stats
//	POST /api/v1/streams/{id}/frames       submit a sample or detections
//	GET  /api/v1/streams/{id}/settings     current debounce settings
//	PUT  /api/v1/streams/{id}/settings     change them (clamped)
//	GET  /api/v1/alerts                    firing and recently resolved alerts
//	GET  /api/v1/sessions?stream=&limit=   finished sessions from history
//	GET  /api/v1/sessions/{id}/episodes    alert episodes of one session
//	GET  /api/v1/snapshot                  everything the UI renders
//
// Wrong methods get 405, unknown streams 404. Errors are {"error": "..."}.
package api
