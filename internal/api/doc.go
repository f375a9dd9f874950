// Package api hosts the HTTP server, middleware, and handlers that front the
// offline worker. Notable routes:
//   - GET /healthz / readyz for probes, GET /metrics for Prometheus scraping.
//   - POST /v1/messages and /v1/push feed the client bridge.
//   - /v1/notifications/... report clicks and closes and list what is shown.
//   - /v1/sessions/... register client sessions and stream their messages.
//   - POST /v1/periodic-sync/{tag} emulates a platform wake-up.
//   - POST /v1/install and /v1/activate run the install lifecycle on demand.
//
// Every other path is intercepted and answered through the request router.
package api
