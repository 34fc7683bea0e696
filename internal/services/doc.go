// Package services defines the [Catalog] and [Materializer] collaborators used by the sync orchestrator
// and implements them against an HTTP catalog proxy.
//
// # Catalog
//
// [ProxyCatalog] lists playlist items through the proxy's GET /api/playlists/{id}/items endpoint,
// paced by a client-side rate limiter.
// [BreakerCatalog] wraps any Catalog in a circuit breaker so a failing proxy fails runs fast
// instead of tying up every scheduled sync until its timeout.
//
// # Materializer
//
// [HTTPMaterializer] streams GET /api/items/{id}/media into the artifact filesystem.
// Data is written to a ".part" file and renamed into place on success, so an interrupted
// transfer never leaves a truncated artifact behind.
// Byte progress is reported to the metrics aggregator as the body is copied.
//
// # Error Handling
//
// Services use errors from the shared package:
//   - [shared.ErrAPIRequest] : the proxy returned a non-2xx status
//   - [shared.ErrServiceUnavailable] : the circuit breaker rejected the call
//   - [shared.ErrItemSkipped] : the proxy reported the item as unavailable (HTTP 410 or 451)
package services
