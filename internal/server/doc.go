// Package server is the HTTP surface of "plsync serve".
//
// [NewAPI] returns a [BasicRouter] with JSON endpoints over the sync orchestrator, the scheduler and the
// metrics aggregator, plus the Prometheus /metrics endpoint. Routes are registered as method-qualified
// [http.ServeMux] patterns, so path parameters come from [http.Request.PathValue] and a wrong method
// answers 405.
//
// Errors are mapped by sentinel: not found is 404, validation is 400, an open catalog circuit is 503 and
// anything else is 500. POST /api/sources/{id}/sync answers 202 with the job right away; the run itself is
// detached from the request.
package server
