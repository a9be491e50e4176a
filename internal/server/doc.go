// Package server hosts the Cliptide REST API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// audit, metrics, CORS, security headers, rate limiting, and auth so handlers
// all share common protections and instrumentation.
package server
