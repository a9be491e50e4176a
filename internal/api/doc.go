// Package api hosts the HTTP handlers that front the Cliptide REST API.
//
// The handlers assembled by Handler coordinate request validation, credential
// issuance, and response shaping while delegating persistence to
// storage.Repository implementations injected at construction time. Token
// minting and verification are provided by auth.TokenCodec and
// auth.SessionAuthority instances passed into the handler; the package does
// not reach for globals or singletons and expects callers to supply fully
// configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication, rate limiting, metrics, auditing, and
// logging concerns. New routes should preserve that contract by avoiding
// duplicate validation and by leaning on the middleware guarantees established
// in the server stack.
package api
