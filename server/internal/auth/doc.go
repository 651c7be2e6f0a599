// Package auth guards the ingest surfaces of shoplens-server with a shared
// API key. Dashboard sockets are not covered; their identity is the
// self-declared userId of the auth frame.
//
// APIKeyInterceptor(mode, header, key) returns a gRPC UnaryServerInterceptor
// and APIKeyMiddleware(mode, header, key) the equivalent HTTP middleware.
// When mode != "apikey" or key == "", every call passes through (local
// development). A missing or incorrect key yields codes.Unauthenticated or
// HTTP 401.
package auth
