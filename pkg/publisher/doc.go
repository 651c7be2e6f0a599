// Package publisher is the client side of shoplens ingest: a backend process
// hands it committed events and it delivers them to shoplens-server over
// gRPC (IngestService.Publish).
//
// Publisher.Publish is non-blocking: events go into an in-memory buffer
// (default capacity 1000). When the buffer is full the oldest event is
// evicted so the most recent activity wins.
//
// Publisher.Run drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors.
// Permanent gRPC errors (Unauthenticated, PermissionDenied, InvalidArgument)
// discard the event immediately rather than retrying.
//
// Auth: API key via gRPC metadata, mTLS via credentials.NewTLS, or
// plaintext for local development.
package publisher
