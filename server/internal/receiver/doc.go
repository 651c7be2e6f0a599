// Package receiver implements ingest.IngestServer, the gRPC endpoint the
// persistence layer calls after committing an analytics event.
//
// Receiver.Publish validates that org_id and table are set
// (codes.InvalidArgument otherwise), stores the event in the recent-event
// store, and broadcasts {action, table, data} to the channels org:<org_id>,
// table:<table> and any extra channels on the request. When user_id is set the
// payload is also sent to that user's sockets. Authentication is enforced
// upstream by the gRPC server interceptor (see package auth).
//
// Receiver.Ingest is the transport-independent path shared with the REST API.
package receiver
