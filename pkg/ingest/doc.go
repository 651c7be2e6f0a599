// Package ingest defines the wire contract between the event-persistence layer
// and shoplens-server.
//
// After the persistence layer commits an analytics event it calls
// IngestService.Publish with an Event. The server fans the event out to live
// dashboard sockets subscribed to the event's channels:
//
//	org:<org_id>     every dashboard of the organization
//	table:<table>    every dashboard watching that table
//	<extra channels> any additional keys the caller supplies
//
// The service is plain gRPC with a JSON codec registered under the
// "json" content-subtype, so no generated protobuf code is required.
// Client sets the subtype on every call; servers pick the codec up from
// the request content-type.
package ingest
