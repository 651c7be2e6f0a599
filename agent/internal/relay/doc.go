// Package relay turns a stream of newline-delimited JSON events (one
// ingest.Event per line) into Publish calls on a publisher.
package relay
