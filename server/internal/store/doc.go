// Package store keeps the most recent ingested events per organization so the
// REST API can serve a short history to dashboards that just connected. It is
// a live cache only: entries expire after a TTL and nothing is persisted.
package store
