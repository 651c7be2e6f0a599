// Package config loads the shoplens-server configuration from the `server:`
// section of config.yaml.
//
// Config fields:
//   - GRPCPort            port for the ingest gRPC service (default 50051)
//   - HTTPPort            port for the REST API and WebSocket gateway (default 8080)
//   - LogLevel            debug | info | warn | error (default info)
//   - WS.Path             the only route that accepts socket upgrades (default /ws)
//   - WS.Greeting         message of the `connected` frame
//   - WS.SendBuffer       per-socket outbound queue depth (default 64)
//   - WS.MaxMessageBytes  inbound frame size cap (default 4096)
//   - Auth.Mode           "apikey" or "none" for the ingest surfaces
//   - Auth.KeyEnv         environment variable holding the expected API key
//   - Auth.Header         gRPC metadata/HTTP header name (default "x-api-key")
//   - Events.TTL          how long an org's recent events stay readable (default 15m)
//   - Events.PerOrg       recent events retained per org (default 200)
//   - Alerts              per-org rate rules and webhook targets
//
// Load(path) applies defaults, unmarshals the YAML, applies SHOPLENS_*
// environment overrides (SHOPLENS_HTTP_PORT, SHOPLENS_WS_GREETING, ...), then
// validates. Watch(ctx, path, fn) reloads the file on change.
package config
