// Package gateway is the composition root of the troupe-gateway daemon.
//
// # Overview
//
// The gateway package wires every component and owns their lifecycles: the
// SQLite store, the persona registry (seeded from the store), the response
// cache (memory or Redis), the provider gateway, the conversation service,
// the HTTP API, the web console, and the optional metrics endpoint.
//
// # Wiring
//
// New builds the full object graph from a config.Config:
//
//	store ── personas seed ──> registry
//	  │                           │
//	  └──> conversation.Service <─┴── provider.Gateway <── cache.Cache
//	              │
//	              └──> server + webconsole + metrics on one http.ServeMux
//
// Session loops started through the API hang off a gateway-scoped context,
// not the originating request, and are stopped at shutdown.
//
// # Listeners
//
// The same mux serves on exactly one listener:
//
//   - TCP on server.host:server.port (the default)
//   - a tailscale.tsnet listener inside the tailnet when tailscale.enabled,
//     with state under ~/.local/share/troupe-gateway/tailscale and the auth
//     key from config or TS_AUTHKEY
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run blocks until the context is canceled or the server fails, then
// performs a graceful shutdown with a 5 second budget: HTTP server first,
// then session loops (each flushes its final status to the store), then the
// cache and the store.
package gateway
