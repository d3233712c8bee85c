// Package companion exposes the now-playing state to external
// consumers (stream overlays, remotes) over a local HTTP API and a
// websocket push channel. It answers with wildcard CORS so browser
// widgets can poll it directly, and keeps the protocol of the auth
// endpoints while granting every request, since the server only binds
// loopback.
package companion
