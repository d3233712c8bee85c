// Package proxy is the request/response channel between renderer
// programs and host capabilities the page must never hold: API secrets
// for request signing, and outbound HTTP free of the page's origin
// restrictions.
//
// The Broker lives host-side and owns per-plugin secrets and the HTTP
// client with its bounded timeout. Renderer programs get a Client bound
// to their plugin and context; once the context is torn down the client
// refuses further work and discards replies, so a response landing
// after teardown has nothing to invoke.
//
// Proxy failures are soft by contract: callers log, skip the cycle, and
// let the next natural trigger retry. Nothing here queues or retries.
package proxy
