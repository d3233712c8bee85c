// Package presence mirrors the now-playing state to a local rich
// presence bridge over a websocket. The bridge is optional equipment:
// when nothing listens on the endpoint the client keeps retrying with
// backoff and the rest of the application never notices.
package presence
