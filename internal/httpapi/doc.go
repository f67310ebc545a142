// Package httpapi exposes the operator control surface over HTTP: the
// pairing queue, channel status, the pause kill switch and the message
// queue. Handlers are thin JSON wrappers over the services; any richer
// dashboard lives in a separate process talking to this API.
package httpapi
