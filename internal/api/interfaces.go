package api

import (
	"net/http"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

The api package only routes requests. It declares the small surfaces it
needs from the collaboration and metrics packages, so handlers can be tested
with plain http.HandlerFunc stand-ins.
*/

// SocketHandler upgrades a request to a websocket connection and serves it
type SocketHandler interface {
	http.Handler
}

// MetricsExporter exposes collected metrics over HTTP
type MetricsExporter interface {
	Handler() http.Handler
}
