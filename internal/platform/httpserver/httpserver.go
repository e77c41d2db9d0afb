// Package httpserver builds the HTTP server with this project's defaults.
package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server for the given handler. Write timeout leaves
// headroom for synchronous migration runs, which are the slowest endpoint.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
