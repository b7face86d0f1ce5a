package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server for the registration API. Request bodies are
// small JSON payloads, so the read timeout is tight; the write timeout leaves
// headroom for a serializable unit of work plus its audit writes.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
