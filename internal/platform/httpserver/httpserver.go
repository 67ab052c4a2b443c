// Package httpserver builds the console API's http.Server.
package httpserver

import (
	"net/http"
	"time"

	"checkpoint/internal/platform/config"
)

const readHeaderTimeout = 5 * time.Second

// New builds the server from CHECKPOINT_* timeouts.
func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
