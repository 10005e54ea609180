package main

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cnvrt/convnet/internal/progress"
)

func newRunID() string {
	return uuid.NewString()
}

// serveHub starts a blocking HTTP server exposing hub's WebSocket feed at
// /progress.
func serveHub(addr string, hub *progress.Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/progress", progress.NewHandler(hub))
	return http.ListenAndServe(addr, mux)
}
