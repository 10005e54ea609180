package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cnvrt/convnet/internal/serve"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load a serialized model and serve it over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(activeCfg.Paths.ModelFile, activeCfg.Server.ListenAddr)
		},
	}
}

func runServe(modelFile, addr string) error {
	net, err := loadNetwork(modelFile)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/predict", serve.NewHandler(net))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("convnet: predict server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("convnet: serve: %w", err)
	}
}
