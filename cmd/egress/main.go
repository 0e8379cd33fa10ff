package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/config"
	"github.com/soha0219/ech-ws-tunnel/internal/egress"
	"github.com/soha0219/ech-ws-tunnel/internal/logging"
)

func main() {
	configFile := flag.String("c", "", "optional path to a config.json override (non-secret fields only)")
	listenAddr := flag.String("listen", ":8443", "address to listen on")
	tunnelPath := flag.String("path", "/tunnel", "URL path the WebSocket upgrade is served on")
	certFile := flag.String("cert", "", "TLS certificate file (self-signed cert generated if omitted)")
	keyFile := flag.String("key", "", "TLS key file (self-signed cert generated if omitted)")
	flag.Parse()

	cfg, err := config.LoadEgress(*configFile)
	if err != nil {
		log.Fatalf("[egress] config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[egress] logger error: %v", err)
	}
	defer logger.Sync()

	server := egress.NewServer(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- egress.ListenAndServe(ctx, *listenAddr, *tunnelPath, *certFile, *keyFile, server.Handler(*tunnelPath))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("egress listening", zap.String("addr", *listenAddr), zap.String("path", *tunnelPath))

	select {
	case runErr := <-errCh:
		if runErr != nil {
			logger.Fatal("egress exited", zap.Error(runErr))
		}
	case <-sigCh:
		logger.Info("shutting down")
		cancel()
		server.Shutdown()
		<-errCh
	}
}
