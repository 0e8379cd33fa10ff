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
	"github.com/soha0219/ech-ws-tunnel/internal/ingress"
	"github.com/soha0219/ech-ws-tunnel/internal/iprange"
	"github.com/soha0219/ech-ws-tunnel/internal/logging"
)

func main() {
	configFile := flag.String("c", "", "path to config.json")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	chnIPv4Path := flag.String("chn-ipv4", "chn_ip.txt", "path to the IPv4 bypass_cn range table")
	chnIPv6Path := flag.String("chn-ipv6", "chn_ip_v6.txt", "path to the IPv6 bypass_cn range table")
	chnIPv4URL := flag.String("chn-ipv4-url", "", "download URL used when chn-ipv4 is missing or empty")
	chnIPv6URL := flag.String("chn-ipv6-url", "", "download URL used when chn-ipv6 is missing or empty")
	flag.Parse()

	if *configFile == "" {
		log.Fatalf("Usage: %s -c <config.json>", os.Args[0])
	}

	cfg, err := config.LoadIngress(*configFile)
	if err != nil {
		log.Fatalf("[ingress] config error: %v", err)
	}

	logger, err := logging.New(*logLevel)
	if err != nil {
		log.Fatalf("[ingress] logger error: %v", err)
	}
	defer logger.Sync()

	var table *iprange.Table
	if cfg.RoutingMode == config.RoutingBypassCN {
		table = loadRoutingTable(logger, *chnIPv4Path, *chnIPv6Path, *chnIPv4URL, *chnIPv6URL)
	}

	client := ingress.New(cfg, table, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case runErr := <-errCh:
		if runErr != nil {
			logger.Fatal("ingress exited", zap.Error(runErr))
		}
	case <-sigCh:
		logger.Info("shutting down")
		cancel()
		client.Stop()
		<-errCh
	}
}

// loadRoutingTable loads the bypass_cn range tables, logging and
// continuing with whichever half succeeded (§4.6: IPv6 download failure is
// non-fatal; here a missing/corrupt table on either side just means that
// address family defaults to tunnel instead of aborting startup).
func loadRoutingTable(logger *zap.Logger, v4Path, v6Path, v4URL, v6URL string) *iprange.Table {
	v4, err := iprange.LoadOrDownload(v4Path, v4URL, false)
	if err != nil {
		logger.Warn("loading ipv4 bypass_cn table failed, bypass_cn will default to tunnel for ipv4", zap.Error(err))
		v4 = nil
	}
	v6, err := iprange.LoadOrDownload(v6Path, v6URL, true)
	if err != nil {
		logger.Warn("loading ipv6 bypass_cn table failed", zap.Error(err))
		v6 = nil
	}
	return iprange.Merge(v4, v6)
}
