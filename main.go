package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"PPLive/global/config"
	"PPLive/logger"
	"PPLive/service/gateway"
	"PPLive/tools"
)

func main() {
	cfgPath := flag.String("config", tools.GetEnv("PP_CONFIG", "config/pplive.yaml"), "yaml config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	config.Setup(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := gateway.Bootstrap(ctx, cfg)
	if err != nil {
		logger.Errorf("bootstrap: %v", err)
		os.Exit(1)
	}
	defer g.Close()

	if err := g.Run(ctx); err != nil {
		logger.Errorf("gateway: %v", err)
		return
	}
	logger.Info("gateway stopped")
}
