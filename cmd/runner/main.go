package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"standx-maker-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	lg := c.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		lg.Error("start failed", zap.Error(err))
		_ = c.Stop()
		os.Exit(1)
	}

	runErr := c.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		lg.Error("quote loop exited with error", zap.Error(runErr))
	} else {
		lg.Info("shutdown signal received, quote loop stopped")
	}
	if err := c.Stop(); err != nil {
		log.Printf("stop: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
