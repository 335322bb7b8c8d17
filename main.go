package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zillionare-go/backtest/internal/api"
	"github.com/zillionare-go/backtest/internal/config"
	"github.com/zillionare-go/backtest/internal/feed"
	"github.com/zillionare-go/backtest/internal/logger"
	"github.com/zillionare-go/backtest/internal/registry"
	"github.com/zillionare-go/backtest/internal/store"
)

var version = "dev"

func main() {
	addrFlag := flag.String("addr", "", "override the HTTP listen address (host:port)")
	flag.Parse()

	logger.Banner(version)

	cfg := config.Load()
	if *addrFlag != "" {
		cfg.ListenAddr = *addrFlag
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("Store", fmt.Sprintf("failed to create data dir: %v", err))
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "backtest.db"))
	if err != nil {
		logger.Error("Store", fmt.Sprintf("failed to open store: %v", err))
		os.Exit(1)
	}
	defer st.Close()

	var marketFeed feed.Feed
	if cfg.FeedBaseURL != "" {
		marketFeed = feed.NewHTTPClient(cfg.FeedBaseURL)
		logger.Success("Feed", "backed by "+cfg.FeedBaseURL)
	} else {
		marketFeed = feed.NewFixture()
		logger.Info("Feed", "no BACKTEST_FEED_BASE_URL set, serving an empty in-memory fixture")
	}

	reg := registry.New()
	srv := api.NewServer(cfg, reg, marketFeed, st)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv,
	}

	logger.Server(cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Server", "shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server", fmt.Sprintf("shutdown error: %v", err))
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server", fmt.Sprintf("failed: %v", err))
		os.Exit(1)
	}
	logger.Info("Server", "stopped")
}
