// Command chat runs the "Talk with website" application. Replies come from a
// stub generator that always answers "Hello".
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/RichardoC/tabletalk/internal/api"
	"github.com/RichardoC/tabletalk/internal/config"
	"github.com/RichardoC/tabletalk/internal/db"
	"github.com/RichardoC/tabletalk/internal/llm"
	"github.com/RichardoC/tabletalk/internal/session"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(":8501")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	sessions := session.NewManager(session.State{WebsiteURL: cfg.WebsiteURL}, cfg.TableCacheTTL)
	app := api.NewWebsiteChat(database, sessions, llm.Stub{}, logger)

	serveErr := api.Serve(ctx, cfg.Addr, api.NewRouter(app, logger), logger)
	if err := multierr.Append(serveErr, database.Close()); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}
