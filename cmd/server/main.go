// Command server runs the "Chat with your data" application: upload a table,
// add an OpenAI API key, and ask questions about the data.
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
	"github.com/RichardoC/tabletalk/internal/table"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(":8100")
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

	counter, err := llm.NewTokenCounter(cfg.OpenAIModel)
	if err != nil {
		logger.Warn("falling back to approximate token counts", zap.Error(err))
	}

	agent := llm.NewTableAgent(llm.AgentConfig{
		Models:        llm.OpenAIModels(cfg.OpenAIModel, cfg.OpenAIBaseURL),
		MaxIterations: cfg.AgentMaxIterations,
		HistoryBudget: cfg.HistoryTokenBudget,
		Counter:       counter,
		Trace:         cfg.LogDevelopment,
	}, logger)

	loader := table.NewCachedLoader(table.NewCache(cfg.TableCacheTTL))
	app := api.NewDataChat(database, session.NewManager(session.State{}, cfg.TableCacheTTL), loader, agent, cfg.UploadMaxBytes, logger)

	serveErr := api.Serve(ctx, cfg.Addr, api.NewRouter(app, logger), logger)
	if err := multierr.Append(serveErr, database.Close()); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}
