// Command tabletalk asks one question about a data file from the command line:
//
//	OPENAI_API_KEY=... go run . data.csv "Which region sold the most units?"
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/RichardoC/tabletalk/internal/config"
	"github.com/RichardoC/tabletalk/internal/llm"
	"github.com/RichardoC/tabletalk/internal/table"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, _ := config.NewLogger(cfg.LogDevelopment)
	defer logger.Sync()

	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s FILE QUESTION\n", os.Args[0])
		os.Exit(2)
	}
	path, question := os.Args[1], os.Args[2]

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("failed to read data file", zap.Error(err), zap.String("path", path))
	}
	tbl, err := table.Load(path, data)
	if err != nil {
		logger.Fatal("failed to load data file", zap.Error(err), zap.String("path", path))
	}
	ctx := context.Background()
	frame, err := table.OpenFrame(ctx, tbl)
	if err != nil {
		logger.Fatal("failed to open data file", zap.Error(err), zap.String("path", path))
	}
	defer frame.Close()

	counter, err := llm.NewTokenCounter(cfg.OpenAIModel)
	if err != nil {
		logger.Debug("falling back to approximate token counts", zap.Error(err))
	}
	agent := llm.NewTableAgent(llm.AgentConfig{
		Models:        llm.OpenAIModels(cfg.OpenAIModel, cfg.OpenAIBaseURL),
		MaxIterations: cfg.AgentMaxIterations,
		Counter:       counter,
		Trace:         cfg.LogDevelopment,
	}, logger)

	answer, err := agent.Respond(ctx, llm.Request{
		Question:   question,
		Frame:      frame,
		TableName:  path,
		Credential: cfg.OpenAIAPIKey,
	})
	if err != nil {
		logger.Fatal("failed to answer question", zap.Error(err))
	}
	fmt.Println(answer)
}
