package llm

import (
	"context"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// traceHandler logs each agent step: model calls, tool calls and their
// observations, and the final answer.
type traceHandler struct {
	callbacks.SimpleHandler
	logger *zap.Logger
}

var _ callbacks.Handler = traceHandler{}

func newTraceHandler(logger *zap.Logger) traceHandler {
	return traceHandler{logger: logger.Named("agent")}
}

func (h traceHandler) HandleLLMGenerateContentStart(_ context.Context, ms []llms.MessageContent) {
	h.logger.Debug("model call", zap.Int("messages", len(ms)))
}

func (h traceHandler) HandleLLMGenerateContentEnd(_ context.Context, res *llms.ContentResponse) {
	for _, c := range res.Choices {
		fields := []zap.Field{zap.String("content", c.Content), zap.String("stop_reason", c.StopReason)}
		if c.FuncCall != nil {
			fields = append(fields, zap.String("function", c.FuncCall.Name), zap.String("arguments", c.FuncCall.Arguments))
		}
		h.logger.Debug("model reply", fields...)
	}
}

func (h traceHandler) HandleLLMError(_ context.Context, err error) {
	h.logger.Debug("model error", zap.Error(err))
}

func (h traceHandler) HandleAgentAction(_ context.Context, action schema.AgentAction) {
	h.logger.Debug("agent action", zap.String("tool", action.Tool), zap.String("input", action.ToolInput))
}

func (h traceHandler) HandleToolStart(_ context.Context, input string) {
	h.logger.Debug("tool start", zap.String("input", input))
}

func (h traceHandler) HandleToolEnd(_ context.Context, output string) {
	h.logger.Debug("tool observation", zap.String("output", output))
}

func (h traceHandler) HandleToolError(_ context.Context, err error) {
	h.logger.Debug("tool error", zap.Error(err))
}

func (h traceHandler) HandleAgentFinish(_ context.Context, finish schema.AgentFinish) {
	h.logger.Debug("agent finish", zap.Any("output", finish.ReturnValues["output"]))
}

func (h traceHandler) HandleChainError(_ context.Context, err error) {
	h.logger.Debug("chain error", zap.Error(err))
}
