package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/tools"
	"go.uber.org/zap"
)

// DegradedReply answers a cycle whose agent output could not be parsed.
const DegradedReply = "Sorry, I could not work out an answer to that from the data. Try rephrasing the question."

const systemMessage = `You are a data analyst answering questions about a table the user uploaded.
Use the query_table tool to inspect the table or compute results instead of guessing.
Answer in plain language and keep the answer short.`

// ModelFactory builds a chat model authenticated with a session credential.
type ModelFactory func(credential string) (llms.Model, error)

// OpenAIModels returns a ModelFactory for OpenAI or an OpenAI-compatible
// endpoint when baseURL is set.
func OpenAIModels(model, baseURL string) ModelFactory {
	return func(credential string) (llms.Model, error) {
		opts := []openai.Option{
			openai.WithToken(credential),
			openai.WithModel(model),
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, err
		}
		return llm, nil
	}
}

type AgentConfig struct {
	Models        ModelFactory
	MaxIterations int
	HistoryBudget int // tokens of prior transcript passed to the agent
	Counter       TokenCounter
	// Trace logs every model call, tool call and observation at debug level.
	Trace bool
}

// TableAgent answers questions with an OpenAI-functions agent that can query
// the session's table.
type TableAgent struct {
	models        ModelFactory
	maxIterations int
	historyBudget int
	counter       TokenCounter
	logger        *zap.Logger
	trace         callbacks.Handler

	run func(ctx context.Context, c chains.Chain, input string) (string, error)
}

var _ Responder = (*TableAgent)(nil)

func NewTableAgent(cfg AgentConfig, logger *zap.Logger) *TableAgent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.Counter == nil {
		cfg.Counter = ApproxCounter{}
	}
	var trace callbacks.Handler
	if cfg.Trace {
		trace = newTraceHandler(logger)
	}
	return &TableAgent{
		trace:         trace,
		models:        cfg.Models,
		maxIterations: cfg.MaxIterations,
		historyBudget: cfg.HistoryBudget,
		counter:       cfg.Counter,
		logger:        logger,
		run: func(ctx context.Context, c chains.Chain, input string) (string, error) {
			return chains.Run(ctx, c, input)
		},
	}
}

func (a *TableAgent) Respond(ctx context.Context, req Request) (string, error) {
	if req.Credential == "" {
		return "", ErrMissingCredential
	}
	if req.Frame == nil {
		return "", ErrMissingTable
	}

	model, err := a.models(req.Credential)
	if err != nil {
		return "", fmt.Errorf("failed to initialize model: %w", err)
	}

	agent := agents.NewOpenAIFunctionsAgent(model,
		[]tools.Tool{newQueryTool(req.Frame, a.trace)},
		agents.NewOpenAIOption().WithSystemMessage(systemMessage),
	)
	opts := []agents.Option{
		agents.WithMaxIterations(a.maxIterations),
		agents.WithParserErrorHandler(agents.NewParserErrorHandler(nil)),
	}
	if a.trace != nil {
		opts = append(opts, agents.WithCallbacksHandler(a.trace))
	}
	executor := agents.NewExecutor(agent, opts...)

	answer, err := a.run(ctx, executor, a.buildInput(ctx, req))
	if err != nil {
		if errors.Is(err, agents.ErrUnableToParseOutput) || errors.Is(err, agents.ErrNotFinished) {
			a.logger.Warn("agent produced no usable answer", zap.Error(err))
			return DegradedReply, nil
		}
		return "", fmt.Errorf("failed to run table agent: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return DegradedReply, nil
	}
	return answer, nil
}

// buildInput packs the table schema and first rows, the recent transcript and
// the question into the agent's input.
func (a *TableAgent) buildInput(ctx context.Context, req Request) string {
	var b strings.Builder

	if req.TableName != "" {
		fmt.Fprintf(&b, "The table was loaded from %q.\n", req.TableName)
	}
	fmt.Fprintf(&b, "The table has %d rows.\n", req.Frame.Table().Len())
	if info, err := req.Frame.Describe(ctx); err == nil {
		fmt.Fprintf(&b, "%s\n", info)
	} else {
		a.logger.Warn("Failed to describe table", zap.Error(err))
	}

	if history := recentHistory(req.History, a.historyBudget, a.counter); len(history) > 0 {
		fmt.Fprintf(&b, "Conversation so far:\n%s\n\n", formatHistory(history))
	}

	fmt.Fprintf(&b, "Question: %s", req.Question)
	return b.String()
}
