package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/RichardoC/tabletalk/internal/table"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/tools"
)

// maxObservationRows caps how many result rows are sent back to the model.
const maxObservationRows = 50

const toolDescription = `Runs one SQLite SELECT statement against the uploaded table, which is named ` + table.FrameTable + `,
and returns the result as tab separated text with a header line.
Quote column names that contain spaces or punctuation with double quotes.
Use ORDER BY, LIMIT, GROUP BY, aggregate functions and arithmetic to sort, rank, summarise or derive values.
Example: SELECT region, SUM(units) AS units FROM ` + table.FrameTable + ` GROUP BY region ORDER BY units DESC LIMIT 3`

// queryTool exposes a Frame to an agent.
type queryTool struct {
	frame    *table.Frame
	handler  callbacks.Handler
	maxLines int
}

var _ tools.Tool = queryTool{}

func newQueryTool(f *table.Frame, handler callbacks.Handler) queryTool {
	return queryTool{frame: f, handler: handler, maxLines: maxObservationRows}
}

func (queryTool) Name() string { return "query_table" }

func (queryTool) Description() string { return toolDescription }

// Call reports bad queries back to the agent as the observation so it can
// correct itself.
func (q queryTool) Call(ctx context.Context, input string) (string, error) {
	if q.handler != nil {
		q.handler.HandleToolStart(ctx, input)
	}

	out, err := q.frame.Query(ctx, stripFence(input))
	if err != nil {
		if q.handler != nil {
			q.handler.HandleToolError(ctx, err)
		}
		return fmt.Sprintf("error: %v", err), nil
	}
	out = truncateRows(out, q.maxLines)

	if q.handler != nil {
		q.handler.HandleToolEnd(ctx, out)
	}
	return out, nil
}

// stripFence removes a markdown code fence the model may wrap SQL in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func truncateRows(out string, limit int) string {
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines)-1 <= limit {
		return out
	}
	kept := strings.Join(lines[:limit+1], "\n")
	return fmt.Sprintf("%s\n... %d more rows not shown; use LIMIT or an aggregate\n", kept, len(lines)-1-limit)
}
