// Package llm produces assistant replies for a chat transcript.
package llm

import (
	"context"
	"errors"

	"github.com/RichardoC/tabletalk/internal/models"
	"github.com/RichardoC/tabletalk/internal/table"
)

var (
	ErrMissingCredential = errors.New("an OpenAI API key is required")
	ErrMissingTable      = errors.New("no data file has been uploaded")
)

// Request is everything a Responder may consult for one reply.
type Request struct {
	Question   string
	History    []models.Message // transcript before Question
	WebsiteURL string
	Frame      *table.Frame
	TableName  string
	Credential string
}

type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// StubReply is what Stub always answers.
const StubReply = "Hello"

// Stub ignores its input and answers StubReply.
type Stub struct{}

func (Stub) Respond(context.Context, Request) (string, error) {
	return StubReply, nil
}
