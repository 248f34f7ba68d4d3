package send

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/model"
)

// ErrCancelled is returned by a Prompter when the user dismisses a prompt.
var ErrCancelled = errors.New("prompt cancelled")

// Prompter resolves the interactive gates in front of a send. Either call
// may block until the user answers; returning ErrCancelled (or a cancelled
// context) aborts the send before anything is applied.
type Prompter interface {
	AcceptRules(ctx context.Context, chat model.ChatID, rules model.Rules) error
	EnterPIN(ctx context.Context) (string, error)
}

// StaticPrompter answers every prompt without asking. It backs headless
// callers that collected consent up front.
type StaticPrompter struct {
	Rules bool
	PIN   string
}

// AcceptRules implements Prompter.
func (p StaticPrompter) AcceptRules(ctx context.Context, _ model.ChatID, _ model.Rules) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.Rules {
		return ErrCancelled
	}
	return nil
}

// EnterPIN implements Prompter.
func (p StaticPrompter) EnterPIN(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.PIN == "" {
		return "", ErrCancelled
	}
	return p.PIN, nil
}

type prompterKey struct{}

// WithPrompter attaches a Prompter for sends made with ctx, overriding the
// pipeline's own. RPC handlers use it to pass answers collected by a remote
// client.
func WithPrompter(ctx context.Context, p Prompter) context.Context {
	return context.WithValue(ctx, prompterKey{}, p)
}

func (p *Pipeline) prompter(ctx context.Context) Prompter {
	if pr, ok := ctx.Value(prompterKey{}).(Prompter); ok && pr != nil {
		return pr
	}
	return p.opts.Prompter
}
