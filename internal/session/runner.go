package session

import (
	"context"
	"fmt"
	"strings"
)

// Statement is one RUN request.
type Statement struct {
	Principal  string
	Text       string
	Parameters []byte
}

type Result struct {
	Summary string
}

// Runner executes statements for a session. Implementations own the command
// set; the machine only drives the lifecycle around it.
type Runner interface {
	Run(ctx context.Context, st Statement) (Result, error)
}

type RunnerFunc func(ctx context.Context, st Statement) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, st Statement) (Result, error) {
	return f(ctx, st)
}

// EchoRunner answers every statement with a summary of what it received.
type EchoRunner struct{}

func (EchoRunner) Run(ctx context.Context, st Statement) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	text := strings.TrimSpace(st.Text)
	if text == "" {
		return Result{}, fmt.Errorf("empty statement")
	}
	return Result{Summary: fmt.Sprintf("%s ran %q (%d parameter bytes)", st.Principal, text, len(st.Parameters))}, nil
}
