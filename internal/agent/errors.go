package agent

import "errors"

var (
	// ErrInvalidTemplate is returned for a template missing its name, model,
	// tools or system prompt.
	ErrInvalidTemplate = errors.New("invalid worker template")

	// ErrAlreadyRun is returned when Run is called twice on one invocation.
	ErrAlreadyRun = errors.New("invocation already run")

	// ErrNoToolCall is recorded when a step produced neither a tool call nor an answer.
	ErrNoToolCall = errors.New("model did not call any tool")
)
