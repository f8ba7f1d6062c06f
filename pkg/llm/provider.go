package llm

import "context"

// Engine defines the interface for a thread/run style reasoning engine.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and response parsing. Errors carrying
// upstream status information should be returned as *APIError so callers
// can classify them without inspecting message text.
type Engine interface {
	// CreateThread opens a new conversation thread and returns its ID.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a user message to the thread.
	AddMessage(ctx context.Context, threadID, text string) error

	// CreateRun starts a run on the thread.
	CreateRun(ctx context.Context, threadID string, opts RunOptions) (*Run, error)

	// GetRun fetches the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)

	// CancelRun requests cancellation of a run.
	CancelRun(ctx context.Context, threadID, runID string) error

	// ListRuns returns the most recent runs on the thread, newest first.
	ListRuns(ctx context.Context, threadID string) ([]*Run, error)

	// SubmitToolOutputs delivers tool results for a run in requires_action.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)

	// LatestReply returns the text of the most recent assistant message.
	LatestReply(ctx context.Context, threadID string) (string, error)
}

// Config holds common configuration for engine clients.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	AssistantID  string
	Instructions string
}
