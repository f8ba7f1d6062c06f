// Package openai implements llm.Engine on the OpenAI Assistants API
// (threads, messages, runs and tool outputs).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/user/shopline/pkg/llm"
)

// ErrMissingAssistant is returned by New when no assistant ID is configured.
var ErrMissingAssistant = errors.New("openai: assistant_id is required")

const listRunsLimit = 20

// Client implements the llm.Engine interface for OpenAI-compatible APIs.
type Client struct {
	config *llm.Config
	client *openai.Client
}

// New creates a new Assistants client with the given configuration.
func New(config *llm.Config) (*Client, error) {
	if config.AssistantID == "" {
		return nil, ErrMissingAssistant
	}
	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	slog.Info("initializing openai engine", "model", config.Model, "assistant_id", config.AssistantID)
	return &Client{
		config: config,
		client: openai.NewClientWithConfig(cc),
	}, nil
}

// CreateThread opens a new thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", convertError(err))
	}
	return thread.ID, nil
}

// AddMessage appends a user message to the thread.
func (c *Client) AddMessage(ctx context.Context, threadID, text string) error {
	_, err := c.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("create message: %w", convertError(err))
	}
	return nil
}

// CreateRun starts a run of the configured assistant on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID string, opts llm.RunOptions) (*llm.Run, error) {
	req := openai.RunRequest{
		AssistantID:            c.config.AssistantID,
		Model:                  c.config.Model,
		AdditionalInstructions: opts.Instructions,
	}
	if c.config.Instructions != "" {
		req.Instructions = c.config.Instructions
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	if len(opts.Metadata) > 0 {
		req.Metadata = make(map[string]any, len(opts.Metadata))
		for k, v := range opts.Metadata {
			req.Metadata[k] = v
		}
	}
	run, err := c.client.CreateRun(ctx, threadID, req)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", convertError(err))
	}
	return convertRun(run), nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*llm.Run, error) {
	run, err := c.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, fmt.Errorf("retrieve run: %w", convertError(err))
	}
	return convertRun(run), nil
}

// CancelRun requests cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := c.client.CancelRun(ctx, threadID, runID); err != nil {
		return fmt.Errorf("cancel run: %w", convertError(err))
	}
	return nil
}

// ListRuns returns the most recent runs on the thread, newest first.
func (c *Client) ListRuns(ctx context.Context, threadID string) ([]*llm.Run, error) {
	limit := listRunsLimit
	order := "desc"
	list, err := c.client.ListRuns(ctx, threadID, openai.Pagination{Limit: &limit, Order: &order})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", convertError(err))
	}
	out := make([]*llm.Run, 0, len(list.Runs))
	for _, r := range list.Runs {
		out = append(out, convertRun(r))
	}
	return out, nil
}

// SubmitToolOutputs delivers all tool results for a run in one request.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []llm.ToolOutput) (*llm.Run, error) {
	req := openai.SubmitToolOutputsRequest{ToolOutputs: make([]openai.ToolOutput, len(outputs))}
	for i, o := range outputs {
		req.ToolOutputs[i] = openai.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output}
	}
	run, err := c.client.SubmitToolOutputs(ctx, threadID, runID, req)
	if err != nil {
		return nil, fmt.Errorf("submit tool outputs: %w", convertError(err))
	}
	return convertRun(run), nil
}

// LatestReply returns the text of the newest assistant message.
func (c *Client) LatestReply(ctx context.Context, threadID string) (string, error) {
	limit := 10
	order := "desc"
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", convertError(err))
	}
	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Text == nil {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text.Value)
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("no assistant message on thread %s", threadID)
}

func convertRun(r openai.Run) *llm.Run {
	out := &llm.Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   llm.RunStatus(string(r.Status)),
	}
	if r.RequiredAction != nil && r.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	if r.LastError != nil {
		out.LastError = &llm.RunError{
			Code:    string(r.LastError.Code),
			Message: r.LastError.Message,
		}
	}
	return out
}

// convertError lifts the SDK's error types into *llm.APIError so status
// and code survive without string parsing.
func convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &llm.APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Code:       code,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &llm.APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
			Err:        err,
		}
	}
	return err
}
