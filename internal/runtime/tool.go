package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/user/shopline/internal/types"
	"github.com/user/shopline/pkg/llm"
)

// ErrInvalidArguments marks a tool failure caused by malformed or missing
// arguments. The dispatcher reports it with the invalid_arguments code.
var ErrInvalidArguments = errors.New("invalid arguments")

// Output is the result of one tool execution.
type Output struct {
	// Data is marshaled to JSON and submitted as the tool output.
	Data        any
	SideEffects []types.SideEffect
}

// Tool defines the interface for an executable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*Output, error)
}

// Registry holds registered tools and provides lookup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AsLLMTools converts registered tools to the engine format, sorted by name
// so run requests are stable.
func (r *Registry) AsLLMTools() []llm.Tool {
	names := r.Names()
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
