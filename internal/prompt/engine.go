// Package prompt renders the per-turn instructions sent with every run and
// keeps tool output inside a token budget.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxToolTokens caps a single tool output.
const DefaultMaxToolTokens = 2000

const truncationMarker = "\n...[truncated]"

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"pt": "Portuguese",
	"fr": "French",
}

// Data is the template input for one turn.
type Data struct {
	Time         string
	Language     string
	LanguageName string
	CustomerName string
	UserType     string
	Platform     string
}

// Tokenizer is the subset of tiktoken the engine needs.
type Tokenizer interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// Engine renders instructions and truncates tool output.
type Engine struct {
	tokenizer     Tokenizer
	maxToolTokens int
	tmpl          *template.Template
	now           func() time.Time
}

// New creates an engine with a tiktoken tokenizer for model. When
// templatePath is empty the built-in DefaultInstructions are used.
func New(model string, maxToolTokens int, templatePath string) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	text := DefaultInstructions
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("read instructions template: %w", err)
		}
		text = string(data)
	}
	return NewWithTokenizer(enc, maxToolTokens, text)
}

// NewWithTokenizer creates an engine from an explicit tokenizer and
// template text. A nil tokenizer falls back to a four-bytes-per-token
// estimate.
func NewWithTokenizer(tok Tokenizer, maxToolTokens int, text string) (*Engine, error) {
	tmpl, err := template.New("instructions").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse instructions template: %w", err)
	}
	if maxToolTokens <= 0 {
		maxToolTokens = DefaultMaxToolTokens
	}
	return &Engine{
		tokenizer:     tok,
		maxToolTokens: maxToolTokens,
		tmpl:          tmpl,
		now:           time.Now,
	}, nil
}

// Instructions renders the per-turn instructions.
func (e *Engine) Instructions(d Data) (string, error) {
	if d.Time == "" {
		d.Time = e.now().Format("Monday, January 2, 2006 15:04 MST")
	}
	if d.LanguageName == "" {
		d.LanguageName = LanguageName(d.Language)
	}
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render instructions: %w", err)
	}
	return buf.String(), nil
}

// CountTokens returns the token count for text.
func (e *Engine) CountTokens(text string) int {
	if e.tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Truncate cuts text to the tool-output token budget.
func (e *Engine) Truncate(text string) string {
	if e.tokenizer == nil {
		limit := e.maxToolTokens * 4
		if len(text) <= limit {
			return text
		}
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut] + truncationMarker
	}
	tokens := e.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= e.maxToolTokens {
		return text
	}
	return e.tokenizer.Decode(tokens[:e.maxToolTokens]) + truncationMarker
}

// LanguageName maps a language code to the name used in instructions.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	if code == "" {
		return languageNames["en"]
	}
	return code
}
