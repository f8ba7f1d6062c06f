package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/user/shopline/internal/runtime"
	"github.com/user/shopline/pkg/llm"
)

func TestUnavailableError(t *testing.T) {
	err := error(&UnavailableError{RetryAfter: 12300 * time.Millisecond})
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.False(t, errors.Is(err, ErrUnexpected))
	assert.Equal(t, "temporarily unavailable, retry in 13s", err.Error())

	short := &UnavailableError{RetryAfter: 10 * time.Millisecond}
	assert.Equal(t, "temporarily unavailable, retry in 1s", short.Error())
}

func TestConversationStuckIsUnexpected(t *testing.T) {
	assert.True(t, errors.Is(ErrConversationStuck, ErrUnexpected))
}

func TestSurface(t *testing.T) {
	public := []error{ErrServiceUnavailable, ErrQuotaExceeded, ErrTimeout, ErrUnexpected}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"quota", &llm.APIError{StatusCode: 429, Code: "insufficient_quota"}, ErrQuotaExceeded},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"run timeout", runtime.ErrRunTimeout, ErrTimeout},
		{"rate limited", &llm.APIError{StatusCode: 429}, ErrServiceUnavailable},
		{"breaker", &UnavailableError{RetryAfter: time.Second}, ErrServiceUnavailable},
		{"server fault", &llm.APIError{StatusCode: 500}, ErrUnexpected},
		{"tool loop", fmt.Errorf("%w: run r", runtime.ErrToolLoop), ErrUnexpected},
		{"stuck", fmt.Errorf("%w: %w", ErrConversationStuck, &llm.APIError{StatusCode: 500}), ErrUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := surface(tt.err)
			assert.ErrorIs(t, out, tt.want)
			assert.ErrorIs(t, out, tt.err)
			matches := 0
			for _, p := range public {
				if errors.Is(out, p) {
					matches++
				}
			}
			assert.Equal(t, 1, matches, "expected exactly one public error to match %v", out)
		})
	}
	assert.NoError(t, surface(nil))
}

func TestFallbackMessage(t *testing.T) {
	assert.Equal(t, fallbackMessages["es"][ErrServiceUnavailable],
		FallbackMessage(&UnavailableError{RetryAfter: time.Second}, "es"))
	assert.Equal(t, fallbackMessages["en"][ErrConversationStuck],
		FallbackMessage(fmt.Errorf("%w: x", ErrConversationStuck), "en"))
	assert.Equal(t, fallbackMessages["en"][ErrTimeout],
		FallbackMessage(ErrTimeout, "de"))
	assert.Equal(t, fallbackMessages["en"][ErrUnexpected],
		FallbackMessage(errors.New("raw"), ""))
}
