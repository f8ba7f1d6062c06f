package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/user/shopline/internal/runtime"
	"github.com/user/shopline/pkg/llm"
)

// Kind is the failure category that drives retry and breaker decisions.
type Kind int

const (
	KindUnexpected Kind = iota
	KindRateLimited
	KindServerFault
	KindTimeout
	KindQuotaExhausted
	KindActiveRunConflict
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServerFault:
		return "server_fault"
	case KindTimeout:
		return "timeout"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindActiveRunConflict:
		return "active_run_conflict"
	default:
		return "unexpected"
	}
}

// Transient reports whether the kind is worth retrying.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindServerFault, KindTimeout, KindActiveRunConflict:
		return true
	}
	return false
}

// Classify maps an error to a Kind. Structured fields are consulted first;
// message text is only a fallback for errors that carry none.
func Classify(err error) Kind {
	if err == nil {
		return KindUnexpected
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if k, ok := classifyAPIError(apiErr); ok {
			return k
		}
	}

	var failed *runtime.RunFailedError
	if errors.As(err, &failed) {
		if k, ok := classifyCode(failed.Code); ok {
			return k
		}
		if failed.Status == llm.RunStatusExpired {
			return KindTimeout
		}
	}

	if errors.Is(err, runtime.ErrRunTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return classifyText(err.Error())
}

func classifyAPIError(e *llm.APIError) (Kind, bool) {
	if k, ok := classifyCode(e.Code); ok {
		return k, true
	}
	if k, ok := classifyCode(e.Type); ok {
		return k, true
	}
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited, true
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout:
		return KindTimeout, true
	case e.StatusCode >= 500:
		return KindServerFault, true
	case e.StatusCode == http.StatusBadRequest && activeRunMessage(e.Message):
		return KindActiveRunConflict, true
	}
	return KindUnexpected, false
}

func classifyCode(code string) (Kind, bool) {
	switch code {
	case "insufficient_quota", "billing_hard_limit_reached", "billing_not_active":
		return KindQuotaExhausted, true
	case "rate_limit_exceeded", "rate_limit_error":
		return KindRateLimited, true
	case "server_error", "service_unavailable", "overloaded_error":
		return KindServerFault, true
	}
	return KindUnexpected, false
}

func activeRunMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "while a run") && strings.Contains(msg, "is active")
}

func classifyText(msg string) Kind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "billing"):
		return KindQuotaExhausted
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case activeRunMessage(msg) || strings.Contains(msg, "already has an active run"):
		return KindActiveRunConflict
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "internal server error") || strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused"):
		return KindServerFault
	}
	return KindUnexpected
}

var retryInRe = regexp.MustCompile(`(?i)try again in ([0-9]+(?:\.[0-9]+)?)\s*(ms|s)\b`)

// RetryHint returns the provider's suggested wait before retrying, if any.
func RetryHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	m := retryInRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	v, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil {
		return 0, false
	}
	unit := time.Second
	if strings.EqualFold(m[2], "ms") {
		unit = time.Millisecond
	}
	return time.Duration(v * float64(unit)), true
}
