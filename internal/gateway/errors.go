package gateway

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/user/shopline/internal/runtime"
)

// Errors surfaced by SendMessage and CreateConversation. Every returned
// error matches exactly one of the first four with errors.Is.
var (
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
	ErrQuotaExceeded      = errors.New("engine quota exceeded")
	ErrTimeout            = errors.New("request timed out")
	ErrUnexpected         = errors.New("unexpected engine error")

	// ErrConversationStuck is returned when submission retries are
	// exhausted. It also matches ErrUnexpected.
	ErrConversationStuck = fmt.Errorf("%w: conversation may be stuck; start a new conversation", ErrUnexpected)
)

// UnavailableError is returned while the circuit breaker rejects calls.
type UnavailableError struct {
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("temporarily unavailable, retry in %ds", secs)
}

// Is makes errors.Is(err, ErrServiceUnavailable) true.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// surface maps an internal failure to one of the public error values while
// keeping the cause in the chain.
func surface(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnexpected) {
		return err
	}
	if errors.Is(err, runtime.ErrToolLoop) {
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
	switch Classify(err) {
	case KindQuotaExhausted:
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	case KindTimeout:
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case KindRateLimited:
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
}

var fallbackMessages = map[string]map[error]string{
	"en": {
		ErrServiceUnavailable: "We're getting a lot of messages right now. Please try again in a moment.",
		ErrQuotaExceeded:      "Our assistant is temporarily unavailable. A member of our team will contact you soon.",
		ErrTimeout:            "Sorry, that took too long. Could you send your message again?",
		ErrConversationStuck:  "Something went wrong with this conversation. Please send /new to start a fresh one.",
		ErrUnexpected:         "Sorry, something went wrong. Please try again.",
	},
	"es": {
		ErrServiceUnavailable: "Estamos recibiendo muchos mensajes en este momento. Por favor, inténtalo de nuevo en un momento.",
		ErrQuotaExceeded:      "Nuestro asistente no está disponible temporalmente. Alguien del equipo se pondrá en contacto contigo pronto.",
		ErrTimeout:            "Perdón, eso tardó demasiado. ¿Podrías enviar tu mensaje de nuevo?",
		ErrConversationStuck:  "Algo salió mal con esta conversación. Envía /new para empezar una nueva.",
		ErrUnexpected:         "Perdón, algo salió mal. Por favor, inténtalo de nuevo.",
	},
}

// fallbackOrder checks the most specific errors first.
var fallbackOrder = []error{
	ErrConversationStuck,
	ErrServiceUnavailable,
	ErrQuotaExceeded,
	ErrTimeout,
	ErrUnexpected,
}

// FallbackMessage returns a customer-safe message for err in lang,
// defaulting to English.
func FallbackMessage(err error, lang string) string {
	msgs, ok := fallbackMessages[lang]
	if !ok {
		msgs = fallbackMessages["en"]
	}
	for _, target := range fallbackOrder {
		if errors.Is(err, target) {
			return msgs[target]
		}
	}
	return msgs[ErrUnexpected]
}
