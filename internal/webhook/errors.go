package webhook

import (
	"errors"
	"strings"
)

// Kind discriminates webhook failures.
type Kind int

const (
	// KindWebhook is the catch-all for unrecognized statuses and malformed responses.
	KindWebhook Kind = iota
	// KindAuth means the token is invalid, expired or lacks permission. Terminal until reconfigured.
	KindAuth
	// KindNotFound means the API does not know the requested plant.
	KindNotFound
	// KindRateLimit means the API asked us to slow down. The next scheduled refresh is the retry.
	KindRateLimit
	// KindConnection covers timeouts, transport failures and 5xx responses. Transient.
	KindConnection
)

// Sentinels for errors.Is. Every *Error matches ErrWebhook; each also
// matches the sentinel of its own kind.
var (
	ErrWebhook     = errors.New("planthub webhook error")
	ErrAuth        = errors.New("planthub authentication error")
	ErrNotFound    = errors.New("planthub not found")
	ErrRateLimited = errors.New("planthub rate limited")
	ErrConnection  = errors.New("planthub connection error")
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindConnection:
		return "connection"
	default:
		return "webhook"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	case KindRateLimit:
		return ErrRateLimited
	case KindConnection:
		return ErrConnection
	default:
		return ErrWebhook
	}
}

// Error is the single error type returned by the client.
type Error struct {
	Kind       Kind
	StatusCode int    // 0 when no response was received
	Plant      string // requested plant id; empty for batch calls
	Msg        string
	Err        error // underlying transport or decoding error, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the root sentinel and the sentinel of e's own kind only.
func (e *Error) Is(target error) bool {
	return target == ErrWebhook || target == e.Kind.sentinel()
}

// KindOf reports the kind of a webhook error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind, true
	}
	return KindWebhook, false
}

// IsTransient reports whether err may succeed on a later attempt within the
// same refresh. Rate limits are excluded; they wait for the next tick.
func IsTransient(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindConnection
}
