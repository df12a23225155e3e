package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a normalized gateway failure.
type Kind string

const (
	// KindTransport covers network failures and timeouts where no response arrived.
	KindTransport Kind = "transport"
	// KindClient covers 4xx responses other than recoverable authentication failures.
	KindClient Kind = "client"
	// KindAuthExpired marks a 401 that the refresh protocol may still recover. It never reaches callers.
	KindAuthExpired Kind = "auth_expired"
	// KindAuthUnrecoverable marks an authentication failure that refresh could not repair.
	KindAuthUnrecoverable Kind = "auth_unrecoverable"
	// KindServer covers 5xx responses.
	KindServer Kind = "server"
)

// Sentinel errors matched by errors.Is against *Error values of the same kind.
var (
	ErrTransport         = errors.New("gateway.transport")
	ErrClient            = errors.New("gateway.client")
	ErrAuthExpired       = errors.New("gateway.auth_expired")
	ErrAuthUnrecoverable = errors.New("gateway.auth_unrecoverable")
	ErrServer            = errors.New("gateway.server")
)

var (
	// ErrMissingBaseURL indicates Config.BaseURL is empty.
	ErrMissingBaseURL = errors.New("gateway.missing_base_url")
	// ErrInvalidBaseURL indicates Config.BaseURL is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("gateway.invalid_base_url")
	// ErrInvalidTimeout indicates a negative Config.Timeout.
	ErrInvalidTimeout = errors.New("gateway.invalid_timeout")
	// ErrMissingCredentials indicates Config.Credentials is nil.
	ErrMissingCredentials = errors.New("gateway.missing_credentials")
	// ErrMissingRefreshToken indicates a refresh was required but no refresh token is stored.
	ErrMissingRefreshToken = errors.New("gateway.missing_refresh_token")
	// ErrEmptyAccessToken indicates the refresh endpoint answered without an access token.
	ErrEmptyAccessToken = errors.New("gateway.refresh.empty_access_token")
)

// Error is the normalized failure returned by every Client call.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Data    []byte
	cause   error
}

// Error renders the failure with its dotted kind code.
func (failure *Error) Error() string {
	if failure.Status != 0 {
		return fmt.Sprintf("gateway.%s: %s (status %d)", failure.Kind, failure.Message, failure.Status)
	}
	return fmt.Sprintf("gateway.%s: %s", failure.Kind, failure.Message)
}

// Unwrap exposes the underlying cause, when any.
func (failure *Error) Unwrap() error {
	return failure.cause
}

// Is matches the sentinel for the failure's kind.
func (failure *Error) Is(target error) bool {
	return target != nil && target == failure.Kind.sentinel()
}

func (kind Kind) sentinel() error {
	switch kind {
	case KindTransport:
		return ErrTransport
	case KindClient:
		return ErrClient
	case KindAuthExpired:
		return ErrAuthExpired
	case KindAuthUnrecoverable:
		return ErrAuthUnrecoverable
	case KindServer:
		return ErrServer
	default:
		return nil
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var failure *Error
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

func newTransportError(cause error) *Error {
	return &Error{Kind: KindTransport, Message: cause.Error(), cause: cause}
}

func newRequestError(cause error) *Error {
	return &Error{Kind: KindClient, Message: cause.Error(), cause: cause}
}

func newStatusError(response *Response) *Error {
	kind := KindClient
	if response.Status >= http.StatusInternalServerError {
		kind = KindServer
	}
	return newStatusErrorOfKind(response, kind)
}

func newStatusErrorOfKind(response *Response, kind Kind) *Error {
	return &Error{
		Kind:    kind,
		Message: responseMessage(response),
		Status:  response.Status,
		Data:    response.Data,
	}
}

// responseMessage prefers a message the API put in the body over a generic one.
func responseMessage(response *Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(response.Data) > 0 && json.Unmarshal(response.Data, &body) == nil {
		if message := strings.TrimSpace(body.Message); message != "" {
			return message
		}
		if message := strings.TrimSpace(body.Error); message != "" {
			return message
		}
	}
	return fmt.Sprintf("request failed with status code %d", response.Status)
}
