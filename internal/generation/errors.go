package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies why an attempt failed.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindProcessing           Kind = "processing"
	KindConnectivity         Kind = "connectivity"
	KindTimeout              Kind = "timeout"
	KindCanceled             Kind = "canceled"
	KindInvalidRequest       Kind = "invalid_request"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindUnsupportedMediaType Kind = "unsupported_media_type"
	KindServerError          Kind = "server_error"
	KindRequestFailed        Kind = "request_failed"
)

// Category groups kinds by where the failure was detected.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryProcessing Category = "processing"
	CategoryTransport  Category = "transport"
	CategoryRemote     Category = "remote"
)

func (k Kind) Category() Category {
	switch k {
	case KindValidation:
		return CategoryValidation
	case KindProcessing:
		return CategoryProcessing
	case KindConnectivity, KindTimeout, KindCanceled:
		return CategoryTransport
	default:
		return CategoryRemote
	}
}

const (
	msgPayloadTooLarge  = "The image is too large for the server. Please choose a smaller photo."
	msgUnsupportedMedia = "Unsupported image format. Please use PNG, JPEG or WEBP."
	msgConnectivity     = "Cannot reach the generation service. Please check your internet connection."
	msgTimeout          = "The generation service did not answer in time. Please check your connection and try again."
	msgCanceled         = "Generation was canceled."
	msgInvalidResponse  = "The generation service returned an unreadable response."
)

// Error is the single error type returned by Client operations. Message is
// meant for the end user; Err carries the underlying cause, if any.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind.Category() != CategoryRemote {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func validationError(msg string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: cause}
}

func processingError(msg string, cause error) *Error {
	return &Error{Kind: KindProcessing, Message: msg, Err: cause}
}

// transportError classifies a failure where no HTTP response was obtained.
// parent is the caller's context, used to tell a user cancel apart from the
// attempt deadline.
func transportError(parent context.Context, err error) *Error {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return &Error{Kind: KindCanceled, Message: msgCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
	}
	return &Error{Kind: KindConnectivity, Message: msgConnectivity, Err: err}
}

// statusError maps a non-2xx response to its Kind. detail is the server's
// explanation, echoed only where it is useful to the user.
func statusError(status int, detail string) *Error {
	detail = strings.TrimSpace(detail)
	switch status {
	case http.StatusBadRequest:
		return &Error{Kind: KindInvalidRequest, Status: status, Message: firstNonEmpty(detail, "Invalid request.")}
	case http.StatusRequestEntityTooLarge:
		return &Error{Kind: KindPayloadTooLarge, Status: status, Message: msgPayloadTooLarge}
	case http.StatusUnsupportedMediaType:
		return &Error{Kind: KindUnsupportedMediaType, Status: status, Message: msgUnsupportedMedia}
	case http.StatusInternalServerError:
		return &Error{Kind: KindServerError, Status: status, Message: firstNonEmpty(detail, "The generation service hit an internal error.")}
	default:
		msg := fmt.Sprintf("Request failed with status %d", status)
		if detail != "" {
			msg += ": " + detail
		}
		return &Error{Kind: KindRequestFailed, Status: status, Message: msg}
	}
}

func firstNonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
