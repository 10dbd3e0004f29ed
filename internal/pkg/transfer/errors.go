package transfer

import (
	"errors"
	"fmt"
)

// Kind classifies a transfer failure so the API layer can map it to an HTTP
// status and the ledger records a stable category.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindNetworkTimeout Kind = "network_timeout"
	KindTLS            Kind = "tls_error"
	KindProtocol       Kind = "protocol_error"
	KindAuth           Kind = "auth_error"
	KindSignature      Kind = "signature_error"
	KindReplay         Kind = "replay_error"
	KindRateLimit      Kind = "rate_limit_exceeded"
	KindIPBlocked      Kind = "ip_blocked"
	KindRejected       Kind = "transfer_rejected"
	KindReconciliation Kind = "reconciliation_error"
)

// Error is the structured error type used across the transfer pipeline.
// Snippet holds at most snippetLimit bytes of a peer response body for
// protocol errors.
type Error struct {
	Kind    Kind
	Message string
	Snippet string
	Err     error
}

const snippetLimit = 200

func (e *Error) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("%s: %s (response: %s)", e.Kind, e.Message, e.Snippet)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a transfer error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a transfer error wrapping an underlying cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ProtocolError creates a protocol error carrying a truncated body snippet.
func ProtocolError(message string, body []byte) *Error {
	return &Error{Kind: KindProtocol, Message: message, Snippet: Snippet(body)}
}

// Snippet truncates a response body for inclusion in error messages and logs.
func Snippet(body []byte) string {
	if len(body) > snippetLimit {
		body = body[:snippetLimit]
	}
	return string(body)
}

// KindOf extracts the failure kind from an error chain, or empty when the
// error is not a transfer error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether the error chain contains a transfer error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
