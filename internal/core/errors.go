// WASession Go - WhatsApp Session Gateway
// Copyright (c) 2026 Nullpointer Dev
// Licensed under MIT License
// https://github.com/nullpointer-dev/wasession-go

package core

import "fmt"

// Kind identifies the category of a session-core error.
type Kind int

const (
	KindUnexpected Kind = iota
	KindStatus
	KindUnpaired
	KindDenied
	KindMalformed
	KindHmacMismatch
	KindAlreadyConnected
	KindTimeout
	KindCancelled
	KindTransportClosed
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "Status"
	case KindUnpaired:
		return "Unpaired"
	case KindDenied:
		return "Denied"
	case KindMalformed:
		return "Malformed"
	case KindHmacMismatch:
		return "HmacMismatch"
	case KindAlreadyConnected:
		return "AlreadyConnected"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	case KindTransportClosed:
		return "TransportClosed"
	default:
		return "Unexpected"
	}
}

// Error is the single error type surfaced across the session core.
// Callers discriminate on Kind rather than on the message text.
type Error struct {
	Kind    Kind
	Code    int         // populated for KindStatus
	Payload interface{} // raw payload that produced the error, when available
	Reason  string       // populated for KindMalformed / KindTransportClosed
	Inner   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s(%d): %s", e.Kind, e.Code, statusDescription(e.Code))
	case KindMalformed, KindTransportClosed:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
		return e.Kind.String()
	default:
		if e.Inner != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Inner)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparisons against Kind-only sentinels built
// with &Error{Kind: K}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func statusDescription(code int) string {
	switch code {
	case 401:
		return "unpaired from phone"
	case 429:
		return "request denied, try reconnecting"
	default:
		return "unexpected status"
	}
}

func errStatus(code int, payload interface{}) error {
	switch code {
	case 401:
		return &Error{Kind: KindUnpaired, Code: code, Payload: payload}
	case 429:
		return &Error{Kind: KindDenied, Code: code, Payload: payload}
	default:
		return &Error{Kind: KindStatus, Code: code, Payload: payload}
	}
}

func errMalformed(reason string) error {
	return &Error{Kind: KindMalformed, Reason: reason}
}

func errTransportClosed(reason string) error {
	return &Error{Kind: KindTransportClosed, Reason: reason}
}

var (
	ErrHmacMismatch     = &Error{Kind: KindHmacMismatch}
	ErrAlreadyConnected = &Error{Kind: KindAlreadyConnected}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrCancelled        = &Error{Kind: KindCancelled}
)
