package model

import (
	"errors"
	"strings"
)

// Kind classifies failures by how the caller should react to them.
type Kind string

const (
	// KindConfiguration covers missing credentials and unusable local
	// capabilities. Never retried automatically.
	KindConfiguration Kind = "configuration"
	// KindTransport covers network and upstream API failures.
	KindTransport Kind = "transport"
	// KindParse covers malformed or schema-violating model output.
	KindParse Kind = "parse"
	// KindDomain covers bad input such as unreadable images.
	KindDomain Kind = "domain"
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Code is a sentinel failure with a fixed kind. Compare with errors.Is.
type Code struct {
	kind Kind
	msg  string
}

func (c *Code) Error() string { return c.msg }

// Kind returns the failure class of the code.
func (c *Code) Kind() Kind { return c.kind }

var (
	ErrMissingCredential   = &Code{KindConfiguration, "missing credential"}
	ErrProviderUnavailable = &Code{KindConfiguration, "provider unavailable"}
	ErrModelUnavailable    = &Code{KindConfiguration, "model unavailable"}
	ErrUnknownSelector     = &Code{KindConfiguration, "unknown provider selector"}

	ErrUpstream = &Code{KindTransport, "upstream error"}

	ErrMalformedResponse = &Code{KindParse, "malformed response"}
	ErrSchemaViolation   = &Code{KindParse, "schema violation"}
	// ErrInvalidTimestamp is a field-level issue: the timestamp is dropped and
	// the request continues.
	ErrInvalidTimestamp = &Code{KindParse, "invalid timestamp"}

	ErrInvalidImage = &Code{KindDomain, "invalid image"}
	ErrNoTextFound  = &Code{KindDomain, "no text found"}
)

// Error is a classified failure. Err is always one of the Code sentinels.
type Error struct {
	Op     string // operation that failed, e.g. "remote vision"
	Err    *Code
	Detail string // human-readable context
	Raw    string // offending provider output or upstream body, verbatim
	Status int    // upstream HTTP status, when known
	Cause  error
}

// Error formats the failure as "op: code: detail".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.Raw != "" {
		b.WriteString("\nraw response: ")
		b.WriteString(e.Raw)
	}
	return b.String()
}

// Unwrap exposes both the sentinel code and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Kind returns the failure class.
func (e *Error) Kind() Kind { return e.Err.Kind() }

// KindOf classifies err. Errors outside the taxonomy yield KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Kind()
	}
	var c *Code
	if errors.As(err, &c) {
		return c.Kind()
	}
	return KindUnknown
}
