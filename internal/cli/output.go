package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Check failed (divergent replay, failing scenarios, rejected records)
	ExitCommandError = 2 // Command error (bad arguments, unreadable files, database errors)
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Errors that are not an
// ExitError map to ExitFailure; nil maps to ExitSuccess.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the envelope of every JSON document the CLI prints.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command in JSON output.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Printer writes command results as text or JSON.
type Printer struct {
	Format string
	Out    io.Writer
}

// JSON reports whether the printer emits JSON.
func (p *Printer) JSON() bool {
	return p.Format == "json"
}

// OK prints data. In text mode, text renders it.
func (p *Printer) OK(data any, text func(w io.Writer)) error {
	if p.JSON() {
		return p.encode(Response{Status: "ok", Data: data})
	}
	text(p.Out)
	return nil
}

// Fail prints data together with an error code and returns an ExitError
// with exit code ExitFailure. In text mode, text renders the data.
func (p *Printer) Fail(code, message string, data any, text func(w io.Writer)) error {
	if p.JSON() {
		if err := p.encode(Response{
			Status: "error",
			Data:   data,
			Error:  &ResponseError{Code: code, Message: message},
		}); err != nil {
			return err
		}
	} else {
		text(p.Out)
	}
	return NewExitError(ExitFailure, message)
}

func (p *Printer) encode(resp Response) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// WriteError renders err for the user. JSON mode prints an error envelope so
// scripted callers always get a parseable document.
func WriteError(w io.Writer, format string, err error) {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: errorCode(err), Message: err.Error()},
		})
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func errorCode(err error) string {
	switch GetExitCode(err) {
	case ExitCommandError:
		return "E_COMMAND"
	default:
		return "E_FAILED"
	}
}
