package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes returned by runner.
const (
	ExitSuccess      = 0 // no selected case failed
	ExitFailure      = 1 // a case failed or no API token is set
	ExitCommandError = 2 // bad flags, invalid configuration, unknown selection
)

// Codes carried in JSON error envelopes.
const (
	CodeTestFailed = "E_TEST_FAILED"
	CodeConfig     = "E_CONFIG"
	CodeSelection  = "E_SELECTION"
	CodeNoToken    = "E_NO_TOKEN"
	CodeAPI        = "E_API"
	CodeUsage      = "E_USAGE"
	CodeFailed     = "E_FAILED"
)

// ExitError is an error that decides the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
	// Reason is the JSON envelope code; empty derives one from Code.
	Reason string
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

// WithReason sets the envelope code and returns e.
func (e *ExitError) WithReason(reason string) *ExitError {
	e.Reason = reason
	return e
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not an
// ExitError exit with ExitFailure.
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

// reasonOf picks the envelope code for err.
func reasonOf(err error) string {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return CodeFailed
	}
	switch {
	case exitErr.Reason != "":
		return exitErr.Reason
	case exitErr.Code == ExitCommandError:
		return CodeUsage
	default:
		return CodeFailed
	}
}

// CLIResponse is the JSON envelope for every command's output.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
	RunID  string      `json:"run_id,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// OutputFormatter writes command output as text or JSON. Diagnostics
// (verbose progress, logs) go to ErrWriter so JSON on Writer stays
// parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// JSON reports whether output is JSON.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Emit writes resp as indented JSON.
func (f *OutputFormatter) Emit(resp CLIResponse) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.JSON() {
		return f.Emit(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.JSON() {
		return f.Emit(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in a JSON envelope when output is JSON and returns err
// unchanged. In text mode the caller prints the error.
func (f *OutputFormatter) Fail(err error) error {
	if err != nil && f.JSON() {
		_ = f.Error(reasonOf(err), err.Error(), nil)
	}
	return err
}

// VerboseLog writes a diagnostic line when verbose mode is on.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.Diagnostics(), format+"\n", args...)
}

// Diagnostics returns the writer for non-result output.
func (f *OutputFormatter) Diagnostics() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
