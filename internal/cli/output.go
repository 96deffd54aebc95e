package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/permafrost-labs/glacier/internal/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // successful execution
	ExitRejected     = 1 // engine rejection (speed limit, closed tier, ...)
	ExitCommandError = 2 // command error (invalid paths, database not found, ...)
)

// ExitError represents an error with a specific exit code.
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Engine rejections
// map to ExitRejected so scripts can tell "you were too fast" from "the
// database path is wrong".
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if _, ok := domain.ErrCode(err); ok {
		return ExitRejected
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool

	printer *message.Printer
}

// CLIResponse is the standard JSON response envelope.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// NewOutputFormatter creates a formatter writing to w.
func NewOutputFormatter(format string, w io.Writer, verbose bool) *OutputFormatter {
	return &OutputFormatter{
		Format:  format,
		Writer:  w,
		Verbose: verbose,
		printer: message.NewPrinter(language.English),
	}
}

// JSON outputs data wrapped in the success envelope when the format is
// json. Returns false when the format is text so the caller renders
// its human-readable form instead.
func (f *OutputFormatter) JSON(data interface{}) (bool, error) {
	if f.Format != "json" {
		return false, nil
	}
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return true, enc.Encode(CLIResponse{Status: "ok", Data: data})
}

// Rejection outputs an engine rejection in the configured format and
// returns the error for exit-code propagation.
func (f *OutputFormatter) Rejection(err *domain.Error) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    string(err.Code),
				Message: err.Message,
				Details: err.Details,
			},
		})
		return err
	}

	fmt.Fprintf(f.Writer, "rejected [%s]: %s\n", err.Code, err.Message)
	if f.Verbose {
		for k, v := range err.Details {
			fmt.Fprintf(f.Writer, "  %s: %s\n", k, v)
		}
	}
	return err
}

// Printf writes formatted text output with locale-aware number
// grouping, so large locked balances render readably.
func (f *OutputFormatter) Printf(format string, args ...interface{}) {
	f.printer.Fprintf(f.Writer, format, args...)
}

// Amount renders a balance with thousands separators and six decimal
// places, the precision the ledger reports.
func (f *OutputFormatter) Amount(v float64) string {
	return f.printer.Sprintf("%.6f", v)
}
