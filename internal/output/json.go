// Package output renders command results as the JSON response envelope
// described in spec §6: every CLI invocation emits exactly one such
// envelope on stdout, success or failure, so a calling agent or script
// never has to scrape human-readable text.
package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"
)

// recoverableError mirrors models.RecoverableError locally to avoid an
// import cycle between output and the packages that define domain errors.
// errors.As requires a concrete or pointer type target; using the
// interface directly here lets Go's structural typing match any
// implementor without coupling this package to models.
type recoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// Response is the envelope every command prints exactly once.
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            interface{}       `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// SchemaVersion is the envelope's current schema tag.
const SchemaVersion = "v1"

// Config controls where and how a Response is rendered.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig returns a Config writing compact JSON to stdout, or
// indented JSON if STORYFORGE_PRETTY_JSON is set, for interactive use.
func DefaultConfig() Config {
	pretty := os.Getenv("STORYFORGE_PRETTY_JSON") == "1" || os.Getenv("STORYFORGE_PRETTY_JSON") == "true"
	return Config{Writer: os.Stdout, Pretty: pretty}
}

// Success builds a successful envelope carrying data.
func Success(data interface{}) Response {
	return Response{SchemaVersion: SchemaVersion, Success: true, Data: data}
}

// Error builds a failure envelope from err, enriching it with the
// RecoverableError taxonomy (spec §7) when err implements it.
func Error(err error) Response {
	resp := Response{SchemaVersion: SchemaVersion, Success: false, Error: err.Error()}
	var re recoverableError
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
		resp.SuggestedAction = re.SuggestedAction()
	}
	return resp
}

// PrintWith encodes v as JSON to cfg.Writer.
func PrintWith(cfg Config, v interface{}) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print encodes v as JSON to stdout using DefaultConfig.
func Print(v interface{}) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess prints a successful envelope wrapping data.
func PrintSuccess(data interface{}) error {
	return Print(Success(data))
}

// PrintError prints a failure envelope wrapping err.
func PrintError(err error) error {
	return Print(Error(err))
}

// ExitCode maps a command's outcome to the process exit status the CLI
// surface (spec §6) contracts: 0 on success, 2 for a recoverable/config
// error the caller can act on, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var re recoverableError
	if errors.As(err, &re) {
		return 2
	}
	return 1
}
