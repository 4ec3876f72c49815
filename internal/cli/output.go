package cli

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/releasectl/internal/errors"
)

type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(s); f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	case "":
		return formatText, nil
	default:
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown output format '%s'", s),
			"Use --output text, json or yaml.")
	}
}

// structuredOutput reports whether --output asks for json or yaml.
func structuredOutput() bool {
	f, err := parseOutputFormat(outputFlag)
	return err == nil && f != formatText
}

// Envelope wraps command output in a consistent structure for machine
// parsing. Failed operations carry both the report and the error.
type Envelope struct {
	Success bool        `json:"success" yaml:"success"`
	Status  string      `json:"status" yaml:"status"`
	Data    interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty" yaml:"error,omitempty"`
}

// ErrorInfo is the machine-readable form of an error.
type ErrorInfo struct {
	Code       string `json:"code" yaml:"code"`
	ExitStatus int    `json:"exit_status" yaml:"exit_status"`
	Message    string `json:"message" yaml:"message"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	Cause      string `json:"cause,omitempty" yaml:"cause,omitempty"`
}

func envelopeFor(data interface{}, err error) Envelope {
	return Envelope{
		Success: err == nil,
		Status:  errors.CodeOf(err),
		Data:    data,
		Error:   errorInfo(err),
	}
}

// errorInfo converts err to an ErrorInfo. Structured errors keep their
// code; anything else is FAILURE.
func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	code := errors.CodeOf(err)
	info := &ErrorInfo{
		Code:       code,
		ExitStatus: errors.ExitStatus(code),
		Message:    err.Error(),
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		info.Message = e.Message
		info.Suggestion = e.Suggestion
		info.Host = e.Host
		if e.Cause != nil {
			info.Cause = firstLine(e.Cause.Error())
		}
	}
	return info
}

func writeEnvelope(w io.Writer, format outputFormat, env Envelope) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(env); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
}
