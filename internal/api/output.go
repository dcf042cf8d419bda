package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatJSONL prints one compact JSON object per line. Feeds
	// printed this way can be piped straight into jq.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat = OutputFormatYAML

// SetOutputFormat sets the global output format.
func SetOutputFormat(format string) error {
	switch f := OutputFormat(strings.ToLower(format)); f {
	case OutputFormatYAML, OutputFormatJSON, OutputFormatJSONL:
		globalOutputFormat = f
		return nil
	}
	return fmt.Errorf("unknown output format %q (want yaml, json or jsonl)", format)
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatJSONL:
		return json.NewEncoder(w).Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// OutputToFile writes data to path, choosing the format from its extension
// (.json, otherwise YAML).
func OutputToFile(data any, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	format := OutputFormatYAML
	if strings.HasSuffix(path, ".json") {
		format = OutputFormatJSON
	}
	if err := OutputTo(f, format, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Stream prints a sequence of values, such as feed messages, so each one
// stays separable: YAML values become documents of one stream, JSON values
// are written one after another.
type Stream struct {
	format OutputFormat
	w      io.Writer
	yaml   *yaml.Encoder
}

// NewStream returns a stream writing to stdout in the configured format.
func NewStream() *Stream {
	return NewStreamTo(os.Stdout, globalOutputFormat)
}

// NewStreamTo returns a stream writing to w in format.
func NewStreamTo(w io.Writer, format OutputFormat) *Stream {
	s := &Stream{format: format, w: w}
	if format == OutputFormatYAML {
		s.yaml = yaml.NewEncoder(w)
		s.yaml.SetIndent(2)
	}
	return s
}

// Write prints one value.
func (s *Stream) Write(v any) error {
	if s.yaml != nil {
		return s.yaml.Encode(v)
	}
	return OutputTo(s.w, s.format, v)
}

// Close finishes the stream.
func (s *Stream) Close() error {
	if s.yaml != nil {
		return s.yaml.Close()
	}
	return nil
}
