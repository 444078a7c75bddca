package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"index_trader/internal/core"
	"index_trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// DefaultMaxAttempts bounds retries of malformed structured output
const DefaultMaxAttempts = 3

// MalformedOutputError marks completion output that is not usable JSON.
// It is the only error CompleteJSON retries.
type MalformedOutputError struct {
	Reason string
	Raw    string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed llm output: %s", e.Reason)
}

// IsMalformed reports whether err is, or wraps, a MalformedOutputError
func IsMalformed(err error) bool {
	var m *MalformedOutputError
	return errors.As(err, &m)
}

// Schema is a compiled JSON schema together with its raw source
type Schema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document
func CompileSchema(name, raw string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{raw: json.RawMessage(raw), compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas
func MustCompileSchema(name, raw string) *Schema {
	s, err := CompileSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the schema document
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Validate checks a JSON document against the schema
func (s *Schema) Validate(doc []byte) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return s.compiled.Validate(v)
}

// ParseJSON extracts the JSON document from model text (optionally fenced)
// and validates it against schema when one is given.
func ParseJSON(text string, schema *Schema) (json.RawMessage, error) {
	doc, ok := ExtractJSON(text)
	if !ok {
		return nil, &MalformedOutputError{Reason: "no JSON document found", Raw: text}
	}
	if !gjson.Valid(doc) {
		return nil, &MalformedOutputError{Reason: "invalid JSON", Raw: text}
	}
	if schema != nil {
		if err := schema.Validate([]byte(doc)); err != nil {
			return nil, &MalformedOutputError{Reason: "schema violation: " + err.Error(), Raw: text}
		}
	}
	return json.RawMessage(doc), nil
}

// StructuredOptions tunes CompleteJSON
type StructuredOptions struct {
	Completion  core.CompletionOptions
	Schema      *Schema
	MaxAttempts int
	RetryDelay  time.Duration
}

// CompleteJSON requests JSON output and re-sends the same prompt while the
// answer is malformed, up to MaxAttempts. Transport errors are returned as is.
func CompleteJSON(ctx context.Context, svc core.ICompletionService, messages []core.Message, opts StructuredOptions, logger core.ILogger) (json.RawMessage, error) {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	completion := opts.Completion
	completion.JSONOutput = true
	if opts.Schema != nil && len(completion.ResponseSchema) == 0 {
		completion.ResponseSchema = opts.Schema.Raw()
	}

	builder := retrypolicy.NewBuilder[json.RawMessage]().
		HandleIf(func(_ json.RawMessage, err error) bool {
			return IsMalformed(err)
		}).
		WithMaxRetries(attempts - 1)
	if opts.RetryDelay > 0 {
		builder = builder.WithDelay(opts.RetryDelay)
	}
	policy := builder.Build()

	metrics := telemetry.GetGlobalMetrics()
	var lastErr error
	result, err := failsafe.With[json.RawMessage](policy).WithContext(ctx).Get(func() (json.RawMessage, error) {
		text, err := svc.Complete(ctx, messages, completion)
		if err != nil {
			metrics.RecordLLMAttempt(ctx, "error")
			lastErr = err
			return nil, err
		}
		doc, err := ParseJSON(text, opts.Schema)
		if err != nil {
			metrics.RecordLLMAttempt(ctx, "malformed")
			logger.Warn("Malformed structured output", "error", err)
			lastErr = err
			return nil, err
		}
		metrics.RecordLLMAttempt(ctx, "ok")
		return doc, nil
	})
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("structured completion failed: %w", lastErr)
		}
		return nil, err
	}
	return result, nil
}
