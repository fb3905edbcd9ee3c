package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the envelope's self-describing status discriminant
// (spec §4.1).
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusError     Status = "ERROR"
	StatusCancelled Status = "CANCELLED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// ErrorKind tags the taxonomy of InvocationError (spec §4.1, §7).
type ErrorKind string

const (
	ErrTransport     ErrorKind = "transport"
	ErrTimeout       ErrorKind = "timeout"
	ErrSchemaMismatch ErrorKind = "schema_mismatch"
	ErrStatusError   ErrorKind = "status_error"
)

// InvocationError is the typed failure invoke() reports instead of
// raising. The scheduler always sees a Result; it decides the response
// per §4.6-§4.8, never treating this as an exception.
type InvocationError struct {
	Kind    ErrorKind
	Status  Status
	Message string
}

func (e *InvocationError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("invocation error [%s/%s]: %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("invocation error [%s]: %s", e.Kind, e.Message)
}

// Result is invoke()'s return value: either a validated payload or a
// typed InvocationError, never both.
type Result[T any] struct {
	Value T
	Err   *InvocationError
}

// Ok reports whether the invocation produced a usable payload.
func (r Result[T]) Ok() bool { return r.Err == nil }

// Constraints carries the per-call knobs forwarded to the backend
// (spec §4.1): timeout, tool-use turn cap, model selection, and
// permission mode.
type Constraints struct {
	Timeout        time.Duration
	MaxTurns       int
	Model          string
	PermissionMode string
}

// Request is what the invocation layer hands to a Backend.
type Request struct {
	Role            Role
	Inputs          any
	ContextSnippets []string
	SharedMemory    map[string]string
	Tools           []ToolCapability
	Constraints     Constraints
}

// Envelope is the self-describing response a backend must produce:
// a status discriminant plus a raw payload to be validated against the
// caller's response_schema on SUCCESS.
type Envelope struct {
	Status  Status
	Payload json.RawMessage
	Message string
	// Usage is the backend-reported token consumption for this single
	// invocation, when the backend reports it. Zero values mean the
	// backend didn't report usage, not that the call was free.
	Usage Usage
}

// Usage is one invocation's token consumption, as reported by a Backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Backend turns a Request into an Envelope. Implementations are
// responsible only for the transport; invoke() owns status/schema
// handling. A Backend must not retry — spec §4.1: "the layer performs
// no retries of its own; retry is a scheduler concern."
type Backend interface {
	Name() string
	Execute(ctx context.Context, req Request) (*Envelope, error)
}

// Invoke implements the invoke(role, inputs, response_schema, tools,
// constraints) contract (spec §4.1). decode validates and unmarshals the
// envelope payload into T on SUCCESS; any other status or a transport
// error becomes a typed InvocationError instead of a returned Go error.
func Invoke[T any](ctx context.Context, backend Backend, role Role, inputs any, constraints Constraints, decode func(json.RawMessage) (T, error)) Result[T] {
	req := Request{
		Role:        role,
		Inputs:      inputs,
		Tools:       ToolsForRole(role),
		Constraints: constraints,
	}

	var zero T

	envelope, err := backend.Execute(ctx, req)
	if err != nil {
		return Result[T]{Value: zero, Err: &InvocationError{Kind: ErrTransport, Message: err.Error()}}
	}
	if envelope == nil {
		return Result[T]{Value: zero, Err: &InvocationError{Kind: ErrStatusError, Message: "backend returned no envelope"}}
	}

	switch envelope.Status {
	case StatusSuccess:
		val, derr := decode(envelope.Payload)
		if derr != nil {
			return Result[T]{Value: zero, Err: &InvocationError{Kind: ErrSchemaMismatch, Status: envelope.Status, Message: derr.Error()}}
		}
		return Result[T]{Value: val}
	case StatusTimedOut:
		return Result[T]{Value: zero, Err: &InvocationError{Kind: ErrTimeout, Status: envelope.Status, Message: envelope.Message}}
	case StatusFailed, StatusError, StatusCancelled:
		return Result[T]{Value: zero, Err: &InvocationError{Kind: ErrStatusError, Status: envelope.Status, Message: envelope.Message}}
	default:
		return Result[T]{Value: zero, Err: &InvocationError{Kind: ErrStatusError, Status: envelope.Status, Message: fmt.Sprintf("unrecognized status %q", envelope.Status)}}
	}
}

// DecodeJSON is a convenience decode func for types that unmarshal
// directly from the envelope payload.
func DecodeJSON[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}
