// Package executor abstracts the embedded query engine behind a single
// capability and provides adapters for the two calling conventions engines
// expose: a native form that returns structured results, and an encoded form
// that speaks JSON strings in both directions.
//
// Which adapter wraps a given backend is an explicit construction-time
// choice. Nothing here inspects runtime types to guess the convention.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Result is the structured outcome of one backend call.
type Result struct {
	OK       bool             `json:"ok"`
	Rows     []map[string]any `json:"rows,omitempty"`
	Affected int64            `json:"affected,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// Executor is the single query-execution capability consumed by the monitor
// and the sync layer. Run blocks until the backend answers; the context
// bounds that wait.
type Executor interface {
	Run(ctx context.Context, query string, params []any) (Result, error)
}

// NativeBackend is an engine that already speaks structured results.
type NativeBackend interface {
	Run(ctx context.Context, query string, params []any) (Result, error)
}

// EncodedBackend is an engine that speaks JSON-encoded request and response
// strings, typically one living behind a message channel or FFI boundary.
type EncodedBackend interface {
	RunEncoded(ctx context.Context, request string) (string, error)
}

// encodedRequest is the envelope sent to an EncodedBackend.
type encodedRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params,omitempty"`
}

type nativeExecutor struct {
	backend NativeBackend
}

// NewNativeExecutor wraps an object-returning backend.
func NewNativeExecutor(backend NativeBackend) Executor {
	return &nativeExecutor{backend: backend}
}

func (e *nativeExecutor) Run(ctx context.Context, query string, params []any) (Result, error) {
	return e.backend.Run(ctx, query, params)
}

type encodedExecutor struct {
	backend EncodedBackend
}

// NewEncodedExecutor wraps a string-encoded backend. Requests are serialized
// to a JSON envelope and responses are decoded back into a Result.
func NewEncodedExecutor(backend EncodedBackend) Executor {
	return &encodedExecutor{backend: backend}
}

func (e *encodedExecutor) Run(ctx context.Context, query string, params []any) (Result, error) {
	req, err := json.Marshal(encodedRequest{Query: query, Params: params})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := e.backend.RunEncoded(ctx, string(req))
	if err != nil {
		return Result{}, err
	}

	var result Result
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return Result{}, fmt.Errorf("failed to decode backend response: %w", err)
	}
	return result, nil
}

// IsMutating reports whether a statement writes to the store: schema creation
// or data modification. Read-only statements never count against the memory
// budget.
func IsMutating(query string) bool {
	q := strings.TrimSpace(query)
	for {
		rest, ok := strings.CutPrefix(q, "--")
		if !ok {
			break
		}
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			q = strings.TrimSpace(rest[i+1:])
		} else {
			return false
		}
	}
	if i := strings.IndexAny(q, " \t\n\r("); i > 0 {
		q = q[:i]
	}
	switch strings.ToUpper(q) {
	case "INSERT", "UPDATE", "DELETE", "REPLACE", "CREATE", "DROP", "ALTER":
		return true
	}
	return false
}
