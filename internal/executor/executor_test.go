package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestIsMutating(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT * FROM notes", false},
		{"  select 1", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"PRAGMA journal_mode", false},
		{"INSERT INTO notes VALUES (1)", true},
		{"insert into notes values (1)", true},
		{"UPDATE notes SET a = 1", true},
		{"DELETE FROM notes", true},
		{"REPLACE INTO notes VALUES (1)", true},
		{"CREATE TABLE notes (id TEXT)", true},
		{"DROP TABLE notes", true},
		{"ALTER TABLE notes ADD COLUMN x", true},
		{"-- comment\nINSERT INTO notes VALUES (1)", true},
		{"-- just a comment", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMutating(tt.query); got != tt.want {
			t.Errorf("IsMutating(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

type fakeNative struct {
	lastQuery  string
	lastParams []any
}

func (f *fakeNative) Run(ctx context.Context, query string, params []any) (Result, error) {
	f.lastQuery = query
	f.lastParams = params
	return Result{OK: true, Affected: 2}, nil
}

func TestNativeExecutorPassesThrough(t *testing.T) {
	backend := &fakeNative{}
	exec := NewNativeExecutor(backend)

	res, err := exec.Run(context.Background(), "UPDATE notes SET a = ?", []any{1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.OK || res.Affected != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if backend.lastQuery != "UPDATE notes SET a = ?" {
		t.Errorf("query not forwarded: %q", backend.lastQuery)
	}
}

// fakeEncoded echoes a canned response and records the request envelope.
type fakeEncoded struct {
	lastRequest string
	response    string
	err         error
}

func (f *fakeEncoded) RunEncoded(ctx context.Context, request string) (string, error) {
	f.lastRequest = request
	return f.response, f.err
}

func TestEncodedExecutorRoundTrip(t *testing.T) {
	backend := &fakeEncoded{response: `{"ok":true,"rows":[{"id":"n1"}]}`}
	exec := NewEncodedExecutor(backend)

	res, err := exec.Run(context.Background(), "SELECT * FROM notes WHERE id = ?", []any{"n1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.OK || len(res.Rows) != 1 || res.Rows[0]["id"] != "n1" {
		t.Errorf("unexpected result: %+v", res)
	}

	var envelope struct {
		Query  string `json:"query"`
		Params []any  `json:"params"`
	}
	if err := json.Unmarshal([]byte(backend.lastRequest), &envelope); err != nil {
		t.Fatalf("request was not a JSON envelope: %v", err)
	}
	if envelope.Query != "SELECT * FROM notes WHERE id = ?" {
		t.Errorf("envelope query = %q", envelope.Query)
	}
	if len(envelope.Params) != 1 || envelope.Params[0] != "n1" {
		t.Errorf("envelope params = %v", envelope.Params)
	}
}

func TestEncodedExecutorBackendError(t *testing.T) {
	backendErr := errors.New("channel closed")
	exec := NewEncodedExecutor(&fakeEncoded{err: backendErr})

	if _, err := exec.Run(context.Background(), "SELECT 1", nil); !errors.Is(err, backendErr) {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestEncodedExecutorMalformedResponse(t *testing.T) {
	exec := NewEncodedExecutor(&fakeEncoded{response: "not json"})

	if _, err := exec.Run(context.Background(), "SELECT 1", nil); err == nil {
		t.Error("expected decode error")
	}
}
