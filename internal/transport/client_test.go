package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/snappy"

	"github.com/outpostdb/outpost/internal/record"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, compress bool) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{ServerURL: srv.URL, Compress: compress})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestPushSendsClientIDAndItems(t *testing.T) {
	var gotPath string
	var gotBody PushRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":1}`))
	}, false)

	resp, err := client.Push(context.Background(), "notes", PushRequest{
		ClientID: "client-a",
		Items:    []record.SyncRecord{{ID: "n1", Data: json.RawMessage(`{}`), UpdatedAt: 100}},
	})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if gotPath != "/sync/notes" {
		t.Errorf("path = %q, want /sync/notes", gotPath)
	}
	if gotBody.ClientID != "client-a" || len(gotBody.Items) != 1 {
		t.Errorf("request body = %+v", gotBody)
	}
	if string(resp) != `{"accepted":1}` {
		t.Errorf("response body not forwarded opaquely: %s", resp)
	}
}

func TestPushCompressesWithSnappy(t *testing.T) {
	var gotEncoding string
	var decoded PushRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		raw, _ := io.ReadAll(r.Body)
		body, err := snappy.Decode(nil, raw)
		if err != nil {
			http.Error(w, "bad snappy", http.StatusBadRequest)
			return
		}
		_ = json.Unmarshal(body, &decoded)
		w.WriteHeader(http.StatusOK)
	}, true)

	_, err := client.Push(context.Background(), "notes", PushRequest{
		ClientID: "client-a",
		Items:    []record.SyncRecord{{ID: "n1", Data: json.RawMessage(`{"v":1}`), UpdatedAt: 100}},
	})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if gotEncoding != "snappy" {
		t.Errorf("Content-Encoding = %q, want snappy", gotEncoding)
	}
	if decoded.ClientID != "client-a" {
		t.Errorf("decoded body = %+v", decoded)
	}
}

func TestPushNon2xxIsStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "replica out of date", http.StatusConflict)
	}, false)

	_, err := client.Push(context.Background(), "notes", PushRequest{ClientID: "c"})
	if err == nil {
		t.Fatal("expected error for 409")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.Code != http.StatusConflict {
		t.Errorf("code = %d, want 409", statusErr.Code)
	}
}

func TestPullBuildsQuery(t *testing.T) {
	var gotSince, gotClient string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		gotClient = r.URL.Query().Get("clientId")
		_ = json.NewEncoder(w).Encode(PullResponse{
			Items:      []record.SyncRecord{{ID: "n1", Data: json.RawMessage(`{}`), UpdatedAt: 150}},
			ServerTime: 160,
		})
	}, false)

	pull, err := client.Pull(context.Background(), "notes", 120, "client-a")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if gotSince != "120" {
		t.Errorf("since = %q, want 120", gotSince)
	}
	if gotClient != "client-a" {
		t.Errorf("clientId = %q", gotClient)
	}
	if len(pull.Items) != 1 || pull.ServerTime != 160 {
		t.Errorf("pull = %+v", pull)
	}
}

func TestPullServerFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, false)

	_, err := client.Pull(context.Background(), "notes", 0, "client-a")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestNewClientValidatesURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected error for empty server URL")
	}
}
