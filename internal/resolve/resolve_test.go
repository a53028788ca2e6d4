package resolve

import (
	"encoding/json"
	"testing"

	"github.com/outpostdb/outpost/internal/record"
)

func rec(t *testing.T, id string, updatedAt int64, fields map[string]any) record.SyncRecord {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal fields: %v", err)
	}
	return record.SyncRecord{
		ID:        id,
		Data:      data,
		ClientID:  "client-a",
		UpdatedAt: updatedAt,
		SyncID:    "sync-" + id,
	}
}

func TestIsLocalNewer(t *testing.T) {
	local := rec(t, "1", 200, nil)
	remote := rec(t, "1", 100, nil)

	if !IsLocalNewer(local, remote) {
		t.Error("local at 200 should be newer than remote at 100")
	}
	if IsLocalNewer(remote, local) {
		t.Error("remote at 100 should not be newer than local at 200")
	}
}

func TestIsLocalNewerTieNeverFavorsLocal(t *testing.T) {
	x := rec(t, "1", 500, nil)
	if IsLocalNewer(x, x) {
		t.Error("a record must not be newer than itself")
	}
}

func TestResolveLocalWins(t *testing.T) {
	local := rec(t, "1", 100, map[string]any{"v": "local"})
	remote := rec(t, "1", 200, map[string]any{"v": "remote"})

	got := Resolve(local, remote, StrategyLocal)
	if string(got.Data) != string(local.Data) {
		t.Errorf("strategy local must return local: got %s", got.Data)
	}
}

func TestResolveServerWins(t *testing.T) {
	local := rec(t, "1", 200, map[string]any{"v": "local"})
	remote := rec(t, "1", 100, map[string]any{"v": "remote"})

	got := Resolve(local, remote, StrategyServer)
	if string(got.Data) != string(remote.Data) {
		t.Errorf("strategy server must return remote: got %s", got.Data)
	}
}

func TestResolveUnknownStrategyFallsBackToServer(t *testing.T) {
	local := rec(t, "1", 200, map[string]any{"v": "local"})
	remote := rec(t, "1", 100, map[string]any{"v": "remote"})

	got := Resolve(local, remote, Strategy("newest-wins"))
	if string(got.Data) != string(remote.Data) {
		t.Errorf("unknown strategy must behave like server: got %s", got.Data)
	}
}

func TestResolveMergeTakesMaxTimestamp(t *testing.T) {
	local := rec(t, "1", 300, map[string]any{"a": "x"})
	remote := rec(t, "1", 100, map[string]any{"a": "y"})

	if got := Resolve(local, remote, StrategyMerge); got.UpdatedAt != 300 {
		t.Errorf("merge UpdatedAt = %d, want max 300", got.UpdatedAt)
	}
	if got := Resolve(remote, local, StrategyMerge); got.UpdatedAt != 300 {
		t.Errorf("merge UpdatedAt = %d, want max 300", got.UpdatedAt)
	}
}

func TestResolveMergeOverlaysNonNullLocalFields(t *testing.T) {
	local := rec(t, "1", 300, map[string]any{"title": "local title", "note": nil})
	remote := rec(t, "1", 100, map[string]any{"title": "remote title", "note": "remote note", "extra": 7})

	got := Resolve(local, remote, StrategyMerge)
	fields, err := got.Fields()
	if err != nil {
		t.Fatalf("merged payload: %v", err)
	}

	if fields["title"] != "local title" {
		t.Errorf("non-null local field must win: title = %v", fields["title"])
	}
	if fields["note"] != "remote note" {
		t.Errorf("null local field must not overwrite remote: note = %v", fields["note"])
	}
	if fields["extra"] != float64(7) {
		t.Errorf("remote-only field must survive: extra = %v", fields["extra"])
	}
}

func TestResolveMergeNonObjectPayloadDegradesToLastWrite(t *testing.T) {
	local := record.SyncRecord{ID: "1", Data: json.RawMessage(`"scalar"`), UpdatedAt: 300}
	remote := rec(t, "1", 100, map[string]any{"v": 1})

	got := Resolve(local, remote, StrategyMerge)
	if string(got.Data) != `"scalar"` {
		t.Errorf("expected newer side to win wholesale: got %s", got.Data)
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("merge") != StrategyMerge {
		t.Error("merge should be recognized")
	}
	if Normalize("bogus") != StrategyServer {
		t.Error("unknown strategy should normalize to server")
	}
	if Known("bogus") {
		t.Error("bogus must not be known")
	}
}
