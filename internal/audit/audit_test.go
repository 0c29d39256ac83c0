package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordAppendsAndCounts(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	before := DenyCount()
	Record("deny", "/api/tasks", "invalid or missing bearer token", "192.0.2.1:5000", "req-1")
	Record("allow", "/api/tasks", "", "192.0.2.1:5000", "req-2")

	if got := DenyCount(); got != before+1 {
		t.Fatalf("deny count = %d, want %d", got, before+1)
	}

	f, err := os.Open(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var entries []entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if entries[0].Decision != "deny" || entries[0].Route != "/api/tasks" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Decision != "allow" || entries[1].RequestID != "req-2" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	Record("deny", "/api/subagents", "rejected Bearer eyJabcdef1234567890xyz", "", "req-3")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if strings.Contains(string(raw), "eyJabcdef1234567890xyz") {
		t.Fatalf("token leaked into audit log: %s", raw)
	}
}

func TestRecordBeforeInitIsNoop(t *testing.T) {
	// Not initialized in this subtest's scope; must not panic.
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	Record("deny", "/healthz", "no sink", "", "")
}
