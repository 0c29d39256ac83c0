package subagents

import (
	"encoding/json"
	"time"
)

// Well-known runtime file names on the workspace service.
const (
	fileSpawnActive   = "spawn-active.jsonl"
	fileSpawnRequests = "spawn-requests.json"
	fileResultsCache  = "results-cache.jsonl"
	fileActivityLog   = "activity-log.jsonl"
)

// activeRecord is one line of spawn-active.jsonl.
type activeRecord struct {
	SessionKey     string `json:"sessionKey"`
	SessionLabel   string `json:"sessionLabel"`
	TaskID         string `json:"taskId"`
	Model          string `json:"model"`
	StartedAt      string `json:"startedAt"`
	TimeoutMinutes int    `json:"timeoutMinutes"`
}

// queuedFile is the whole spawn-requests.json document.
type queuedFile struct {
	Requests []queuedRecord `json:"requests"`
}

type queuedRecord struct {
	TaskID   string `json:"taskId"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Model    string `json:"model"`
	QueuedAt string `json:"queuedAt"`
}

// cachedRecord is one line of results-cache.jsonl. CachedAt doubles as
// the completion instant and the dedup tie-breaker; all producers write
// UTC ISO-8601 of a fixed width, so plain string comparison orders it.
type cachedRecord struct {
	SessionLabel string `json:"sessionLabel"`
	TaskID       string `json:"taskId"`
	CachedAt     string `json:"cachedAt"`
	Outcome      string `json:"outcome"`
}

// spawnEvent is the canonical form of one activity-log entry relevant to
// spawn start times, normalized from both wire shapes.
type spawnEvent struct {
	SessionLabel string
	Timestamp    *time.Time
}

// activityRecord covers both activity-log shapes: the legacy flat one
// (no category, top-level sessionLabel) and the current one tagged
// category "orchestration:spawn" with the label under metadata.
type activityRecord struct {
	Category     string `json:"category"`
	SessionLabel string `json:"sessionLabel"`
	Timestamp    string `json:"timestamp"`
	Metadata     struct {
		SessionLabel string `json:"session_label"`
	} `json:"metadata"`
}

// decodeSpawnEvent normalizes one activity-log line. The second return
// value is false for lines that are not spawn events or carry no label.
func decodeSpawnEvent(raw json.RawMessage) (spawnEvent, bool) {
	var rec activityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return spawnEvent{}, false
	}
	var label string
	switch {
	case rec.Category == "orchestration:spawn":
		label = rec.Metadata.SessionLabel
	case rec.Category == "":
		label = rec.SessionLabel
	default:
		return spawnEvent{}, false
	}
	if label == "" {
		return spawnEvent{}, false
	}
	return spawnEvent{SessionLabel: label, Timestamp: parseTime(rec.Timestamp)}, true
}

// parseTime parses an ISO-8601 timestamp, returning nil for anything
// unparseable. Absent or garbage timestamps degrade to "unknown".
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
