// Package subagents reconciles three eventually consistent views of
// subagent executions into one: runtime files served by the workspace
// service, the relational task store, and the best-effort agent gateway.
package subagents

import (
	"fmt"
	"time"
)

// Status classifies one execution attempt.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// Attempt is a single execution attempt of a subagent working on a task.
// Attempts are recomputed on every read; they are never persisted.
type Attempt struct {
	TaskID          string     `json:"taskId"`
	TaskNumber      *int       `json:"taskNumber"`
	SessionKey      string     `json:"sessionKey,omitempty"`
	SessionLabel    string     `json:"sessionLabel,omitempty"`
	Title           string     `json:"title,omitempty"`
	Status          Status     `json:"status"`
	Model           string     `json:"model,omitempty"`
	StartedAt       *time.Time `json:"startedAt"`
	QueuedAt        *time.Time `json:"queuedAt"`
	CompletedAt     *time.Time `json:"completedAt"`
	Outcome         string     `json:"outcome,omitempty"`
	TokensUsed      *int64     `json:"tokensUsed"`
	DurationSeconds *int64     `json:"durationSeconds"`
}

// recency is the newest known timestamp of the attempt, used for sorting.
// The second return value is false when no timestamp is known at all.
func (a *Attempt) recency() (time.Time, bool) {
	var best time.Time
	known := false
	for _, ts := range []*time.Time{a.StartedAt, a.QueuedAt, a.CompletedAt} {
		if ts != nil && (!known || ts.After(best)) {
			best = *ts
			known = true
		}
	}
	return best, known
}

// Summary holds per-status counts over a merged attempt list.
type Summary struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Queued    int `json:"queued"`
}

func summarize(attempts []Attempt) Summary {
	s := Summary{Total: len(attempts)}
	for _, a := range attempts {
		switch a.Status {
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusQueued:
			s.Queued++
		}
	}
	return s
}

// Snapshot is the classified fleet view produced by the runtime collector.
type Snapshot struct {
	Running   []Attempt `json:"running"`
	Queued    []Attempt `json:"queued"`
	Completed []Attempt `json:"completed"`
}

// Retention describes the purge policy applied by the retention job.
type Retention struct {
	CompletedRetentionDays   int       `json:"completedRetentionDays"`
	ActivityLogRetentionDays int       `json:"activityLogRetentionDays"`
	NextPurgeAt              time.Time `json:"nextPurgeAt"`
}

// identityKind records which identifier an attempt was keyed by. Keeping
// the kind in the key prevents a bare label from ever colliding with a
// session key of the same text.
type identityKind int

const (
	bySessionKey identityKind = iota
	bySessionLabel
	synthetic
)

type identityKey struct {
	kind  identityKind
	value string
}

// identify picks the deduplication key for an attempt: session key when
// known, else session label, else a synthetic key from status category
// and task id so records from different lists never collide.
func identify(a *Attempt) identityKey {
	if a.SessionKey != "" {
		return identityKey{kind: bySessionKey, value: a.SessionKey}
	}
	if a.SessionLabel != "" {
		return identityKey{kind: bySessionLabel, value: a.SessionLabel}
	}
	return identityKey{kind: synthetic, value: fmt.Sprintf("%s/%s", a.Status, a.TaskID)}
}

// sessionLabelMatches reports whether a gateway display name follows the
// spawn naming convention for the given task. Labels embed either the
// opaque task id or the human-readable task number.
func sessionLabelMatches(label, taskID string, taskNumber *int) bool {
	if label == "" {
		return false
	}
	if taskID != "" && hasLabelPrefix(label, taskID) {
		return true
	}
	if taskNumber != nil && hasLabelPrefix(label, fmt.Sprintf("%d", *taskNumber)) {
		return true
	}
	return false
}

func hasLabelPrefix(label, ident string) bool {
	prefix := "mosbot-task-" + ident + "-"
	return len(label) >= len(prefix) && label[:len(prefix)] == prefix
}
