package subagents

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/moslab/mosbot/internal/agentgw"
)

// TaskAttempts produces the deduplicated attempt list for one task,
// runtime records enriched from the gateway where possible. The task id
// is checked against the store before any other work; a missing task
// returns ErrTaskNotFound without touching the gateway.
func (s *Service) TaskAttempts(ctx context.Context, taskID string) ([]Attempt, Summary, error) {
	ctx, span := s.tracer.Start(ctx, "subagents.task_attempts",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("mosbot.task.id", taskID)))
	defer span.End()

	exists, err := s.tasks.TaskExists(ctx, taskID)
	if err != nil {
		return nil, Summary{}, err
	}
	if !exists {
		return nil, Summary{}, ErrTaskNotFound
	}

	snap, err := s.Collect(ctx, taskID)
	if err != nil {
		return nil, Summary{}, err
	}

	// Seed the identity map from runtime records. Insertion order is
	// remembered so ties in the final sort stay stable.
	byIdentity := make(map[identityKey]*Attempt)
	var order []identityKey
	seed := func(a Attempt) {
		key := identify(&a)
		if _, ok := byIdentity[key]; ok {
			return
		}
		copied := a
		byIdentity[key] = &copied
		order = append(order, key)
	}
	for _, a := range snap.Running {
		seed(a)
	}
	for _, a := range snap.Queued {
		seed(a)
	}
	for _, a := range snap.Completed {
		seed(a)
	}

	var taskNumber *int
	for _, key := range order {
		if n := byIdentity[key].TaskNumber; n != nil {
			taskNumber = n
			break
		}
	}
	if taskNumber == nil {
		if numbers, err := s.tasks.FindTaskNumbers(ctx, []string{taskID}); err == nil {
			if n, ok := numbers[taskID]; ok {
				taskNumber = &n
			}
		}
	}

	s.enrichFromGateway(ctx, taskID, taskNumber, byIdentity, &order)
	s.backfillOutcomes(ctx, byIdentity, order)

	attempts := make([]Attempt, 0, len(order))
	for _, key := range order {
		attempts = append(attempts, *byIdentity[key])
	}
	sortByRecency(attempts)
	return attempts, summarize(attempts), nil
}

// enrichFromGateway merges gateway sessions matching the task's label
// convention into the identity map. Every failure degrades to no
// enrichment; nothing here can fail the request.
func (s *Service) enrichFromGateway(ctx context.Context, taskID string, taskNumber *int, byIdentity map[identityKey]*Attempt, order *[]identityKey) {
	if s.gateway == nil || !s.gateway.Configured() {
		return
	}
	sessions, err := s.gateway.ListSessions(ctx, agentgw.ListFilter{
		ActiveWithin: s.opts.GatewayLookback,
		Kind:         "other",
	})
	if err != nil {
		s.countGatewayDegradation(ctx)
		s.logger.Warn("gateway enrichment unavailable", "error", err)
		return
	}

	for _, sess := range sessions {
		if !sessionLabelMatches(sess.DisplayName, taskID, taskNumber) {
			continue
		}
		gwStatus := StatusRunning
		if sess.AbortedLastRun {
			gwStatus = StatusFailed
		}

		existing := byIdentity[identityKey{kind: bySessionKey, value: sess.Key}]
		if existing == nil {
			existing = byIdentity[identityKey{kind: bySessionLabel, value: sess.DisplayName}]
		}
		if existing != nil {
			// Runtime status wins; the gateway only fills gaps.
			if existing.SessionKey == "" {
				existing.SessionKey = sess.Key
			}
			if existing.Model == "" {
				existing.Model = sess.Model
			}
			if existing.TokensUsed == nil {
				existing.TokensUsed = sess.TotalTokens
			}
			continue
		}

		a := &Attempt{
			TaskID:       taskID,
			TaskNumber:   taskNumber,
			SessionKey:   sess.Key,
			SessionLabel: sess.DisplayName,
			Status:       gwStatus,
			Model:        sess.Model,
			TokensUsed:   sess.TotalTokens,
		}
		key := identify(a)
		byIdentity[key] = a
		*order = append(*order, key)
	}
}

// backfillOutcomes fetches session history for attempts that still have
// no outcome and uses the last non-empty assistant message. Failures are
// logged per session and skipped.
func (s *Service) backfillOutcomes(ctx context.Context, byIdentity map[identityKey]*Attempt, order []identityKey) {
	if s.gateway == nil || !s.gateway.Configured() {
		return
	}
	for _, key := range order {
		a := byIdentity[key]
		if a.Outcome != "" || a.SessionKey == "" {
			continue
		}
		messages, err := s.gateway.FetchHistory(ctx, a.SessionKey)
		if err != nil {
			s.countGatewayDegradation(ctx)
			s.logger.Warn("history fetch failed", "session_key", a.SessionKey, "error", err)
			continue
		}
		for i := len(messages) - 1; i >= 0; i-- {
			m := messages[i]
			if m.Role == "assistant" && strings.TrimSpace(m.Content) != "" {
				a.Outcome = strings.TrimSpace(m.Content)
				break
			}
		}
	}
}

// sortByRecency orders attempts newest first by their best-known
// timestamp. Attempts with no timestamp keep their relative order at
// the end of the list.
func sortByRecency(attempts []Attempt) {
	sort.SliceStable(attempts, func(i, j int) bool {
		ti, iKnown := attempts[i].recency()
		tj, jKnown := attempts[j].recency()
		if iKnown != jKnown {
			return iKnown
		}
		if !iKnown {
			return false
		}
		return ti.After(tj)
	})
}
