package subagents

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// The retention purge runs daily at a fixed local hour in the reference
// timezone, which has a constant UTC offset year-round.
var purgeZone = time.FixedZone("UTC+2", 2*60*60)

const purgeHour = 3

// PurgeLocation returns the fixed reference timezone the purge schedule
// is evaluated in.
func PurgeLocation() *time.Location {
	return purgeZone
}

// NextPurgeAt returns the next purge instant after now, in UTC. Pure
// function of its argument.
func NextPurgeAt(now time.Time) time.Time {
	local := now.In(purgeZone)
	next := time.Date(local.Year(), local.Month(), local.Day(), purgeHour, 0, 0, 0, purgeZone)
	if !local.Before(next) {
		next = next.Add(24 * time.Hour)
	}
	return next.UTC()
}

// Overview produces the fleet-wide snapshot across all tasks, without
// gateway enrichment, plus the retention policy metadata.
func (s *Service) Overview(ctx context.Context) (*Snapshot, Retention, error) {
	ctx, span := s.tracer.Start(ctx, "subagents.overview", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	snap, err := s.Collect(ctx, "")
	if err != nil {
		return nil, Retention{}, err
	}
	retention := Retention{
		CompletedRetentionDays:   s.opts.CompletedRetentionDays,
		ActivityLogRetentionDays: s.opts.ActivityLogRetentionDays,
		NextPurgeAt:              NextPurgeAt(time.Now()),
	}
	return snap, retention, nil
}
