package escalate

import (
	"context"
	"log"

	"github.com/fieldline/dispatchd/internal/job"
)

type Reason string

const (
	ReasonExhausted        Reason = "exhausted"
	ReasonDeadlineBreached Reason = "deadline_breached"
)

// Escalator hands a job off to the human dispatcher channel. Called at
// most once per job; the job is terminal afterwards.
type Escalator interface {
	Escalate(ctx context.Context, j *job.Job, reason Reason) error
}

// Func adapts a plain function to the Escalator interface.
type Func func(ctx context.Context, j *job.Job, reason Reason) error

func (f Func) Escalate(ctx context.Context, j *job.Job, reason Reason) error {
	return f(ctx, j, reason)
}

// LogEscalator is the default handler: a high-priority log line where a
// real deployment plugs in its paging/ops channel.
type LogEscalator struct{}

func (LogEscalator) Escalate(ctx context.Context, j *job.Job, reason Reason) error {
	log.Printf("ESCALATION: job %s (tier %d) handed to dispatcher, reason=%s", j.ID, j.Tier, reason)
	return nil
}
