package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/dispatchd/internal/bus"
	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/escalate"
	"github.com/fieldline/dispatchd/internal/job"
	"github.com/fieldline/dispatchd/internal/policy"
)

// coordinator drives one job's state machine: matching -> offering ->
// assigned | escalated | cancelled. It is the only writer of its job
// record; it touches shared state only through the contractor registry.
type coordinator struct {
	eng  *Engine
	rec  *job.Record
	pol  policy.Policy
	task *task
}

type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeRejected
	outcomeExpired
	outcomeCancelled
	outcomeShutdown
)

func (c *coordinator) run(ctx context.Context) {
	defer c.eng.wg.Done()
	defer c.eng.finish(c.rec.Job.ID)

	j := c.rec.Job

	if j.State == job.StateMatching {
		eligible := c.eng.registry.ListEligible(j.Location, j.RequiredCertification)
		ranked := c.eng.matcher.Rank(j, eligible)
		ids := make([]string, len(ranked))
		for i, cand := range ranked {
			ids[i] = cand.ID
		}
		c.rec.Remaining = ids
		j.State = job.StateOffering
		c.persist()
		c.eng.publish(j, "searching for a contractor")
		log.Printf("Job %s: %d candidate(s) ranked", j.ID, len(ids))
	}

	for len(c.rec.Remaining) > 0 {
		if ctx.Err() != nil {
			return // shutdown; record stays open for recovery
		}
		select {
		case <-c.task.cancelCh:
			c.cancelled()
			return
		default:
		}
		if !time.Now().Before(j.AbsoluteDeadline) {
			c.escalate(escalate.ReasonDeadlineBreached)
			return
		}

		candID := c.rec.Remaining[0]
		c.rec.Remaining = c.rec.Remaining[1:]

		// A failed reserve is a benign race with another job; skip the
		// candidate without counting an attempt.
		if !c.eng.registry.Reserve(candID, j.ID) {
			c.eng.met.ReservationConflict()
			continue
		}

		sentAt := time.Now().UTC()
		deadline := sentAt.Add(c.pol.ResponseWindow)
		if deadline.After(j.AbsoluteDeadline) {
			deadline = j.AbsoluteDeadline
		}
		offer := &job.Offer{
			ContractorID:    candID,
			OfferInstanceID: uuid.NewString(),
			SentAt:          sentAt,
			Deadline:        deadline,
		}
		c.rec.CurrentOffer = offer
		c.rec.Attempts++
		c.persist()

		ev := bus.OfferEvent{
			JobID:           j.ID,
			ContractorID:    candID,
			OfferInstanceID: offer.OfferInstanceID,
			Tier:            int(j.Tier),
			Location:        j.Location,
			PriceMultiplier: c.pol.PriceMultiplier,
			ExpiresAt:       deadline,
		}
		if err := c.eng.bus.SendOffer(ctx, ev); err != nil {
			// Unreachable contractor is handled exactly like a timeout.
			log.Printf("Job %s: offer delivery to %s failed: %v", j.ID, candID, err)
			c.eng.met.DeliveryFailure()
			c.eng.registry.Release(candID, j.ID, contractor.OutcomeExpired)
			c.clearOffer()
			continue
		}
		c.eng.met.OfferSent()
		log.Printf("Job %s: offer %s sent to %s, expires %s", j.ID, offer.OfferInstanceID, candID, deadline.Format(time.RFC3339))

		switch c.await(ctx, candID, offer.OfferInstanceID, deadline) {
		case outcomeAccepted:
			c.eng.registry.Release(candID, j.ID, contractor.OutcomeAccepted)
			c.eng.registry.RecordResponse(candID, true, time.Since(sentAt))
			c.assigned(candID)
			return
		case outcomeRejected:
			c.eng.registry.Release(candID, j.ID, contractor.OutcomeRejected)
			c.eng.registry.RecordResponse(candID, false, time.Since(sentAt))
			c.eng.met.OfferRejected()
			log.Printf("Job %s: offer rejected by %s", j.ID, candID)
			c.clearOffer()
		case outcomeExpired:
			c.eng.registry.Release(candID, j.ID, contractor.OutcomeExpired)
			c.eng.met.OfferExpired()
			log.Printf("Job %s: offer to %s expired", j.ID, candID)
			c.clearOffer()
		case outcomeCancelled:
			c.eng.registry.Release(candID, j.ID, contractor.OutcomeCancelled)
			c.cancelled()
			return
		case outcomeShutdown:
			// Contractor must not leak into offer_pending on shutdown.
			c.eng.registry.Release(candID, j.ID, contractor.OutcomeCancelled)
			return
		}
	}

	if !time.Now().Before(j.AbsoluteDeadline) {
		c.escalate(escalate.ReasonDeadlineBreached)
		return
	}
	c.escalate(escalate.ReasonExhausted)
}

// await blocks on the accept/reject/timeout race for one offer. The
// timer is one-shot and stopped as soon as the offer resolves.
func (c *coordinator) await(ctx context.Context, contractorID, offerID string, deadline time.Time) outcome {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case resp := <-c.task.responses:
			if resp.ContractorID != contractorID || resp.OfferInstanceID != offerID {
				// Response for a superseded offer instance.
				c.eng.met.StaleResponse()
				log.Printf("Job %s: stale response dropped (contractor %s, offer %s)", c.rec.Job.ID, resp.ContractorID, resp.OfferInstanceID)
				continue
			}
			if resp.Decision == bus.DecisionAccept {
				return outcomeAccepted
			}
			return outcomeRejected
		case <-timer.C:
			return outcomeExpired
		case <-c.task.cancelCh:
			return outcomeCancelled
		case <-ctx.Done():
			return outcomeShutdown
		}
	}
}

func (c *coordinator) assigned(contractorID string) {
	j := c.rec.Job
	if j.State.Terminal() {
		log.Printf("INVARIANT VIOLATION: job %s resolved twice (state %s)", j.ID, j.State)
		c.eng.met.InvariantViolation()
		return
	}
	now := time.Now().UTC()
	j.State = job.StateAssigned
	j.ContractorID = contractorID
	j.ClosedAt = &now
	c.rec.CurrentOffer = nil
	c.persist()

	c.eng.met.OfferAccepted()
	c.eng.met.JobAssigned(now.Sub(j.CreatedAt).Seconds())
	log.Printf("Job %s: assigned to contractor %s after %d attempt(s)", j.ID, contractorID, c.rec.Attempts)
	c.eng.publish(j, "contractor assigned")

	if c.eng.onAssigned != nil {
		c.eng.onAssigned(j.ID, contractorID)
	}
}

func (c *coordinator) cancelled() {
	j := c.rec.Job
	now := time.Now().UTC()
	j.State = job.StateCancelled
	j.ClosedAt = &now
	c.rec.CurrentOffer = nil
	c.persist()

	c.eng.met.JobCancelled()
	log.Printf("Job %s: cancelled", j.ID)
	c.eng.publish(j, "request cancelled")
}

func (c *coordinator) escalate(reason escalate.Reason) {
	j := c.rec.Job
	now := time.Now().UTC()
	j.State = job.StateEscalated
	j.EscalationReason = string(reason)
	j.ClosedAt = &now
	c.rec.CurrentOffer = nil
	c.persist()

	c.eng.met.JobEscalated()
	log.Printf("Job %s: escalated (%s)", j.ID, reason)
	if err := c.eng.esc.Escalate(context.Background(), j, reason); err != nil {
		log.Printf("Job %s: escalation notify failed: %v", j.ID, err)
	}
	// The customer never sees a raw failure, only the handoff.
	c.eng.publish(j, "a dispatcher is now handling your request")
}

func (c *coordinator) clearOffer() {
	c.rec.CurrentOffer = nil
	c.persist()
}

func (c *coordinator) persist() {
	if err := c.eng.store.Put(c.rec); err != nil {
		log.Printf("Job %s: persist failed: %v", c.rec.Job.ID, err)
	}
}
