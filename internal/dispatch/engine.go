package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fieldline/dispatchd/internal/bus"
	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/escalate"
	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/job"
	"github.com/fieldline/dispatchd/internal/matching"
	"github.com/fieldline/dispatchd/internal/metrics"
	"github.com/fieldline/dispatchd/internal/policy"
)

var (
	ErrUnknownTier = errors.New("unknown urgency tier")
	ErrJobNotFound = errors.New("job not found")
	ErrJobClosed   = errors.New("job already closed")

	// ErrStaleResponse reports a response for a job that has already
	// resolved. Logged and discarded, never honored.
	ErrStaleResponse = errors.New("stale offer response")
)

// AssignedFunc notifies the job-lifecycle side that a job has been
// assigned; everything after assignment belongs to it.
type AssignedFunc func(jobID, contractorID string)

// Engine owns the dispatch lifecycle of every active job. Each submitted
// job gets its own goroutine driving the offer state machine; goroutines
// share nothing but the contractor registry.
type Engine struct {
	policies   *policy.Table
	registry   *contractor.Registry
	matcher    *matching.Engine
	store      job.Store
	bus        bus.Bus
	esc        escalate.Escalator
	met        *metrics.Collector
	onAssigned AssignedFunc

	mu    sync.Mutex
	tasks map[string]*task
	seen  map[string]map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// task is the engine-side handle on one job's coordinator goroutine.
type task struct {
	responses  chan bus.OfferResponse
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func (t *task) requestCancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

func NewEngine(policies *policy.Table, reg *contractor.Registry, matcher *matching.Engine, store job.Store, b bus.Bus, esc escalate.Escalator, met *metrics.Collector) *Engine {
	if esc == nil {
		esc = escalate.LogEscalator{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ctx:      ctx,
		cancel:   cancel,
		policies: policies,
		registry: reg,
		matcher:  matcher,
		store:    store,
		bus:      b,
		esc:      esc,
		met:      met,
		tasks:    make(map[string]*task),
		seen:     make(map[string]map[string]bool),
	}
}

func (e *Engine) SetAssignedFunc(fn AssignedFunc) {
	e.onAssigned = fn
}

// Start begins consuming offer responses from the bus.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.responseLoop()
}

// Stop shuts the engine down without closing in-flight jobs; their
// records stay open in the store and resume via Recover on restart.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) responseLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case resp := <-e.bus.Responses():
			if err := e.Respond(resp); err != nil && !errors.Is(err, ErrStaleResponse) {
				log.Printf("Offer response for job %s dropped: %v", resp.JobID, err)
			}
		}
	}
}

// Submit creates a job under the given tier and starts dispatching it.
func (e *Engine) Submit(tier policy.Tier, loc geo.Point, requiredCert int) (*job.Job, error) {
	pol, ok := e.policies.Get(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, tier)
	}

	j := job.New(pol, loc, requiredCert)
	rec := &job.Record{Job: j}
	if err := e.store.Put(rec); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	e.met.JobSubmitted()
	log.Printf("Job submitted: %s (tier %d, deadline %s)", j.ID, j.Tier, j.AbsoluteDeadline.Format(time.RFC3339))

	// Snapshot before the coordinator takes ownership of the record; it
	// mutates the job from its own goroutine.
	out := *j
	e.spawn(rec, pol)
	return &out, nil
}

// Cancel requests cancellation of an in-flight job. Honored at the
// job's next suspension point; any live offer is released first.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	e.mu.Unlock()
	if ok {
		t.requestCancel()
		return nil
	}

	rec, err := e.store.Get(id)
	if err != nil {
		return ErrJobNotFound
	}
	if rec.Job.State.Terminal() {
		return ErrJobClosed
	}
	// Open record with no running task: engine is draining or the job
	// predates this process. Close it directly.
	now := time.Now().UTC()
	rec.Job.State = job.StateCancelled
	rec.Job.ClosedAt = &now
	rec.CurrentOffer = nil
	if err := e.store.Put(rec); err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}
	e.met.JobCancelled()
	return nil
}

// Respond routes a contractor decision to the owning job goroutine.
// Redeliveries of an already-seen response are no-ops; responses for
// resolved jobs are stale.
func (e *Engine) Respond(resp bus.OfferResponse) error {
	key := resp.ContractorID + "|" + resp.OfferInstanceID

	e.mu.Lock()
	t, ok := e.tasks[resp.JobID]
	if !ok {
		e.mu.Unlock()
		e.met.StaleResponse()
		log.Printf("Stale response for resolved job %s (contractor %s, offer %s)", resp.JobID, resp.ContractorID, resp.OfferInstanceID)
		return ErrStaleResponse
	}
	seen := e.seen[resp.JobID]
	if seen == nil {
		seen = make(map[string]bool)
		e.seen[resp.JobID] = seen
	}
	if seen[key] {
		e.mu.Unlock()
		return nil
	}
	seen[key] = true
	e.mu.Unlock()

	select {
	case t.responses <- resp:
	default:
		// Coordinator is not taking responses right now. Unmark the key
		// so a bus redelivery is not swallowed as a duplicate.
		e.mu.Lock()
		delete(e.seen[resp.JobID], key)
		e.mu.Unlock()
		e.met.StaleResponse()
		return ErrStaleResponse
	}
	return nil
}

// Recover resumes every non-terminal job found in the store. A live
// offer in a recovered record is treated as expired: the in-memory
// registry restarts empty, so the reservation no longer exists.
func (e *Engine) Recover() (int, error) {
	recs, err := e.store.ListOpen()
	if err != nil {
		return 0, fmt.Errorf("list open jobs: %w", err)
	}

	resumed := 0
	for _, rec := range recs {
		pol, ok := e.policies.Get(rec.Job.Tier)
		if !ok {
			log.Printf("Recovery: job %s has unknown tier %d, escalating", rec.Job.ID, rec.Job.Tier)
			e.closeEscalated(rec, escalate.ReasonExhausted)
			continue
		}
		if rec.CurrentOffer != nil {
			log.Printf("Recovery: job %s had live offer %s, treating as expired", rec.Job.ID, rec.CurrentOffer.OfferInstanceID)
			rec.CurrentOffer = nil
		}
		e.met.JobRecovered()
		e.spawn(rec, pol)
		resumed++
	}
	return resumed, nil
}

func (e *Engine) closeEscalated(rec *job.Record, reason escalate.Reason) {
	now := time.Now().UTC()
	rec.Job.State = job.StateEscalated
	rec.Job.EscalationReason = string(reason)
	rec.Job.ClosedAt = &now
	rec.CurrentOffer = nil
	if err := e.store.Put(rec); err != nil {
		log.Printf("Persist escalation for job %s: %v", rec.Job.ID, err)
	}
	if err := e.esc.Escalate(context.Background(), rec.Job, reason); err != nil {
		log.Printf("Escalation notify for job %s: %v", rec.Job.ID, err)
	}
}

func (e *Engine) spawn(rec *job.Record, pol policy.Policy) {
	t := &task{
		responses: make(chan bus.OfferResponse, 8),
		cancelCh:  make(chan struct{}),
	}
	e.mu.Lock()
	e.tasks[rec.Job.ID] = t
	e.mu.Unlock()

	c := &coordinator{eng: e, rec: rec, pol: pol, task: t}
	e.wg.Add(1)
	go c.run(e.ctx)
}

func (e *Engine) finish(jobID string) {
	e.mu.Lock()
	delete(e.tasks, jobID)
	delete(e.seen, jobID)
	e.mu.Unlock()
}

func (e *Engine) publish(j *job.Job, detail string) {
	ev := bus.StatusEvent{
		JobID:        j.ID,
		State:        j.State,
		Detail:       detail,
		ContractorID: j.ContractorID,
		At:           time.Now().UTC(),
	}
	if err := e.bus.SendStatus(context.Background(), ev); err != nil {
		log.Printf("Status publish for job %s: %v", j.ID, err)
	}
}

// Job returns the durable record of one job.
func (e *Engine) Job(id string) (*job.Record, error) {
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, ErrJobNotFound
	}
	return rec, nil
}

func (e *Engine) List(limit, offset int, state string) ([]*job.Record, int) {
	return e.store.List(limit, offset, state)
}

func (e *Engine) Stats() job.Stats {
	return e.store.Stats()
}
