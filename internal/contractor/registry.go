package contractor

import (
	"log"
	"sync"
	"time"

	"github.com/fieldline/dispatchd/internal/geo"
)

// Outcome resolves a reservation when an offer finishes.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeExpired   Outcome = "expired"
	OutcomeCancelled Outcome = "cancelled"
)

type Stats struct {
	Connected    int `json:"connected"`
	Available    int `json:"available"`
	OfferPending int `json:"offer_pending"`
	Busy         int `json:"busy"`
}

// Registry tracks live contractor state. Each contractor record has its
// own lock so reserve/release on one contractor never serializes against
// another; the outer lock guards only the map itself.
type Registry struct {
	est geo.Estimator

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu         sync.Mutex
	c          Contractor
	pendingJob string
}

func NewRegistry(est geo.Estimator) *Registry {
	return &Registry{
		est:     est,
		entries: make(map[string]*entry),
	}
}

// Add registers a contractor, replacing any previous record with the
// same id.
func (r *Registry) Add(c *Contractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[c.ID] = &entry{c: *c}
	log.Printf("Contractor registered: %s (total: %d)", c.ID, len(r.entries))
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	log.Printf("Contractor removed: %s (total: %d)", id, len(r.entries))
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns a snapshot of one contractor.
func (r *Registry) Get(id string) (Contractor, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Contractor{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c, true
}

// SetAvailability moves a contractor between offline and available. It
// refuses to clobber an offer_pending or busy record; reserve/release own
// those transitions.
func (r *Registry) SetAvailability(id string, a Availability) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.Availability == OfferPending || e.c.Availability == Busy {
		return false
	}
	e.c.Availability = a
	return true
}

func (r *Registry) Heartbeat(id string) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.c.LastHeartbeat = time.Now().UTC()
	e.mu.Unlock()
}

// UpdateProfile refreshes the mutable profile fields a contractor reports
// on connect: certification, location, service area, capacity.
func (r *Registry) UpdateProfile(id string, cert int, loc geo.Point, area geo.Area, maxJobs int) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.c.Certification = cert
	e.c.Location = loc
	e.c.ServiceArea = area
	if maxJobs > 0 {
		e.c.MaxConcurrentJobs = maxJobs
	}
	return true
}

// ListEligible returns snapshots of every contractor that is available,
// certified at or above minCert, covers the job location, and has spare
// capacity.
func (r *Registry) ListEligible(loc geo.Point, minCert int) []Contractor {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var eligible []Contractor
	for _, e := range entries {
		e.mu.Lock()
		c := e.c
		e.mu.Unlock()
		if c.Availability != Available {
			continue
		}
		if c.Certification < minCert {
			continue
		}
		if c.ActiveJobs >= c.MaxConcurrentJobs {
			continue
		}
		if !r.est.WithinServiceArea(c.ServiceArea, loc) {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

// Reserve atomically transitions available -> offer_pending for the given
// job. Returns false if the contractor is in any other state; that is the
// benign race the coordinator handles by skipping to the next candidate.
func (r *Registry) Reserve(id, jobID string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.Availability != Available || e.c.ActiveJobs >= e.c.MaxConcurrentJobs {
		return false
	}
	if e.pendingJob != "" {
		// Safety net: available but still holding a reservation means a
		// release was lost somewhere.
		log.Printf("INVARIANT VIOLATION: contractor %s available with pending job %s", id, e.pendingJob)
		return false
	}
	e.c.Availability = OfferPending
	e.pendingJob = jobID
	return true
}

// Release resolves the reservation held for jobID. Idempotent: a second
// release for the same offer, or a release for a superseded one, is a
// no-op.
func (r *Registry) Release(id, jobID string, outcome Outcome) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.Availability != OfferPending || e.pendingJob != jobID {
		return
	}
	e.pendingJob = ""
	if outcome == OutcomeAccepted {
		e.c.ActiveJobs++
		e.c.Performance.JobsAssigned++
		if e.c.ActiveJobs >= e.c.MaxConcurrentJobs {
			e.c.Availability = Busy
		} else {
			e.c.Availability = Available
		}
		return
	}
	e.c.Availability = Available
}

// RecordResponse folds one offer outcome into the contractor's rolling
// performance score.
func (r *Registry) RecordResponse(id string, accepted bool, responseTime time.Duration) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &e.c.Performance
	p.OffersReceived++
	if accepted {
		p.OffersAccepted++
	}
	// Cumulative moving average over responded offers.
	n := float64(p.OffersReceived)
	p.AvgResponseSeconds += (responseTime.Seconds() - p.AvgResponseSeconds) / n
}

// JobCompleted is called by the job-lifecycle side when a contractor
// finishes on-site work, freeing a concurrency slot.
func (r *Registry) JobCompleted(id string) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.ActiveJobs > 0 {
		e.c.ActiveJobs--
	}
	e.c.Performance.JobsCompleted++
	if e.c.Availability == Busy && e.c.ActiveJobs < e.c.MaxConcurrentJobs {
		e.c.Availability = Available
	}
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var s Stats
	s.Connected = len(entries)
	for _, e := range entries {
		e.mu.Lock()
		switch e.c.Availability {
		case Available:
			s.Available++
		case OfferPending:
			s.OfferPending++
		case Busy:
			s.Busy++
		}
		e.mu.Unlock()
	}
	return s
}

// List returns snapshots of all contractors.
func (r *Registry) List() []Contractor {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Contractor, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.c)
		e.mu.Unlock()
	}
	return out
}
