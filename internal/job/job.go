package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/policy"
)

type State string

const (
	StateMatching  State = "matching"
	StateOffering  State = "offering"
	StateAssigned  State = "assigned"
	StateEscalated State = "escalated"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further dispatch work happens for a job in
// this state.
func (s State) Terminal() bool {
	return s == StateAssigned || s == StateEscalated || s == StateCancelled
}

// rank orders states along the customer-visible progression so the status
// feed never appears to move backwards.
func (s State) rank() int {
	switch s {
	case StateMatching:
		return 0
	case StateOffering:
		return 1
	default:
		return 2
	}
}

// After reports whether s is at or past other in the dispatch progression.
func (s State) After(other State) bool {
	return s.rank() >= other.rank()
}

type Job struct {
	ID                    string      `json:"id"`
	Tier                  policy.Tier `json:"tier"`
	Location              geo.Point   `json:"location"`
	RequiredCertification int         `json:"required_certification"`
	CreatedAt             time.Time   `json:"created_at"`
	AbsoluteDeadline      time.Time   `json:"absolute_deadline"`
	State                 State       `json:"state"`
	ContractorID          string      `json:"contractor_id,omitempty"`
	EscalationReason      string      `json:"escalation_reason,omitempty"`
	ClosedAt              *time.Time  `json:"closed_at,omitempty"`
}

// New creates a job in the matching state with its absolute deadline
// derived from the tier policy.
func New(pol policy.Policy, loc geo.Point, requiredCert int) *Job {
	now := time.Now().UTC()
	if requiredCert < pol.MinCertification {
		requiredCert = pol.MinCertification
	}
	return &Job{
		ID:                    uuid.NewString(),
		Tier:                  pol.Tier,
		Location:              loc,
		RequiredCertification: requiredCert,
		CreatedAt:             now,
		AbsoluteDeadline:      now.Add(pol.AbsoluteDeadline),
		State:                 StateMatching,
	}
}

// Offer is the durable half of a live offer: enough to identify it across
// a restart and to drop stale responses.
type Offer struct {
	ContractorID    string    `json:"contractor_id"`
	OfferInstanceID string    `json:"offer_instance_id"`
	SentAt          time.Time `json:"sent_at"`
	Deadline        time.Time `json:"deadline"`
}

// Record is the durable dispatch state of one job: the job itself, the
// live offer if any, the candidates not yet tried, and the attempt count.
type Record struct {
	Job          *Job     `json:"job"`
	CurrentOffer *Offer   `json:"current_offer,omitempty"`
	Remaining    []string `json:"remaining,omitempty"`
	Attempts     int      `json:"attempts"`
}

// Clone deep-copies a record so the coordinator's working copy and store
// readers never alias.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{Attempts: r.Attempts}
	if r.Job != nil {
		j := *r.Job
		if r.Job.ClosedAt != nil {
			t := *r.Job.ClosedAt
			j.ClosedAt = &t
		}
		out.Job = &j
	}
	if r.CurrentOffer != nil {
		o := *r.CurrentOffer
		out.CurrentOffer = &o
	}
	if r.Remaining != nil {
		out.Remaining = append([]string(nil), r.Remaining...)
	}
	return out
}
