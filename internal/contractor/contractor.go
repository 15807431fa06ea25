package contractor

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/dispatchd/internal/geo"
)

type Availability string

const (
	Offline      Availability = "offline"
	Available    Availability = "available"
	OfferPending Availability = "offer_pending"
	Busy         Availability = "busy"
)

// Performance is the rolling score the matching engine ranks by.
type Performance struct {
	OffersReceived     int     `json:"offers_received"`
	OffersAccepted     int     `json:"offers_accepted"`
	JobsAssigned       int     `json:"jobs_assigned"`
	JobsCompleted      int     `json:"jobs_completed"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
}

// AcceptanceRate returns the fraction of received offers this contractor
// accepted. Contractors with no history score a neutral 0.5 so new
// contractors are not starved.
func (p Performance) AcceptanceRate() float64 {
	if p.OffersReceived == 0 {
		return 0.5
	}
	return float64(p.OffersAccepted) / float64(p.OffersReceived)
}

// CompletionRate returns the fraction of assigned jobs completed.
func (p Performance) CompletionRate() float64 {
	if p.JobsAssigned == 0 {
		return 1.0
	}
	return float64(p.JobsCompleted) / float64(p.JobsAssigned)
}

type Contractor struct {
	ID                string       `json:"id"`
	Certification     int          `json:"certification"`
	Location          geo.Point    `json:"location"`
	ServiceArea       geo.Area     `json:"service_area"`
	Availability      Availability `json:"availability"`
	ActiveJobs        int          `json:"active_jobs"`
	MaxConcurrentJobs int          `json:"max_concurrent_jobs"`
	Performance       Performance  `json:"performance"`
	ConnectedAt       time.Time    `json:"connected_at"`
	LastHeartbeat     time.Time    `json:"last_heartbeat"`
}

func New() *Contractor {
	now := time.Now().UTC()
	return &Contractor{
		ID:                uuid.NewString(),
		Availability:      Offline,
		MaxConcurrentJobs: 1,
		ConnectedAt:       now,
		LastHeartbeat:     now,
	}
}

// Load returns the contractor's current load ratio in [0,1].
func (c *Contractor) Load() float64 {
	if c.MaxConcurrentJobs <= 0 {
		return 1.0
	}
	return float64(c.ActiveJobs) / float64(c.MaxConcurrentJobs)
}
