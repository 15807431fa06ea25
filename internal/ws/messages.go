package ws

import (
	"time"

	"github.com/fieldline/dispatchd/internal/geo"
)

type BaseMessage struct {
	Type string `json:"type"`
}

// Contractor → Dispatcher

type ReadyMessage struct {
	Type              string    `json:"type"`
	ContractorID      string    `json:"contractor_id,omitempty"`
	Certification     int       `json:"certification"`
	Location          geo.Point `json:"location"`
	ServiceRadiusKm   float64   `json:"service_radius_km"`
	MaxConcurrentJobs int       `json:"max_concurrent_jobs"`
}

type DecisionMessage struct {
	Type            string `json:"type"`
	JobID           string `json:"job_id"`
	OfferInstanceID string `json:"offer_instance_id"`
}

type JobCompletedMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Dispatcher → Contractor

type AckMessage struct {
	Type         string `json:"type"`
	ContractorID string `json:"contractor_id"`
	Message      string `json:"message"`
}

type OfferMessage struct {
	Type            string    `json:"type"`
	JobID           string    `json:"job_id"`
	OfferInstanceID string    `json:"offer_instance_id"`
	Tier            int       `json:"tier"`
	Location        geo.Point `json:"location"`
	PriceMultiplier float64   `json:"price_multiplier"`
	ExpiresAt       time.Time `json:"expires_at"`
}
