package bus

import (
	"context"
	"errors"
	"time"

	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/job"
)

// ErrUnreachable reports that an offer could not be delivered to the
// contractor's endpoint. The coordinator treats it like a timeout.
var ErrUnreachable = errors.New("contractor endpoint unreachable")

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// OfferEvent is pushed to one contractor. OfferInstanceID is the dedup
// key responses must echo back; delivery is at-least-once.
type OfferEvent struct {
	JobID           string    `json:"job_id"`
	ContractorID    string    `json:"contractor_id"`
	OfferInstanceID string    `json:"offer_instance_id"`
	Tier            int       `json:"tier"`
	Location        geo.Point `json:"location"`
	PriceMultiplier float64   `json:"price_multiplier"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// StatusEvent is pushed to the customer-facing feed of one job.
type StatusEvent struct {
	JobID        string    `json:"job_id"`
	State        job.State `json:"state"`
	Detail       string    `json:"detail,omitempty"`
	ContractorID string    `json:"contractor_id,omitempty"`
	At           time.Time `json:"at"`
}

// OfferResponse is a contractor's decision on one offer instance.
type OfferResponse struct {
	JobID           string   `json:"job_id"`
	ContractorID    string   `json:"contractor_id"`
	OfferInstanceID string   `json:"offer_instance_id"`
	Decision        Decision `json:"decision"`
}

// Bus decouples the offer coordinator from transport: offers and status
// events go out, contractor decisions come back on Responses.
type Bus interface {
	SendOffer(ctx context.Context, ev OfferEvent) error
	SendStatus(ctx context.Context, ev StatusEvent) error
	Responses() <-chan OfferResponse
}
