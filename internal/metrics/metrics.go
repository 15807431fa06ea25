package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes dispatch counters on /metrics. All methods are safe
// on a nil receiver so callers can run without metrics wired.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsAssigned  prometheus.Counter
	jobsEscalated prometheus.Counter
	jobsCancelled prometheus.Counter
	jobsActive    prometheus.Gauge

	offersSent     prometheus.Counter
	offersAccepted prometheus.Counter
	offersRejected prometheus.Counter
	offersExpired  prometheus.Counter

	staleResponses       prometheus.Counter
	reservationConflicts prometheus.Counter
	deliveryFailures     prometheus.Counter
	invariantViolations  prometheus.Counter

	assignLatency prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		registry:      prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_jobs_submitted_total", Help: "Jobs accepted at intake."}),
		jobsAssigned:  prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_jobs_assigned_total", Help: "Jobs assigned to a contractor."}),
		jobsEscalated: prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_jobs_escalated_total", Help: "Jobs handed to the dispatcher channel."}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_jobs_cancelled_total", Help: "Jobs cancelled before assignment."}),
		jobsActive:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatch_jobs_active", Help: "Jobs currently being matched or offered."}),

		offersSent:     prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_offers_sent_total", Help: "Offers delivered to contractors."}),
		offersAccepted: prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_offers_accepted_total", Help: "Offers accepted."}),
		offersRejected: prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_offers_rejected_total", Help: "Offers rejected."}),
		offersExpired:  prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_offers_expired_total", Help: "Offers that timed out."}),

		staleResponses:       prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_stale_responses_total", Help: "Responses referencing a resolved or superseded offer."}),
		reservationConflicts: prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_reservation_conflicts_total", Help: "Candidates skipped because another job reserved them first."}),
		deliveryFailures:     prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_delivery_failures_total", Help: "Offers that could not reach a contractor endpoint."}),
		invariantViolations:  prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_invariant_violations_total", Help: "Safety-net alarms; should stay zero."}),

		assignLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_assign_latency_seconds",
			Help:    "Submission-to-assignment latency.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted, c.jobsAssigned, c.jobsEscalated, c.jobsCancelled, c.jobsActive,
		c.offersSent, c.offersAccepted, c.offersRejected, c.offersExpired,
		c.staleResponses, c.reservationConflicts, c.deliveryFailures, c.invariantViolations,
		c.assignLatency,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
	c.jobsActive.Inc()
}

// JobRecovered marks a job resumed from the durable store on restart:
// active again, but not newly submitted.
func (c *Collector) JobRecovered() {
	if c == nil {
		return
	}
	c.jobsActive.Inc()
}

func (c *Collector) JobAssigned(latencySeconds float64) {
	if c == nil {
		return
	}
	c.jobsAssigned.Inc()
	c.jobsActive.Dec()
	c.assignLatency.Observe(latencySeconds)
}

func (c *Collector) JobEscalated() {
	if c == nil {
		return
	}
	c.jobsEscalated.Inc()
	c.jobsActive.Dec()
}

func (c *Collector) JobCancelled() {
	if c == nil {
		return
	}
	c.jobsCancelled.Inc()
	c.jobsActive.Dec()
}

func (c *Collector) OfferSent() {
	if c == nil {
		return
	}
	c.offersSent.Inc()
}

func (c *Collector) OfferAccepted() {
	if c == nil {
		return
	}
	c.offersAccepted.Inc()
}

func (c *Collector) OfferRejected() {
	if c == nil {
		return
	}
	c.offersRejected.Inc()
}

func (c *Collector) OfferExpired() {
	if c == nil {
		return
	}
	c.offersExpired.Inc()
}

func (c *Collector) StaleResponse() {
	if c == nil {
		return
	}
	c.staleResponses.Inc()
}

func (c *Collector) ReservationConflict() {
	if c == nil {
		return
	}
	c.reservationConflicts.Inc()
}

func (c *Collector) DeliveryFailure() {
	if c == nil {
		return
	}
	c.deliveryFailures.Inc()
}

func (c *Collector) InvariantViolation() {
	if c == nil {
		return
	}
	c.invariantViolations.Inc()
}
