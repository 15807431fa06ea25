package contractor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fieldline/dispatchd/internal/geo"
)

func testRegistry() *Registry {
	return NewRegistry(geo.NewHaversineEstimator(30))
}

func available(id string, cert int) *Contractor {
	return &Contractor{
		ID:                id,
		Certification:     cert,
		Location:          geo.Point{Lat: 0, Lng: 0},
		ServiceArea:       geo.Area{Center: geo.Point{Lat: 0, Lng: 0}, RadiusKm: 50},
		Availability:      Available,
		MaxConcurrentJobs: 1,
	}
}

func TestReserve(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))

	if !r.Reserve("c1", "job-1") {
		t.Fatal("expected reserve to succeed")
	}

	c, _ := r.Get("c1")
	if c.Availability != OfferPending {
		t.Errorf("expected offer_pending, got %s", c.Availability)
	}
}

func TestReserve_AlreadyPending(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))

	r.Reserve("c1", "job-1")
	if r.Reserve("c1", "job-2") {
		t.Error("expected second reserve to fail while offer pending")
	}
}

func TestReserve_Unknown(t *testing.T) {
	r := testRegistry()
	if r.Reserve("nope", "job-1") {
		t.Error("expected reserve of unknown contractor to fail")
	}
}

func TestReserve_AtCapacity(t *testing.T) {
	r := testRegistry()
	c := available("c1", 1)
	c.ActiveJobs = 1
	r.Add(c)

	if r.Reserve("c1", "job-1") {
		t.Error("expected reserve to fail at capacity")
	}
}

func TestRelease_Accepted(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))
	r.Reserve("c1", "job-1")

	r.Release("c1", "job-1", OutcomeAccepted)

	c, _ := r.Get("c1")
	if c.Availability != Busy {
		t.Errorf("expected busy at capacity, got %s", c.Availability)
	}
	if c.ActiveJobs != 1 {
		t.Errorf("expected 1 active job, got %d", c.ActiveJobs)
	}
}

func TestRelease_AcceptedWithSpareCapacity(t *testing.T) {
	r := testRegistry()
	c := available("c1", 1)
	c.MaxConcurrentJobs = 2
	r.Add(c)
	r.Reserve("c1", "job-1")

	r.Release("c1", "job-1", OutcomeAccepted)

	got, _ := r.Get("c1")
	if got.Availability != Available {
		t.Errorf("expected available with spare capacity, got %s", got.Availability)
	}
}

func TestRelease_Rejected(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))
	r.Reserve("c1", "job-1")

	r.Release("c1", "job-1", OutcomeRejected)

	c, _ := r.Get("c1")
	if c.Availability != Available {
		t.Errorf("expected available, got %s", c.Availability)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))
	r.Reserve("c1", "job-1")

	r.Release("c1", "job-1", OutcomeAccepted)
	r.Release("c1", "job-1", OutcomeAccepted)

	c, _ := r.Get("c1")
	if c.ActiveJobs != 1 {
		t.Errorf("expected 1 active job after double release, got %d", c.ActiveJobs)
	}
}

func TestRelease_WrongJob(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))
	r.Reserve("c1", "job-1")

	// Release for a superseded offer must not touch the live one.
	r.Release("c1", "job-other", OutcomeRejected)

	c, _ := r.Get("c1")
	if c.Availability != OfferPending {
		t.Errorf("expected offer_pending, got %s", c.Availability)
	}
}

func TestReserve_Concurrent(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))

	const jobs = 50
	var wg sync.WaitGroup
	wins := make(chan string, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jobID := fmt.Sprintf("job-%d", n)
			if r.Reserve("c1", jobID) {
				wins <- jobID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning reservation, got %d", len(winners))
	}
}

func TestListEligible(t *testing.T) {
	r := testRegistry()

	r.Add(available("ok", 2))

	undercert := available("undercert", 1)
	r.Add(undercert)

	offline := available("offline", 2)
	offline.Availability = Offline
	r.Add(offline)

	busy := available("busy", 2)
	busy.Availability = Busy
	r.Add(busy)

	far := available("far", 2)
	far.ServiceArea = geo.Area{Center: geo.Point{Lat: 10, Lng: 10}, RadiusKm: 5}
	r.Add(far)

	full := available("full", 2)
	full.ActiveJobs = 1
	r.Add(full)

	eligible := r.ListEligible(geo.Point{Lat: 0, Lng: 0}, 2)
	if len(eligible) != 1 {
		t.Fatalf("expected 1 eligible, got %d", len(eligible))
	}
	if eligible[0].ID != "ok" {
		t.Errorf("expected ok, got %s", eligible[0].ID)
	}
}

func TestJobCompleted(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))
	r.Reserve("c1", "job-1")
	r.Release("c1", "job-1", OutcomeAccepted)

	r.JobCompleted("c1")

	c, _ := r.Get("c1")
	if c.Availability != Available {
		t.Errorf("expected available after completion, got %s", c.Availability)
	}
	if c.ActiveJobs != 0 {
		t.Errorf("expected 0 active jobs, got %d", c.ActiveJobs)
	}
	if c.Performance.JobsCompleted != 1 {
		t.Errorf("expected 1 completed, got %d", c.Performance.JobsCompleted)
	}
}

func TestSetAvailability_RefusesPendingOverwrite(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))
	r.Reserve("c1", "job-1")

	if r.SetAvailability("c1", Offline) {
		t.Error("expected availability change to be refused during pending offer")
	}
}

func TestRecordResponse(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))

	r.RecordResponse("c1", true, 10*time.Second)
	r.RecordResponse("c1", false, 20*time.Second)

	c, _ := r.Get("c1")
	if c.Performance.OffersReceived != 2 {
		t.Errorf("expected 2 offers, got %d", c.Performance.OffersReceived)
	}
	if c.Performance.AcceptanceRate() != 0.5 {
		t.Errorf("expected 0.5 acceptance, got %f", c.Performance.AcceptanceRate())
	}
	if c.Performance.AvgResponseSeconds != 15 {
		t.Errorf("expected 15s average, got %f", c.Performance.AvgResponseSeconds)
	}
}

func TestStats(t *testing.T) {
	r := testRegistry()
	r.Add(available("c1", 1))
	r.Add(available("c2", 1))
	r.Reserve("c2", "job-1")

	s := r.Stats()
	if s.Connected != 2 || s.Available != 1 || s.OfferPending != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}
