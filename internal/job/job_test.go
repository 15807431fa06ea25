package job

import (
	"testing"
	"time"

	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/policy"
)

func tier3() policy.Policy {
	pol, _ := policy.Default().Get(3)
	return pol
}

func TestNewJob(t *testing.T) {
	pol := tier3()
	j := New(pol, geo.Point{Lat: 1, Lng: 2}, 0)

	if j.ID == "" {
		t.Error("expected job ID")
	}
	if j.State != StateMatching {
		t.Errorf("expected matching, got %s", j.State)
	}
	if j.Tier != 3 {
		t.Errorf("expected tier 3, got %d", j.Tier)
	}
	if j.RequiredCertification != pol.MinCertification {
		t.Errorf("expected certification floored to tier minimum %d, got %d", pol.MinCertification, j.RequiredCertification)
	}
	if !j.AbsoluteDeadline.Equal(j.CreatedAt.Add(pol.AbsoluteDeadline)) {
		t.Error("expected deadline derived from tier policy")
	}
}

func TestNewJob_KeepsStricterCertification(t *testing.T) {
	j := New(tier3(), geo.Point{}, 5)
	if j.RequiredCertification != 5 {
		t.Errorf("expected 5, got %d", j.RequiredCertification)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateAssigned, StateEscalated, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s terminal", s)
		}
	}
	for _, s := range []State{StateMatching, StateOffering} {
		if s.Terminal() {
			t.Errorf("expected %s not terminal", s)
		}
	}
}

func TestStateAfter(t *testing.T) {
	if !StateOffering.After(StateMatching) {
		t.Error("offering should be at or past matching")
	}
	if StateMatching.After(StateOffering) {
		t.Error("matching should not be past offering")
	}
	if !StateAssigned.After(StateOffering) {
		t.Error("assigned should be past offering")
	}
}

func TestRecordClone(t *testing.T) {
	now := time.Now().UTC()
	rec := &Record{
		Job:          New(tier3(), geo.Point{}, 0),
		CurrentOffer: &Offer{ContractorID: "c1", OfferInstanceID: "o1", SentAt: now, Deadline: now},
		Remaining:    []string{"c2", "c3"},
		Attempts:     1,
	}

	clone := rec.Clone()
	clone.Job.State = StateAssigned
	clone.CurrentOffer.ContractorID = "other"
	clone.Remaining[0] = "mutated"

	if rec.Job.State != StateMatching {
		t.Error("clone mutated original job")
	}
	if rec.CurrentOffer.ContractorID != "c1" {
		t.Error("clone mutated original offer")
	}
	if rec.Remaining[0] != "c2" {
		t.Error("clone mutated original candidate list")
	}
}
